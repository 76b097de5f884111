package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
	"github.com/cp-docblog/nodmee/internal/stats"
	"github.com/cp-docblog/nodmee/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.Store
}

func NewHandler(st store.Store) *Handler {
	return &Handler{store: st}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/bookings", h.handleBookings)
	mux.HandleFunc("/api/bookings/", h.handleBookingByID)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/active", h.handleActiveSession)
	mux.HandleFunc("/api/sessions/", h.handleSessionByID)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type createBookingRequest struct {
	RequestID        string  `json:"request_id"`
	ResourceType     string  `json:"resource_type"`
	Date             string  `json:"date"`
	TimeSlot         string  `json:"time_slot"`
	DurationHours    int     `json:"duration_hours"`
	CustomerName     string  `json:"customer_name"`
	CustomerEmail    string  `json:"customer_email"`
	CustomerPhone    string  `json:"customer_phone"`
	CustomerTelegram string  `json:"customer_telegram"`
	TotalPrice       float64 `json:"total_price"`
	UserID           string  `json:"user_id"`
}

type bookingActionRequest struct {
	ExpectedStatus   string `json:"expected_status"`
	ConfirmationCode string `json:"confirmation_code"`
	DeskNumber       *int   `json:"desk_number"`
	ActorID          string `json:"actor_id"`
}

type startSessionRequest struct {
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
	ActorID     string `json:"actor_id"`
}

type endSessionRequest struct {
	ActorID string `json:"actor_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateBooking(w, r)
	case http.MethodGet:
		h.handleListBookings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ResourceType = strings.TrimSpace(req.ResourceType)
	req.Date = strings.TrimSpace(req.Date)
	req.TimeSlot = strings.TrimSpace(req.TimeSlot)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.CustomerTelegram = strings.TrimSpace(req.CustomerTelegram)
	req.UserID = strings.TrimSpace(req.UserID)

	if req.RequestID == "" || req.ResourceType == "" || req.Date == "" || req.TimeSlot == "" || req.CustomerName == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, resource_type, date, time_slot, and customer_name are required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	if req.TotalPrice < 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "total_price must not be negative")
		return
	}
	if req.DurationHours <= 0 {
		req.DurationHours = 1
	}

	booking, _, err := h.store.CreateBooking(r.Context(), store.CreateBookingInput{
		RequestID:        req.RequestID,
		ResourceType:     req.ResourceType,
		Date:             req.Date,
		TimeSlot:         req.TimeSlot,
		DurationHours:    req.DurationHours,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
		CustomerTelegram: req.CustomerTelegram,
		TotalPrice:       req.TotalPrice,
		UserID:           req.UserID,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleListBookings(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !store.ValidStatus(status) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}

	bookings, err := h.store.ListBookings(r.Context(), store.BookingFilter{
		Status: status,
		Date:   strings.TrimSpace(r.URL.Query().Get("date")),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, bookings)
}

func (h *Handler) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetBooking(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleBookingAction(w, r, parts[0], parts[2])
	case len(parts) == 3 && parts[1] == "actions":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request, bookingID string) {
	if !isValidUUID(bookingID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id must be a UUID")
		return
	}

	booking, err := h.store.GetBooking(r.Context(), bookingID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// Action names map onto target statuses; the transition itself is a CAS
// keyed on the caller's expected_status.
var actionTargets = map[string]string{
	"send-code": models.StatusCodeSent,
	"confirm":   models.StatusConfirmed,
	"reject":    models.StatusRejected,
	"cancel":    models.StatusCancelled,
}

func (h *Handler) handleBookingAction(w http.ResponseWriter, r *http.Request, bookingID, action string) {
	target, ok := actionTargets[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(bookingID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id must be a UUID")
		return
	}

	var req bookingActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.ExpectedStatus = strings.TrimSpace(req.ExpectedStatus)
	req.ConfirmationCode = strings.ToUpper(strings.TrimSpace(req.ConfirmationCode))
	req.ActorID = strings.TrimSpace(req.ActorID)

	if req.ExpectedStatus == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "expected_status is required")
		return
	}
	if !store.ValidStatus(req.ExpectedStatus) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown expected_status")
		return
	}
	if req.ConfirmationCode != "" && target != models.StatusCodeSent {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "confirmation_code is only accepted for send-code")
		return
	}
	if req.DeskNumber != nil && target != models.StatusConfirmed {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "desk_number is only accepted for confirm")
		return
	}

	booking, err := h.store.TransitionBooking(r.Context(), store.TransitionInput{
		BookingID:        bookingID,
		ExpectedStatus:   req.ExpectedStatus,
		TargetStatus:     target,
		ConfirmationCode: req.ConfirmationCode,
		DeskNumber:       req.DeskNumber,
		ActorID:          req.ActorID,
		OccurredAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleStartSession(w, r)
	case http.MethodGet:
		h.handleListSessions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionType = strings.TrimSpace(req.SessionType)
	req.ActorID = strings.TrimSpace(req.ActorID)

	if req.SessionType == "" {
		if req.BookingID != "" {
			req.SessionType = models.SessionTypeBooking
		} else {
			req.SessionType = models.SessionTypeSubscription
		}
	}

	switch req.SessionType {
	case models.SessionTypeBooking:
		if req.BookingID == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id is required for booking sessions")
			return
		}
		if !isValidUUID(req.BookingID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id must be a UUID")
			return
		}
	case models.SessionTypeSubscription:
		if req.UserID == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "user_id is required for subscription sessions")
			return
		}
	default:
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_type must be booking or subscription")
		return
	}
	if req.ActorID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}

	session, err := h.store.StartSession(r.Context(), store.StartSessionInput{
		BookingID:   req.BookingID,
		UserID:      req.UserID,
		SessionType: req.SessionType,
		StartedBy:   req.ActorID,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != models.SessionStatusActive && status != models.SessionStatusCompleted {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), store.SessionFilter{
		UserID:    strings.TrimSpace(r.URL.Query().Get("user_id")),
		BookingID: strings.TrimSpace(r.URL.Query().Get("booking_id")),
		Status:    status,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if bookingID == "" && userID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id or user_id is required")
		return
	}
	if bookingID != "" && !isValidUUID(bookingID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id must be a UUID")
		return
	}

	session, found, err := h.store.GetActiveSession(r.Context(), bookingID, userID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetSession(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "end" && r.Method == http.MethodPost:
		h.handleEndSession(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "end":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	var req endSessionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	if req.ActorID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}

	session, err := h.store.EndSession(r.Context(), store.EndSessionInput{
		SessionID: sessionID,
		EndedBy:   req.ActorID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	bookings, err := h.store.ListBookings(r.Context(), store.BookingFilter{})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	sessions, err := h.store.ListSessions(r.Context(), store.SessionFilter{})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, stats.Aggregate(bookings, sessions, time.Now().UTC()))
}

const maxEventsLimit = 500

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var cursor store.OutboxCursor
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be an RFC3339 timestamp")
			return
		}
		cursor.AfterTime = parsed
	}
	if seqRaw := strings.TrimSpace(r.URL.Query().Get("after_seq")); seqRaw != "" {
		parsed, err := strconv.ParseInt(seqRaw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after_seq must be a non-negative integer")
			return
		}
		cursor.AfterSeq = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := h.store.ListOutboxEvents(r.Context(), cursor, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found", "booking not found"
	case errors.Is(err, store.ErrBookingNotStartable):
		return http.StatusNotFound, "not_startable", "booking is not in a startable status"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "booking status does not allow this transition"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "booking was changed by another actor, re-read and retry"
	case errors.Is(err, store.ErrSessionActive):
		return http.StatusConflict, "session_active", "an active session already exists"
	case errors.Is(err, store.ErrSessionEnded):
		return http.StatusConflict, "session_ended", "session is not active"
	case errors.Is(err, store.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code", "confirmation code must be 6 characters A-Z 0-9"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
