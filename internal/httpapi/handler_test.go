package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cp-docblog/nodmee/internal/models"
	"github.com/cp-docblog/nodmee/internal/store"
	"github.com/cp-docblog/nodmee/internal/store/memory"

	"github.com/google/uuid"
)

type fakeStore struct {
	createBookingFunc    func(ctx context.Context, input store.CreateBookingInput) (models.Booking, bool, error)
	getBookingFunc       func(ctx context.Context, bookingID string) (models.Booking, error)
	listBookingsFunc     func(ctx context.Context, filter store.BookingFilter) ([]models.Booking, error)
	transitionFunc       func(ctx context.Context, input store.TransitionInput) (models.Booking, error)
	startSessionFunc     func(ctx context.Context, input store.StartSessionInput) (models.Session, error)
	endSessionFunc       func(ctx context.Context, input store.EndSessionInput) (models.Session, error)
	getSessionFunc       func(ctx context.Context, sessionID string) (models.Session, error)
	listSessionsFunc     func(ctx context.Context, filter store.SessionFilter) ([]models.Session, error)
	getActiveSessionFunc func(ctx context.Context, bookingID, userID string) (models.Session, bool, error)
	listOutboxFunc       func(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error)
}

func (f *fakeStore) CreateBooking(ctx context.Context, input store.CreateBookingInput) (models.Booking, bool, error) {
	return f.createBookingFunc(ctx, input)
}

func (f *fakeStore) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	return f.getBookingFunc(ctx, bookingID)
}

func (f *fakeStore) ListBookings(ctx context.Context, filter store.BookingFilter) ([]models.Booking, error) {
	return f.listBookingsFunc(ctx, filter)
}

func (f *fakeStore) TransitionBooking(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
	return f.transitionFunc(ctx, input)
}

func (f *fakeStore) StartSession(ctx context.Context, input store.StartSessionInput) (models.Session, error) {
	return f.startSessionFunc(ctx, input)
}

func (f *fakeStore) EndSession(ctx context.Context, input store.EndSessionInput) (models.Session, error) {
	return f.endSessionFunc(ctx, input)
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	return f.getSessionFunc(ctx, sessionID)
}

func (f *fakeStore) ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.Session, error) {
	return f.listSessionsFunc(ctx, filter)
}

func (f *fakeStore) GetActiveSession(ctx context.Context, bookingID, userID string) (models.Session, bool, error) {
	return f.getActiveSessionFunc(ctx, bookingID, userID)
}

func (f *fakeStore) ListOutboxEvents(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error) {
	return f.listOutboxFunc(ctx, after, limit)
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func TestCreateBookingValidation(t *testing.T) {
	st := &fakeStore{createBookingFunc: func(ctx context.Context, input store.CreateBookingInput) (models.Booking, bool, error) {
		t.Fatalf("store must not be called on invalid input")
		return models.Booking{}, false, nil
	}}
	h := NewHandler(st).Routes()
	requestID := uuid.NewString()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{`, "invalid_json"},
		{"unknown field", `{"request_id":"` + requestID + `","bogus":1}`, "invalid_json"},
		{"missing fields", `{"request_id":"` + requestID + `"}`, "invalid_request"},
		{"bad request id", `{"request_id":"not-a-uuid","resource_type":"desk","date":"2026-09-01","time_slot":"09:00-13:00","customer_name":"Dina"}`, "invalid_request"},
		{"bad date", `{"request_id":"` + requestID + `","resource_type":"desk","date":"01/09/2026","time_slot":"09:00-13:00","customer_name":"Dina"}`, "invalid_request"},
		{"negative price", `{"request_id":"` + requestID + `","resource_type":"desk","date":"2026-09-01","time_slot":"09:00-13:00","customer_name":"Dina","total_price":-5}`, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/api/bookings", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := errorCode(t, rec); got != tt.code {
				t.Fatalf("error code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestBookingActionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", store.ErrBookingNotFound, http.StatusNotFound, "booking_not_found"},
		{"invalid transition", store.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"stale expected status", store.ErrConflict, http.StatusConflict, "conflict"},
		{"bad code", store.ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{transitionFunc: func(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
				return models.Booking{}, tt.err
			}}
			h := NewHandler(st).Routes()

			rec := doRequest(h, http.MethodPost, "/api/bookings/"+uuid.NewString()+"/actions/confirm", `{"expected_status":"pending","actor_id":"admin-1"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorCode(t, rec); got != tt.wantCode {
				t.Fatalf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestBookingActionValidation(t *testing.T) {
	st := &fakeStore{transitionFunc: func(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
		t.Fatalf("store must not be called on invalid input")
		return models.Booking{}, nil
	}}
	h := NewHandler(st).Routes()
	bookingID := uuid.NewString()

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
	}{
		{"unknown action", "/api/bookings/" + bookingID + "/actions/archive", `{"expected_status":"pending"}`, http.StatusNotFound},
		{"bad booking id", "/api/bookings/nope/actions/confirm", `{"expected_status":"pending"}`, http.StatusBadRequest},
		{"missing expected status", "/api/bookings/" + bookingID + "/actions/confirm", `{"actor_id":"a"}`, http.StatusBadRequest},
		{"unknown expected status", "/api/bookings/" + bookingID + "/actions/confirm", `{"expected_status":"archived"}`, http.StatusBadRequest},
		{"code outside send-code", "/api/bookings/" + bookingID + "/actions/confirm", `{"expected_status":"code_sent","confirmation_code":"AB12CD"}`, http.StatusBadRequest},
		{"desk outside confirm", "/api/bookings/" + bookingID + "/actions/reject", `{"expected_status":"pending","desk_number":4}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestBookingActionPassesTargetStatus(t *testing.T) {
	var got store.TransitionInput
	st := &fakeStore{transitionFunc: func(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
		got = input
		return models.Booking{BookingID: input.BookingID, Status: input.TargetStatus}, nil
	}}
	h := NewHandler(st).Routes()
	bookingID := uuid.NewString()

	rec := doRequest(h, http.MethodPost, "/api/bookings/"+bookingID+"/actions/send-code", `{"expected_status":"pending","confirmation_code":"ab12cd","actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got.TargetStatus != models.StatusCodeSent {
		t.Fatalf("target status = %q", got.TargetStatus)
	}
	if got.ConfirmationCode != "AB12CD" {
		t.Fatalf("code not uppercased: %q", got.ConfirmationCode)
	}
	if got.ActorID != "admin-1" {
		t.Fatalf("actor = %q", got.ActorID)
	}
}

func TestStartSessionValidation(t *testing.T) {
	st := &fakeStore{startSessionFunc: func(ctx context.Context, input store.StartSessionInput) (models.Session, error) {
		t.Fatalf("store must not be called on invalid input")
		return models.Session{}, nil
	}}
	h := NewHandler(st).Routes()

	tests := []struct {
		name string
		body string
	}{
		{"booking session without booking id", `{"session_type":"booking","actor_id":"a"}`},
		{"booking id not a uuid", `{"session_type":"booking","booking_id":"nope","actor_id":"a"}`},
		{"subscription without user id", `{"session_type":"subscription","actor_id":"a"}`},
		{"unknown session type", `{"session_type":"daypass","user_id":"u","actor_id":"a"}`},
		{"missing actor", `{"session_type":"subscription","user_id":"u"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/api/sessions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStartSessionInfersType(t *testing.T) {
	var got store.StartSessionInput
	st := &fakeStore{startSessionFunc: func(ctx context.Context, input store.StartSessionInput) (models.Session, error) {
		got = input
		return models.Session{SessionID: uuid.NewString()}, nil
	}}
	h := NewHandler(st).Routes()

	bookingID := uuid.NewString()
	rec := doRequest(h, http.MethodPost, "/api/sessions", `{"booking_id":"`+bookingID+`","actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got.SessionType != models.SessionTypeBooking {
		t.Fatalf("inferred type = %q", got.SessionType)
	}

	rec = doRequest(h, http.MethodPost, "/api/sessions", `{"user_id":"user-1","actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got.SessionType != models.SessionTypeSubscription {
		t.Fatalf("inferred type = %q", got.SessionType)
	}
}

func TestActiveSessionEndpoint(t *testing.T) {
	session := models.Session{SessionID: uuid.NewString(), Status: models.SessionStatusActive}
	st := &fakeStore{getActiveSessionFunc: func(ctx context.Context, bookingID, userID string) (models.Session, bool, error) {
		if userID == "user-1" {
			return session, true, nil
		}
		return models.Session{}, false, nil
	}}
	h := NewHandler(st).Routes()

	rec := doRequest(h, http.MethodGet, "/api/sessions/active", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no filter: status = %d, want 400", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/api/sessions/active?user_id=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("hit: status = %d", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/api/sessions/active?user_id=user-2", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("miss: status = %d, want 204", rec.Code)
	}
}

func TestEndSessionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", store.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{"already ended", store.ErrSessionEnded, http.StatusConflict, "session_ended"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{endSessionFunc: func(ctx context.Context, input store.EndSessionInput) (models.Session, error) {
				return models.Session{}, tt.err
			}}
			h := NewHandler(st).Routes()

			rec := doRequest(h, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/actions/end", `{"actor_id":"admin-1"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorCode(t, rec); got != tt.wantCode {
				t.Fatalf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestListBookingsRejectsUnknownStatus(t *testing.T) {
	st := &fakeStore{listBookingsFunc: func(ctx context.Context, filter store.BookingFilter) ([]models.Booking, error) {
		return nil, nil
	}}
	h := NewHandler(st).Routes()

	rec := doRequest(h, http.MethodGet, "/api/bookings?status=archived", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	var gotLimit int
	var gotCursor store.OutboxCursor
	st := &fakeStore{listOutboxFunc: func(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error) {
		gotLimit = limit
		gotCursor = after
		return []store.OutboxEvent{{Seq: 1, EventID: "e-1", Type: "booking.created"}}, nil
	}}
	h := NewHandler(st).Routes()

	rec := doRequest(h, http.MethodGet, "/api/events?limit=25&after_seq=42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotLimit != 25 {
		t.Fatalf("limit = %d, want 25", gotLimit)
	}
	if gotCursor.AfterSeq != 42 {
		t.Fatalf("after_seq = %d, want 42", gotCursor.AfterSeq)
	}

	// An oversized page request is clamped, not honored.
	rec = doRequest(h, http.MethodGet, "/api/events?limit=1000000000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("oversized limit: status = %d", rec.Code)
	}
	if gotLimit != 500 {
		t.Fatalf("oversized limit passed through as %d, want 500", gotLimit)
	}

	rec = doRequest(h, http.MethodGet, "/api/events?after=garbage", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: status = %d, want 400", rec.Code)
	}
	rec = doRequest(h, http.MethodGet, "/api/events?after_seq=garbage", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad seq cursor: status = %d, want 400", rec.Code)
	}
	rec = doRequest(h, http.MethodGet, "/api/events?limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d, want 400", rec.Code)
	}
}

// End-to-end against the in-memory store: the full booking lifecycle the
// admin flow drives, including the stale-confirm retry.
func TestBookingLifecycleOverHTTP(t *testing.T) {
	st := memory.NewStore()
	h := NewHandler(st).Routes()

	requestID := uuid.NewString()
	body := `{"request_id":"` + requestID + `","resource_type":"desk","date":"2026-09-01","time_slot":"09:00-13:00","duration_hours":4,"customer_name":"Dina Hassan","customer_email":"dina@example.com","total_price":250}`
	rec := doRequest(h, http.MethodPost, "/api/bookings", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body.String())
	}
	var booking models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &booking); err != nil {
		t.Fatalf("decode booking: %v", err)
	}

	// Replaying the create returns the same booking.
	rec = doRequest(h, http.MethodPost, "/api/bookings", body)
	var replay models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if replay.BookingID != booking.BookingID {
		t.Fatalf("replay created a second booking")
	}

	rec = doRequest(h, http.MethodPost, "/api/bookings/"+booking.BookingID+"/actions/send-code", `{"expected_status":"pending","confirmation_code":"AB12CD","actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send-code: status = %d: %s", rec.Code, rec.Body.String())
	}

	// A confirm still quoting pending loses the CAS.
	rec = doRequest(h, http.MethodPost, "/api/bookings/"+booking.BookingID+"/actions/confirm", `{"expected_status":"pending","actor_id":"admin-2"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale confirm: status = %d, want 409", rec.Code)
	}

	rec = doRequest(h, http.MethodPost, "/api/bookings/"+booking.BookingID+"/actions/confirm", `{"expected_status":"code_sent","desk_number":7,"actor_id":"admin-2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status = %d: %s", rec.Code, rec.Body.String())
	}
	var confirmed models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("decode confirmed: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed || confirmed.ConfirmationCode != "AB12CD" {
		t.Fatalf("confirmed booking: status=%q code=%q", confirmed.Status, confirmed.ConfirmationCode)
	}
	if confirmed.DeskNumber == nil || *confirmed.DeskNumber != 7 {
		t.Fatalf("desk = %v, want 7", confirmed.DeskNumber)
	}

	rec = doRequest(h, http.MethodPost, "/api/sessions", `{"booking_id":"`+booking.BookingID+`","user_id":"user-1","actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start session: status = %d: %s", rec.Code, rec.Body.String())
	}
	var session models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	rec = doRequest(h, http.MethodPost, "/api/sessions/"+session.SessionID+"/actions/end", `{"actor_id":"admin-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(h, http.MethodPost, "/api/sessions/"+session.SessionID+"/actions/end", `{"actor_id":"admin-1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double end: status = %d, want 409", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	var summary struct {
		TotalBookings int     `json:"total_bookings"`
		TotalRevenue  float64 `json:"total_revenue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if summary.TotalBookings != 1 || summary.TotalRevenue != 250 {
		t.Fatalf("stats = %+v", summary)
	}

	rec = doRequest(h, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events: status = %d", rec.Code)
	}
	var events []store.OutboxEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("outbox has %d events, want 5", len(events))
	}
}
