// Package memory implements the store against process-local state. It is
// the default store when no database is configured and backs the unit
// tests; it enforces the same conditional-mutation semantics as the
// postgres store, serialized under a single mutex.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
	"github.com/cp-docblog/nodmee/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	bookings    map[string]models.Booking
	byRequestID map[string]string
	sessions    map[string]models.Session
	outbox      []store.OutboxEvent
	eventSeq    int64

	// Now is the commit clock. Tests override it.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		bookings:    make(map[string]models.Booking),
		byRequestID: make(map[string]string),
		sessions:    make(map[string]models.Session),
		Now:         time.Now,
	}
}

func (s *Store) CreateBooking(ctx context.Context, input store.CreateBookingInput) (models.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if id, ok := s.byRequestID[input.RequestID]; ok {
			return s.bookings[id], false, nil
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Now().UTC()
	}

	booking := models.Booking{
		BookingID:        uuid.NewString(),
		RequestID:        input.RequestID,
		ResourceType:     input.ResourceType,
		Date:             input.Date,
		TimeSlot:         input.TimeSlot,
		DurationHours:    input.DurationHours,
		CustomerName:     input.CustomerName,
		CustomerEmail:    input.CustomerEmail,
		CustomerPhone:    input.CustomerPhone,
		CustomerTelegram: input.CustomerTelegram,
		TotalPrice:       input.TotalPrice,
		Status:           models.StatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
		Version:          1,
	}
	if input.UserID != "" {
		userID := input.UserID
		booking.UserID = &userID
	}

	s.bookings[booking.BookingID] = booking
	if input.RequestID != "" {
		s.byRequestID[input.RequestID] = booking.BookingID
	}
	s.appendEvent(store.CollectionBookings, booking.BookingID, store.EventBookingCreated, store.BookingEventPayload(booking))

	return booking, true, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[bookingID]
	if !ok {
		return models.Booking{}, store.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Store) ListBookings(ctx context.Context, filter store.BookingFilter) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bookings []models.Booking
	for _, booking := range s.bookings {
		if filter.Status != "" && booking.Status != filter.Status {
			continue
		}
		if filter.Date != "" && booking.Date != filter.Date {
			continue
		}
		bookings = append(bookings, booking)
	}
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].CreatedAt.Equal(bookings[j].CreatedAt) {
			return bookings[i].BookingID < bookings[j].BookingID
		}
		return bookings[i].CreatedAt.Before(bookings[j].CreatedAt)
	})
	return bookings, nil
}

func (s *Store) TransitionBooking(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
	// Transition shape is checked before touching stored state so an
	// illegal pair fails the same way whether or not a conflict exists.
	if !store.ValidTransition(input.ExpectedStatus, input.TargetStatus) {
		return models.Booking{}, store.ErrInvalidTransition
	}

	code := input.ConfirmationCode
	if input.TargetStatus == models.StatusCodeSent {
		if code == "" {
			generated, err := store.GenerateConfirmationCode()
			if err != nil {
				return models.Booking{}, err
			}
			code = generated
		} else if !store.ValidConfirmationCode(code) {
			return models.Booking{}, store.ErrInvalidCode
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[input.BookingID]
	if !ok {
		return models.Booking{}, store.ErrBookingNotFound
	}
	if booking.Status != input.ExpectedStatus {
		return models.Booking{}, store.ErrConflict
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.Now().UTC()
	}

	booking.Status = input.TargetStatus
	booking.UpdatedAt = occurredAt
	booking.Version++
	switch input.TargetStatus {
	case models.StatusCodeSent:
		booking.ConfirmationCode = code
	case models.StatusRejected, models.StatusCancelled:
		booking.ConfirmationCode = ""
	}
	if input.TargetStatus == models.StatusConfirmed && input.DeskNumber != nil {
		desk := *input.DeskNumber
		booking.DeskNumber = &desk
	}

	s.bookings[booking.BookingID] = booking
	s.appendEvent(store.CollectionBookings, booking.BookingID, store.BookingEventType(booking.Status), store.BookingEventPayload(booking))

	return booking, nil
}

func (s *Store) StartSession(ctx context.Context, input store.StartSessionInput) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var booking *models.Booking
	userID := input.UserID

	if input.SessionType == models.SessionTypeBooking {
		found, ok := s.bookings[input.BookingID]
		if !ok {
			return models.Session{}, store.ErrBookingNotFound
		}
		if found.Status != models.StatusConfirmed {
			return models.Session{}, store.ErrBookingNotStartable
		}
		booking = &found
		if userID == "" && found.UserID != nil {
			userID = *found.UserID
		}
		for _, session := range s.sessions {
			if session.Status == models.SessionStatusActive && session.BookingID != nil && *session.BookingID == input.BookingID {
				return models.Session{}, store.ErrSessionActive
			}
		}
	} else {
		for _, session := range s.sessions {
			if session.Status == models.SessionStatusActive && session.SessionType == models.SessionTypeSubscription && session.UserID == userID {
				return models.Session{}, store.ErrSessionActive
			}
		}
	}

	startedAt := input.StartedAt
	if startedAt.IsZero() {
		startedAt = s.Now()
	}

	session := models.Session{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		SessionType: input.SessionType,
		StartTime:   startedAt,
		Status:      models.SessionStatusActive,
		StartedBy:   input.StartedBy,
	}
	if input.SessionType == models.SessionTypeBooking {
		bookingID := input.BookingID
		session.BookingID = &bookingID
	}

	s.sessions[session.SessionID] = session
	s.appendEvent(store.CollectionSessions, session.SessionID, store.EventSessionStarted, store.SessionEventPayload(session, booking))

	return session, nil
}

func (s *Store) EndSession(ctx context.Context, input store.EndSessionInput) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[input.SessionID]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	if session.Status != models.SessionStatusActive {
		return models.Session{}, store.ErrSessionEnded
	}

	// Duration is taken at commit time, not request-issue time.
	now := s.Now()
	elapsed := now.Sub(session.StartTime)
	minutes := 0
	if elapsed > 0 {
		minutes = int(math.Ceil(elapsed.Minutes()))
	}

	endTime := now.UTC()
	session.Status = models.SessionStatusCompleted
	session.EndTime = &endTime
	session.DurationMinutes = &minutes
	session.EndedBy = input.EndedBy
	session.ConfirmationRequired = true
	s.sessions[session.SessionID] = session

	// Booking contact details are resolved at commit, tolerating any
	// concurrent mutation of the referenced booking.
	var booking *models.Booking
	if session.BookingID != nil {
		if found, ok := s.bookings[*session.BookingID]; ok {
			booking = &found
		}
	}
	s.appendEvent(store.CollectionSessions, session.SessionID, store.EventSessionEnded, store.SessionEventPayload(session, booking))

	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []models.Session
	for _, session := range s.sessions {
		if filter.UserID != "" && session.UserID != filter.UserID {
			continue
		}
		if filter.BookingID != "" && (session.BookingID == nil || *session.BookingID != filter.BookingID) {
			continue
		}
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

func (s *Store) GetActiveSession(ctx context.Context, bookingID, userID string) (models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.Status != models.SessionStatusActive {
			continue
		}
		if bookingID != "" {
			if session.BookingID != nil && *session.BookingID == bookingID {
				return session, true, nil
			}
			continue
		}
		if session.UserID == userID {
			return session, true, nil
		}
	}
	return models.Session{}, false, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if !after.Before(event) {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// appendEvent records a committed mutation; callers hold the mutex, so the
// sequence number matches commit order.
func (s *Store) appendEvent(collection, entityID, eventType string, payload []byte) {
	s.eventSeq++
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:        s.eventSeq,
		EventID:    uuid.NewString(),
		Collection: collection,
		EntityID:   entityID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  s.Now().UTC(),
	})
}
