package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
)

type CreateBookingInput struct {
	RequestID        string
	ResourceType     string
	Date             string
	TimeSlot         string
	DurationHours    int
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerTelegram string
	TotalPrice       float64
	UserID           string
	CreatedAt        time.Time
}

type TransitionInput struct {
	BookingID        string
	ExpectedStatus   string
	TargetStatus     string
	ConfirmationCode string
	DeskNumber       *int
	ActorID          string
	OccurredAt       time.Time
}

type StartSessionInput struct {
	BookingID   string
	UserID      string
	SessionType string
	StartedBy   string
	StartedAt   time.Time
}

type EndSessionInput struct {
	SessionID string
	EndedBy   string
}

type BookingFilter struct {
	Status string
	Date   string
}

type SessionFilter struct {
	UserID    string
	BookingID string
	Status    string
}

type Store interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (models.Booking, bool, error)
	GetBooking(ctx context.Context, bookingID string) (models.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	TransitionBooking(ctx context.Context, input TransitionInput) (models.Booking, error)

	StartSession(ctx context.Context, input StartSessionInput) (models.Session, error)
	EndSession(ctx context.Context, input EndSessionInput) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error)
	GetActiveSession(ctx context.Context, bookingID, userID string) (models.Session, bool, error)

	ListOutboxEvents(ctx context.Context, after OutboxCursor, limit int) ([]OutboxEvent, error)
}

type OutboxEvent struct {
	Seq        int64           `json:"seq"`
	EventID    string          `json:"event_id"`
	Collection string          `json:"collection"`
	EntityID   string          `json:"entity_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OutboxCursor orders events by their monotonic sequence number. Timestamps
// are stamped before commit, so two events can become visible in the
// opposite order of their created_at; a timestamp cursor would skip the
// late-committing one forever. AfterTime is only a coarse starting offset
// for consumers that begin mid-stream.
type OutboxCursor struct {
	AfterSeq  int64
	AfterTime time.Time
}

func (c OutboxCursor) Before(event OutboxEvent) bool {
	return event.Seq > c.AfterSeq && event.CreatedAt.After(c.AfterTime)
}
