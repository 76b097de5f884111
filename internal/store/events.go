package store

import (
	"encoding/json"
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
)

const (
	CollectionBookings = "bookings"
	CollectionSessions = "sessions"
)

const (
	EventBookingCreated = "booking.created"
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
)

// BookingEventType maps a committed status to its outbox event type.
func BookingEventType(status string) string {
	return "booking." + status
}

type bookingEventPayload struct {
	BookingID        string    `json:"booking_id"`
	ResourceType     string    `json:"resource_type"`
	Date             string    `json:"date"`
	TimeSlot         string    `json:"time_slot"`
	Status           string    `json:"status"`
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    string    `json:"customer_email,omitempty"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	CustomerTelegram string    `json:"customer_telegram,omitempty"`
	TotalPrice       float64   `json:"total_price"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	DeskNumber       *int      `json:"desk_number,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type sessionEventPayload struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	BookingID       *string    `json:"booking_id,omitempty"`
	SessionType     string     `json:"session_type"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	StartedBy       string     `json:"started_by"`
	EndedBy         string     `json:"ended_by,omitempty"`

	// Contact and desk details of the referenced booking, resolved at
	// commit time. Empty for subscription sessions.
	CustomerName     string `json:"customer_name,omitempty"`
	CustomerEmail    string `json:"customer_email,omitempty"`
	CustomerPhone    string `json:"customer_phone,omitempty"`
	CustomerTelegram string `json:"customer_telegram,omitempty"`
	ResourceType     string `json:"resource_type,omitempty"`
	DeskNumber       *int   `json:"desk_number,omitempty"`
}

func BookingEventPayload(booking models.Booking) json.RawMessage {
	payload, _ := json.Marshal(bookingEventPayload{
		BookingID:        booking.BookingID,
		ResourceType:     booking.ResourceType,
		Date:             booking.Date,
		TimeSlot:         booking.TimeSlot,
		Status:           booking.Status,
		CustomerName:     booking.CustomerName,
		CustomerEmail:    booking.CustomerEmail,
		CustomerPhone:    booking.CustomerPhone,
		CustomerTelegram: booking.CustomerTelegram,
		TotalPrice:       booking.TotalPrice,
		ConfirmationCode: booking.ConfirmationCode,
		DeskNumber:       booking.DeskNumber,
		Version:          booking.Version,
		UpdatedAt:        booking.UpdatedAt,
	})
	return payload
}

func SessionEventPayload(session models.Session, booking *models.Booking) json.RawMessage {
	data := sessionEventPayload{
		SessionID:       session.SessionID,
		UserID:          session.UserID,
		BookingID:       session.BookingID,
		SessionType:     session.SessionType,
		Status:          session.Status,
		StartTime:       session.StartTime,
		EndTime:         session.EndTime,
		DurationMinutes: session.DurationMinutes,
		StartedBy:       session.StartedBy,
		EndedBy:         session.EndedBy,
	}
	if booking != nil {
		data.CustomerName = booking.CustomerName
		data.CustomerEmail = booking.CustomerEmail
		data.CustomerPhone = booking.CustomerPhone
		data.CustomerTelegram = booking.CustomerTelegram
		data.ResourceType = booking.ResourceType
		data.DeskNumber = booking.DeskNumber
	}
	payload, _ := json.Marshal(data)
	return payload
}
