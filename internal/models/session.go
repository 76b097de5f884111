package models

import "time"

type Session struct {
	SessionID            string     `json:"session_id"`
	UserID               string     `json:"user_id"`
	BookingID            *string    `json:"booking_id,omitempty"`
	SessionType          string     `json:"session_type"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	DurationMinutes      *int       `json:"duration_minutes,omitempty"`
	Status               string     `json:"status"`
	StartedBy            string     `json:"started_by"`
	EndedBy              string     `json:"ended_by,omitempty"`
	ConfirmationRequired bool       `json:"confirmation_required"`
}

const (
	SessionTypeBooking      = "booking"
	SessionTypeSubscription = "subscription"

	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)
