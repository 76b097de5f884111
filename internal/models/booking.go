package models

import "time"

type Booking struct {
	BookingID        string    `json:"booking_id"`
	RequestID        string    `json:"request_id,omitempty"`
	ResourceType     string    `json:"resource_type"`
	Date             string    `json:"date"`
	TimeSlot         string    `json:"time_slot"`
	DurationHours    int       `json:"duration_hours"`
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    string    `json:"customer_email,omitempty"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	CustomerTelegram string    `json:"customer_telegram,omitempty"`
	TotalPrice       float64   `json:"total_price"`
	Status           string    `json:"status"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	UserID           *string   `json:"user_id,omitempty"`
	DeskNumber       *int      `json:"desk_number,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

const (
	StatusPending   = "pending"
	StatusCodeSent  = "code_sent"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)
