package store

import "errors"

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrBookingNotStartable = errors.New("booking not startable")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidTransition   = errors.New("invalid booking transition")
	ErrConflict            = errors.New("booking status changed by another actor")
	ErrSessionActive       = errors.New("active session already exists")
	ErrSessionEnded        = errors.New("session already ended")
	ErrInvalidCode         = errors.New("invalid confirmation code")
)
