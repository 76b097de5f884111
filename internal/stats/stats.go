// Package stats computes derived dashboard figures from a store snapshot.
// Aggregate is a pure function so any consistent snapshot yields the same
// numbers; nothing here holds state.
package stats

import (
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
)

const activeUserWindow = 30 * 24 * time.Hour

type Summary struct {
	TotalBookings     int     `json:"total_bookings"`
	PendingBookings   int     `json:"pending_bookings"`
	ConfirmedBookings int     `json:"confirmed_bookings"`
	TotalRevenue      float64 `json:"total_revenue"`
	ActiveUserCount   int     `json:"active_user_count"`
}

func Aggregate(bookings []models.Booking, sessions []models.Session, now time.Time) Summary {
	summary := Summary{TotalBookings: len(bookings)}

	for _, booking := range bookings {
		switch booking.Status {
		case models.StatusPending:
			summary.PendingBookings++
		case models.StatusConfirmed:
			summary.ConfirmedBookings++
			summary.TotalRevenue += booking.TotalPrice
		}
	}

	cutoff := now.Add(-activeUserWindow)
	seen := make(map[string]struct{})
	for _, session := range sessions {
		if session.UserID == "" {
			continue
		}
		if !session.StartTime.After(cutoff) || session.StartTime.After(now) {
			continue
		}
		seen[session.UserID] = struct{}{}
	}
	summary.ActiveUserCount = len(seen)

	return summary
}
