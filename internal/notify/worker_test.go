package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cp-docblog/nodmee/internal/store"
	"github.com/cp-docblog/nodmee/internal/store/memory"
)

func seedOutbox(t *testing.T, st *memory.Store) string {
	t.Helper()
	ctx := context.Background()
	booking, _, err := st.CreateBooking(ctx, store.CreateBookingInput{
		ResourceType: "desk",
		Date:         "2026-09-01",
		TimeSlot:     "09:00-13:00",
		CustomerName: "Dina Hassan",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if _, err := st.TransitionBooking(ctx, store.TransitionInput{
		BookingID:      booking.BookingID,
		ExpectedStatus: "pending",
		TargetStatus:   "confirmed",
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return booking.BookingID
}

func TestWorkerDispatchesEachEventOnce(t *testing.T) {
	st := memory.NewStore()
	seedOutbox(t, st)

	var types []string
	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		types = append(types, eventType)
		return nil
	}}
	w := NewWorker(st, NewDispatcher(provider, time.Second), time.Second, 50, time.Time{})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	want := []string{"booking.created", "booking.confirmed"}
	if len(types) != len(want) {
		t.Fatalf("dispatched %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("dispatched[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestWorkerCursorAdvancesPastFailures(t *testing.T) {
	st := memory.NewStore()
	seedOutbox(t, st)

	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		return errors.New("sink down")
	}}
	w := NewWorker(st, NewDispatcher(provider, time.Second), time.Second, 50, time.Time{})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2", provider.calls)
	}

	// Failed sends are not retried.
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("failed events retried: %d calls", provider.calls)
	}
}

func TestWorkerStartCursorSkipsOldEvents(t *testing.T) {
	st := memory.NewStore()
	seedOutbox(t, st)

	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		return nil
	}}
	w := NewWorker(st, NewDispatcher(provider, time.Second), time.Second, 50, time.Now().UTC().Add(time.Hour))

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("pre-cursor events dispatched: %d calls", provider.calls)
	}
}

func TestWorkerDeliveryNeverTouchesStore(t *testing.T) {
	st := memory.NewStore()
	bookingID := seedOutbox(t, st)

	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		return errors.New("sink down")
	}}
	w := NewWorker(st, NewDispatcher(provider, time.Second), time.Second, 50, time.Time{})
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	booking, err := st.GetBooking(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if booking.Status != "confirmed" || booking.Version != 2 {
		t.Fatalf("committed state mutated: status=%q version=%d", booking.Status, booking.Version)
	}
}
