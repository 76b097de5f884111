package notify

import (
	"context"
	"log"
	"time"

	"github.com/cp-docblog/nodmee/internal/store"
)

type Worker struct {
	store      store.Store
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	cursor     store.OutboxCursor
}

// NewWorker tails the outbox starting at `from`; a zero `from` replays the
// whole outbox. The cursor lives in memory because delivery is best-effort
// at-most-once and pre-startup events carry no obligation.
func NewWorker(st store.Store, dispatcher *Dispatcher, interval time.Duration, batchSize int, from time.Time) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		store:      st,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		cursor:     store.OutboxCursor{AfterTime: from},
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				log.Printf("notify worker error: %v", err)
			}
		}
	}
}

// RunOnce dispatches every outbox event past the cursor, exactly one
// attempt each. The cursor advances past failed sends: a dropped advisory
// notification never stalls the feed.
func (w *Worker) RunOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	events, err := w.store.ListOutboxEvents(pollCtx, w.cursor, w.batchSize)
	cancel()
	if err != nil {
		return err
	}

	for _, event := range events {
		w.dispatcher.Dispatch(ctx, event.Type, event.Payload)
		w.cursor.AfterSeq = event.Seq
	}
	return nil
}
