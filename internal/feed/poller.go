package feed

import (
	"context"
	"log"
	"time"

	"github.com/cp-docblog/nodmee/internal/store"
)

type Poller struct {
	store     store.Store
	hub       *Hub
	interval  time.Duration
	batchSize int
	cursor    store.OutboxCursor
}

func NewPoller(st store.Store, hub *Hub, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{store: st, hub: hub, interval: interval, batchSize: batchSize}
}

// Run tails the outbox and broadcasts each committed mutation through the
// hub until ctx is cancelled. It never touches the mutation path.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx); err != nil {
				log.Printf("feed poller error: %v", err)
			}
		}
	}
}

func (p *Poller) drain(ctx context.Context) error {
	for {
		pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		events, err := p.store.ListOutboxEvents(pollCtx, p.cursor, p.batchSize)
		cancel()
		if err != nil {
			return err
		}
		for _, event := range events {
			p.cursor.AfterSeq = event.Seq
			p.hub.Broadcast(Event{
				Collection: event.Collection,
				EntityID:   event.EntityID,
				Kind:       event.Type,
				Payload:    event.Payload,
				CreatedAt:  event.CreatedAt,
			})
		}
		if len(events) < p.batchSize {
			return nil
		}
	}
}
