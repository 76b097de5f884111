// Package notify delivers advisory webhook events for committed state
// changes. Delivery is one attempt per event with a short timeout; every
// failure is logged and absorbed so an unreachable sink can never block or
// roll back the authoritative workflow.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

type Dispatcher struct {
	provider Provider
	timeout  time.Duration
}

func NewDispatcher(provider Provider, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{provider: provider, timeout: timeout}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// Dispatch attempts delivery once. It has no error return on purpose:
// timeout, network, and non-2xx outcomes all end here.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload json.RawMessage) {
	body, err := json.Marshal(envelope{Type: eventType, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		log.Printf("notify marshal error for %s: %v", eventType, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.provider.Send(sendCtx, eventType, body); err != nil {
		log.Printf("notify dispatch %s failed: %v", eventType, err)
	}
}
