package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	sendFunc func(ctx context.Context, eventType string, body []byte) error
	calls    int
}

func (p *fakeProvider) Send(ctx context.Context, eventType string, body []byte) error {
	p.calls++
	return p.sendFunc(ctx, eventType, body)
}

func TestDispatchWrapsEnvelope(t *testing.T) {
	var captured []byte
	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		captured = body
		return nil
	}}
	d := NewDispatcher(provider, time.Second)

	d.Dispatch(context.Background(), "booking.confirmed", json.RawMessage(`{"booking_id":"b-1"}`))

	var env envelope
	if err := json.Unmarshal(captured, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "booking.confirmed" {
		t.Fatalf("type = %q", env.Type)
	}
	if string(env.Payload) != `{"booking_id":"b-1"}` {
		t.Fatalf("payload = %s", env.Payload)
	}
	if env.SentAt.IsZero() {
		t.Fatalf("sent_at not set")
	}
}

func TestDispatchAbsorbsProviderFailure(t *testing.T) {
	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		return errors.New("sink down")
	}}
	d := NewDispatcher(provider, time.Second)

	// Must not panic and must attempt exactly once.
	d.Dispatch(context.Background(), "booking.created", json.RawMessage(`{}`))
	if provider.calls != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls)
	}
}

func TestDispatchTimesOutSlowProvider(t *testing.T) {
	provider := &fakeProvider{sendFunc: func(ctx context.Context, eventType string, body []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	d := NewDispatcher(provider, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), "booking.created", json.RawMessage(`{}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch did not honor timeout")
	}
}

func TestWebhookProviderPostsJSON(t *testing.T) {
	var gotEventType, gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEventType = r.Header.Get("X-Event-Type")
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &WebhookProvider{URL: srv.URL, Token: "secret", Client: srv.Client()}
	if err := p.Send(context.Background(), "session.ended", []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotEventType != "session.ended" {
		t.Fatalf("X-Event-Type = %q", gotEventType)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
}

func TestWebhookProviderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &WebhookProvider{URL: srv.URL, Client: srv.Client()}
	if err := p.Send(context.Background(), "booking.created", []byte(`{}`)); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestNewProviderResolution(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"", "notify.logProvider"},
		{"log", "notify.logProvider"},
		{"noop", "notify.noopProvider"},
		{"fail", "notify.failProvider"},
		{"https://hooks.example.com/x", "*notify.WebhookProvider"},
		{"telegram", "notify.logProvider"},
	}
	for _, tt := range tests {
		got := NewProvider(tt.kind, "")
		if name := typeName(got); name != tt.want {
			t.Fatalf("NewProvider(%q) = %s, want %s", tt.kind, name, tt.want)
		}
	}
}

func typeName(p Provider) string {
	switch p.(type) {
	case logProvider:
		return "notify.logProvider"
	case noopProvider:
		return "notify.noopProvider"
	case failProvider:
		return "notify.failProvider"
	case *WebhookProvider:
		return "*notify.WebhookProvider"
	default:
		return "unknown"
	}
}
