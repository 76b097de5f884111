package notify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
)

type Provider interface {
	Send(ctx context.Context, eventType string, body []byte) error
}

// NewProvider resolves the configured sink. Anything that looks like a URL
// becomes a webhook; unknown kinds fall back to logging so a misconfigured
// deployment degrades to visible output instead of silence.
func NewProvider(kind, token string) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return &WebhookProvider{URL: kind, Token: token, Client: http.DefaultClient}
		}
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Send(ctx context.Context, eventType string, body []byte) error {
	log.Printf("notify %s: %s", eventType, body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, eventType string, body []byte) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, eventType string, body []byte) error {
	return errors.New("provider failure")
}

type WebhookProvider struct {
	URL    string
	Token  string
	Client *http.Client
}

func (p *WebhookProvider) Send(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("sink rejected request: " + resp.Status)
	}
	return nil
}
