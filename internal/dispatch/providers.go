package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Options struct {
	WebhookURL    string
	WebhookToken  string
	Publisher     Publisher
	SubjectPrefix string
}

// New picks a provider by name. An http(s) URL selects the webhook
// provider with that URL. Unknown names and providers missing their
// settings fall back to logging.
func New(kind string, opts Options) Dispatcher {
	switch kind {
	case "", "stub", "log":
		return LogProvider{}
	case "noop":
		return NoopProvider{}
	case "fail":
		return FailProvider{}
	case "webhook":
		if opts.WebhookURL == "" {
			return LogProvider{}
		}
		return NewWebhookProvider(opts.WebhookURL, opts.WebhookToken)
	case "nats":
		if opts.Publisher == nil {
			return LogProvider{}
		}
		return NewNATSProvider(opts.Publisher, opts.SubjectPrefix)
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return NewWebhookProvider(kind, opts.WebhookToken)
		}
		return LogProvider{}
	}
}

type LogProvider struct{}

func (LogProvider) Send(ctx context.Context, msg Message) error {
	subject, body := Render(msg)
	log.Printf("notify band=%s queue=%s ticket=%s target=%s subject=%q body=%q", msg.Band, msg.QueueID, msg.TicketNumber, msg.Target, subject, body)
	return nil
}

type NoopProvider struct{}

func (NoopProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

type FailProvider struct{}

func (FailProvider) Send(ctx context.Context, msg Message) error {
	return fmt.Errorf("%w: provider failure", ErrDispatchFailed)
}

type WebhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookProvider(url, token string) *WebhookProvider {
	return &WebhookProvider{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type envelope struct {
	Message
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	subject, text := Render(msg)
	body, err := json.Marshal(envelope{Message: msg, Subject: subject, Body: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned %d", ErrDispatchFailed, resp.StatusCode)
	}
	return nil
}
