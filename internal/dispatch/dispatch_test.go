package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"queueescape/queue-service/internal/models"
)

func TestRender(t *testing.T) {
	cases := []struct {
		name    string
		msg     Message
		subject string
		contain string
	}{
		{"turn", Message{Band: models.BandTurn, TicketNumber: "ab12cd34"}, "It's your turn", "ab12cd34: it's your turn"},
		{"imminent", Message{Band: models.BandImminent, TicketNumber: "t1", Rank: 2, ETAMinutes: 30}, "Almost your turn", "2 ahead of you, about 30 minutes"},
		{"general", Message{Band: models.BandGeneral, TicketNumber: "t1", QueueID: "main_queue", Rank: 10, ETAMinutes: 50}, "Queue update", "10 ahead of you in main_queue, estimated wait 50 minutes"},
		{"unknown band", Message{Band: "OTHER", TicketNumber: "t1"}, "Queue update", "Ticket t1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subject, body := Render(tc.msg)
			if subject != tc.subject {
				t.Fatalf("subject = %q, want %q", subject, tc.subject)
			}
			if !strings.Contains(body, tc.contain) {
				t.Fatalf("body %q does not contain %q", body, tc.contain)
			}
		})
	}
}

func TestNewSelectsProvider(t *testing.T) {
	pub := &fakePublisher{}
	cases := []struct {
		kind string
		opts Options
		want string
	}{
		{"", Options{}, "dispatch.LogProvider"},
		{"noop", Options{}, "dispatch.NoopProvider"},
		{"fail", Options{}, "dispatch.FailProvider"},
		{"webhook", Options{}, "dispatch.LogProvider"},
		{"webhook", Options{WebhookURL: "http://example.test"}, "*dispatch.WebhookProvider"},
		{"https://example.test/hook", Options{}, "*dispatch.WebhookProvider"},
		{"nats", Options{}, "dispatch.LogProvider"},
		{"nats", Options{Publisher: pub}, "*dispatch.NATSProvider"},
		{"carrier-pigeon", Options{}, "dispatch.LogProvider"},
	}
	for _, tc := range cases {
		got := typeName(New(tc.kind, tc.opts))
		if got != tc.want {
			t.Fatalf("New(%q) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func typeName(d Dispatcher) string {
	switch d.(type) {
	case LogProvider:
		return "dispatch.LogProvider"
	case NoopProvider:
		return "dispatch.NoopProvider"
	case FailProvider:
		return "dispatch.FailProvider"
	case *WebhookProvider:
		return "*dispatch.WebhookProvider"
	case *NATSProvider:
		return "*dispatch.NATSProvider"
	}
	return "unknown"
}

func TestFailProviderWrapsSentinel(t *testing.T) {
	err := FailProvider{}.Send(context.Background(), Message{})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
}

func TestWebhookProvider(t *testing.T) {
	var got envelope
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := NewWebhookProvider(server.URL, "secret")
	msg := Message{Target: "a@example.com", Band: models.BandTurn, TicketNumber: "t1", QueueID: "q1"}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.Target != "a@example.com" || got.Subject != "It's your turn" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookProviderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookProvider(server.URL, "").Send(context.Background(), Message{Band: models.BandGeneral})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.data = data
	return p.err
}

func TestNATSProvider(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNATSProvider(pub, "")
	msg := Message{Target: "a@example.com", Band: models.BandImminent, TicketNumber: "t1", QueueID: "Front Desk", Rank: 3, ETAMinutes: 45}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.subject != "queue.notify.Front_Desk.t1" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var got envelope
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Rank != 3 || got.Band != models.BandImminent {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNATSProviderPublishError(t *testing.T) {
	p := NewNATSProvider(&fakePublisher{err: errors.New("no responders")}, "alerts")
	err := p.Send(context.Background(), Message{TicketNumber: "t1", QueueID: "q1"})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
}

func TestContactProvisioner(t *testing.T) {
	target, err := ContactProvisioner{}.Provision(context.Background(), models.Ticket{Contact: " a@example.com "})
	if err != nil || target != "a@example.com" {
		t.Fatalf("unexpected target %q err %v", target, err)
	}
	target, _ = ContactProvisioner{}.Provision(context.Background(), models.Ticket{})
	if target != models.NoTarget {
		t.Fatalf("expected NONE, got %q", target)
	}
}
