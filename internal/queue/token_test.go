package queue

import (
	"errors"
	"testing"
	"time"

	"queueescape/queue-service/internal/models"
)

var tokenIssuedAt = time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	ticket := models.Ticket{QueueID: "q1", TicketNumber: "ab12cd34"}

	token, err := issuer.Issue(ticket, tokenIssuedAt)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Parse(token, tokenIssuedAt.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.QueueID != "q1" || claims.TicketNumber != "ab12cd34" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	ticket := models.Ticket{QueueID: "q1", TicketNumber: "ab12cd34"}

	valid, _ := issuer.Issue(ticket, tokenIssuedAt)
	forged, _ := NewTokenIssuer("other", time.Hour).Issue(ticket, tokenIssuedAt)

	cases := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"expired", valid, tokenIssuedAt.Add(2 * time.Hour)},
		{"forged", forged, tokenIssuedAt},
		{"garbage", "abc.def.ghi", tokenIssuedAt},
	}
	for _, tc := range cases {
		if _, err := issuer.Parse(tc.token, tc.at); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}
}
