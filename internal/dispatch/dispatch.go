// Package dispatch delivers queue notifications to customers.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"queueescape/queue-service/internal/models"
)

var ErrDispatchFailed = errors.New("dispatch failed")

type Message struct {
	Target       string      `json:"target"`
	Band         models.Band `json:"band"`
	TicketNumber string      `json:"ticketNumber"`
	QueueID      string      `json:"queueId"`
	Rank         int         `json:"rank"`
	ETAMinutes   int         `json:"etaMinutes"`
}

type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

var templates = map[models.Band][2]string{
	models.BandTurn: {
		"It's your turn",
		"Ticket {ticket_number}: it's your turn. Please proceed to the counter.",
	},
	models.BandImminent: {
		"Almost your turn",
		"Ticket {ticket_number}: {rank} ahead of you, about {eta_minutes} minutes left. Please be ready.",
	},
	models.BandGeneral: {
		"Queue update",
		"Ticket {ticket_number}: {rank} ahead of you in {queue_id}, estimated wait {eta_minutes} minutes.",
	},
}

// Render returns the subject and body for a message. Unknown bands use the
// GENERAL template.
func Render(msg Message) (string, string) {
	tmpl, ok := templates[msg.Band]
	if !ok {
		tmpl = templates[models.BandGeneral]
	}
	replacer := strings.NewReplacer(
		"{ticket_number}", msg.TicketNumber,
		"{queue_id}", msg.QueueID,
		"{rank}", strconv.Itoa(msg.Rank),
		"{eta_minutes}", strconv.Itoa(msg.ETAMinutes),
	)
	return replacer.Replace(tmpl[0]), replacer.Replace(tmpl[1])
}

// Provisioner assigns the target stored on a new notification record.
type Provisioner interface {
	Provision(ctx context.Context, ticket models.Ticket) (string, error)
}

// ContactProvisioner uses the ticket's contact address as the target.
type ContactProvisioner struct{}

func (ContactProvisioner) Provision(ctx context.Context, ticket models.Ticket) (string, error) {
	contact := strings.TrimSpace(ticket.Contact)
	if contact == "" {
		return models.NoTarget, nil
	}
	return contact, nil
}
