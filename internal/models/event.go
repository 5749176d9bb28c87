package models

import "time"

type EventType string

const (
	EventJoined    EventType = "ticket.joined"
	EventAdvanced  EventType = "ticket.advanced"
	EventCompleted EventType = "ticket.completed"
	EventSettings  EventType = "queue.settings"
)

// QueueEvent is pushed to live subscribers of a queue whenever its order
// or service rate changes. Subscribers refetch their status on receipt.
type QueueEvent struct {
	Type         EventType `json:"type"`
	QueueID      string    `json:"queueId"`
	TicketNumber string    `json:"ticketNumber,omitempty"`
	Status       Status    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
