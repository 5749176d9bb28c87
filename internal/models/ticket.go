package models

type Status string

const (
	StatusWaiting     Status = "WAITING"
	StatusBeingServed Status = "BEING_SERVED"
	StatusCompleted   Status = "COMPLETED"
)

// Ticket is one customer's place in a queue. JoinTime is a microsecond
// timestamp, unique within QueueID, and its order is the service order.
type Ticket struct {
	QueueID      string `json:"queueId"`
	TicketNumber string `json:"ticketNumber"`
	Status       Status `json:"status"`
	JoinTime     int64  `json:"joinTime"`
	Contact      string `json:"email,omitempty"`
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusBeingServed, StatusCompleted:
		return true
	}
	return false
}

// Snapshot is the read-only view returned by a status query.
type Snapshot struct {
	TicketNumber         string `json:"ticketNumber"`
	QueueID              string `json:"queueId"`
	Status               Status `json:"status"`
	Position             int    `json:"position"`
	EstimatedWaitMinutes int    `json:"estimatedWaitMinutes"`
	MinutesPerPosition   int    `json:"minutesPerPosition"`
	CalculationMode      string `json:"calculationMode"`
}

// Summary lists the tickets of a queue that are not yet completed, in
// join order.
type Summary struct {
	QueueID     string   `json:"queueId"`
	Waiting     int      `json:"waiting"`
	BeingServed int      `json:"beingServed"`
	Tickets     []Ticket `json:"tickets"`
}
