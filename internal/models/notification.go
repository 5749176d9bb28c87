package models

// UnnotifiedRank is the initial LastNotifiedRank of a record, larger than
// any queue length.
const UnnotifiedRank = 999999

// NoTarget marks a record whose dispatch target could not be provisioned.
const NoTarget = "NONE"

type Band string

const (
	BandTurn     Band = "TURN"
	BandImminent Band = "IMMINENT"
	BandGeneral  Band = "GENERAL"
)

type NotificationRecord struct {
	TicketNumber     string `json:"ticketNumber"`
	QueueID          string `json:"queueId"`
	Target           string `json:"target"`
	LastNotifiedRank int    `json:"lastNotifiedRank"`
	SentThresholds   []int  `json:"notificationsSent"`
}

func NewNotificationRecord(ticket Ticket, target string) NotificationRecord {
	if target == "" {
		target = NoTarget
	}
	return NotificationRecord{
		TicketNumber:     ticket.TicketNumber,
		QueueID:          ticket.QueueID,
		Target:           target,
		LastNotifiedRank: UnnotifiedRank,
		SentThresholds:   []int{},
	}
}

func (r NotificationRecord) HasTarget() bool {
	return r.Target != "" && r.Target != NoTarget
}

func (r NotificationRecord) Sent(threshold int) bool {
	for _, t := range r.SentThresholds {
		if t == threshold {
			return true
		}
	}
	return false
}
