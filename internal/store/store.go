package store

import (
	"context"

	"queueescape/queue-service/internal/models"
)

type TicketStore interface {
	GetTicket(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error)
	// PutTicket inserts a new ticket. A ticket number or join time already
	// used in the same queue yields ErrConflict.
	PutTicket(ctx context.Context, ticket models.Ticket) error
	// UpdateStatus moves a ticket from one status to another only if its
	// current status is from. A lost race yields ErrConflict.
	UpdateStatus(ctx context.Context, queueID, ticketNumber string, from, to models.Status) (models.Ticket, error)
	// ScanWaiting returns one snapshot of the WAITING tickets of a queue,
	// or of every queue when queueID is empty, ordered by join time.
	ScanWaiting(ctx context.Context, queueID string) ([]models.Ticket, error)
	// ListActive returns WAITING and BEING_SERVED tickets ordered by join time.
	ListActive(ctx context.Context, queueID string) ([]models.Ticket, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error)
	PutSettings(ctx context.Context, settings models.QueueSettings) error
}

type NotificationStore interface {
	GetNotificationRecord(ctx context.Context, ticketNumber string) (models.NotificationRecord, error)
	// PutNotificationRecord creates a record and returns ErrConflict when
	// one already exists for the ticket number.
	PutNotificationRecord(ctx context.Context, record models.NotificationRecord) error
	UpdateNotificationRecord(ctx context.Context, ticketNumber string, sent []int, lastNotifiedRank int) error
	// RecordMilestone adds threshold to the sent set and sets the last
	// notified rank in one atomic step. It reports false without writing
	// when the threshold was already recorded or the last notified rank is
	// no longer above it, as after the ticket was served.
	RecordMilestone(ctx context.Context, ticketNumber string, threshold, rank int) (bool, error)
	DeleteNotificationRecord(ctx context.Context, ticketNumber string) error
}

type Store interface {
	TicketStore
	SettingsStore
	NotificationStore
}
