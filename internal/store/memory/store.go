// Package memory is an in-process store backend used for local runs and
// tests. Every method holds one mutex, so each call sees a consistent
// snapshot.
package memory

import (
	"context"
	"sort"
	"sync"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"
)

type ticketKey struct {
	queueID      string
	ticketNumber string
}

type joinKey struct {
	queueID  string
	joinTime int64
}

type Store struct {
	mu            sync.Mutex
	tickets       map[ticketKey]models.Ticket
	joinTimes     map[joinKey]struct{}
	settings      map[string]models.QueueSettings
	notifications map[string]models.NotificationRecord
}

func NewStore() *Store {
	return &Store{
		tickets:       make(map[ticketKey]models.Ticket),
		joinTimes:     make(map[joinKey]struct{}),
		settings:      make(map[string]models.QueueSettings),
		notifications: make(map[string]models.NotificationRecord),
	}
}

func (s *Store) GetTicket(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketKey{queueID, ticketNumber}]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) PutTicket(ctx context.Context, ticket models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ticketKey{ticket.QueueID, ticket.TicketNumber}
	join := joinKey{ticket.QueueID, ticket.JoinTime}
	if _, exists := s.tickets[key]; exists {
		return store.ErrConflict
	}
	if _, exists := s.joinTimes[join]; exists {
		return store.ErrConflict
	}
	s.tickets[key] = ticket
	s.joinTimes[join] = struct{}{}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, queueID, ticketNumber string, from, to models.Status) (models.Ticket, error) {
	if !store.ValidStatusChange(from, to) {
		return models.Ticket{}, store.ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ticketKey{queueID, ticketNumber}
	ticket, ok := s.tickets[key]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if ticket.Status != from {
		return models.Ticket{}, store.ErrConflict
	}
	ticket.Status = to
	s.tickets[key] = ticket
	return ticket, nil
}

func (s *Store) ScanWaiting(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.list(queueID, func(status models.Status) bool {
		return status == models.StatusWaiting
	}), nil
}

func (s *Store) ListActive(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.list(queueID, func(status models.Status) bool {
		return status != models.StatusCompleted
	}), nil
}

func (s *Store) list(queueID string, keep func(models.Status) bool) []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if queueID != "" && ticket.QueueID != queueID {
			continue
		}
		if keep(ticket.Status) {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].QueueID != tickets[j].QueueID {
			return tickets[i].QueueID < tickets[j].QueueID
		}
		return tickets[i].JoinTime < tickets[j].JoinTime
	})
	return tickets
}

func (s *Store) GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[queueID]
	if !ok {
		return models.QueueSettings{}, store.ErrSettingsNotFound
	}
	return cloneSettings(settings), nil
}

func (s *Store) PutSettings(ctx context.Context, settings models.QueueSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.QueueID] = cloneSettings(settings)
	return nil
}

func (s *Store) GetNotificationRecord(ctx context.Context, ticketNumber string) (models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.notifications[ticketNumber]
	if !ok {
		return models.NotificationRecord{}, store.ErrNotificationNotFound
	}
	return cloneRecord(record), nil
}

func (s *Store) PutNotificationRecord(ctx context.Context, record models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[record.TicketNumber]; ok {
		return store.ErrConflict
	}
	s.notifications[record.TicketNumber] = cloneRecord(record)
	return nil
}

func (s *Store) UpdateNotificationRecord(ctx context.Context, ticketNumber string, sent []int, lastNotifiedRank int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.notifications[ticketNumber]
	if !ok {
		return store.ErrNotificationNotFound
	}
	record.SentThresholds = append([]int{}, sent...)
	record.LastNotifiedRank = lastNotifiedRank
	s.notifications[ticketNumber] = record
	return nil
}

func (s *Store) RecordMilestone(ctx context.Context, ticketNumber string, threshold, rank int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.notifications[ticketNumber]
	if !ok {
		return false, store.ErrNotificationNotFound
	}
	if record.Sent(threshold) || record.LastNotifiedRank <= threshold {
		return false, nil
	}
	record.SentThresholds = append(append([]int{}, record.SentThresholds...), threshold)
	record.LastNotifiedRank = rank
	s.notifications[ticketNumber] = record
	return true, nil
}

func (s *Store) DeleteNotificationRecord(ctx context.Context, ticketNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, ticketNumber)
	return nil
}

func cloneSettings(settings models.QueueSettings) models.QueueSettings {
	settings.Windows = append([]models.RateWindow(nil), settings.Windows...)
	settings.Thresholds = append([]int(nil), settings.Thresholds...)
	return settings
}

func cloneRecord(record models.NotificationRecord) models.NotificationRecord {
	record.SentThresholds = append([]int{}, record.SentThresholds...)
	return record
}
