package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"queueescape/queue-service/internal/dispatch"
	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/queue"
	"queueescape/queue-service/internal/store"
	"queueescape/queue-service/internal/telemetry"

	"go.uber.org/atomic"
)

var ErrSweepInProgress = errors.New("sweep already running")

const runTimeout = 30 * time.Second

type Result struct {
	TicketsProcessed  int       `json:"ticketsProcessed"`
	NotificationsSent int       `json:"notificationsSent"`
	Skipped           int       `json:"skipped"`
	Failures          []Failure `json:"failures,omitempty"`
}

type Failure struct {
	QueueID      string `json:"queueId"`
	TicketNumber string `json:"ticketNumber"`
	Error        string `json:"error"`
}

type Stats struct {
	Runs              int64     `json:"runs"`
	NotificationsSent int64     `json:"notificationsSent"`
	Failures          int64     `json:"failures"`
	LastRun           time.Time `json:"lastRun"`
}

// Sweeper checks every WAITING ticket for a newly crossed notification
// threshold and dispatches at most one message per ticket per run.
type Sweeper struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	cfg        queue.Config

	running  sync.Mutex
	runs     atomic.Int64
	sent     atomic.Int64
	failures atomic.Int64
	lastRun  atomic.Time
}

func New(st store.Store, dispatcher dispatch.Dispatcher, cfg queue.Config) *Sweeper {
	return &Sweeper{
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg.WithDefaults(),
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeSkipped
)

// Run sweeps one queue, or all queues when queueID is empty. Only a failed
// scan aborts the run; per-ticket errors are collected in the result.
func (s *Sweeper) Run(ctx context.Context, queueID string) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	began := time.Now()
	start := s.cfg.Now()
	defer func() {
		telemetry.SweepDuration.Observe(time.Since(began).Seconds())
		s.runs.Inc()
		s.lastRun.Store(start)
	}()

	waiting, err := s.store.ScanWaiting(ctx, queueID)
	if err != nil {
		return Result{}, fmt.Errorf("scan waiting: %w", err)
	}

	ranking := queue.NewRanking(waiting)
	var result Result
	for _, group := range groupByQueue(waiting) {
		settings := queue.LoadSettings(ctx, s.store, group.queueID)
		thresholds := s.cfg.ThresholdsFor(settings)
		mpp := s.cfg.Estimator.MinutesPerPosition(settings, start)
		telemetry.WaitingTickets.WithLabelValues(group.queueID).Set(float64(ranking.Len(group.queueID)))

		for _, ticket := range group.tickets {
			result.TicketsProcessed++
			out, err := s.processTicket(ctx, ticket, ranking.Rank(ticket), thresholds, mpp)
			if err != nil {
				s.failures.Inc()
				log.Printf("sweep ticket failed queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
				result.Failures = append(result.Failures, Failure{
					QueueID:      ticket.QueueID,
					TicketNumber: ticket.TicketNumber,
					Error:        err.Error(),
				})
				continue
			}
			switch out {
			case outcomeSent:
				result.NotificationsSent++
			case outcomeSkipped:
				result.Skipped++
			}
		}
	}
	s.sent.Add(int64(result.NotificationsSent))
	return result, nil
}

func (s *Sweeper) processTicket(ctx context.Context, ticket models.Ticket, rank int, thresholds []int, mpp int) (outcome, error) {
	record, err := s.store.GetNotificationRecord(ctx, ticket.TicketNumber)
	if errors.Is(err, store.ErrNotificationNotFound) {
		log.Printf("sweep skip queue=%s ticket=%s reason=no_record", ticket.QueueID, ticket.TicketNumber)
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	if !record.HasTarget() {
		return outcomeSkipped, nil
	}

	threshold, ok := queue.NextMilestone(rank, record.LastNotifiedRank, record.SentThresholds, thresholds)
	if !ok {
		return outcomeNone, nil
	}

	// The snapshot may be stale by now; a ticket served since then has
	// already had its turn message.
	current, err := s.store.GetTicket(ctx, ticket.QueueID, ticket.TicketNumber)
	if errors.Is(err, store.ErrTicketNotFound) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	if current.Status != models.StatusWaiting {
		log.Printf("sweep skip queue=%s ticket=%s reason=status_%s", ticket.QueueID, ticket.TicketNumber, current.Status)
		return outcomeSkipped, nil
	}

	band := queue.BandFor(rank)
	msg := dispatch.Message{
		Target:       record.Target,
		Band:         band,
		TicketNumber: ticket.TicketNumber,
		QueueID:      ticket.QueueID,
		Rank:         rank,
		ETAMinutes:   queue.EstimatedWait(rank, mpp),
	}
	if err := s.dispatcher.Send(ctx, msg); err != nil {
		telemetry.NotificationFailures.WithLabelValues(string(band)).Inc()
		return outcomeNone, fmt.Errorf("dispatch threshold %d: %w", threshold, err)
	}
	telemetry.NotificationsSent.WithLabelValues(string(band)).Inc()

	applied, err := s.store.RecordMilestone(ctx, ticket.TicketNumber, threshold, rank)
	if err != nil {
		return outcomeNone, fmt.Errorf("record threshold %d: %w", threshold, err)
	}
	if !applied {
		log.Printf("sweep threshold not recorded queue=%s ticket=%s threshold=%d reason=already_sent_or_served", ticket.QueueID, ticket.TicketNumber, threshold)
	}
	return outcomeSent, nil
}

type queueGroup struct {
	queueID string
	tickets []models.Ticket
}

func groupByQueue(tickets []models.Ticket) []queueGroup {
	var groups []queueGroup
	index := make(map[string]int)
	for _, t := range tickets {
		i, ok := index[t.QueueID]
		if !ok {
			i = len(groups)
			index[t.QueueID] = i
			groups = append(groups, queueGroup{queueID: t.QueueID})
		}
		groups[i].tickets = append(groups[i].tickets, t)
	}
	return groups
}

func (s *Sweeper) Stats() Stats {
	return Stats{
		Runs:              s.runs.Load(),
		NotificationsSent: s.sent.Load(),
		Failures:          s.failures.Load(),
		LastRun:           s.lastRun.Load(),
	}
}

// Start runs the sweeper over all queues on every tick until ctx is done.
func Start(ctx context.Context, interval time.Duration, s *Sweeper) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, runTimeout)
			result, err := s.Run(runCtx, "")
			cancel()
			if errors.Is(err, ErrSweepInProgress) {
				continue
			}
			if err != nil {
				log.Printf("sweep error: %v", err)
				continue
			}
			if result.NotificationsSent > 0 || len(result.Failures) > 0 {
				log.Printf("sweep processed=%d sent=%d skipped=%d failures=%d", result.TicketsProcessed, result.NotificationsSent, result.Skipped, len(result.Failures))
			}
		}
	}
}
