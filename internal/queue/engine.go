package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"queueescape/queue-service/internal/dispatch"
	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"
	"queueescape/queue-service/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ticketNumberLength = 8

var tracer = otel.Tracer("queueescape/queue-service/internal/queue")

// EventPublisher receives queue changes for live subscribers.
type EventPublisher interface {
	Publish(event models.QueueEvent)
}

type Options struct {
	Provisioner dispatch.Provisioner
	Tokens      *TokenIssuer
	Events      EventPublisher
}

type Engine struct {
	store       store.Store
	dispatcher  dispatch.Dispatcher
	provisioner dispatch.Provisioner
	tokens      *TokenIssuer
	events      EventPublisher
	cfg         Config
	clock       joinClock
	locks       keyedMutex

	ticketNumber func() string
}

func NewEngine(st store.Store, dispatcher dispatch.Dispatcher, cfg Config, opts Options) *Engine {
	provisioner := opts.Provisioner
	if provisioner == nil {
		provisioner = dispatch.ContactProvisioner{}
	}
	return &Engine{
		store:       st,
		dispatcher:  dispatcher,
		provisioner: provisioner,
		tokens:      opts.Tokens,
		events:      opts.Events,
		cfg:         cfg.WithDefaults(),

		ticketNumber: newTicketNumber,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// QueueID resolves an empty queue id to the default queue.
func (e *Engine) QueueID(queueID string) string {
	queueID = strings.TrimSpace(queueID)
	if queueID == "" {
		return e.cfg.DefaultQueueID
	}
	return queueID
}

type JoinInput struct {
	QueueID string
	Contact string
}

type JoinResult struct {
	Ticket models.Ticket
	Token  string
}

// Join issues a WAITING ticket at the back of the queue and creates its
// notification record.
func (e *Engine) Join(ctx context.Context, input JoinInput) (JoinResult, error) {
	queueID := e.QueueID(input.QueueID)
	contact := strings.TrimSpace(input.Contact)
	if contact == "" {
		return JoinResult{}, fmt.Errorf("%w: email is required", ErrMalformedInput)
	}

	ctx, span := tracer.Start(ctx, "queue.Join", trace.WithAttributes(attribute.String("queue.id", queueID)))
	defer span.End()

	now := e.cfg.Now()
	var ticket models.Ticket
	var err error
	for attempt := 0; attempt < e.cfg.JoinRetries; attempt++ {
		ticket = models.Ticket{
			QueueID:      queueID,
			TicketNumber: e.ticketNumber(),
			Status:       models.StatusWaiting,
			JoinTime:     e.clock.next(queueID, now),
			Contact:      contact,
		}
		var claimed bool
		claimed, err = e.claimNotificationRecord(ctx, ticket)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		err = e.store.PutTicket(ctx, ticket)
		if err != nil && claimed {
			if derr := e.store.DeleteNotificationRecord(ctx, ticket.TicketNumber); derr != nil {
				log.Printf("notification record cleanup failed queue=%s ticket=%s err=%v", queueID, ticket.TicketNumber, derr)
			}
		}
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		recordError(span, err)
		return JoinResult{}, err
	}
	telemetry.TicketsJoined.WithLabelValues(queueID).Inc()
	e.publish(models.EventJoined, ticket)

	result := JoinResult{Ticket: ticket}
	if e.tokens != nil {
		token, err := e.tokens.Issue(ticket, now)
		if err != nil {
			log.Printf("ticket token issue failed queue=%s ticket=%s err=%v", queueID, ticket.TicketNumber, err)
		} else {
			result.Token = token
		}
	}
	return result, nil
}

// claimNotificationRecord creates the ticket's notification record before
// the ticket itself. Records are keyed by ticket number alone, so a number
// already held by a ticket in another queue comes back as ErrConflict and
// the caller draws a new one. Other store errors are logged and the ticket
// joins without a record.
func (e *Engine) claimNotificationRecord(ctx context.Context, ticket models.Ticket) (bool, error) {
	target, err := e.provisioner.Provision(ctx, ticket)
	if err != nil {
		log.Printf("provision target failed queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
		target = models.NoTarget
	}
	err = e.store.PutNotificationRecord(ctx, models.NewNotificationRecord(ticket, target))
	if errors.Is(err, store.ErrConflict) {
		log.Printf("ticket number taken queue=%s ticket=%s", ticket.QueueID, ticket.TicketNumber)
		return false, err
	}
	if err != nil {
		log.Printf("notification record create failed queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
		return false, nil
	}
	return true, nil
}

func newTicketNumber() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ticketNumberLength]
}

// Rank computes the ticket's rank from a single snapshot of the queue.
func (e *Engine) Rank(ctx context.Context, queueID string, ticket models.Ticket) (int, error) {
	if ticket.Status != models.StatusWaiting {
		return Rank(nil, ticket), nil
	}
	waiting, err := e.store.ScanWaiting(ctx, e.QueueID(queueID))
	if err != nil {
		return 0, err
	}
	return Rank(waiting, ticket), nil
}

// MinutesPerPosition is the queue's current service rate.
func (e *Engine) MinutesPerPosition(ctx context.Context, queueID string, now time.Time) int {
	return e.cfg.Estimator.MinutesPerPosition(LoadSettings(ctx, e.store, e.QueueID(queueID)), now)
}

// Status reports a ticket's position and estimated wait without changing
// anything. Only WAITING tickets have a non-zero position.
func (e *Engine) Status(ctx context.Context, queueID, ticketNumber string) (models.Snapshot, error) {
	queueID = e.QueueID(queueID)
	ticketNumber = strings.TrimSpace(ticketNumber)
	if ticketNumber == "" {
		return models.Snapshot{}, fmt.Errorf("%w: ticketNumber is required", ErrMalformedInput)
	}

	ctx, span := tracer.Start(ctx, "queue.Status", trace.WithAttributes(
		attribute.String("queue.id", queueID),
		attribute.String("queue.ticket", ticketNumber),
	))
	defer span.End()

	ticket, err := e.store.GetTicket(ctx, queueID, ticketNumber)
	if err != nil {
		recordError(span, err)
		return models.Snapshot{}, err
	}

	position := 0
	if ticket.Status == models.StatusWaiting {
		position, err = e.Rank(ctx, queueID, ticket)
		if err != nil {
			recordError(span, err)
			return models.Snapshot{}, err
		}
	}

	mpp := e.MinutesPerPosition(ctx, queueID, e.cfg.Now())
	return models.Snapshot{
		TicketNumber:         ticket.TicketNumber,
		QueueID:              ticket.QueueID,
		Status:               ticket.Status,
		Position:             position,
		EstimatedWaitMinutes: EstimatedWait(position, mpp),
		MinutesPerPosition:   mpp,
		CalculationMode:      CalculationMode(mpp),
	}, nil
}

func (e *Engine) StatusByToken(ctx context.Context, token string) (models.Snapshot, error) {
	if e.tokens == nil {
		return models.Snapshot{}, ErrInvalidToken
	}
	claims, err := e.tokens.Parse(strings.TrimSpace(token), e.cfg.Now())
	if err != nil {
		return models.Snapshot{}, err
	}
	return e.Status(ctx, claims.QueueID, claims.TicketNumber)
}

// Summary lists the queue's WAITING and BEING_SERVED tickets in join order.
func (e *Engine) Summary(ctx context.Context, queueID string) (models.Summary, error) {
	queueID = e.QueueID(queueID)
	tickets, err := e.store.ListActive(ctx, queueID)
	if err != nil {
		return models.Summary{}, err
	}
	summary := models.Summary{QueueID: queueID, Tickets: make([]models.Ticket, 0, len(tickets))}
	for _, t := range tickets {
		switch t.Status {
		case models.StatusWaiting:
			summary.Waiting++
		case models.StatusBeingServed:
			summary.BeingServed++
		default:
			continue
		}
		summary.Tickets = append(summary.Tickets, t)
	}
	return summary, nil
}

// Advance serves the earliest WAITING ticket of the queue. It reports false
// when nobody is waiting. Advances on one queue are serialized in this
// process, and the status change is conditional so that another process
// serving the same head makes this call move on to the next ticket.
func (e *Engine) Advance(ctx context.Context, queueID string) (models.Ticket, bool, error) {
	queueID = e.QueueID(queueID)
	ctx, span := tracer.Start(ctx, "queue.Advance", trace.WithAttributes(attribute.String("queue.id", queueID)))
	defer span.End()

	unlock := e.locks.lock(queueID)
	defer unlock()

	for attempt := 0; attempt < e.cfg.AdvanceRetries; attempt++ {
		waiting, err := e.store.ScanWaiting(ctx, queueID)
		if err != nil {
			recordError(span, err)
			return models.Ticket{}, false, err
		}
		head, ok := headOf(waiting)
		if !ok {
			return models.Ticket{}, false, nil
		}
		served, err := e.store.UpdateStatus(ctx, queueID, head.TicketNumber, models.StatusWaiting, models.StatusBeingServed)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrTicketNotFound) {
			log.Printf("advance lost race queue=%s ticket=%s attempt=%d", queueID, head.TicketNumber, attempt+1)
			continue
		}
		if err != nil {
			recordError(span, err)
			return models.Ticket{}, false, err
		}
		telemetry.TicketsAdvanced.WithLabelValues(queueID).Inc()
		span.SetAttributes(attribute.String("queue.ticket", served.TicketNumber))
		e.notifyTurn(ctx, served)
		e.publish(models.EventAdvanced, served)
		return served, true, nil
	}
	recordError(span, store.ErrConflict)
	return models.Ticket{}, false, store.ErrConflict
}

func headOf(tickets []models.Ticket) (models.Ticket, bool) {
	var head models.Ticket
	found := false
	for _, t := range tickets {
		if t.Status != models.StatusWaiting {
			continue
		}
		if !found || t.JoinTime < head.JoinTime {
			head, found = t, true
		}
	}
	return head, found
}

// notifyTurn always tells the served customer, regardless of milestones.
// Failures are logged only; the ticket stays BEING_SERVED.
func (e *Engine) notifyTurn(ctx context.Context, ticket models.Ticket) {
	record, err := e.store.GetNotificationRecord(ctx, ticket.TicketNumber)
	if err != nil {
		log.Printf("turn notification record missing queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
		target, perr := e.provisioner.Provision(ctx, ticket)
		if perr != nil {
			target = models.NoTarget
		}
		record = models.NewNotificationRecord(ticket, target)
	}

	if record.HasTarget() {
		msg := dispatch.Message{
			Target:       record.Target,
			Band:         models.BandTurn,
			TicketNumber: ticket.TicketNumber,
			QueueID:      ticket.QueueID,
		}
		if err := e.dispatcher.Send(ctx, msg); err != nil {
			telemetry.NotificationFailures.WithLabelValues(string(models.BandTurn)).Inc()
			log.Printf("turn notification failed queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
		} else {
			telemetry.NotificationsSent.WithLabelValues(string(models.BandTurn)).Inc()
		}
	}

	if err := e.store.UpdateNotificationRecord(ctx, ticket.TicketNumber, record.SentThresholds, 0); err != nil {
		log.Printf("turn notification record update failed queue=%s ticket=%s err=%v", ticket.QueueID, ticket.TicketNumber, err)
	}
}

// Complete finishes a ticket being served and drops its notification
// record. Completing an already completed ticket succeeds without change.
func (e *Engine) Complete(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error) {
	queueID = e.QueueID(queueID)
	ticketNumber = strings.TrimSpace(ticketNumber)
	if ticketNumber == "" {
		return models.Ticket{}, fmt.Errorf("%w: ticketNumber is required", ErrMalformedInput)
	}

	ctx, span := tracer.Start(ctx, "queue.Complete", trace.WithAttributes(
		attribute.String("queue.id", queueID),
		attribute.String("queue.ticket", ticketNumber),
	))
	defer span.End()

	ticket, err := e.store.GetTicket(ctx, queueID, ticketNumber)
	if err != nil {
		recordError(span, err)
		return models.Ticket{}, err
	}
	if ticket.Status == models.StatusCompleted {
		return ticket, nil
	}
	if !store.ValidTransition("complete", ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}

	completed, err := e.store.UpdateStatus(ctx, queueID, ticketNumber, models.StatusBeingServed, models.StatusCompleted)
	if errors.Is(err, store.ErrConflict) {
		current, gerr := e.store.GetTicket(ctx, queueID, ticketNumber)
		if gerr == nil && current.Status == models.StatusCompleted {
			return current, nil
		}
	}
	if err != nil {
		recordError(span, err)
		return models.Ticket{}, err
	}
	telemetry.TicketsCompleted.WithLabelValues(queueID).Inc()
	e.publish(models.EventCompleted, completed)

	if err := e.store.DeleteNotificationRecord(ctx, ticketNumber); err != nil {
		log.Printf("notification record delete failed queue=%s ticket=%s err=%v", queueID, ticketNumber, err)
	}
	return completed, nil
}

type ConfigureInput struct {
	QueueID                   string
	PeakPeriod                string
	Windows                   []models.RateWindow
	DefaultMinutesPerPosition int
	Thresholds                []int
}

// Configure replaces a queue's settings. Without explicit windows the
// named peak period preset is used.
func (e *Engine) Configure(ctx context.Context, input ConfigureInput) (models.QueueSettings, error) {
	queueID := e.QueueID(input.QueueID)
	period := strings.ToUpper(strings.TrimSpace(input.PeakPeriod))

	settings := models.PeakPreset(queueID, period)
	if len(input.Windows) > 0 {
		settings.PeakPeriod = ""
		settings.Windows = input.Windows
	}
	if input.DefaultMinutesPerPosition != 0 {
		settings.DefaultMinutesPerPosition = input.DefaultMinutesPerPosition
	}
	for _, t := range input.Thresholds {
		if t <= 0 {
			return models.QueueSettings{}, fmt.Errorf("%w: threshold %d must be positive", ErrMalformedInput, t)
		}
	}
	settings.Thresholds = NormalizeThresholds(input.Thresholds)
	if err := settings.Validate(); err != nil {
		return models.QueueSettings{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	if err := e.store.PutSettings(ctx, settings); err != nil {
		return models.QueueSettings{}, err
	}
	e.publish(models.EventSettings, models.Ticket{QueueID: queueID})
	log.Printf("queue settings updated queue=%s peak_period=%s windows=%d thresholds=%v", queueID, settings.PeakPeriod, len(settings.Windows), settings.Thresholds)
	return settings, nil
}

func (e *Engine) publish(eventType models.EventType, ticket models.Ticket) {
	if e.events == nil {
		return
	}
	e.events.Publish(models.QueueEvent{
		Type:         eventType,
		QueueID:      ticket.QueueID,
		TicketNumber: ticket.TicketNumber,
		Status:       ticket.Status,
		CreatedAt:    e.cfg.Now(),
	})
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// joinClock hands out strictly increasing microsecond join times per queue.
type joinClock struct {
	mu   sync.Mutex
	last map[string]int64
}

func (c *joinClock) next(queueID string, now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = make(map[string]int64)
	}
	micros := now.UnixMicro()
	if last := c.last[queueID]; micros <= last {
		micros = last + 1
	}
	c.last[queueID] = micros
	return micros
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
