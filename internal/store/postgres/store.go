package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const ticketColumns = "queue_id, ticket_number, status, join_time, email"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetTicket(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_entries
		WHERE queue_id = $1 AND ticket_number = $2
	`, queueID, ticketNumber)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) PutTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_entries (queue_id, ticket_number, status, join_time, email)
		VALUES ($1, $2, $3, $4, $5)
	`, ticket.QueueID, ticket.TicketNumber, string(ticket.Status), ticket.JoinTime, ticket.Contact)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, queueID, ticketNumber string, from, to models.Status) (models.Ticket, error) {
	if !store.ValidStatusChange(from, to) {
		return models.Ticket{}, store.ErrInvalidState
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $1, updated_at = now()
		WHERE queue_id = $2 AND ticket_number = $3 AND status = $4
		RETURNING `+ticketColumns, string(to), queueID, ticketNumber, string(from))
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, err
	}
	if _, err := s.GetTicket(ctx, queueID, ticketNumber); err != nil {
		return models.Ticket{}, err
	}
	return models.Ticket{}, store.ErrConflict
}

func (s *Store) ScanWaiting(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, queueID, "status = 'WAITING'")
}

func (s *Store) ListActive(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, queueID, "status <> 'COMPLETED'")
}

func (s *Store) listTickets(ctx context.Context, queueID, filter string) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM queue_entries
		WHERE ` + filter
	var args []interface{}
	if queueID != "" {
		query += " AND queue_id = $1"
		args = append(args, queueID)
	}
	query += " ORDER BY queue_id ASC, join_time ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	var settings models.QueueSettings
	var windowsJSON []byte
	var thresholds []int32
	row := s.pool.QueryRow(ctx, `
		SELECT queue_id, peak_period, windows_json, default_minutes, thresholds
		FROM queue_settings
		WHERE queue_id = $1
	`, queueID)
	if err := row.Scan(&settings.QueueID, &settings.PeakPeriod, &windowsJSON, &settings.DefaultMinutesPerPosition, &thresholds); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueSettings{}, store.ErrSettingsNotFound
		}
		return models.QueueSettings{}, err
	}
	if len(windowsJSON) > 0 {
		if err := json.Unmarshal(windowsJSON, &settings.Windows); err != nil {
			return models.QueueSettings{}, err
		}
	}
	settings.Thresholds = fromInt32(thresholds)
	return settings, nil
}

func (s *Store) PutSettings(ctx context.Context, settings models.QueueSettings) error {
	windows := settings.Windows
	if windows == nil {
		windows = []models.RateWindow{}
	}
	windowsJSON, err := json.Marshal(windows)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO queue_settings (queue_id, peak_period, windows_json, default_minutes, thresholds, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (queue_id) DO UPDATE SET
			peak_period = EXCLUDED.peak_period,
			windows_json = EXCLUDED.windows_json,
			default_minutes = EXCLUDED.default_minutes,
			thresholds = EXCLUDED.thresholds,
			updated_at = now()
	`, settings.QueueID, settings.PeakPeriod, windowsJSON, settings.DefaultMinutesPerPosition, toInt32(settings.Thresholds))
	return err
}

func (s *Store) GetNotificationRecord(ctx context.Context, ticketNumber string) (models.NotificationRecord, error) {
	var record models.NotificationRecord
	var sent []int32
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_number, queue_id, target, last_notified_rank, notifications_sent
		FROM user_notifications
		WHERE ticket_number = $1
	`, ticketNumber)
	if err := row.Scan(&record.TicketNumber, &record.QueueID, &record.Target, &record.LastNotifiedRank, &sent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NotificationRecord{}, store.ErrNotificationNotFound
		}
		return models.NotificationRecord{}, err
	}
	record.SentThresholds = fromInt32(sent)
	return record, nil
}

func (s *Store) PutNotificationRecord(ctx context.Context, record models.NotificationRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_notifications (ticket_number, queue_id, target, last_notified_rank, notifications_sent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket_number) DO NOTHING
	`, record.TicketNumber, record.QueueID, record.Target, record.LastNotifiedRank, toInt32(record.SentThresholds))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateNotificationRecord(ctx context.Context, ticketNumber string, sent []int, lastNotifiedRank int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_notifications
		SET notifications_sent = $2, last_notified_rank = $3
		WHERE ticket_number = $1
	`, ticketNumber, toInt32(sent), lastNotifiedRank)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) RecordMilestone(ctx context.Context, ticketNumber string, threshold, rank int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_notifications
		SET notifications_sent = array_append(notifications_sent, $2::integer),
			last_notified_rank = $3
		WHERE ticket_number = $1
			AND NOT ($2::integer = ANY(notifications_sent))
			AND last_notified_rank > $2
	`, ticketNumber, threshold, rank)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetNotificationRecord(ctx, ticketNumber); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) DeleteNotificationRecord(ctx context.Context, ticketNumber string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_notifications WHERE ticket_number = $1`, ticketNumber)
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var status string
	if err := row.Scan(&ticket.QueueID, &ticket.TicketNumber, &status, &ticket.JoinTime, &ticket.Contact); err != nil {
		return models.Ticket{}, err
	}
	ticket.Status = models.Status(status)
	return ticket, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func toInt32(values []int) []int32 {
	out := make([]int32, 0, len(values))
	for _, v := range values {
		out = append(out, int32(v))
	}
	return out
}

func fromInt32(values []int32) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		out = append(out, int(v))
	}
	return out
}
