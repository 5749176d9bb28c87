// Package redis stores queues in Redis (or DragonFly). Each queue keeps a
// sorted set of waiting ticket numbers scored by join time, so a snapshot
// of the waiting line is one ZRANGE. Multi-key checks run as Lua scripts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"

	"github.com/redis/go-redis/v9"
)

const keyQueueIndex = "queue:index"

const putTicketScript = `
	if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
	if #redis.call('ZRANGEBYSCORE', KEYS[2], ARGV[4], ARGV[4], 'LIMIT', 0, 1) > 0 then return 0 end
	redis.call('HSET', KEYS[1], 'queue_id', ARGV[1], 'ticket_number', ARGV[2], 'status', ARGV[3], 'join_time', ARGV[4], 'email', ARGV[5])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
	if ARGV[3] == 'WAITING' then redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2]) end
	if ARGV[3] ~= 'COMPLETED' then redis.call('ZADD', KEYS[4], ARGV[4], ARGV[2]) end
	redis.call('SADD', KEYS[5], ARGV[1])
	return 1
`

const updateStatusScript = `
	local current = redis.call('HGET', KEYS[1], 'status')
	if not current then return -1 end
	if current ~= ARGV[1] then return 0 end
	redis.call('HSET', KEYS[1], 'status', ARGV[2])
	if ARGV[2] ~= 'WAITING' then redis.call('ZREM', KEYS[2], ARGV[3]) end
	if ARGV[2] == 'COMPLETED' then redis.call('ZREM', KEYS[3], ARGV[3]) end
	return 1
`

const scanScript = `
	local members = redis.call('ZRANGE', KEYS[1], 0, -1)
	local out = {}
	for _, member in ipairs(members) do
		local fields = redis.call('HMGET', ARGV[1] .. member, 'queue_id', 'ticket_number', 'status', 'join_time', 'email')
		if fields[1] then
			for i = 1, 5 do table.insert(out, fields[i] or '') end
		end
	end
	return out
`

const updateNotificationScript = `
	if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
	redis.call('HSET', KEYS[1], 'sent', ARGV[1], 'last_notified_rank', ARGV[2])
	return 1
`

const putNotificationScript = `
	if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
	redis.call('HSET', KEYS[1], 'ticket_number', ARGV[1], 'queue_id', ARGV[2], 'target', ARGV[3], 'last_notified_rank', ARGV[4], 'sent', ARGV[5])
	return 1
`

const recordMilestoneScript = `
	if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
	local sent = cjson.decode(redis.call('HGET', KEYS[1], 'sent') or '[]')
	local threshold = tonumber(ARGV[1])
	for _, value in ipairs(sent) do
		if value == threshold then return 0 end
	end
	local last = tonumber(redis.call('HGET', KEYS[1], 'last_notified_rank') or '999999')
	if last <= threshold then return 0 end
	table.insert(sent, threshold)
	redis.call('HSET', KEYS[1], 'sent', cjson.encode(sent), 'last_notified_rank', ARGV[2])
	return 1
`

const ticketFields = 5

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewClient accepts either a redis:// / rediss:// URL or a bare host:port.
func NewClient(addr string) (*redis.Client, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}
	return redis.NewClient(opt), nil
}

func ticketKey(queueID, ticketNumber string) string {
	return ticketPrefix(queueID) + ticketNumber
}

func ticketPrefix(queueID string) string {
	return fmt.Sprintf("queue:%s:ticket:", queueID)
}

func waitingKey(queueID string) string  { return fmt.Sprintf("queue:%s:waiting", queueID) }
func activeKey(queueID string) string   { return fmt.Sprintf("queue:%s:active", queueID) }
func joinedKey(queueID string) string   { return fmt.Sprintf("queue:%s:joined", queueID) }
func settingsKey(queueID string) string { return fmt.Sprintf("queue:%s:settings", queueID) }

func notificationKey(ticketNumber string) string {
	return "notification:" + ticketNumber
}

func (s *Store) GetTicket(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error) {
	fields, err := s.client.HGetAll(ctx, ticketKey(queueID, ticketNumber)).Result()
	if err != nil {
		return models.Ticket{}, err
	}
	if len(fields) == 0 {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	joinTime, err := strconv.ParseInt(fields["join_time"], 10, 64)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("ticket %s: join_time: %w", ticketNumber, err)
	}
	return models.Ticket{
		QueueID:      fields["queue_id"],
		TicketNumber: fields["ticket_number"],
		Status:       models.Status(fields["status"]),
		JoinTime:     joinTime,
		Contact:      fields["email"],
	}, nil
}

func (s *Store) PutTicket(ctx context.Context, ticket models.Ticket) error {
	keys := []string{
		ticketKey(ticket.QueueID, ticket.TicketNumber),
		joinedKey(ticket.QueueID),
		waitingKey(ticket.QueueID),
		activeKey(ticket.QueueID),
		keyQueueIndex,
	}
	res, err := s.client.Eval(ctx, putTicketScript, keys,
		ticket.QueueID, ticket.TicketNumber, string(ticket.Status), strconv.FormatInt(ticket.JoinTime, 10), ticket.Contact).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, queueID, ticketNumber string, from, to models.Status) (models.Ticket, error) {
	if !store.ValidStatusChange(from, to) {
		return models.Ticket{}, store.ErrInvalidState
	}
	keys := []string{ticketKey(queueID, ticketNumber), waitingKey(queueID), activeKey(queueID)}
	res, err := s.client.Eval(ctx, updateStatusScript, keys, string(from), string(to), ticketNumber).Int64()
	if err != nil {
		return models.Ticket{}, err
	}
	switch res {
	case -1:
		return models.Ticket{}, store.ErrTicketNotFound
	case 0:
		return models.Ticket{}, store.ErrConflict
	}
	return s.GetTicket(ctx, queueID, ticketNumber)
}

func (s *Store) ScanWaiting(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.scan(ctx, queueID, waitingKey)
}

func (s *Store) ListActive(ctx context.Context, queueID string) ([]models.Ticket, error) {
	return s.scan(ctx, queueID, activeKey)
}

func (s *Store) scan(ctx context.Context, queueID string, setKey func(string) string) ([]models.Ticket, error) {
	queueIDs := []string{queueID}
	if queueID == "" {
		members, err := s.client.SMembers(ctx, keyQueueIndex).Result()
		if err != nil {
			return nil, err
		}
		queueIDs = members
	}

	var tickets []models.Ticket
	slices.Sort(queueIDs)
	for _, id := range queueIDs {
		flat, err := s.client.Eval(ctx, scanScript, []string{setKey(id)}, ticketPrefix(id)).StringSlice()
		if err != nil {
			return nil, err
		}
		parsed, err := parseTickets(flat)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, parsed...)
	}
	return tickets, nil
}

func parseTickets(flat []string) ([]models.Ticket, error) {
	if len(flat)%ticketFields != 0 {
		return nil, fmt.Errorf("scan returned %d fields, not a multiple of %d", len(flat), ticketFields)
	}
	tickets := make([]models.Ticket, 0, len(flat)/ticketFields)
	for i := 0; i < len(flat); i += ticketFields {
		joinTime, err := strconv.ParseInt(flat[i+3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: join_time: %w", flat[i+1], err)
		}
		tickets = append(tickets, models.Ticket{
			QueueID:      flat[i],
			TicketNumber: flat[i+1],
			Status:       models.Status(flat[i+2]),
			JoinTime:     joinTime,
			Contact:      flat[i+4],
		})
	}
	return tickets, nil
}

func (s *Store) GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	raw, err := s.client.Get(ctx, settingsKey(queueID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.QueueSettings{}, store.ErrSettingsNotFound
		}
		return models.QueueSettings{}, err
	}
	var settings models.QueueSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return models.QueueSettings{}, fmt.Errorf("settings %s: %w", queueID, err)
	}
	return settings, nil
}

func (s *Store) PutSettings(ctx context.Context, settings models.QueueSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, settingsKey(settings.QueueID), string(data), 0).Err(); err != nil {
		return err
	}
	return s.client.SAdd(ctx, keyQueueIndex, settings.QueueID).Err()
}

func (s *Store) GetNotificationRecord(ctx context.Context, ticketNumber string) (models.NotificationRecord, error) {
	fields, err := s.client.HGetAll(ctx, notificationKey(ticketNumber)).Result()
	if err != nil {
		return models.NotificationRecord{}, err
	}
	if len(fields) == 0 {
		return models.NotificationRecord{}, store.ErrNotificationNotFound
	}
	rank, err := strconv.Atoi(fields["last_notified_rank"])
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("notification %s: last_notified_rank: %w", ticketNumber, err)
	}
	sent, err := decodeSent(fields["sent"])
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("notification %s: sent: %w", ticketNumber, err)
	}
	return models.NotificationRecord{
		TicketNumber:     ticketNumber,
		QueueID:          fields["queue_id"],
		Target:           fields["target"],
		LastNotifiedRank: rank,
		SentThresholds:   sent,
	}, nil
}

func (s *Store) PutNotificationRecord(ctx context.Context, record models.NotificationRecord) error {
	sent, err := encodeSent(record.SentThresholds)
	if err != nil {
		return err
	}
	res, err := s.client.Eval(ctx, putNotificationScript, []string{notificationKey(record.TicketNumber)},
		record.TicketNumber, record.QueueID, record.Target, strconv.Itoa(record.LastNotifiedRank), sent,
	).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateNotificationRecord(ctx context.Context, ticketNumber string, sent []int, lastNotifiedRank int) error {
	encoded, err := encodeSent(sent)
	if err != nil {
		return err
	}
	res, err := s.client.Eval(ctx, updateNotificationScript, []string{notificationKey(ticketNumber)}, encoded, strconv.Itoa(lastNotifiedRank)).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) RecordMilestone(ctx context.Context, ticketNumber string, threshold, rank int) (bool, error) {
	res, err := s.client.Eval(ctx, recordMilestoneScript, []string{notificationKey(ticketNumber)}, strconv.Itoa(threshold), strconv.Itoa(rank)).Int64()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, store.ErrNotificationNotFound
	case 0:
		return false, nil
	}
	return true, nil
}

func (s *Store) DeleteNotificationRecord(ctx context.Context, ticketNumber string) error {
	return s.client.Del(ctx, notificationKey(ticketNumber)).Err()
}

func encodeSent(sent []int) (string, error) {
	if sent == nil {
		sent = []int{}
	}
	data, err := json.Marshal(sent)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeSent accepts "{}" because Lua's cjson encodes an empty table as an
// object.
func decodeSent(raw string) ([]int, error) {
	if raw == "" || raw == "{}" {
		return []int{}, nil
	}
	var sent []int
	if err := json.Unmarshal([]byte(raw), &sent); err != nil {
		return nil, err
	}
	return sent, nil
}
