package redis

import (
	"context"
	"errors"
	"testing"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTicket(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectHGetAll("queue:main_queue:ticket:ab12cd34").SetVal(map[string]string{
		"queue_id":      "main_queue",
		"ticket_number": "ab12cd34",
		"status":        "WAITING",
		"join_time":     "1700000000000001",
		"email":         "a@example.com",
	})

	ticket, err := s.GetTicket(context.Background(), "main_queue", "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	assert.Equal(t, int64(1700000000000001), ticket.JoinTime)
	assert.Equal(t, "a@example.com", ticket.Contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTicketNotFound(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectHGetAll("queue:main_queue:ticket:missing").SetVal(map[string]string{})

	_, err := s.GetTicket(context.Background(), "main_queue", "missing")
	assert.True(t, errors.Is(err, store.ErrTicketNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutTicketConflict(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	keys := []string{
		"queue:q1:ticket:t1",
		"queue:q1:joined",
		"queue:q1:waiting",
		"queue:q1:active",
		keyQueueIndex,
	}
	mock.ExpectEval(putTicketScript, keys, "q1", "t1", "WAITING", "100", "").SetVal(int64(0))

	err := s.PutTicket(context.Background(), models.Ticket{
		QueueID: "q1", TicketNumber: "t1", Status: models.StatusWaiting, JoinTime: 100,
	})
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	keys := []string{"queue:q1:ticket:t1", "queue:q1:waiting", "queue:q1:active"}

	t.Run("conflict", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		s := NewStore(rdb)
		mock.ExpectEval(updateStatusScript, keys, "WAITING", "BEING_SERVED", "t1").SetVal(int64(0))

		_, err := s.UpdateStatus(context.Background(), "q1", "t1", models.StatusWaiting, models.StatusBeingServed)
		assert.True(t, errors.Is(err, store.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		s := NewStore(rdb)
		mock.ExpectEval(updateStatusScript, keys, "WAITING", "BEING_SERVED", "t1").SetVal(int64(-1))

		_, err := s.UpdateStatus(context.Background(), "q1", "t1", models.StatusWaiting, models.StatusBeingServed)
		assert.True(t, errors.Is(err, store.ErrTicketNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applied", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		s := NewStore(rdb)
		mock.ExpectEval(updateStatusScript, keys, "WAITING", "BEING_SERVED", "t1").SetVal(int64(1))
		mock.ExpectHGetAll("queue:q1:ticket:t1").SetVal(map[string]string{
			"queue_id": "q1", "ticket_number": "t1", "status": "BEING_SERVED", "join_time": "100", "email": "",
		})

		ticket, err := s.UpdateStatus(context.Background(), "q1", "t1", models.StatusWaiting, models.StatusBeingServed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusBeingServed, ticket.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid change never reaches redis", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		s := NewStore(rdb)

		_, err := s.UpdateStatus(context.Background(), "q1", "t1", models.StatusCompleted, models.StatusWaiting)
		assert.True(t, errors.Is(err, store.ErrInvalidState))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScanWaitingAllQueues(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectSMembers(keyQueueIndex).SetVal([]string{"q2", "q1"})
	mock.ExpectEval(scanScript, []string{"queue:q1:waiting"}, "queue:q1:ticket:").SetVal([]interface{}{
		"q1", "a", "WAITING", "10", "",
		"q1", "b", "WAITING", "20", "b@example.com",
	})
	mock.ExpectEval(scanScript, []string{"queue:q2:waiting"}, "queue:q2:ticket:").SetVal([]interface{}{
		"q2", "c", "WAITING", "5", "",
	})

	tickets, err := s.ScanWaiting(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, "a", tickets[0].TicketNumber)
	assert.Equal(t, "b@example.com", tickets[1].Contact)
	assert.Equal(t, "q2", tickets[2].QueueID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseTicketsRejectsShortRows(t *testing.T) {
	_, err := parseTickets([]string{"q1", "a", "WAITING"})
	assert.Error(t, err)
}

func TestGetSettingsNotFound(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectGet("queue:q1:settings").SetErr(redis.Nil)

	_, err := s.GetSettings(context.Background(), "q1")
	assert.True(t, errors.Is(err, store.ErrSettingsNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettings(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectGet("queue:q1:settings").SetVal(`{"queueId":"q1","peakPeriod":"EVENING","thresholds":[5,1]}`)

	settings, err := s.GetSettings(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "EVENING", settings.PeakPeriod)
	assert.Equal(t, []int{5, 1}, settings.Thresholds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMilestone(t *testing.T) {
	keys := []string{"notification:t1"}
	cases := []struct {
		name    string
		reply   int64
		applied bool
		err     error
	}{
		{"applied", 1, true, nil},
		{"already sent", 0, false, nil},
		{"no record", -1, false, store.ErrNotificationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rdb, mock := redismock.NewClientMock()
			s := NewStore(rdb)
			mock.ExpectEval(recordMilestoneScript, keys, "3", "2").SetVal(tc.reply)

			applied, err := s.RecordMilestone(context.Background(), "t1", 3, 2)
			assert.Equal(t, tc.applied, applied)
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPutNotificationRecord(t *testing.T) {
	record := models.NewNotificationRecord(models.Ticket{QueueID: "q1", TicketNumber: "t1"}, "a@example.com")
	keys := []string{"notification:t1"}
	args := []interface{}{"t1", "q1", "a@example.com", "999999", "[]"}

	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)
	mock.ExpectEval(putNotificationScript, keys, args...).SetVal(int64(1))
	mock.ExpectEval(putNotificationScript, keys, args...).SetVal(int64(0))

	require.NoError(t, s.PutNotificationRecord(context.Background(), record))
	err := s.PutNotificationRecord(context.Background(), record)
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotificationRecord(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectHGetAll("notification:t1").SetVal(map[string]string{
		"ticket_number":      "t1",
		"queue_id":           "q1",
		"target":             "notify.q1.t1",
		"last_notified_rank": "999999",
		"sent":               "{}",
	})

	record, err := s.GetNotificationRecord(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.UnnotifiedRank, record.LastNotifiedRank)
	assert.Empty(t, record.SentThresholds)
	assert.NotNil(t, record.SentThresholds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNotificationRecord(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb)

	mock.ExpectDel("notification:t1").SetVal(1)

	require.NoError(t, s.DeleteNotificationRecord(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
