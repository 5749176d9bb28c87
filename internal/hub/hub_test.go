package hub

import (
	"encoding/json"
	"testing"
	"time"

	"queueescape/queue-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOnlyReachesQueueSubscribers(t *testing.T) {
	h := New()
	a := &Client{ID: "a", Send: make(chan []byte, 1), Subscription: Subscription{QueueID: "q1"}}
	b := &Client{ID: "b", Send: make(chan []byte, 1), Subscription: Subscription{QueueID: "q2"}}
	idle := &Client{ID: "idle", Send: make(chan []byte, 1)}
	h.Register(a)
	h.Register(b)
	h.Register(idle)

	h.Publish(models.QueueEvent{Type: models.EventAdvanced, QueueID: "q1", TicketNumber: "abc", CreatedAt: time.Unix(0, 0).UTC()})

	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)
	assert.Empty(t, idle.Send)

	var got models.QueueEvent
	require.NoError(t, json.Unmarshal(<-a.Send, &got))
	assert.Equal(t, models.EventAdvanced, got.Type)
	assert.Equal(t, "abc", got.TicketNumber)
}

func TestPublishDropsForSlowClient(t *testing.T) {
	h := New()
	c := &Client{ID: "slow", Send: make(chan []byte, 1), Subscription: Subscription{QueueID: "q"}}
	h.Register(c)

	h.Publish(models.QueueEvent{Type: models.EventJoined, QueueID: "q"})
	h.Publish(models.QueueEvent{Type: models.EventJoined, QueueID: "q"})

	assert.Len(t, c.Send, 1)
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New()
	c := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(c)
	assert.Equal(t, 1, h.Clients())

	h.Unregister(c)
	h.Unregister(c)
	assert.Equal(t, 0, h.Clients())
	_, open := <-c.Send
	assert.False(t, open)
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
		want SubscribeMessage
	}{
		{"subscribe", `{"action":"subscribe","queueId":" q1 "}`, true, SubscribeMessage{Action: "subscribe", QueueID: "q1"}},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, SubscribeMessage{Action: "unsubscribe"}},
		{"subscribe without queue", `{"action":"subscribe"}`, false, SubscribeMessage{}},
		{"unknown action", `{"action":"ping"}`, false, SubscribeMessage{}},
		{"not json", `hello`, false, SubscribeMessage{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseSubscribe([]byte(tc.in))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
