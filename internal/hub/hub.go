package hub

import (
	"encoding/json"
	"log"
	"strings"
	"sync"

	"queueescape/queue-service/internal/models"
)

// Subscription filters the events a client receives. An empty QueueID
// receives nothing.
type Subscription struct {
	QueueID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	QueueID string `json:"queueId"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Clients counts the registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans an event out to every client subscribed to its queue. Slow
// clients drop messages instead of blocking the caller.
func (h *Hub) Publish(event models.QueueEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub marshal event failed type=%s queue=%s err=%v", event.Type, event.QueueID, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, event.QueueID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s queue=%s", client.ID, event.QueueID)
		}
	}
}

func match(sub Subscription, queueID string) bool {
	return sub.QueueID != "" && sub.QueueID == queueID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.QueueID = strings.TrimSpace(msg.QueueID)
	switch msg.Action {
	case "subscribe":
		if msg.QueueID == "" {
			return SubscribeMessage{}, false
		}
	case "unsubscribe":
	default:
		return SubscribeMessage{}, false
	}
	return msg, true
}
