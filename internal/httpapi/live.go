package httpapi

import (
	"log"
	"net/http"
	"strings"

	"queueescape/queue-service/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const livePrefix = "/queue/live"

// NewLiveHandler streams queue events over SockJS. Clients pick a queue
// with ?queueId= on connect or by sending a subscribe message.
func NewLiveHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler(livePrefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		if req := session.Request(); req != nil {
			client.Subscription.QueueID = strings.TrimSpace(req.URL.Query().Get("queueId"))
		}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					log.Printf("live send failed client=%s err=%v", client.ID, err)
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{QueueID: parsed.QueueID})
		}
	})
}
