package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "queue.notify"

// Publisher is the part of *nats.Conn the provider uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, nats.Name("queue-service"), nats.MaxReconnects(-1))
}

// NATSProvider publishes each message as JSON on
// <prefix>.<queue>.<ticket>, so a client can subscribe to its own ticket
// or a gateway to a whole queue.
type NATSProvider struct {
	publisher Publisher
	prefix    string
}

func NewNATSProvider(publisher Publisher, prefix string) *NATSProvider {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSProvider{publisher: publisher, prefix: prefix}
}

func (p *NATSProvider) Subject(queueID, ticketNumber string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(queueID), subjectToken(ticketNumber))
}

var subjectEscaper = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectToken(value string) string {
	return subjectEscaper.Replace(value)
}

func (p *NATSProvider) Send(ctx context.Context, msg Message) error {
	subject, text := Render(msg)
	data, err := json.Marshal(envelope{Message: msg, Subject: subject, Body: text})
	if err != nil {
		return err
	}
	if err := p.publisher.Publish(p.Subject(msg.QueueID, msg.TicketNumber), data); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return nil
}
