package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSubject carries rider session events.
const DefaultSubject = "rider.events"

// Event is one journaled rider session event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	PassengerID string          `json:"passenger_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent(passengerID, eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New(),
		PassengerID: passengerID,
		Type:        eventType,
		Payload:     raw,
		OccurredAt:  time.Now().UTC(),
	}, nil
}

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes rider events to a NATS subject.
type Publisher struct {
	conn    msgPublisher
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection. A nil
// connection yields a publisher that drops events.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	p := &Publisher{subject: subject}
	if conn != nil {
		p.conn = conn
	}
	return p
}

// Subject returns the destination subject.
func (p *Publisher) Subject() string { return p.subject }

// Publish sends event with trace and dedupe headers.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: payload, Header: nats.Header{
		"x-trace-id":   {traceIDFromContext(ctx)},
		"x-event-type": {event.Type},
		nats.MsgIdHdr:  {event.ID.String()},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
