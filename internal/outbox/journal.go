package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ikramby/carburon/internal/session"
	outboxpkg "github.com/ikramby/carburon/pkg/outbox"
)

// Schema creates the outbox table used by SQLJournal and Worker.
const Schema = `CREATE TABLE IF NOT EXISTS outbox (
id BIGSERIAL PRIMARY KEY,
event_id UUID NOT NULL UNIQUE,
topic TEXT NOT NULL,
event_type TEXT NOT NULL,
payload BYTEA NOT NULL,
published BOOLEAN NOT NULL DEFAULT FALSE,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create outbox table: %w", err)
	}
	return nil
}

// SQLJournal writes rider events to the outbox table; Worker relays them.
type SQLJournal struct {
	db      *sql.DB
	topic   string
	session session.Session
}

// NewSQLJournal constructs a journal writing rows for topic.
func NewSQLJournal(db *sql.DB, topic string, sess session.Session) *SQLJournal {
	if topic == "" {
		topic = outboxpkg.DefaultSubject
	}
	return &SQLJournal{db: db, topic: topic, session: sess}
}

// Record inserts one event row.
func (j *SQLJournal) Record(ctx context.Context, eventType string, payload interface{}) error {
	evt, err := outboxpkg.NewEvent(j.session.PassengerID(), eventType, payload)
	if err != nil {
		return err
	}
	data, err := evtJSON(evt)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO outbox (event_id, topic, event_type, payload) VALUES ($1, $2, $3, $4)`,
		evt.ID.String(), j.topic, eventType, data)
	if err != nil {
		outboxJournaledTotal.WithLabelValues("sql", "error").Inc()
		return fmt.Errorf("insert outbox: %w", err)
	}
	outboxJournaledTotal.WithLabelValues("sql", "ok").Inc()
	return nil
}

// EventPublisher is satisfied by *outbox.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event outboxpkg.Event) error
}

// PublishJournal sends rider events straight to NATS when no database is
// configured.
type PublishJournal struct {
	publisher EventPublisher
	session   session.Session
}

// NewPublishJournal constructs the journal.
func NewPublishJournal(publisher EventPublisher, sess session.Session) *PublishJournal {
	return &PublishJournal{publisher: publisher, session: sess}
}

// Record publishes one event.
func (j *PublishJournal) Record(ctx context.Context, eventType string, payload interface{}) error {
	evt, err := outboxpkg.NewEvent(j.session.PassengerID(), eventType, payload)
	if err != nil {
		return err
	}
	if err := j.publisher.Publish(ctx, evt); err != nil {
		outboxJournaledTotal.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	outboxJournaledTotal.WithLabelValues("nats", "ok").Inc()
	return nil
}

func evtJSON(evt outboxpkg.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
