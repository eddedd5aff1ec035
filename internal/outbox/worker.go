package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	outboxPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Total number of successfully published outbox messages.",
	})
	outboxFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_fail_total",
		Help: "Total number of outbox publish failures after exhausting retries.",
	})
	outboxLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_lag_seconds",
		Help: "Age of the oldest processed outbox event in seconds.",
	})
	outboxJournaledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_journaled_total",
		Help: "Rider events written to the journal grouped by sink and result.",
	}, []string{"sink", "result"})
)

// WorkerConfig defines tunables for the dispatcher worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
	// Retention deletes published rows older than this. Zero keeps them.
	Retention time.Duration
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Worker relays journaled rider events from the outbox table to NATS.
type Worker struct {
	db        *sql.DB
	publisher natsPublisher
	logger    *zap.Logger
	cfg       WorkerConfig
	tracer    trace.Tracer
	lastPrune time.Time
}

// NewWorker constructs a dispatcher worker.
func NewWorker(db *sql.DB, conn *nats.Conn, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		db:     db,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("rider.outbox.worker"),
	}
	if conn != nil {
		w.publisher = conn
	}
	return w
}

// Run starts the polling loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.db == nil || w.publisher == nil {
		return errors.New("outbox worker requires database and NATS connection")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("outbox batch failed", zap.Error(err))
		}
		if err := w.pruneIfDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("outbox prune failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type record struct {
	ID        int64
	EventID   string
	Topic     string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

func (w *Worker) processOnce(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "outbox.batch")
	defer span.End()
	records, tx, err := w.loadPending(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit()
	}
	ids := make([]int64, 0, len(records))
	maxLag := 0.0
	for _, rec := range records {
		if err := w.publishWithRetry(ctx, rec); err != nil {
			_ = tx.Rollback()
			return err
		}
		ids = append(ids, rec.ID)
		outboxPublishTotal.Inc()
		lag := time.Since(rec.CreatedAt).Seconds()
		if lag > maxLag {
			maxLag = lag
		}
	}
	outboxLagSeconds.Set(maxLag)
	if err := w.markPublished(ctx, tx, ids); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (w *Worker) loadPending(ctx context.Context) ([]record, *sql.Tx, error) {
	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, event_id, topic, event_type, payload, created_at FROM outbox WHERE published = false ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`, w.cfg.BatchSize)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()
	var records []record
	for rows.Next() {
		var rec record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.EventType, &rec.Payload, &rec.CreatedAt); err != nil {
			_ = rows.Close()
			_ = tx.Rollback()
			return nil, nil, fmt.Errorf("scan outbox: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return records, tx, nil
}

func (w *Worker) markPublished(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("UPDATE outbox SET published = true WHERE id IN (%s)", strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (w *Worker) publishWithRetry(ctx context.Context, rec record) error {
	ctx, span := w.tracer.Start(ctx, "outbox.publish")
	defer span.End()
	if rec.Topic == "" {
		return errors.New("outbox record missing topic")
	}
	msg := nats.NewMsg(rec.Topic)
	msg.Data = rec.Payload
	msg.Header.Set("x-event-type", rec.EventType)
	msg.Header.Set(nats.MsgIdHdr, rec.EventID)
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}
	var attempt int
	for {
		attempt++
		err := w.publisher.PublishMsg(msg)
		if err == nil {
			return nil
		}
		w.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.Int64("outbox_id", rec.ID))
		if attempt >= w.cfg.RetryMax {
			outboxFailTotal.Inc()
			return fmt.Errorf("publish outbox %d: %w", rec.ID, err)
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) pruneIfDue(ctx context.Context) error {
	if w.cfg.Retention <= 0 || time.Since(w.lastPrune) < time.Minute {
		return nil
	}
	w.lastPrune = time.Now()
	res, err := w.db.ExecContext(ctx, `DELETE FROM outbox WHERE published = true AND created_at < $1`, time.Now().Add(-w.cfg.Retention))
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		w.logger.Debug("pruned outbox", zap.Int64("rows", n))
	}
	return nil
}
