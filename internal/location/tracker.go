package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/session"
)

// TrackerConfig tunes fix acquisition and the continuous watch.
type TrackerConfig struct {
	FixTimeout        time.Duration
	MaxCacheAge       time.Duration
	MinInterval       time.Duration
	MinDistanceMeters float64
	PublishTimeout    time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.FixTimeout <= 0 {
		c.FixTimeout = 30 * time.Second
	}
	if c.MaxCacheAge <= 0 {
		c.MaxCacheAge = 5 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Second
	}
	if c.MinDistanceMeters <= 0 {
		c.MinDistanceMeters = 5
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	return c
}

// Tracker acquires the rider's position and keeps it current.
type Tracker struct {
	provider  Provider
	publisher PositionPublisher
	onFix     func(Fix)
	logger    *zap.Logger
	cfg       TrackerConfig

	// startMu serializes watch replacement so only one subscription is live.
	startMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *Fix
}

// NewTracker constructs a tracker. publisher may be nil.
func NewTracker(provider Provider, publisher PositionPublisher, onFix func(Fix), sess session.Session, logger *zap.Logger, cfg TrackerConfig) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onFix == nil {
		onFix = func(Fix) {}
	}
	return &Tracker{
		provider:  provider,
		publisher: publisher,
		onFix:     onFix,
		logger:    logger.Named("tracker").With(zap.String("passenger_id", sess.PassengerID())),
		cfg:       cfg.withDefaults(),
	}
}

// Start acquires an initial fix and begins continuous tracking. Any earlier
// watch is stopped first. The watch lives until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) (Fix, error) {
	fix, err := t.acquire(ctx, t.cfg.MaxCacheAge)
	if err != nil {
		return Fix{}, err
	}
	t.emit(ctx, fix)
	if err := t.watch(ctx); err != nil {
		return fix, fmt.Errorf("start watch: %w", err)
	}
	return fix, nil
}

// Refresh forces a new fix without touching the running watch.
func (t *Tracker) Refresh(ctx context.Context) (Fix, error) {
	fix, err := t.acquire(ctx, 0)
	if err != nil {
		return Fix{}, err
	}
	t.emit(ctx, fix)
	return fix, nil
}

// Stop ends continuous tracking and waits for the watch to exit.
func (t *Tracker) Stop() {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	t.stopWatch()
}

func (t *Tracker) stopWatch() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Last returns the most recently emitted fix.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Fix{}, false
	}
	return *t.last, true
}

func (t *Tracker) acquire(ctx context.Context, maxAge time.Duration) (Fix, error) {
	enabled, err := t.provider.ServicesEnabled(ctx)
	if err != nil {
		acquisitionFailures.WithLabelValues("provider").Inc()
		return Fix{}, fmt.Errorf("check location services: %w", err)
	}
	if !enabled {
		acquisitionFailures.WithLabelValues("services_disabled").Inc()
		return Fix{}, ErrServicesDisabled
	}
	granted, err := t.provider.RequestPermission(ctx)
	if err != nil {
		acquisitionFailures.WithLabelValues("provider").Inc()
		return Fix{}, fmt.Errorf("request location permission: %w", err)
	}
	if !granted {
		acquisitionFailures.WithLabelValues("permission_denied").Inc()
		return Fix{}, ErrPermissionDenied
	}

	fixCtx, cancel := context.WithTimeout(ctx, t.cfg.FixTimeout)
	defer cancel()
	fix, err := t.provider.CurrentFix(fixCtx, maxAge)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			acquisitionFailures.WithLabelValues("timeout").Inc()
			return Fix{}, ErrAcquisitionTimeout
		}
		acquisitionFailures.WithLabelValues("provider").Inc()
		return Fix{}, fmt.Errorf("acquire fix: %w", err)
	}
	return fix, nil
}

func (t *Tracker) watch(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	t.stopWatch()

	watchCtx, cancel := context.WithCancel(ctx)
	fixes, err := t.provider.Subscribe(watchCtx)
	if err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case fix, ok := <-fixes:
				if !ok {
					return
				}
				if t.due(fix) {
					t.emit(watchCtx, fix)
				}
			}
		}
	}()
	return nil
}

// due applies the distance-or-time throttle against the last emission.
func (t *Tracker) due(fix Fix) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return true
	}
	if geo.DistanceMeters(t.last.Point, fix.Point) >= t.cfg.MinDistanceMeters {
		return true
	}
	return fix.Timestamp.Sub(t.last.Timestamp) >= t.cfg.MinInterval
}

func (t *Tracker) emit(ctx context.Context, fix Fix) {
	t.mu.Lock()
	t.last = &fix
	t.mu.Unlock()

	quality := fix.Quality()
	fixesEmitted.WithLabelValues(string(quality)).Inc()
	if quality == QualityPoor {
		t.logger.Warn("poor gps signal", zap.Float64("accuracy_m", *fix.Accuracy))
	}
	t.onFix(fix)

	if t.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.PublishTimeout)
	defer cancel()
	if err := t.publisher.PublishPosition(pubCtx, fix); err != nil {
		t.logger.Debug("position broadcast skipped", zap.Error(err))
	}
}
