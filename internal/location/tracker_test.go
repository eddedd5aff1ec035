package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/session"
)

type fakeProvider struct {
	enabled   bool
	granted   bool
	fix       Fix
	fixErr    error
	block     bool
	fixes     chan Fix
	mu        sync.Mutex
	subs      []context.Context
	maxAgeArg []time.Duration
}

func (f *fakeProvider) ServicesEnabled(context.Context) (bool, error)   { return f.enabled, nil }
func (f *fakeProvider) RequestPermission(context.Context) (bool, error) { return f.granted, nil }

func (f *fakeProvider) CurrentFix(ctx context.Context, maxAge time.Duration) (Fix, error) {
	f.mu.Lock()
	f.maxAgeArg = append(f.maxAgeArg, maxAge)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Fix{}, ctx.Err()
	}
	return f.fix, f.fixErr
}

func (f *fakeProvider) Subscribe(ctx context.Context) (<-chan Fix, error) {
	f.mu.Lock()
	f.subs = append(f.subs, ctx)
	f.mu.Unlock()
	return f.fixes, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	fixes []Fix
	err   error
}

func (p *recordingPublisher) PublishPosition(_ context.Context, fix Fix) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixes = append(p.fixes, fix)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fixes)
}

type emissions struct {
	mu    sync.Mutex
	fixes []Fix
}

func (e *emissions) record(f Fix) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixes = append(e.fixes, f)
}

func (e *emissions) snapshot() []Fix {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fix(nil), e.fixes...)
}

var (
	testSession, _ = session.New(session.Passenger{ID: "p-1"}, "token")
	base           = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tunis          = geo.Point{Lat: 36.8065, Lng: 10.1815}
)

func fixAt(p geo.Point, offset time.Duration) Fix {
	return Fix{Point: p, Timestamp: base.Add(offset)}
}

// metersNorth shifts p by roughly m meters of latitude.
func metersNorth(p geo.Point, m float64) geo.Point {
	return geo.Point{Lat: p.Lat + m/111195.0, Lng: p.Lng}
}

func TestTrackerStartErrors(t *testing.T) {
	cases := []struct {
		name     string
		provider *fakeProvider
		want     error
	}{
		{name: "services disabled", provider: &fakeProvider{enabled: false, granted: true}, want: ErrServicesDisabled},
		{name: "permission denied", provider: &fakeProvider{enabled: true, granted: false}, want: ErrPermissionDenied},
		{name: "timeout", provider: &fakeProvider{enabled: true, granted: true, block: true}, want: ErrAcquisitionTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got emissions
			tracker := NewTracker(tc.provider, nil, got.record, testSession, nil, TrackerConfig{FixTimeout: 30 * time.Millisecond})
			_, err := tracker.Start(context.Background())
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, got.snapshot())
			require.Empty(t, tc.provider.subs)
		})
	}
}

func TestTrackerProviderErrorIsWrapped(t *testing.T) {
	boom := errors.New("gps chip offline")
	provider := &fakeProvider{enabled: true, granted: true, fixErr: boom}
	tracker := NewTracker(provider, nil, nil, testSession, nil, TrackerConfig{})
	_, err := tracker.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrAcquisitionTimeout)
}

func TestTrackerThrottlesByDistanceOrTime(t *testing.T) {
	provider := &fakeProvider{enabled: true, granted: true, fix: fixAt(tunis, 0), fixes: make(chan Fix)}
	var got emissions
	pub := &recordingPublisher{err: errors.New("channel down")}
	tracker := NewTracker(provider, pub, got.record, testSession, nil, TrackerConfig{})
	defer tracker.Stop()

	first, err := tracker.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, tunis, first.Point)
	require.Equal(t, []time.Duration{5 * time.Second}, provider.maxAgeArg)

	// unbuffered sends: each send returns once the previous fix was handled
	provider.fixes <- fixAt(metersNorth(tunis, 1), time.Second)    // too close, too soon
	provider.fixes <- fixAt(metersNorth(tunis, 12), 2*time.Second) // moved
	provider.fixes <- fixAt(metersNorth(tunis, 13), 3*time.Second) // too close, too soon
	provider.fixes <- fixAt(metersNorth(tunis, 13), 8*time.Second) // interval elapsed
	provider.fixes <- fixAt(metersNorth(tunis, 13), 9*time.Second) // flush

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	fixes := got.snapshot()
	require.Equal(t, base, fixes[0].Timestamp)
	require.Equal(t, base.Add(2*time.Second), fixes[1].Timestamp)
	require.Equal(t, base.Add(8*time.Second), fixes[2].Timestamp)
	require.Equal(t, 3, pub.count())

	last, ok := tracker.Last()
	require.True(t, ok)
	require.Equal(t, base.Add(8*time.Second), last.Timestamp)
}

func TestTrackerRestartStopsPriorWatch(t *testing.T) {
	provider := &fakeProvider{enabled: true, granted: true, fix: fixAt(tunis, 0), fixes: make(chan Fix)}
	tracker := NewTracker(provider, nil, nil, testSession, nil, TrackerConfig{})

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)
	_, err = tracker.Start(context.Background())
	require.NoError(t, err)

	require.Len(t, provider.subs, 2)
	require.Error(t, provider.subs[0].Err())
	require.NoError(t, provider.subs[1].Err())

	tracker.Stop()
	require.Error(t, provider.subs[1].Err())
}

func TestConcurrentStartsLeaveOneLiveWatch(t *testing.T) {
	provider := &fakeProvider{enabled: true, granted: true, fix: fixAt(tunis, 0), fixes: make(chan Fix)}
	tracker := NewTracker(provider, nil, nil, testSession, nil, TrackerConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Start(context.Background())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	live := func() int {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		n := 0
		for _, sub := range provider.subs {
			if sub.Err() == nil {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, live())
	tracker.Stop()
	require.Zero(t, live())
}

func TestTrackerRefreshBypassesCache(t *testing.T) {
	provider := &fakeProvider{enabled: true, granted: true, fix: fixAt(tunis, 0)}
	var got emissions
	tracker := NewTracker(provider, nil, got.record, testSession, nil, TrackerConfig{})

	fix, err := tracker.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, tunis, fix.Point)
	require.Equal(t, []time.Duration{0}, provider.maxAgeArg)
	require.Len(t, got.snapshot(), 1)
	require.Empty(t, provider.subs)
}

func TestFixQuality(t *testing.T) {
	acc := func(v float64) *float64 { return &v }
	require.Equal(t, QualityUnknown, Fix{}.Quality())
	require.Equal(t, QualityNominal, Fix{Accuracy: acc(12)}.Quality())
	require.Equal(t, QualityDegraded, Fix{Accuracy: acc(50)}.Quality())
	require.Equal(t, QualityDegraded, Fix{Accuracy: acc(100)}.Quality())
	require.Equal(t, QualityPoor, Fix{Accuracy: acc(140)}.Quality())
}
