package location

import (
	"context"
	"sync"
	"time"

	"github.com/ikramby/carburon/internal/geo"
)

// StreamProvider is a Provider fed by the device bridge. It keeps the latest
// fix and the last reported service/permission flags.
type StreamProvider struct {
	mu          sync.Mutex
	latest      *Fix
	services    bool
	permission  bool
	waiters     []chan Fix
	subscribers map[int]chan Fix
	nextID      int
	now         func() time.Time
}

// NewStreamProvider constructs the provider.
func NewStreamProvider() *StreamProvider {
	return &StreamProvider{subscribers: make(map[int]chan Fix), now: time.Now}
}

// Ingest applies a device message. Status flags are always recorded; the
// position is only used when both flags are set and the point is valid.
func (p *StreamProvider) Ingest(msg *DeviceFix) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = msg.ServicesEnabled
	p.permission = msg.PermissionGranted
	if !msg.ServicesEnabled || !msg.PermissionGranted {
		return true
	}
	point := geo.Point{Lat: msg.Lat, Lng: msg.Lng}
	if !point.Valid() {
		return false
	}
	ts := p.now().UTC()
	if msg.Ts > 0 {
		ts = time.UnixMilli(msg.Ts).UTC()
	}
	fix := Fix{Point: point, Accuracy: msg.Accuracy, Timestamp: ts}
	p.latest = &fix

	for _, w := range p.waiters {
		w <- fix
	}
	p.waiters = nil
	for _, ch := range p.subscribers {
		offerLatest(ch, fix)
	}
	return true
}

// offerLatest replaces any undelivered fix with the newer one.
func offerLatest(ch chan Fix, fix Fix) {
	select {
	case ch <- fix:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- fix:
	default:
	}
}

func (p *StreamProvider) ServicesEnabled(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.services, nil
}

// RequestPermission reports the grant last observed from the device; the
// prompt itself is shown by the device bridge.
func (p *StreamProvider) RequestPermission(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission, nil
}

func (p *StreamProvider) CurrentFix(ctx context.Context, maxAge time.Duration) (Fix, error) {
	p.mu.Lock()
	if p.latest != nil && maxAge > 0 && p.now().Sub(p.latest.Timestamp) <= maxAge {
		fix := *p.latest
		p.mu.Unlock()
		return fix, nil
	}
	w := make(chan Fix, 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case fix := <-w:
		return fix, nil
	case <-ctx.Done():
		p.dropWaiter(w)
		return Fix{}, ctx.Err()
	}
}

func (p *StreamProvider) dropWaiter(w chan Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.waiters {
		if c == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *StreamProvider) Subscribe(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix, 1)
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subscribers, id)
		close(ch)
		p.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (p *StreamProvider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}
