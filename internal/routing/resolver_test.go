package routing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/routing"
)

const routeBody = `{"type":"FeatureCollection","features":[{"type":"Feature",
"geometry":{"type":"LineString","coordinates":[[10.181,36.801],[10.19,36.81],[10.2,36.82]]},
"properties":{"segments":[{"steps":[
{"instruction":"Head north on Avenue Habib Bourguiba","distance":120.5,"duration":30,"type":11,"name":"Avenue Habib Bourguiba","way_points":[0,1]},
{"instruction":"Arrive at destination","distance":0,"duration":0,"type":10,"name":"-","way_points":[2,2]}]}]}}]}`

type fakeProvider struct {
	mu         sync.Mutex
	calls      map[string]int
	status     map[string]int
	bodies     map[string]string
	delay      map[string]time.Duration
	snapBody   string
	lastStarts []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:  map[string]int{},
		status: map[string]int{"snap": http.StatusInternalServerError},
		bodies: map[string]string{},
		delay:  map[string]time.Duration{},
	}
}

func (f *fakeProvider) set(name string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[name] = status
	f.bodies[name] = body
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var name string
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v2/snap/"):
		name = "snap"
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/geojson"):
		name = "post"
	case r.Method == http.MethodGet && r.URL.Query().Get("radiuses") != "":
		name = "wide"
	case r.Method == http.MethodGet:
		name = "standard"
	default:
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	f.calls[name]++
	if name == "standard" || name == "wide" {
		f.lastStarts = append(f.lastStarts, r.URL.Query().Get("start"))
	}
	status, ok := f.status[name]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := f.bodies[name]
	if name == "snap" && f.snapBody != "" {
		body = f.snapBody
	}
	delay := f.delay[name]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type countingGenerator struct {
	calls [][2]geo.Point
}

func (g *countingGenerator) Generate(origin, destination geo.Point) []geo.Point {
	g.calls = append(g.calls, [2]geo.Point{origin, destination})
	return []geo.Point{origin, destination}
}

func newResolver(t *testing.T, srv *httptest.Server, gen routing.PathGenerator, timeout time.Duration) *routing.Resolver {
	t.Helper()
	cfg := routing.ProviderConfig{BaseURL: srv.URL, APIKey: "test-key"}
	snapper := routing.NewSnapper(srv.Client(), cfg, time.Second, zap.NewNop())
	return routing.NewResolver(srv.Client(), snapper, routing.DefaultStrategies(cfg), gen, zap.NewNop(), routing.ResolverConfig{
		AttemptTimeout: timeout,
	})
}

var (
	origin      = geo.Point{Lat: 36.80, Lng: 10.18}
	destination = geo.Point{Lat: 36.85, Lng: 10.22}
)

func TestResolverUsesSecondStrategyWhenFirstFails(t *testing.T) {
	provider := newFakeProvider()
	provider.set("standard", http.StatusInternalServerError, `{"error":"boom"}`)
	provider.set("wide", http.StatusOK, routeBody)
	provider.set("post", http.StatusOK, routeBody)
	srv := httptest.NewServer(provider)
	defer srv.Close()

	path := newResolver(t, srv, &countingGenerator{}, time.Second).Resolve(context.Background(), origin, destination)

	require.Equal(t, routing.MethodLargeRadius, path.Method)
	require.NoError(t, path.Err)
	require.Len(t, path.Points, 3)
	require.Equal(t, geo.Point{Lat: 36.801, Lng: 10.181}, path.Points[0])
	require.Equal(t, 1, provider.count("standard"))
	require.Equal(t, 1, provider.count("wide"))
	require.Zero(t, provider.count("post"))

	require.Len(t, path.Steps, 2)
	require.Equal(t, "Avenue Habib Bourguiba", path.Steps[0].Name)
	require.Equal(t, path.Points[0], path.Steps[0].Anchor)
	require.InDelta(t, 120.5, path.Steps[0].DistanceMeters, 1e-9)
	require.Equal(t, "Unnamed road", path.Steps[1].Name)
	require.Equal(t, path.Points[2], path.Steps[1].Anchor)
}

func TestResolverFallsBackWhenEveryStrategyFails(t *testing.T) {
	provider := newFakeProvider()
	provider.set("standard", http.StatusInternalServerError, "")
	provider.set("wide", http.StatusBadGateway, "")
	provider.set("post", http.StatusOK, `{"type":"FeatureCollection","features":[]}`)
	srv := httptest.NewServer(provider)
	defer srv.Close()

	gen := &countingGenerator{}
	path := newResolver(t, srv, gen, time.Second).Resolve(context.Background(), origin, destination)

	require.Equal(t, routing.MethodFallback, path.Method)
	require.True(t, errors.Is(path.Err, routing.ErrAllStrategiesFailed))
	require.Empty(t, path.Steps)
	require.Len(t, gen.calls, 1)
	require.Equal(t, origin, gen.calls[0][0])
	require.Equal(t, destination, gen.calls[0][1])
	require.Equal(t, 1, provider.count("snap"))
	require.Equal(t, 1, provider.count("post"))
}

func TestResolverOutOfRegionSkipsNetwork(t *testing.T) {
	provider := newFakeProvider()
	srv := httptest.NewServer(provider)
	defer srv.Close()

	paris := geo.Point{Lat: 48.8566, Lng: 2.3522}
	path := newResolver(t, srv, nil, time.Second).Resolve(context.Background(), paris, destination)

	require.Equal(t, routing.MethodFallback, path.Method)
	require.True(t, errors.Is(path.Err, routing.ErrOutOfRegion))
	require.NotEmpty(t, path.Points)
	require.InDelta(t, paris.Lat, path.Points[0].Lat, 1e-6)
	require.InDelta(t, paris.Lng, path.Points[0].Lng, 1e-6)
	last := path.Points[len(path.Points)-1]
	require.InDelta(t, destination.Lat, last.Lat, 1e-6)
	require.InDelta(t, destination.Lng, last.Lng, 1e-6)
	require.Zero(t, provider.count("snap"))
	require.Zero(t, provider.count("standard"))
}

func TestResolverRoutesFromSnappedCoordinates(t *testing.T) {
	provider := newFakeProvider()
	provider.set("snap", http.StatusOK, "")
	provider.snapBody = `{"locations":[{"location":[10.1805,36.8005],"snapped_distance":12.5},{"location":[10.2205,36.8505],"snapped_distance":3.1}]}`
	provider.set("standard", http.StatusOK, routeBody)
	srv := httptest.NewServer(provider)
	defer srv.Close()

	path := newResolver(t, srv, &countingGenerator{}, time.Second).Resolve(context.Background(), origin, destination)

	require.Equal(t, routing.MethodStandard, path.Method)
	require.Equal(t, []string{"10.180500,36.800500"}, provider.lastStarts)
}

func TestResolverTimesOutSlowStrategy(t *testing.T) {
	provider := newFakeProvider()
	provider.set("standard", http.StatusOK, routeBody)
	provider.delay["standard"] = 500 * time.Millisecond
	provider.set("wide", http.StatusOK, routeBody)
	srv := httptest.NewServer(provider)
	defer srv.Close()

	path := newResolver(t, srv, &countingGenerator{}, 50*time.Millisecond).Resolve(context.Background(), origin, destination)

	require.Equal(t, routing.MethodLargeRadius, path.Method)
}

func TestResolverPostStrategyBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/geojson") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(routeBody))
	}))
	defer srv.Close()

	path := newResolver(t, srv, &countingGenerator{}, time.Second).Resolve(context.Background(), origin, destination)

	require.Equal(t, routing.MethodPostNegotiated, path.Method)
	require.Equal(t, true, got["instructions"])
	require.Equal(t, []any{5000.0, 5000.0}, got["radiuses"])
	require.Equal(t, []any{[]any{10.18, 36.80}, []any{10.22, 36.85}}, got["coordinates"])
}
