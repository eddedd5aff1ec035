package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/auth"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(t *testing.T, limits map[string]RateConfig) (*RateLimiter, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRateLimiter(client, limits, zap.NewNop())
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	limiter.now = c.now
	return limiter, c, mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/places?q=airport", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchScopeAllowsOneRequestPerSecond(t *testing.T) {
	limiter, c, _ := newLimiter(t, nil)
	h := limiter.For(ScopeSearch)(okHandler())

	require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code)
	rec := hit(h, "127.0.0.1:5000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	c.advance(400 * time.Millisecond)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "127.0.0.1:5000").Code)
	c.advance(600 * time.Millisecond)
	require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code)
}

func TestRouteScopeBurstThenRefill(t *testing.T) {
	limiter, c, _ := newLimiter(t, nil)
	h := limiter.For(ScopeRoute)(okHandler())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code, "burst request %d", i)
	}
	rec := hit(h, "127.0.0.1:5000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))

	c.advance(2 * time.Second)
	require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "127.0.0.1:5000").Code)
}

func TestScopesHaveSeparateBudgets(t *testing.T) {
	limiter, _, _ := newLimiter(t, map[string]RateConfig{ScopeMap: {Rate: 1, Burst: 1}})
	search := limiter.For(ScopeSearch)(okHandler())
	mapView := limiter.For(ScopeMap)(okHandler())

	require.Equal(t, http.StatusOK, hit(search, "127.0.0.1:5000").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(search, "127.0.0.1:5000").Code)
	require.Equal(t, http.StatusOK, hit(mapView, "127.0.0.1:5000").Code)
	require.Equal(t, http.StatusOK, hit(search, "10.0.0.7:5000").Code)
}

func TestBudgetFollowsPassengerClaims(t *testing.T) {
	limiter, _, _ := newLimiter(t, nil)
	secret := "s3cret"
	h := auth.Middleware(secret, "", auth.RolePassenger)(limiter.For(ScopeSearch)(okHandler()))

	call := func(remote string) int {
		token, err := auth.Issue(secret, "p-1", auth.RolePassenger, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/places?q=airport", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, call("127.0.0.1:5000"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.7:5000"))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	limiter, _, mr := newLimiter(t, nil)
	h := limiter.For(ScopeSearch)(okHandler())
	mr.Close()

	require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code)
	require.Equal(t, http.StatusOK, hit(h, "127.0.0.1:5000").Code)
}

func TestNilLimiterAndUnknownScopePassThrough(t *testing.T) {
	var none *RateLimiter
	require.Equal(t, http.StatusOK, hit(none.For(ScopeSearch)(okHandler()), "127.0.0.1:5000").Code)

	limiter, _, _ := newLimiter(t, map[string]RateConfig{ScopeRide: {}})
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, hit(limiter.For("other")(okHandler()), "127.0.0.1:5000").Code)
		require.Equal(t, http.StatusOK, hit(limiter.For(ScopeRide)(okHandler()), "127.0.0.1:5000").Code)
	}
}
