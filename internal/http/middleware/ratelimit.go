package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/auth"
)

// Scopes of the local API. Each one guards a different upstream budget.
const (
	// ScopeSearch covers place search; every miss is a Nominatim call and
	// Nominatim allows about one request per second.
	ScopeSearch = "search"
	// ScopeRoute covers destination changes; each one may cost a snap call
	// plus up to three routing attempts.
	ScopeRoute = "route"
	// ScopeRide covers ride requests sent to drivers.
	ScopeRide = "ride"
	// ScopeMap covers the cheap local reads and zoom actions.
	ScopeMap = "map"
)

var (
	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Local API requests rejected by the limiter grouped by scope.",
	}, []string{"scope"})
	rateLimitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limit_errors_total",
		Help: "Limiter checks that failed and let the request through.",
	})
)

// RateConfig allows Rate requests per second with bursts of up to Burst.
type RateConfig struct {
	Rate  float64
	Burst int
}

// DefaultLimits keep the engine inside the public Nominatim and ORS quotas.
var DefaultLimits = map[string]RateConfig{
	ScopeSearch: {Rate: 1, Burst: 1},
	ScopeRoute:  {Rate: 0.5, Burst: 3},
	ScopeRide:   {Rate: 0.2, Burst: 2},
	ScopeMap:    {Rate: 20, Burst: 40},
}

// RateLimiter throttles local API scopes with a GCRA kept in Redis, so
// budgets survive engine restarts and are shared by every process of the
// same rider.
type RateLimiter struct {
	client redis.Scripter
	limits map[string]RateConfig
	script *redis.Script
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter passes
// every request. Scopes missing from limits take DefaultLimits.
func NewRateLimiter(client redis.Scripter, limits map[string]RateConfig, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	merged := make(map[string]RateConfig, len(DefaultLimits))
	for scope, cfg := range DefaultLimits {
		merged[scope] = cfg
	}
	for scope, cfg := range limits {
		merged[scope] = cfg
	}
	return &RateLimiter{client: client, limits: merged, script: redis.NewScript(gcraLua), logger: logger, now: time.Now}
}

// For returns the middleware guarding scope. Unknown or disabled scopes
// pass through.
func (l *RateLimiter) For(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		cfg, ok := l.limits[scope]
		if !ok || cfg.Rate <= 0 || cfg.Burst <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wait, err := l.reserve(r.Context(), scope, requester(r), cfg)
			if err != nil {
				rateLimitErrorsTotal.Inc()
				l.logger.Warn("rate limit check failed", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if wait > 0 {
				rateLimitedTotal.WithLabelValues(scope).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reserve takes one slot from the scope's bucket. A positive duration is
// the time until the next slot frees up.
func (l *RateLimiter) reserve(ctx context.Context, scope, who string, cfg RateConfig) (time.Duration, error) {
	interval := int64(math.Ceil(1000 / cfg.Rate))
	key := "rider:rl:" + scope + ":" + who
	res, err := l.script.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), interval, cfg.Burst).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, errors.New("negative limiter reply")
	}
	return time.Duration(res) * time.Millisecond, nil
}

// requester is the signed-in passenger when auth ran, else the remote host.
func requester(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return claims.Subject
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// gcraLua stores the theoretical arrival time of the next request and
// answers with the milliseconds to wait, 0 when the request may proceed.
const gcraLua = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tat = now
local stored = redis.call('GET', KEYS[1])
if stored then
  tat = math.max(tonumber(stored), now)
end

local next_tat = tat + interval
local allowed_at = next_tat - interval * burst
if allowed_at > now then
  return allowed_at - now
end

redis.call('SET', KEYS[1], next_tat, 'PX', next_tat - now)
return 0
`
