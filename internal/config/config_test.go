package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("ORS_API_KEY", "test-key")
	t.Setenv("RIDER_ID", "p-1")
	t.Setenv("RECONNECT_DELAY", "250ms")
	t.Setenv("SERVICE_AREA_MAX_LAT", "37.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "test-key", cfg.ORSAPIKey)
	require.Equal(t, "p-1", cfg.RiderID)
	require.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	require.Equal(t, 37.5, cfg.ServiceArea.MaxLat)
	require.Equal(t, 30.0, cfg.ServiceArea.MinLat)
	require.Equal(t, 5, cfg.ReconnectAttempts)
	require.Equal(t, 1000, cfg.SnapRadiusMeters)
	require.Equal(t, 15*time.Second, cfg.RouteAttemptTimeout)
	require.Equal(t, "rider.events", cfg.EventsSubject)
	require.Equal(t, RateLimit{RPS: 1, Burst: 1}, cfg.RateLimits["search"])
	require.Equal(t, RateLimit{RPS: 0.5, Burst: 3}, cfg.RateLimits["route"])
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("ORS_API_KEY", "")
	t.Setenv("RIDER_ID", "p-1")
	_, err := Load()
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rider.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ors_api_key: file-key
rider_username: amira
rider_password: secret
reroute_distance_meters: 75
service_area:
  min_lng: 8
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("ORS_API_KEY", "")
	t.Setenv("RIDER_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "file-key", cfg.ORSAPIKey)
	require.Equal(t, "amira", cfg.RiderUsername)
	require.Equal(t, 75.0, cfg.RerouteDistanceMeters)
	require.Equal(t, 8.0, cfg.ServiceArea.MinLng)
	require.Equal(t, 12.0, cfg.ServiceArea.MaxLng)
}

func TestRateLimitsFromEnv(t *testing.T) {
	t.Setenv("ORS_API_KEY", "k")
	t.Setenv("RIDER_ID", "p-1")
	t.Setenv("RATE_LIMITS_SEARCH_BURST", "4")
	t.Setenv("RATE_LIMITS_RIDE_RPS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, RateLimit{RPS: 1, Burst: 4}, cfg.RateLimits["search"])
	require.Equal(t, RateLimit{RPS: 0, Burst: 2}, cfg.RateLimits["ride"])

	t.Setenv("RATE_LIMITS_MAP_BURST", "-1")
	_, err = Load()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidateRiderIdentity(t *testing.T) {
	t.Setenv("ORS_API_KEY", "k")
	t.Setenv("RIDER_ID", "")
	t.Setenv("RIDER_USERNAME", "")
	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)
}
