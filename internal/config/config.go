// Package config loads rider engine settings from defaults, an optional file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ikramby/carburon/internal/geo"
)

// FileEnv names the environment variable pointing at an optional config file.
const FileEnv = "RIDER_CONFIG"

var (
	ErrMissingAPIKey = errors.New("ORS_API_KEY is required")
	ErrInvalid       = errors.New("invalid configuration")
)

// RateLimit is the budget of one local API scope. A zero RPS disables it.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config is the complete engine configuration.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`

	HTTPAddr       string               `mapstructure:"http_addr"`
	GRPCAddr       string               `mapstructure:"grpc_addr"`
	JWTSecret      string               `mapstructure:"jwt_secret"`
	LocalTokenTTL  time.Duration        `mapstructure:"local_token_ttl"`
	LocalTokenFile string               `mapstructure:"local_token_file"`
	RateLimits     map[string]RateLimit `mapstructure:"rate_limits"`

	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	NATSURL       string `mapstructure:"nats_url"`
	EventsSubject string `mapstructure:"events_subject"`

	ORSBaseURL          string        `mapstructure:"ors_base_url"`
	ORSProfile          string        `mapstructure:"ors_profile"`
	ORSAPIKey           string        `mapstructure:"ors_api_key"`
	SnapRadiusMeters    int           `mapstructure:"snap_radius_meters"`
	SnapTimeout         time.Duration `mapstructure:"snap_timeout"`
	RouteAttemptTimeout time.Duration `mapstructure:"route_attempt_timeout"`
	ServiceArea         geo.Bounds    `mapstructure:"service_area"`

	NominatimURL    string        `mapstructure:"nominatim_url"`
	GeocodeCacheTTL time.Duration `mapstructure:"geocode_cache_ttl"`

	APIURL        string `mapstructure:"api_url"`
	RiderUsername string `mapstructure:"rider_username"`
	RiderPassword string `mapstructure:"rider_password"`
	RiderID       string `mapstructure:"rider_id"`

	SocketServerURL   string        `mapstructure:"socket_server_url"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	RideRequestTTL    time.Duration `mapstructure:"ride_request_ttl"`

	FixTimeout            time.Duration `mapstructure:"fix_timeout"`
	MaxFixAge             time.Duration `mapstructure:"max_fix_age"`
	WatchInterval         time.Duration `mapstructure:"watch_interval"`
	WatchDistanceMeters   float64       `mapstructure:"watch_distance_meters"`
	RerouteDistanceMeters float64       `mapstructure:"reroute_distance_meters"`

	OutboxPoll  time.Duration `mapstructure:"outbox_poll"`
	OutboxBatch int           `mapstructure:"outbox_batch"`
	OutboxRetry int           `mapstructure:"outbox_retry_max"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "rider-engine")
	v.SetDefault("log_level", "info")

	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("grpc_addr", "127.0.0.1:9090")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("local_token_ttl", 12*time.Hour)
	v.SetDefault("local_token_file", "")
	v.SetDefault("rate_limits.search.rps", 1)
	v.SetDefault("rate_limits.search.burst", 1)
	v.SetDefault("rate_limits.route.rps", 0.5)
	v.SetDefault("rate_limits.route.burst", 3)
	v.SetDefault("rate_limits.ride.rps", 0.2)
	v.SetDefault("rate_limits.ride.burst", 2)
	v.SetDefault("rate_limits.map.rps", 20)
	v.SetDefault("rate_limits.map.burst", 40)

	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("events_subject", "rider.events")

	v.SetDefault("ors_base_url", "https://api.openrouteservice.org")
	v.SetDefault("ors_profile", "driving-car")
	v.SetDefault("ors_api_key", "")
	v.SetDefault("snap_radius_meters", 1000)
	v.SetDefault("snap_timeout", 10*time.Second)
	v.SetDefault("route_attempt_timeout", 15*time.Second)
	v.SetDefault("service_area.min_lat", geo.ServiceArea.MinLat)
	v.SetDefault("service_area.max_lat", geo.ServiceArea.MaxLat)
	v.SetDefault("service_area.min_lng", geo.ServiceArea.MinLng)
	v.SetDefault("service_area.max_lng", geo.ServiceArea.MaxLng)

	v.SetDefault("nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode_cache_ttl", 10*time.Minute)

	v.SetDefault("api_url", "http://localhost:5000")
	v.SetDefault("rider_username", "")
	v.SetDefault("rider_password", "")
	v.SetDefault("rider_id", "")

	v.SetDefault("socket_server_url", "ws://localhost:5000/ws")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("ride_request_ttl", 30*time.Second)

	v.SetDefault("fix_timeout", 30*time.Second)
	v.SetDefault("max_fix_age", 5*time.Second)
	v.SetDefault("watch_interval", 5*time.Second)
	v.SetDefault("watch_distance_meters", 5)
	v.SetDefault("reroute_distance_meters", 50)

	v.SetDefault("outbox_poll", 200*time.Millisecond)
	v.SetDefault("outbox_batch", 100)
	v.SetDefault("outbox_retry_max", 3)
}

// Load reads defaults, then the file named by RIDER_CONFIG when set, then
// environment variables such as ORS_API_KEY or SERVICE_AREA_MIN_LAT.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ORSAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is empty", ErrInvalid)
	}
	if c.ServiceArea.MinLat >= c.ServiceArea.MaxLat || c.ServiceArea.MinLng >= c.ServiceArea.MaxLng {
		return fmt.Errorf("%w: service area is empty", ErrInvalid)
	}
	for scope, l := range c.RateLimits {
		if l.RPS < 0 || l.Burst < 0 {
			return fmt.Errorf("%w: rate_limits.%s is negative", ErrInvalid, scope)
		}
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("%w: reconnect_attempts must be positive", ErrInvalid)
	}
	if c.RiderID == "" && (c.RiderUsername == "" || c.RiderPassword == "") {
		return fmt.Errorf("%w: set rider_username and rider_password, or rider_id", ErrInvalid)
	}
	return nil
}
