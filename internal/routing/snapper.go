package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
)

// DefaultSnapRadiusMeters is the search radius used when none is given.
const DefaultSnapRadiusMeters = 1000

// ProviderConfig describes the routing provider endpoint and credentials.
type ProviderConfig struct {
	BaseURL   string
	Profile   string
	APIKey    string
	UserAgent string
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openrouteservice.org"
	}
	if c.Profile == "" {
		c.Profile = "driving-car"
	}
	if c.UserAgent == "" {
		c.UserAgent = "carburon-rider/1.0"
	}
	return c
}

// SnappedPoint is one entry of a SnapResult, in input order.
type SnappedPoint struct {
	Point        geo.Point `json:"point"`
	Snapped      bool      `json:"snapped"`
	SnapDistance *float64  `json:"snap_distance,omitempty"`
	Name         string    `json:"name,omitempty"`
}

// SnapResult always has one entry per input point.
type SnapResult struct {
	Success    bool
	Points     []SnappedPoint
	AllSnapped bool
}

// Snapper pulls raw coordinates onto the nearest routable road.
type Snapper struct {
	client  *http.Client
	cfg     ProviderConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewSnapper builds a snapper. A nil client uses http.DefaultClient.
func NewSnapper(client *http.Client, cfg ProviderConfig, timeout time.Duration, logger *zap.Logger) *Snapper {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapper{client: client, cfg: cfg.withDefaults(), timeout: timeout, logger: logger}
}

type snapRequest struct {
	Locations [][2]float64 `json:"locations"`
	Radius    int          `json:"radius"`
	ID        string       `json:"id"`
}

type snapResponse struct {
	Locations []*struct {
		Location        []float64 `json:"location"`
		SnappedDistance *float64  `json:"snapped_distance"`
		Name            string    `json:"name"`
	} `json:"locations"`
}

// Snap never fails: on any error the input comes back unsnapped.
func (s *Snapper) Snap(ctx context.Context, points []geo.Point, radiusMeters int) SnapResult {
	if radiusMeters <= 0 {
		radiusMeters = DefaultSnapRadiusMeters
	}
	resp, err := s.fetch(ctx, points, radiusMeters)
	if err != nil {
		snapRequests.WithLabelValues("error").Inc()
		s.logger.Debug("snap request failed", zap.Error(err), zap.Int("points", len(points)))
		return unsnapped(points)
	}

	out := make([]SnappedPoint, len(points))
	all := true
	for i, p := range points {
		out[i] = SnappedPoint{Point: p}
		if i >= len(resp.Locations) {
			all = false
			continue
		}
		loc := resp.Locations[i]
		if loc == nil || len(loc.Location) < 2 {
			all = false
			continue
		}
		out[i] = SnappedPoint{
			Point:        geo.Point{Lat: loc.Location[1], Lng: loc.Location[0]},
			Snapped:      true,
			SnapDistance: loc.SnappedDistance,
			Name:         loc.Name,
		}
	}
	if all {
		snapRequests.WithLabelValues("snapped").Inc()
	} else {
		snapRequests.WithLabelValues("partial").Inc()
	}
	return SnapResult{Success: true, Points: out, AllSnapped: all && len(points) > 0}
}

func (s *Snapper) fetch(ctx context.Context, points []geo.Point, radius int) (*snapResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body := snapRequest{Radius: radius, ID: "snap_" + uuid.NewString()}
	for _, p := range points {
		body.Locations = append(body.Locations, [2]float64{p.Lng, p.Lat})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal snap request: %w", err)
	}
	url := fmt.Sprintf("%s/v2/snap/%s/json", s.cfg.BaseURL, s.cfg.Profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.cfg.APIKey)
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("%w: status %d", ErrSnapFailed, res.StatusCode)
	}
	var decoded snapResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode snap response: %w", err)
	}
	return &decoded, nil
}

func unsnapped(points []geo.Point) SnapResult {
	out := make([]SnappedPoint, len(points))
	for i, p := range points {
		out[i] = SnappedPoint{Point: p}
	}
	return SnapResult{Success: false, Points: out}
}
