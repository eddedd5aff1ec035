// Package geocode searches places near the rider.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
)

// ErrUpstream is returned when the geocoding service answers with an error.
var ErrUpstream = errors.New("geocoding service error")

// Place is one search result.
type Place struct {
	ID          string            `json:"id"`
	PlaceID     int64             `json:"place_id"`
	DisplayName string            `json:"display_name"`
	Point       geo.Point         `json:"point"`
	Type        string            `json:"type"`
	Address     map[string]string `json:"address,omitempty"`
	DistanceKm  *float64          `json:"distance_km,omitempty"`
}

// Config tunes the search client.
type Config struct {
	BaseURL        string
	UserAgent      string
	Language       string
	Limit          int
	ViewboxDelta   float64
	MinQueryLength int
	Timeout        time.Duration
	CacheTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://nominatim.openstreetmap.org"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = "carburon-rider/1.0"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.ViewboxDelta <= 0 {
		c.ViewboxDelta = 0.5
	}
	if c.MinQueryLength <= 0 {
		c.MinQueryLength = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	return c
}

// Cache stores search results. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]Place, bool, error)
	Set(ctx context.Context, key string, places []Place, ttl time.Duration) error
}

// Client queries a Nominatim compatible search endpoint.
type Client struct {
	http   *http.Client
	cache  Cache
	logger *zap.Logger
	cfg    Config
}

// NewClient constructs a client. cache may be nil.
func NewClient(client *http.Client, cache Cache, logger *zap.Logger, cfg Config) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: client, cache: cache, logger: logger.Named("geocode"), cfg: cfg.withDefaults()}
}

type nominatimPlace struct {
	PlaceID     int64             `json:"place_id"`
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Type        string            `json:"type"`
	Address     map[string]string `json:"address"`
}

// Search returns places matching query. With near set the search is bounded
// to a box around the rider and results are sorted by distance. Queries
// shorter than the minimum length return no results.
func (c *Client) Search(ctx context.Context, query string, near *geo.Point) ([]Place, error) {
	normalized := normalize(query)
	if len([]rune(normalized)) < c.cfg.MinQueryLength {
		return []Place{}, nil
	}

	key := cacheKey(normalized, near)
	if c.cache != nil {
		places, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			cacheLookups.WithLabelValues("error").Inc()
			c.logger.Warn("geocode cache read failed", zap.Error(err))
		case ok:
			cacheLookups.WithLabelValues("hit").Inc()
			return rank(places, near), nil
		default:
			cacheLookups.WithLabelValues("miss").Inc()
		}
	}

	places, err := c.fetch(ctx, query, near)
	if err != nil {
		requests.WithLabelValues("error").Inc()
		return nil, err
	}
	requests.WithLabelValues("ok").Inc()

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, places, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("geocode cache write failed", zap.Error(err))
		}
	}
	return rank(places, near), nil
}

// rank annotates a copy of places with the distance from near and sorts it
// nearest first. Cached entries are shared by a whole geohash cell, so this
// runs on every return.
func rank(places []Place, near *geo.Point) []Place {
	out := make([]Place, len(places))
	copy(out, places)
	if near == nil {
		for i := range out {
			out[i].DistanceKm = nil
		}
		return out
	}
	for i := range out {
		d := geo.DistanceKm(*near, out[i].Point)
		out[i].DistanceKm = &d
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].DistanceKm < *out[j].DistanceKm })
	return out
}

func (c *Client) fetch(ctx context.Context, query string, near *geo.Point) ([]Place, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", strings.TrimSpace(query))
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	params.Set("addressdetails", "1")
	if near != nil {
		d := c.cfg.ViewboxDelta
		params.Set("viewbox", fmt.Sprintf("%g,%g,%g,%g", near.Lng-d, near.Lat+d, near.Lng+d, near.Lat-d))
		params.Set("bounded", "1")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.cfg.Language)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var raw []nominatimPlace
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	places := make([]Place, 0, len(raw))
	for i, item := range raw {
		lat, errLat := strconv.ParseFloat(item.Lat, 64)
		lng, errLng := strconv.ParseFloat(item.Lon, 64)
		point := geo.Point{Lat: lat, Lng: lng}
		if errLat != nil || errLng != nil || !point.Valid() {
			continue
		}
		places = append(places, Place{
			ID:          fmt.Sprintf("%d_%d", item.PlaceID, i),
			PlaceID:     item.PlaceID,
			DisplayName: item.DisplayName,
			Point:       point,
			Type:        item.Type,
			Address:     item.Address,
		})
	}
	return places, nil
}

func normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
