package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ikramby/carburon/internal/geo"
)

const wideSearchRadiusMeters = 5000

var errEmptyRoute = errors.New("routing response has no path feature")

// Strategy is one request shape tried against the routing provider.
type Strategy struct {
	Method Method
	Build  func(ctx context.Context, from, to geo.Point) (*http.Request, error)
}

// DefaultStrategies returns the negotiation order: plain GET, GET with a wide
// search radius, then a POST with an explicit body.
func DefaultStrategies(cfg ProviderConfig) []Strategy {
	cfg = cfg.withDefaults()
	return []Strategy{
		{Method: MethodStandard, Build: getDirections(cfg, false)},
		{Method: MethodLargeRadius, Build: getDirections(cfg, true)},
		{Method: MethodPostNegotiated, Build: postDirections(cfg)},
	}
}

func getDirections(cfg ProviderConfig, wide bool) func(context.Context, geo.Point, geo.Point) (*http.Request, error) {
	return func(ctx context.Context, from, to geo.Point) (*http.Request, error) {
		q := url.Values{}
		q.Set("api_key", cfg.APIKey)
		q.Set("start", lngLat(from))
		q.Set("end", lngLat(to))
		if wide {
			q.Set("radiuses", fmt.Sprintf("%d,%d", wideSearchRadiusMeters, wideSearchRadiusMeters))
		}
		q.Set("instructions", "true")
		q.Set("geometry", "true")
		endpoint := fmt.Sprintf("%s/v2/directions/%s?%s", cfg.BaseURL, cfg.Profile, q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, application/geo+json")
		req.Header.Set("User-Agent", cfg.UserAgent)
		return req, nil
	}
}

type directionsBody struct {
	Coordinates  [][2]float64 `json:"coordinates"`
	Instructions bool         `json:"instructions"`
	Geometry     bool         `json:"geometry"`
	Radiuses     []int        `json:"radiuses"`
}

func postDirections(cfg ProviderConfig) func(context.Context, geo.Point, geo.Point) (*http.Request, error) {
	return func(ctx context.Context, from, to geo.Point) (*http.Request, error) {
		payload, err := json.Marshal(directionsBody{
			Coordinates:  [][2]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}},
			Instructions: true,
			Geometry:     true,
			Radiuses:     []int{wideSearchRadiusMeters, wideSearchRadiusMeters},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal directions body: %w", err)
		}
		endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", cfg.BaseURL, cfg.Profile)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, application/geo+json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", cfg.APIKey)
		req.Header.Set("User-Agent", cfg.UserAgent)
		return req, nil
	}
}

func lngLat(p geo.Point) string {
	return fmt.Sprintf("%f,%f", p.Lng, p.Lat)
}

type directionsSteps struct {
	Features []struct {
		Properties struct {
			Segments []struct {
				Steps []struct {
					Instruction string  `json:"instruction"`
					Distance    float64 `json:"distance"`
					Duration    float64 `json:"duration"`
					Type        int     `json:"type"`
					Name        string  `json:"name"`
					WayPoints   []int   `json:"way_points"`
				} `json:"steps"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

// parseDirections turns a directions feature collection into a polyline and
// its step list. Missing step data yields an empty list, not an error.
func parseDirections(body []byte) ([]geo.Point, []Step, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(fc.Features) == 0 || fc.Features[0] == nil {
		return nil, nil, errEmptyRoute
	}
	line, ok := fc.Features[0].Geometry.(orb.LineString)
	if !ok || len(line) == 0 {
		return nil, nil, errEmptyRoute
	}
	points := make([]geo.Point, len(line))
	for i, c := range line {
		points[i] = geo.Point{Lat: c.Lat(), Lng: c.Lon()}
	}

	var props directionsSteps
	if err := json.Unmarshal(body, &props); err != nil {
		return points, nil, nil
	}
	if len(props.Features) == 0 || len(props.Features[0].Properties.Segments) == 0 {
		return points, nil, nil
	}
	raw := props.Features[0].Properties.Segments[0].Steps
	steps := make([]Step, 0, len(raw))
	for i, s := range raw {
		step := Step{
			Index:           i,
			Instruction:     s.Instruction,
			DistanceMeters:  s.Distance,
			DurationSeconds: s.Duration,
			Type:            s.Type,
			Name:            s.Name,
		}
		if step.Name == "" || step.Name == "-" {
			step.Name = "Unnamed road"
		}
		if len(s.WayPoints) > 0 && s.WayPoints[0] >= 0 && s.WayPoints[0] < len(points) {
			step.Anchor = points[s.WayPoints[0]]
		}
		steps = append(steps, step)
	}
	return points, steps, nil
}
