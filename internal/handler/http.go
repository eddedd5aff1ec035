package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/geocode"
	ratelimit "github.com/ikramby/carburon/internal/http/middleware"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/mapview"
	"github.com/ikramby/carburon/internal/realtime"
	"github.com/ikramby/carburon/internal/ride"
)

// MapController is the part of *mapview.Controller the API drives.
type MapController interface {
	Snapshot() mapview.Snapshot
	Post(evt mapview.Event) bool
	RequestRide(ctx context.Context, driverID string) error
}

// LocationRefresher forces a new fix.
type LocationRefresher interface {
	Refresh(ctx context.Context) (location.Fix, error)
}

// PlaceSearcher looks up destinations by free text.
type PlaceSearcher interface {
	Search(ctx context.Context, query string, near *geo.Point) ([]geocode.Place, error)
}

// Throttle hands out a limiting middleware per API scope;
// *middleware.RateLimiter satisfies it.
type Throttle interface {
	For(scope string) func(http.Handler) http.Handler
}

// HTTP exposes the rider's map, location, ride and search endpoints.
type HTTP struct {
	mapview  MapController
	location LocationRefresher
	places   PlaceSearcher
	speedKmh float64
	throttle Throttle
	area     geo.Bounds
	logger   *zap.Logger
}

// NewHTTP constructs a handler. speedKmh feeds /v1/eta; zero uses the
// default city speed.
func NewHTTP(mv MapController, loc LocationRefresher, places PlaceSearcher, speedKmh float64, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	if speedKmh <= 0 {
		speedKmh = geo.DefaultAverageSpeedKmh
	}
	return &HTTP{mapview: mv, location: loc, places: places, speedKmh: speedKmh, throttle: noThrottle{}, area: geo.ServiceArea, logger: logger}
}

// WithThrottle installs per-scope limits.
func (h *HTTP) WithThrottle(t Throttle) *HTTP {
	if t != nil {
		h.throttle = t
	}
	return h
}

// WithServiceArea restricts selectable destinations to b.
func (h *HTTP) WithServiceArea(b geo.Bounds) *HTTP {
	if b != (geo.Bounds{}) {
		h.area = b
	}
	return h
}

type noThrottle struct{}

func (noThrottle) For(string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

// Router builds the chi router. mws run after the standard middlewares and
// before every endpoint.
func (h *HTTP) Router(mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(mws...)
	mapScope := h.throttle.For(ratelimit.ScopeMap)
	r.With(mapScope).Get("/v1/map", h.getMap)
	r.With(h.throttle.For(ratelimit.ScopeRoute)).Put("/v1/map/destination", h.setDestination)
	r.With(mapScope).Delete("/v1/map/destination", h.clearDestination)
	r.With(mapScope).Post("/v1/map/zoom-in", h.post(mapview.ZoomIn{}))
	r.With(mapScope).Post("/v1/map/zoom-out", h.post(mapview.ZoomOut{}))
	r.With(mapScope).Post("/v1/location/refresh", h.refreshLocation)
	r.With(h.throttle.For(ratelimit.ScopeRide)).Post("/v1/rides", h.requestRide)
	r.With(h.throttle.For(ratelimit.ScopeSearch)).Get("/v1/places", h.searchPlaces)
	r.With(mapScope).Get("/v1/eta", h.estimate)
	return r
}

type mapResponse struct {
	mapview.Snapshot
	Polyline string `json:"polyline"`
}

func (h *HTTP) getMap(w http.ResponseWriter, r *http.Request) {
	snap := h.mapview.Snapshot()
	writeJSON(w, http.StatusOK, mapResponse{Snapshot: snap, Polyline: encodePolyline(snap.Route.Points)})
}

func encodePolyline(points []geo.Point) string {
	if len(points) == 0 {
		return ""
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

type pointRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *HTTP) setDestination(w http.ResponseWriter, r *http.Request) {
	var payload pointRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if payload.Lat == nil || payload.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	p := geo.Point{Lat: *payload.Lat, Lng: *payload.Lng}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if !h.area.Contains(p) {
		writeError(w, http.StatusBadRequest, "destination outside the service area")
		return
	}
	h.enqueue(w, mapview.DestinationSelected{Point: p})
}

func (h *HTTP) clearDestination(w http.ResponseWriter, _ *http.Request) {
	h.enqueue(w, mapview.DestinationCleared{})
}

func (h *HTTP) post(evt mapview.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h.enqueue(w, evt)
	}
}

func (h *HTTP) enqueue(w http.ResponseWriter, evt mapview.Event) {
	if !h.mapview.Post(evt) {
		writeError(w, http.StatusServiceUnavailable, "map view unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTP) refreshLocation(w http.ResponseWriter, r *http.Request) {
	fix, err := h.location.Refresh(r.Context())
	if err != nil {
		h.mapview.Post(mapview.LocationFailed{Err: err})
		if r.Context().Err() != nil {
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

type rideRequest struct {
	DriverID string `json:"driver_id"`
}

func (h *HTTP) requestRide(w http.ResponseWriter, r *http.Request) {
	var payload rideRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	err := h.mapview.RequestRide(r.Context(), strings.TrimSpace(payload.DriverID))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, h.mapview.Snapshot().Ride)
	case errors.Is(err, ride.ErrMissingDriver):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, realtime.ErrNotReady), errors.Is(err, ride.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, realtime.ErrDuplicateRequest):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, mapview.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Warn("ride request failed", zap.String("driver_id", payload.DriverID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "ride request could not be sent")
	}
}

func (h *HTTP) searchPlaces(w http.ResponseWriter, r *http.Request) {
	var near *geo.Point
	if fix := h.mapview.Snapshot().Fix; fix != nil {
		p := fix.Point
		near = &p
	}
	places, err := h.places.Search(r.Context(), r.URL.Query().Get("q"), near)
	if err != nil {
		h.logger.Warn("place search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "place search unavailable")
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
