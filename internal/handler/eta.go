package handler

import (
	"net/http"
	"strconv"

	"github.com/ikramby/carburon/internal/geo"
)

type etaResponse struct {
	DistanceKm float64 `json:"distance_km"`
	EtaMinutes int     `json:"eta_minutes"`
	// Nearest driver to the origin among those currently on the map.
	DriverID         string `json:"driver_id,omitempty"`
	DriverEtaMinutes *int   `json:"driver_eta_minutes,omitempty"`
}

// estimate answers a straight-line ETA between two points. The origin
// defaults to the rider's current fix.
func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	snap := h.mapview.Snapshot()
	from, ok := queryPoint(r, "from_lat", "from_lng")
	if !ok {
		if snap.Fix == nil {
			writeError(w, http.StatusBadRequest, "from_lat and from_lng are required without a location fix")
			return
		}
		from = snap.Fix.Point
	}
	to, ok := queryPoint(r, "to_lat", "to_lng")
	if !ok {
		writeError(w, http.StatusBadRequest, "to_lat and to_lng are required")
		return
	}
	dist := geo.DistanceKm(from, to)
	resp := etaResponse{DistanceKm: dist, EtaMinutes: geo.EtaMinutes(dist, h.speedKmh)}

	best := -1.0
	for _, d := range snap.Drivers {
		dd := geo.DistanceKm(d.Point, from)
		if best < 0 || dd < best {
			best = dd
			resp.DriverID = d.ID
		}
	}
	if best >= 0 {
		eta := geo.EtaMinutes(best, h.speedKmh)
		resp.DriverEtaMinutes = &eta
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryPoint(r *http.Request, latKey, lngKey string) (geo.Point, bool) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get(latKey), 64)
	if err != nil {
		return geo.Point{}, false
	}
	lng, err := strconv.ParseFloat(q.Get(lngKey), 64)
	if err != nil {
		return geo.Point{}, false
	}
	p := geo.Point{Lat: lat, Lng: lng}
	return p, p.Valid()
}
