package geo

import "math"

// DefaultAverageSpeedKmh is the assumed city driving speed used for ETAs.
const DefaultAverageSpeedKmh = 30.0

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is finite and inside the world range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds is an axis aligned lat/lng box.
type Bounds struct {
	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLng float64 `mapstructure:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng"`
}

// ServiceArea covers Tunisia with a small buffer on every side.
var ServiceArea = Bounds{MinLat: 30.0, MaxLat: 38.0, MinLng: 7.0, MaxLng: 12.0}

// Contains reports whether p is a valid point inside the box.
func (b Bounds) Contains(p Point) bool {
	if !p.Valid() {
		return false
	}
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return earthRadiusKm * c
}

// DistanceMeters is DistanceKm scaled to meters.
func DistanceMeters(a, b Point) float64 {
	return DistanceKm(a, b) * 1000
}

// EtaMinutes estimates travel time for distanceKm at avgSpeedKmh. The result
// is never below one minute. A non-positive speed falls back to the default.
func EtaMinutes(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAverageSpeedKmh
	}
	minutes := int(math.Round(distanceKm / avgSpeedKmh * 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Midpoint returns the arithmetic midpoint of a and b in degree space.
func Midpoint(a, b Point) Point {
	return Point{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
