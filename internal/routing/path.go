package routing

import (
	"errors"

	"github.com/ikramby/carburon/internal/geo"
)

// Method records how a Path was obtained.
type Method string

const (
	MethodStandard       Method = "standard"
	MethodLargeRadius    Method = "large-radius"
	MethodPostNegotiated Method = "post-negotiated"
	MethodFallback       Method = "fallback-synthetic"
	MethodNone           Method = "none"
)

var (
	ErrOutOfRegion         = errors.New("coordinates outside the service area")
	ErrSnapFailed          = errors.New("coordinate snapping failed")
	ErrAllStrategiesFailed = errors.New("all routing strategies failed")
)

// Step is one turn-by-turn instruction.
type Step struct {
	Index           int       `json:"index"`
	Instruction     string    `json:"instruction"`
	DistanceMeters  float64   `json:"distance_m"`
	DurationSeconds float64   `json:"duration_s"`
	Type            int       `json:"type"`
	Name            string    `json:"name"`
	Anchor          geo.Point `json:"anchor"`
}

// Path is a drawable polyline. Err is set when the path is an approximation.
type Path struct {
	Points []geo.Point
	Method Method
	Steps  []Step
	Err    error
}

// Empty is the path shown when no destination is selected.
func Empty() Path {
	return Path{Method: MethodNone}
}

// Approximate reports whether the path was synthesized locally.
func (p Path) Approximate() bool {
	return p.Method == MethodFallback
}
