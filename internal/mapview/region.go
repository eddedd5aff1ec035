package mapview

import (
	"math"

	"github.com/ikramby/carburon/internal/geo"
)

const (
	// TightSpan is the span used when centering on the rider alone.
	TightSpan = 0.005
	// CoverPadding scales the rider/destination spread.
	CoverPadding = 1.8
	// MinCoverSpan stops short hops from over-zooming.
	MinCoverSpan = 0.015
)

// Region is the visible map window. Spans are in degrees and always > 0.
type Region struct {
	Center         geo.Point `json:"center"`
	LatitudeDelta  float64   `json:"latitude_delta"`
	LongitudeDelta float64   `json:"longitude_delta"`
}

// DefaultRegion is shown before the first fix.
var DefaultRegion = Region{
	Center:         geo.Point{Lat: 36.8065, Lng: 10.1815},
	LatitudeDelta:  0.0922,
	LongitudeDelta: 0.0421,
}

// TightRegion centers closely on p.
func TightRegion(p geo.Point) Region {
	return Region{Center: p, LatitudeDelta: TightSpan, LongitudeDelta: TightSpan}
}

// CoveringRegion frames both a and b around their midpoint.
func CoveringRegion(a, b geo.Point) Region {
	return Region{
		Center:         geo.Midpoint(a, b),
		LatitudeDelta:  math.Max(math.Abs(a.Lat-b.Lat)*CoverPadding, MinCoverSpan),
		LongitudeDelta: math.Max(math.Abs(a.Lng-b.Lng)*CoverPadding, MinCoverSpan),
	}
}

// Zoom scales both spans by factor around the current center.
func (r Region) Zoom(factor float64) Region {
	r.LatitudeDelta *= factor
	r.LongitudeDelta *= factor
	return r
}
