package mapview

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ikramby/carburon/internal/geo"
)

func TestCoveringRegionPadding(t *testing.T) {
	a := geo.Point{Lat: 36.80, Lng: 10.18}
	b := geo.Point{Lat: 36.70, Lng: 10.40}
	r := CoveringRegion(a, b)
	require.InDelta(t, 36.75, r.Center.Lat, 1e-12)
	require.InDelta(t, 10.29, r.Center.Lng, 1e-12)
	require.InDelta(t, 0.18, r.LatitudeDelta, 1e-9)
	require.InDelta(t, 0.396, r.LongitudeDelta, 1e-9)
	require.Equal(t, r, CoveringRegion(b, a))
}

func TestDefaultRegion(t *testing.T) {
	require.True(t, geo.ServiceArea.Contains(DefaultRegion.Center))
	require.Greater(t, DefaultRegion.LatitudeDelta, 0.0)
	require.Greater(t, DefaultRegion.LongitudeDelta, 0.0)
}
