package routing

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ikramby/carburon/internal/geo"
)

// Terrain is the coarse classification used to shape synthetic paths.
type Terrain string

const (
	TerrainUrban   Terrain = "urban"
	TerrainCoastal Terrain = "coastal"
	TerrainInland  Terrain = "inland"
)

type terrainProfile struct {
	curve     float64
	turnEvery int
	turn      float64
	elevation bool
}

var profiles = map[Terrain]terrainProfile{
	TerrainUrban:   {curve: 0.0008, turnEvery: 3, turn: 0.0005},
	TerrainCoastal: {curve: 0.0015, turnEvery: 4, turn: 0.001},
	TerrainInland:  {curve: 0.002, turnEvery: 5, turn: 0.001, elevation: true},
}

const (
	minWaypoints       = 5
	maxWaypoints       = 400
	waypointsPerDegree = 200
	pointsPerSegment   = 25
	elevationAmplitude = 0.0005
	textureAmplitude   = 0.00005
)

var urbanTunis = geo.Bounds{MinLat: 36.7, MaxLat: 36.9, MinLng: 10.1, MaxLng: 10.3}

// ClassifyTerrain picks the profile for a pair of endpoints.
func ClassifyTerrain(a, b geo.Point) Terrain {
	inside := func(p geo.Point) bool {
		return p.Lat > urbanTunis.MinLat && p.Lat < urbanTunis.MaxLat && p.Lng > urbanTunis.MinLng && p.Lng < urbanTunis.MaxLng
	}
	if inside(a) || inside(b) {
		return TerrainUrban
	}
	coastal := func(p geo.Point) bool { return p.Lat > 35.0 && p.Lng > 10.0 }
	if coastal(a) || coastal(b) {
		return TerrainCoastal
	}
	return TerrainInland
}

// Generator builds road-like polylines when no routing data is available.
// Turn jitter comes from rng; seed it for reproducible output.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator. A nil rng is seeded from the clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Generate returns a path that starts at origin, ends at destination and
// only ever moves forward along the straight line between them.
func (g *Generator) Generate(origin, destination geo.Point) []geo.Point {
	dLat := destination.Lat - origin.Lat
	dLng := destination.Lng - origin.Lng
	distance := math.Hypot(dLat, dLng)
	if distance < 1e-9 {
		return []geo.Point{origin, destination}
	}

	bearing := math.Atan2(dLng, dLat)
	// unit vector perpendicular to the bearing, in (lat, lng) space
	perpLat := -math.Sin(bearing)
	perpLng := math.Cos(bearing)
	profile := profiles[ClassifyTerrain(origin, destination)]

	n := int(math.Floor(distance * waypointsPerDegree))
	if n < minWaypoints {
		n = minWaypoints
	}
	if n > maxWaypoints {
		n = maxWaypoints
	}

	waypoints := make([]geo.Point, n+1)
	for i := 0; i <= n; i++ {
		ratio := float64(i) / float64(n)
		wp := geo.Point{Lat: origin.Lat + dLat*ratio, Lng: origin.Lng + dLng*ratio}
		if i > 0 && i < n {
			offset := math.Sin(ratio*math.Pi*2) * profile.curve
			if i%profile.turnEvery == 0 {
				jitter := (g.float64() - 0.5) * math.Pi / 2
				offset += math.Sin(ratio*math.Pi*float64(profile.turnEvery*2)) * profile.turn * math.Cos(jitter)
			}
			if profile.elevation {
				offset += math.Sin(ratio*math.Pi*3) * elevationAmplitude
			}
			wp.Lat += perpLat * offset
			wp.Lng += perpLng * offset
		}
		waypoints[i] = wp
	}
	waypoints[n] = destination

	points := make([]geo.Point, 0, n*pointsPerSegment+1)
	points = append(points, origin)
	for i := 0; i < n; i++ {
		start, end := waypoints[i], waypoints[i+1]
		for j := 1; j <= pointsPerSegment; j++ {
			t := float64(j) / pointsPerSegment
			eased := t * t * (3.0 - 2.0*t)
			p := geo.Point{
				Lat: start.Lat + (end.Lat-start.Lat)*eased,
				Lng: start.Lng + (end.Lng-start.Lng)*eased,
			}
			if j == pointsPerSegment {
				p = end
			} else {
				texture := math.Sin(t*math.Pi) * textureAmplitude
				p.Lat += perpLat * texture
				p.Lng += perpLng * texture
			}
			points = append(points, p)
		}
	}
	return points
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}
