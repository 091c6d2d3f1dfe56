package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name             string
		lat1, lon1       float64
		lat2, lon2       float64
		wantMeters       float64
		tolerancePercent float64
	}{
		{
			name: "Singapore CBD to Changi Airport",
			lat1: 1.2830, lon1: 103.8513,
			lat2: 1.3644, lon2: 103.9915,
			wantMeters:       18_023,
			tolerancePercent: 1,
		},
		{
			name: "London to Paris",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 48.8566, lon2: 2.3522,
			wantMeters:       343_500,
			tolerancePercent: 1,
		},
		{
			name: "Short distance (~100m)",
			lat1: 1.3521, lon1: 103.8198,
			lat2: 1.3530, lon2: 103.8198,
			wantMeters:       100,
			tolerancePercent: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InEpsilon(t, tt.wantMeters, got, tt.tolerancePercent/100)
		})
	}

	assert.Zero(t, Haversine(1.3521, 103.8198, 1.3521, 103.8198))
}

func TestPointToSegmentDist(t *testing.T) {
	tests := []struct {
		name       string
		pLat, pLon float64
		aLat, aLon float64
		bLat, bLon float64
		wantRatio  float64
		maxDistM   float64
	}{
		{
			name: "Point at start of segment",
			pLat: 1.3500, pLon: 103.8200,
			aLat: 1.3500, aLon: 103.8200,
			bLat: 1.3600, bLon: 103.8200,
			wantRatio: 0.0,
			maxDistM:  1,
		},
		{
			name: "Point at end of segment",
			pLat: 1.3600, pLon: 103.8200,
			aLat: 1.3500, aLon: 103.8200,
			bLat: 1.3600, bLon: 103.8200,
			wantRatio: 1.0,
			maxDistM:  1,
		},
		{
			name: "Point at midpoint perpendicular",
			pLat: 1.3550, pLon: 103.8210,
			aLat: 1.3500, aLon: 103.8200,
			bLat: 1.3600, bLon: 103.8200,
			wantRatio: 0.5,
			maxDistM:  200,
		},
		{
			name: "Point beyond the end clamps",
			pLat: 1.3700, pLon: 103.8200,
			aLat: 1.3500, aLon: 103.8200,
			bLat: 1.3600, bLon: 103.8200,
			wantRatio: 1.0,
			maxDistM:  1200,
		},
		{
			name: "Degenerate segment (A == B)",
			pLat: 1.3500, pLon: 103.8210,
			aLat: 1.3500, aLon: 103.8200,
			bLat: 1.3500, bLon: 103.8200,
			wantRatio: 0.0,
			maxDistM:  200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, ratio := PointToSegmentDist(tt.pLat, tt.pLon, tt.aLat, tt.aLon, tt.bLat, tt.bLon)
			assert.LessOrEqual(t, dist, tt.maxDistM)
			assert.InDelta(t, tt.wantRatio, ratio, 0.05)
		})
	}
}

func TestTurnAngle(t *testing.T) {
	straight := TurnAngle(1.0, 103.0, 1.0, 103.01, 1.0, 103.02)
	assert.InDelta(t, 0, straight, 1)

	uTurn := TurnAngle(1.0, 103.0, 1.0, 103.01, 1.0, 103.0)
	assert.InDelta(t, 180, abs(uTurn), 1)

	// Heading east then north is a left turn.
	left := TurnAngle(1.0, 103.0, 1.0, 103.01, 1.01, 103.01)
	assert.InDelta(t, 90, left, 1)
	right := TurnAngle(1.0, 103.0, 1.0, 103.01, 0.99, 103.01)
	assert.InDelta(t, -90, right, 1)
}

func TestInterpolateAndLength(t *testing.T) {
	lat, lon := Interpolate(0.5, 1.0, 103.0, 1.0, 103.02)
	assert.InDelta(t, 1.0, lat, 1e-4)
	assert.InDelta(t, 103.01, lon, 1e-6)

	total := PolylineLength([]float64{1.0, 1.0, 1.0}, []float64{103.0, 103.01, 103.02})
	assert.InEpsilon(t, Haversine(1.0, 103.0, 1.0, 103.02), total, 1e-6)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func BenchmarkPointToSegmentDist(b *testing.B) {
	for b.Loop() {
		PointToSegmentDist(1.3550, 103.8210, 1.3500, 103.8200, 1.3600, 103.8200)
	}
}
