package eta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
)

func TestCompute(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name      string
		dist      float64
		speed     float64
		arriving  bool
		wantLabel string
		wantSec   float64
	}{
		{"zero distance arrives", 0, 0, false, "Arrived", 0},
		{"10m at 40kmh arrived", 10, 40, false, "Arrived", 0.9},
		{"10m at 40kmh arriving", 10, 40, true, "Arriving", 0.9},
		{"60m is past arrived threshold", 60, 30, false, "1 min", 7.2},
		{"60m still arriving", 60, 30, true, "Arriving", 7.2},
		{"speed floor applies", 1000, 5, false, "2 min", 120},
		{"live speed above floor", 1000, 60, false, "1 min", 60},
		{"minutes round up", 1001, 60, false, "2 min", 60.06},
		{"stationary vehicle uses floor", 3000, 0, true, "6 min", 360},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Estimate
			if tt.arriving {
				got = th.Approaching(tt.dist, tt.speed)
			} else {
				got = th.AtStop(tt.dist, tt.speed)
			}
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.InDelta(t, tt.wantSec, got.Seconds, 1e-9)
		})
	}
}

func TestThresholds_PickTheirCutOff(t *testing.T) {
	th := Thresholds{
		MinSpeedKmh: 20,
		Arrived:     Threshold{Meters: 10, Label: "At stop"},
		Arriving:    Threshold{Meters: 300, Label: "Soon"},
	}
	assert.Equal(t, "1 min", th.AtStop(200, 20).Label)
	assert.Equal(t, "Soon", th.Approaching(200, 20).Label)
	assert.Equal(t, "At stop", th.AtStop(5, 20).Label)
	assert.InDelta(t, 36.0, th.AtStop(200, 0).Seconds, 1e-9)
}

func TestCompute_ConfigurableThreshold(t *testing.T) {
	got := Compute(150, 30, 30, Threshold{Meters: 200, Label: "Here"})
	assert.Equal(t, "Here", got.Label)
	assert.True(t, got.Near)

	got = Compute(150, 30, 30, Threshold{Meters: 0, Label: "Here"})
	assert.Equal(t, "1 min", got.Label)
	assert.False(t, got.Near)
}

func TestCompute_Monotonic(t *testing.T) {
	th := DefaultThresholds()

	prev := -1.0
	for d := 0.0; d <= 20000; d += 137 {
		s := th.Approaching(d, 42).Seconds
		assert.GreaterOrEqual(t, s, prev, "non-decreasing in distance at d=%v", d)
		prev = s
	}

	prev = th.Approaching(5000, 30).Seconds
	for v := 31.0; v <= 120; v += 3.5 {
		s := th.Approaching(5000, v).Seconds
		assert.LessOrEqual(t, s, prev, "non-increasing in speed at v=%v", v)
		prev = s
	}
}

func TestNearestStop(t *testing.T) {
	route := topology.Route{ID: "R1", Stops: []topology.Stop{
		{Name: "A", Coordinate: geo.Coordinate{Lat: 31.630, Lng: 74.870}},
		{Name: "B", Coordinate: geo.Coordinate{Lat: 31.640, Lng: 74.880}},
		{Name: "C", Coordinate: geo.Coordinate{Lat: 31.650, Lng: 74.890}},
	}}

	s, d, ok := NearestStop(route, geo.Coordinate{Lat: 31.6399, Lng: 74.8801})
	require.True(t, ok)
	assert.Equal(t, "B", s.Name)
	assert.Less(t, d, 50.0)

	_, _, ok = NearestStop(topology.Route{ID: "empty"}, geo.Coordinate{})
	assert.False(t, ok)
}

func TestNearestStop_TieGoesToEarliest(t *testing.T) {
	same := geo.Coordinate{Lat: 10, Lng: 10}
	route := topology.Route{ID: "loop", Stops: []topology.Stop{
		{Name: "Far", Coordinate: geo.Coordinate{Lat: 11, Lng: 11}},
		{Name: "First", Coordinate: same},
		{Name: "Second", Coordinate: same},
	}}
	s, _, ok := NearestStop(route, geo.Coordinate{Lat: 10.001, Lng: 10})
	require.True(t, ok)
	assert.Equal(t, "First", s.Name)
}
