package eta

import (
	"fmt"
	"math"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
)

const (
	// DefaultMinSpeedKmh stands in for live speed when a vehicle is crawling or
	// stopped.
	DefaultMinSpeedKmh = 30.0
	// DefaultArrivedMeters applies to a vehicle at its nearest known stop.
	DefaultArrivedMeters = 50.0
	// DefaultArrivingMeters applies to a vehicle approaching a trip's start stop.
	DefaultArrivingMeters = 100.0
)

const (
	LabelArrived  = "Arrived"
	LabelArriving = "Arriving"
	LabelUnknown  = "--"
)

// Threshold is a proximity cut-off and the label used inside it.
type Threshold struct {
	Meters float64
	Label  string
}

// Thresholds carries the call-site specific configuration.
type Thresholds struct {
	MinSpeedKmh float64
	Arrived     Threshold
	Arriving    Threshold
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSpeedKmh: DefaultMinSpeedKmh,
		Arrived:     Threshold{Meters: DefaultArrivedMeters, Label: LabelArrived},
		Arriving:    Threshold{Meters: DefaultArrivingMeters, Label: LabelArriving},
	}
}

type Estimate struct {
	Label   string  `json:"label"`
	Seconds float64 `json:"seconds"`
	Minutes int     `json:"minutes"`
	Near    bool    `json:"near"`
}

// Compute turns a distance and instantaneous speed into an arrival estimate.
// Minutes are rounded up.
func Compute(distanceMeters, speedKmh, minSpeedKmh float64, th Threshold) Estimate {
	if distanceMeters < 0 || math.IsNaN(distanceMeters) {
		distanceMeters = 0
	}
	speed := speedKmh
	if math.IsNaN(speed) || speed < minSpeedKmh {
		speed = minSpeedKmh
	}
	var seconds float64
	if speed > 0 {
		seconds = distanceMeters * 3600 / (speed * 1000)
	}
	est := Estimate{Seconds: seconds, Minutes: int(math.Ceil(seconds / 60))}
	if distanceMeters < th.Meters {
		est.Label = th.Label
		est.Near = true
		return est
	}
	est.Label = fmt.Sprintf("%d min", est.Minutes)
	return est
}

// AtStop estimates with the at-stop threshold.
func (t Thresholds) AtStop(distanceMeters, speedKmh float64) Estimate {
	return Compute(distanceMeters, speedKmh, t.MinSpeedKmh, t.Arrived)
}

// Approaching estimates with the approaching-start-stop threshold.
func (t Thresholds) Approaching(distanceMeters, speedKmh float64) Estimate {
	return Compute(distanceMeters, speedKmh, t.MinSpeedKmh, t.Arriving)
}

// NearestStop returns the route stop closest to from. Ties go to the stop that
// comes first in route order.
func NearestStop(route topology.Route, from geo.Coordinate) (topology.Stop, float64, bool) {
	if len(route.Stops) == 0 {
		return topology.Stop{}, 0, false
	}
	best := 0
	bestDist := geo.DistanceMeters(from, route.Stops[0].Coordinate)
	for i := 1; i < len(route.Stops); i++ {
		if d := geo.DistanceMeters(from, route.Stops[i].Coordinate); d < bestDist {
			best, bestDist = i, d
		}
	}
	return route.Stops[best], bestDist, true
}
