package engine

import (
	"transit-tracker/internal/eta"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/topology"
	"transit-tracker/internal/trips"
)

// VehicleStatus is what the detail card shows for one vehicle.
type VehicleStatus struct {
	Vehicle        fleet.TrackedVehicle `json:"vehicle"`
	RouteName      string               `json:"routeName,omitempty"`
	NearestStop    *topology.Stop       `json:"nearestStop"`
	DistanceMeters float64              `json:"distanceMeters"`
	ETA            eta.Estimate         `json:"eta"`
}

func (e *Engine) Topology() *topology.Index { return e.topo.Load() }

func (e *Engine) Thresholds() eta.Thresholds { return e.opts.Thresholds }

func (e *Engine) Vehicles() []fleet.TrackedVehicle { return e.fleet.Vehicles() }

func (e *Engine) Vehicle(id string) (fleet.TrackedVehicle, bool) { return e.fleet.Vehicle(id) }

func (e *Engine) Tracked() int { return e.fleet.Len() }

// VehicleStatus reports the nearest stop on the vehicle's route with the
// "Arrived" estimate. The stop is nil when the route is unknown or empty.
func (e *Engine) VehicleStatus(id string) (VehicleStatus, bool) {
	v, ok := e.fleet.Vehicle(id)
	if !ok {
		return VehicleStatus{}, false
	}
	st := VehicleStatus{Vehicle: v, ETA: eta.Estimate{Label: eta.LabelUnknown}}
	route, ok := e.topo.Load().Route(v.RouteID)
	if !ok {
		return st, true
	}
	st.RouteName = route.DisplayName
	stop, dist, ok := eta.NearestStop(route, v.Displayed)
	if !ok {
		return st, true
	}
	st.NearestStop = &stop
	st.DistanceMeters = dist
	st.ETA = e.opts.Thresholds.AtStop(dist, v.SpeedKmh)
	return st, true
}

func (e *Engine) FindTrips(from, to string) trips.Result {
	res := trips.Find(from, to, e.fleet.Vehicles(), e.topo.Load(), e.opts.Thresholds)
	e.metrics.TripQuery(res.Reason)
	return res
}
