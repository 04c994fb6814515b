package trips

import (
	"sort"

	"transit-tracker/internal/eta"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
)

type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonUnknownStop      Reason = "unknown_stop"
	ReasonNoRoute          Reason = "no_route"
	ReasonNoActiveVehicles Reason = "no_active_vehicles"
)

// Message is the text the dashboard shows for an empty result.
func (r Reason) Message() string {
	switch r {
	case ReasonUnknownStop:
		return "Unknown stop."
	case ReasonNoRoute:
		return "No direct route found."
	case ReasonNoActiveVehicles:
		return "Route exists, but no buses active."
	}
	return ""
}

type Trip struct {
	Vehicle        fleet.TrackedVehicle `json:"vehicle"`
	Route          topology.Route       `json:"route"`
	DistanceMeters float64              `json:"distanceMeters"`
	ETA            eta.Estimate         `json:"eta"`
}

type Result struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Reason   Reason   `json:"reason"`
	RouteIDs []string `json:"routeIds"`
	Trips    []Trip   `json:"trips"`
}

// Find lists live vehicles on a route that serves both stops, soonest at the
// start stop first. Vehicles count as on a route by route id alone.
func Find(from, to string, vehicles []fleet.TrackedVehicle, idx *topology.Index, th eta.Thresholds) Result {
	res := Result{From: from, To: to, RouteIDs: []string{}, Trips: []Trip{}}

	startRoutes, okStart := idx.RoutesForStop(from)
	endRoutes, okEnd := idx.RoutesForStop(to)
	if !okStart || !okEnd {
		res.Reason = ReasonUnknownStop
		return res
	}

	serves := make(map[string]bool, len(endRoutes))
	for _, id := range endRoutes {
		serves[id] = true
	}
	candidates := make(map[string]bool)
	for _, id := range startRoutes {
		if serves[id] {
			candidates[id] = true
			res.RouteIDs = append(res.RouteIDs, id)
		}
	}
	if len(candidates) == 0 {
		res.Reason = ReasonNoRoute
		return res
	}

	start, _ := idx.Stop(from)
	for _, v := range vehicles {
		if !candidates[v.RouteID] {
			continue
		}
		route, _ := idx.Route(v.RouteID)
		d := geo.DistanceMeters(v.Displayed, start.Coordinate)
		res.Trips = append(res.Trips, Trip{
			Vehicle:        v,
			Route:          route,
			DistanceMeters: d,
			ETA:            th.Approaching(d, v.SpeedKmh),
		})
	}
	if len(res.Trips) == 0 {
		res.Reason = ReasonNoActiveVehicles
		return res
	}

	sort.SliceStable(res.Trips, func(i, j int) bool {
		a, b := res.Trips[i], res.Trips[j]
		if a.ETA.Seconds != b.ETA.Seconds {
			return a.ETA.Seconds < b.ETA.Seconds
		}
		return a.Vehicle.VehicleID < b.Vehicle.VehicleID
	})
	res.Reason = ReasonOK
	return res
}
