package topology

import "transit-tracker/internal/geo"

type Stop struct {
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Coordinate geo.Coordinate `json:"coordinate" yaml:"coordinate"`
}

// Route is static once built into an Index. Stops are in travel order.
type Route struct {
	ID          string `json:"routeId"`
	DisplayName string `json:"routeName"`
	Stops       []Stop `json:"stops"`
}

// StopDistance is a stop returned by a spatial query.
type StopDistance struct {
	Stop
	DistanceMeters float64 `json:"distanceMeters"`
}
