package topology

import "transit-tracker/internal/geo"

// ShapeCandidates returns routes that have enough stops to describe a path.
func (idx *Index) ShapeCandidates() []Route {
	var out []Route
	for _, id := range idx.routeIDs {
		if r := idx.routes[id]; len(r.Stops) >= 2 {
			out = append(out, r)
		}
	}
	return out
}

// AttachShape stores a road-following polyline for a route. It reports false
// for unknown routes or polylines with fewer than two points.
func (idx *Index) AttachShape(routeID string, pts []geo.Coordinate) bool {
	if _, ok := idx.routes[routeID]; !ok || len(pts) < 2 {
		return false
	}
	idx.shapeMu.Lock()
	idx.shapes[routeID] = append([]geo.Coordinate(nil), pts...)
	idx.shapeMu.Unlock()
	return true
}

// Polyline returns the best polyline for display: the resolved road shape if
// one was attached, else the straight stop-to-stop line. resolved tells which.
func (idx *Index) Polyline(routeID string) (pts []geo.Coordinate, resolved bool) {
	r, ok := idx.routes[routeID]
	if !ok {
		return nil, false
	}
	idx.shapeMu.RLock()
	shape, ok := idx.shapes[routeID]
	idx.shapeMu.RUnlock()
	if ok {
		return append([]geo.Coordinate(nil), shape...), true
	}
	pts = make([]geo.Coordinate, 0, len(r.Stops))
	for _, s := range r.Stops {
		pts = append(pts, s.Coordinate)
	}
	return pts, false
}
