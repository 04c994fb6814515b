package topology

import (
	"sort"
	"sync"

	"github.com/tidwall/rtree"

	"transit-tracker/internal/geo"
)

// Index is the derived lookup structure over a route table. Everything except
// route shapes is immutable after Build returns.
type Index struct {
	routes     map[string]Route
	routeIDs   []string            // sorted
	stopRoutes map[string][]string // stop name -> route ids, in build order
	stops      []Stop              // unique by name, first-seen order
	stopByName map[string]Stop
	stopTree   *rtree.RTree

	shapeMu sync.RWMutex
	shapes  map[string][]geo.Coordinate // route id -> resolved road shape
}

// Empty returns an index with no routes.
func Empty() *Index {
	return Build(nil)
}

// Build indexes routes by stop name. Routes are walked in route id order so the
// result is deterministic for identical input. Map keys win over Route.ID.
func Build(routes map[string]Route) *Index {
	idx := &Index{
		routes:     make(map[string]Route, len(routes)),
		stopRoutes: make(map[string][]string),
		stopByName: make(map[string]Stop),
		stopTree:   &rtree.RTree{},
		shapes:     make(map[string][]geo.Coordinate),
	}
	for id := range routes {
		idx.routeIDs = append(idx.routeIDs, id)
	}
	sort.Strings(idx.routeIDs)

	for _, id := range idx.routeIDs {
		r := routes[id]
		r.ID = id
		r.Stops = append([]Stop(nil), r.Stops...)
		idx.routes[id] = r

		for _, s := range r.Stops {
			ids, seen := idx.stopRoutes[s.Name]
			if !seen {
				idx.stops = append(idx.stops, s)
				idx.stopByName[s.Name] = s
				pt := [2]float64{s.Coordinate.Lat, s.Coordinate.Lng}
				idx.stopTree.Insert(pt, pt, s)
			}
			// a loop route visits a stop twice; keep the set semantics
			if n := len(ids); n > 0 && ids[n-1] == id {
				continue
			}
			idx.stopRoutes[s.Name] = append(ids, id)
		}
	}
	return idx
}

func (idx *Index) Route(id string) (Route, bool) {
	r, ok := idx.routes[id]
	return r, ok
}

// Routes returns every route sorted by id.
func (idx *Index) Routes() []Route {
	out := make([]Route, 0, len(idx.routeIDs))
	for _, id := range idx.routeIDs {
		out = append(out, idx.routes[id])
	}
	return out
}

// RoutesForStop returns the ids of routes serving the named stop. Matching is
// exact and case-sensitive.
func (idx *Index) RoutesForStop(name string) ([]string, bool) {
	ids, ok := idx.stopRoutes[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ids...), true
}

// Stop returns the first-seen stop registered under name.
func (idx *Index) Stop(name string) (Stop, bool) {
	s, ok := idx.stopByName[name]
	return s, ok
}

// Stops returns the stop catalogue in first-seen order.
func (idx *Index) Stops() []Stop {
	return append([]Stop(nil), idx.stops...)
}

func (idx *Index) RouteCount() int { return len(idx.routes) }

func (idx *Index) StopCount() int { return len(idx.stops) }

// StopsNear returns stops within radius meters of c, nearest first. The box
// prefilter is split at the antimeridian.
func (idx *Index) StopsNear(c geo.Coordinate, radius float64) []StopDistance {
	b := geo.BoundsAround(c, radius)
	var out []StopDistance
	seen := make(map[string]bool)
	for _, lng := range b.LngRanges() {
		idx.stopTree.Search(
			[2]float64{b.MinLat, lng[0]},
			[2]float64{b.MaxLat, lng[1]},
			func(min, max [2]float64, data interface{}) bool {
				s, ok := data.(Stop)
				if !ok || seen[s.Name] {
					return true
				}
				if d := geo.DistanceMeters(c, s.Coordinate); d <= radius {
					seen[s.Name] = true
					out = append(out, StopDistance{Stop: s, DistanceMeters: d})
				}
				return true
			},
		)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].Name < out[j].Name
	})
	return out
}
