package fleet

import (
	"sort"
	"sync"
	"time"

	"transit-tracker/internal/geo"
)

// DefaultTransition is long enough to cover a 1-2 s polling interval.
const DefaultTransition = 2000 * time.Millisecond

// Entry is one vehicle row of a snapshot.
type Entry struct {
	VehicleID  string
	RouteID    string
	Coordinate geo.Coordinate
	SpeedKmh   float64
	Timestamp  time.Time // zero means "at ingestion"
}

type TrackedVehicle struct {
	VehicleID  string         `json:"vehicleId"`
	RouteID    string         `json:"routeId"`
	LastKnown  geo.Coordinate `json:"lastKnown"`
	Displayed  geo.Coordinate `json:"displayed"`
	SpeedKmh   float64        `json:"speedKmh"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// IngestReport lists membership changes of one ingest cycle, each sorted by id.
type IngestReport struct {
	Added     []string
	Updated   []string
	Removed   []string
	Skipped   int
	Preempted int
}

// Reconciler is the only writer of the tracked vehicle set.
type Reconciler struct {
	transition time.Duration

	mu       sync.RWMutex
	vehicles map[string]*TrackedVehicle // vehicleID -> state
	interp   *Interpolator
}

func NewReconciler(transition time.Duration) *Reconciler {
	return &Reconciler{
		transition: transition,
		vehicles:   make(map[string]*TrackedVehicle),
		interp:     NewInterpolator(),
	}
}

// Ingest applies a successful snapshot. The whole snapshot is applied under
// one lock so readers see either the previous or the new fleet. An empty
// snapshot evicts every vehicle.
func (r *Reconciler) Ingest(snapshot []Entry, now time.Time) IngestReport {
	var rep IngestReport

	// last occurrence of an id wins
	last := make(map[string]int, len(snapshot))
	for i, e := range snapshot {
		if e.VehicleID == "" {
			rep.Skipped++
			continue
		}
		last[e.VehicleID] = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range snapshot {
		if e.VehicleID == "" || last[e.VehicleID] != i {
			continue
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = now
		}
		v, ok := r.vehicles[e.VehicleID]
		if !ok {
			r.vehicles[e.VehicleID] = &TrackedVehicle{
				VehicleID:  e.VehicleID,
				RouteID:    e.RouteID,
				LastKnown:  e.Coordinate,
				Displayed:  e.Coordinate,
				SpeedKmh:   e.SpeedKmh,
				LastUpdate: ts,
			}
			rep.Added = append(rep.Added, e.VehicleID)
			continue
		}

		// start from where the vehicle is drawn right now, not the old target
		if pos, inFlight := r.interp.Position(e.VehicleID, now); inFlight {
			v.Displayed = pos
		}
		v.RouteID = e.RouteID
		v.LastKnown = e.Coordinate
		v.SpeedKmh = e.SpeedKmh
		v.LastUpdate = ts
		if r.transition <= 0 {
			r.interp.Cancel(e.VehicleID)
			v.Displayed = v.LastKnown
		} else if r.interp.Animate(e.VehicleID, v.Displayed, v.LastKnown, r.transition, now) {
			rep.Preempted++
		}
		rep.Updated = append(rep.Updated, e.VehicleID)
	}

	for id := range r.vehicles {
		if _, present := last[id]; present {
			continue
		}
		r.interp.Cancel(id)
		delete(r.vehicles, id)
		rep.Removed = append(rep.Removed, id)
	}

	sort.Strings(rep.Added)
	sort.Strings(rep.Updated)
	sort.Strings(rep.Removed)
	return rep
}

// Tick advances animations and writes the displayed coordinates.
func (r *Reconciler) Tick(now time.Time) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := r.interp.Tick(now)
	for _, f := range frames {
		if v, ok := r.vehicles[f.VehicleID]; ok {
			v.Displayed = f.Coordinate
		}
	}
	return frames
}

// Vehicles returns a copy of the live set sorted by vehicle id.
func (r *Reconciler) Vehicles() []TrackedVehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackedVehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

func (r *Reconciler) Vehicle(id string) (TrackedVehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return TrackedVehicle{}, false
	}
	return *v, true
}

func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

// Animating returns the number of vehicles with a transition in flight.
func (r *Reconciler) Animating() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interp.Active()
}
