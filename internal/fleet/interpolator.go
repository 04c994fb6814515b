package fleet

import (
	"sort"
	"time"

	"transit-tracker/internal/geo"
)

// Frame is one displayed-position update produced by an animation tick.
type Frame struct {
	VehicleID  string         `json:"vehicleId"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Done       bool           `json:"done"`
}

type transition struct {
	from, to geo.Coordinate
	start    time.Time
	duration time.Duration
}

func (t *transition) at(now time.Time) (geo.Coordinate, bool) {
	frac := float64(now.Sub(t.start)) / float64(t.duration)
	if frac >= 1 {
		return t.to, true
	}
	return geo.Lerp(t.from, t.to, frac), false
}

// Interpolator keeps at most one in-flight transition per vehicle. It is not
// safe for concurrent use; the Reconciler serialises access.
type Interpolator struct {
	inFlight map[string]*transition // vehicleID -> transition
}

func NewInterpolator() *Interpolator {
	return &Interpolator{inFlight: make(map[string]*transition)}
}

// Animate starts a transition from -> to beginning at now, replacing any
// transition already in flight for id. It reports whether one was replaced.
// A non-positive duration only cancels.
func (ip *Interpolator) Animate(id string, from, to geo.Coordinate, d time.Duration, now time.Time) bool {
	_, preempted := ip.inFlight[id]
	delete(ip.inFlight, id)
	if d <= 0 {
		return preempted
	}
	ip.inFlight[id] = &transition{from: from, to: to, start: now, duration: d}
	return preempted
}

// Position samples the in-flight transition for id at now.
func (ip *Interpolator) Position(id string, now time.Time) (geo.Coordinate, bool) {
	t, ok := ip.inFlight[id]
	if !ok {
		return geo.Coordinate{}, false
	}
	c, _ := t.at(now)
	return c, true
}

// Cancel drops the transition for id. Cancelling a finished or unknown
// transition is a no-op.
func (ip *Interpolator) Cancel(id string) bool {
	_, ok := ip.inFlight[id]
	delete(ip.inFlight, id)
	return ok
}

// Tick advances every transition to now. Finished transitions emit a final
// frame at their exact target and are removed.
func (ip *Interpolator) Tick(now time.Time) []Frame {
	if len(ip.inFlight) == 0 {
		return nil
	}
	frames := make([]Frame, 0, len(ip.inFlight))
	for id, t := range ip.inFlight {
		c, done := t.at(now)
		frames = append(frames, Frame{VehicleID: id, Coordinate: c, Done: done})
		if done {
			delete(ip.inFlight, id)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].VehicleID < frames[j].VehicleID })
	return frames
}

func (ip *Interpolator) Active() int { return len(ip.inFlight) }
