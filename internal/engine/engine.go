package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"transit-tracker/internal/eta"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
	"transit-tracker/internal/trips"
)

// Notifier receives fleet changes after each cycle. Errors are logged only.
type Notifier interface {
	VehiclesChanged(cycleID string, at time.Time, rep fleet.IngestReport, tracked int) error
	FramesTicked(at time.Time, frames []fleet.Frame) error
}

// ShapeResolver turns an ordered stop list into a road-following polyline.
type ShapeResolver interface {
	RouteShape(ctx context.Context, stops []geo.Coordinate) ([]geo.Coordinate, error)
}

type Metrics interface {
	SnapshotIngested(rep fleet.IngestReport, skipped, tracked int, d time.Duration)
	PollFailed(source string)
	PollObserve(d time.Duration)
	FramesTicked(animating int)
	TopologyLoaded(routes, stops int)
	TripQuery(reason trips.Reason)
	ShapeFetched(result string)
}

type Options struct {
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	FrameInterval time.Duration
	Transition    time.Duration
	Thresholds    eta.Thresholds
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  2 * time.Second,
		FetchTimeout:  5 * time.Second,
		FrameInterval: 50 * time.Millisecond,
		Transition:    fleet.DefaultTransition,
		Thresholds:    eta.DefaultThresholds(),
	}
}

type Engine struct {
	opts     Options
	topoSrc  feed.TopologySource
	liveSrc  feed.SnapshotSource
	shapes   ShapeResolver
	notifier Notifier
	metrics  Metrics

	fleet *fleet.Reconciler
	topo  *topology.Store

	// Single slot: a completed poll replaces any snapshot not yet ingested.
	mailbox chan feed.Snapshot

	errMu   sync.RWMutex
	topoErr error

	// stopped is set before Run waits for background work; no goroutine
	// starts after that.
	bgMu    sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	now func() time.Time
}

// New wires an engine. shapes, notifier and m may be nil.
func New(opts Options, topoSrc feed.TopologySource, liveSrc feed.SnapshotSource, shapes ShapeResolver, notifier Notifier, m Metrics) *Engine {
	if m == nil {
		m = nopMetrics{}
	}
	return &Engine{
		opts:     opts,
		topoSrc:  topoSrc,
		liveSrc:  liveSrc,
		shapes:   shapes,
		notifier: notifier,
		metrics:  m,
		fleet:    fleet.NewReconciler(opts.Transition),
		topo:     topology.NewStore(),
		mailbox:  make(chan feed.Snapshot, 1),
		now:      time.Now,
	}
}

// Run loads the topology once, then polls and animates until ctx is done.
// A topology failure is kept for TopologyError and does not stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.LoadTopology(ctx); err != nil {
		log.Printf("topology load error from %s: %v", e.topoSrc.Name(), err)
	}

	pollT := time.NewTicker(e.opts.PollInterval)
	defer pollT.Stop()
	frameT := time.NewTicker(e.opts.FrameInterval)
	defer frameT.Stop()

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.bgMu.Lock()
			e.stopped = true
			e.bgMu.Unlock()
			e.wg.Wait()
			return nil
		case <-pollT.C:
			e.poll(ctx)
		case snap := <-e.mailbox:
			e.Ingest(snap)
		case <-frameT.C:
			e.tick()
		}
	}
}

// LoadTopology fetches the static route table and swaps in a new index.
// On failure the current index stays in place. Safe to call from any
// goroutine; once Run has returned, shapes are no longer resolved.
func (e *Engine) LoadTopology(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	routes, err := e.topoSrc.FetchTopology(fctx)
	if err != nil {
		err = fmt.Errorf("load topology: %w", err)
		e.setTopologyError(err)
		return err
	}
	idx := topology.Build(routes)
	e.topo.Replace(idx)
	e.setTopologyError(nil)
	e.metrics.TopologyLoaded(idx.RouteCount(), idx.StopCount())
	log.Printf("topology loaded from %s: %d routes, %d stops", e.topoSrc.Name(), idx.RouteCount(), idx.StopCount())

	if e.shapes != nil {
		e.spawn(func() { e.resolveShapes(ctx, idx) })
	}
	return nil
}

func (e *Engine) setTopologyError(err error) {
	e.errMu.Lock()
	e.topoErr = err
	e.errMu.Unlock()
}

// TopologyError is the last topology load failure, nil after a success.
func (e *Engine) TopologyError() error {
	e.errMu.RLock()
	defer e.errMu.RUnlock()
	return e.topoErr
}

func (e *Engine) resolveShapes(ctx context.Context, idx *topology.Index) {
	for _, r := range idx.ShapeCandidates() {
		if ctx.Err() != nil {
			return
		}
		if e.topo.Load() != idx {
			e.metrics.ShapeFetched("superseded")
			return
		}
		stops := make([]geo.Coordinate, 0, len(r.Stops))
		for _, s := range r.Stops {
			stops = append(stops, s.Coordinate)
		}
		fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		pts, err := e.shapes.RouteShape(fctx, stops)
		cancel()
		if err != nil {
			e.metrics.ShapeFetched("error")
			log.Printf("shape error for route %s: %v", r.ID, err)
			continue
		}
		if e.topo.Load() != idx {
			e.metrics.ShapeFetched("superseded")
			return
		}
		if idx.AttachShape(r.ID, pts) {
			e.metrics.ShapeFetched("ok")
		}
	}
}

// poll starts one fetch. Fetches may overlap; whichever completes last is
// the one left in the mailbox.
func (e *Engine) poll(ctx context.Context) {
	e.spawn(func() {
		fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()

		start := time.Now()
		snap, err := e.liveSrc.FetchSnapshot(fctx)
		e.metrics.PollObserve(time.Since(start))
		if err != nil {
			if ctx.Err() == nil {
				e.metrics.PollFailed(e.liveSrc.Name())
				log.Printf("poll error from %s: %v", e.liveSrc.Name(), err)
			}
			return
		}
		e.deliver(snap)
	})
}

// spawn runs f in a tracked goroutine unless the engine has stopped.
func (e *Engine) spawn(f func()) bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.stopped {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		f()
	}()
	return true
}

func (e *Engine) deliver(snap feed.Snapshot) {
	for {
		select {
		case e.mailbox <- snap:
			return
		default:
		}
		select {
		case <-e.mailbox:
		default:
		}
	}
}

// Ingest applies one successful snapshot outside the poll loop as well.
func (e *Engine) Ingest(snap feed.Snapshot) fleet.IngestReport {
	now := e.now()
	start := time.Now()
	rep := e.fleet.Ingest(snap.Entries, now)
	tracked := e.fleet.Len()
	skipped := snap.Skipped + rep.Skipped
	e.metrics.SnapshotIngested(rep, skipped, tracked, time.Since(start))
	if skipped > 0 {
		log.Printf("skipped %d malformed entries from %s", skipped, e.liveSrc.Name())
	}
	if len(rep.Added) > 0 || len(rep.Removed) > 0 {
		log.Printf("fleet: %d tracked, %d added, %d removed", tracked, len(rep.Added), len(rep.Removed))
	}
	if e.notifier != nil {
		if err := e.notifier.VehiclesChanged(uuid.NewString(), now, rep, tracked); err != nil {
			log.Printf("notify error: %v", err)
		}
	}
	return rep
}

func (e *Engine) tick() []fleet.Frame {
	now := e.now()
	frames := e.fleet.Tick(now)
	e.metrics.FramesTicked(e.fleet.Animating())
	if e.notifier != nil && len(frames) > 0 {
		if err := e.notifier.FramesTicked(now, frames); err != nil {
			log.Printf("notify frames error: %v", err)
		}
	}
	return frames
}

type nopMetrics struct{}

func (nopMetrics) SnapshotIngested(fleet.IngestReport, int, int, time.Duration) {}
func (nopMetrics) PollFailed(string)                                             {}
func (nopMetrics) PollObserve(time.Duration)                                     {}
func (nopMetrics) FramesTicked(int)                                              {}
func (nopMetrics) TopologyLoaded(int, int)                                       {}
func (nopMetrics) TripQuery(trips.Reason)                                        {}
func (nopMetrics) ShapeFetched(string)                                           {}
