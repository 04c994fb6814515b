package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transit-tracker/internal/api"
	"transit-tracker/internal/config"
	"transit-tracker/internal/db"
	"transit-tracker/internal/engine"
	"transit-tracker/internal/eta"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/shape"
	"transit-tracker/internal/trips"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database error: %v", err)
		}
		defer sqlDB.Close()
	}

	client := &http.Client{}
	topoSrc := topologySource(cfg, sqlDB, client)

	var liveSrc feed.SnapshotSource
	switch cfg.LiveSource {
	case config.SourcePostgres:
		liveSrc = &db.Snapshots{DB: sqlDB, MaxAge: cfg.LiveMaxAge}
	case config.SourceNATS:
		l, err := feed.NewNATSListener(cfg.NATSURL, cfg.NATSPositionsSubject, cfg.NATSStaleAfter, cfg.NATSEventsPrefix)
		if err != nil {
			log.Fatalf("nats positions error: %v", err)
		}
		defer l.Close()
		liveSrc = l
	default:
		liveSrc = &feed.DocumentSnapshots{Location: cfg.LiveSource, Format: cfg.LiveFormat, Client: client}
	}
	log.Printf("topology from %s, live positions from %s", topoSrc.Name(), liveSrc.Name())

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.Transition)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	// Fleet notifications are optional; the tracker runs without NATS.
	var notifier engine.Notifier
	if cfg.NATSEventsPrefix != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, publisher.Options{
			Prefix:        cfg.NATSEventsPrefix,
			LogSubjects:   cfg.LogNATSSubjects,
			PublishFrames: cfg.PublishFrames,
		}, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Printf("nats notifications disabled: %v", err)
		} else {
			defer pub.Close()
			notifier = pub
		}
	}

	var shapes engine.ShapeResolver
	if cfg.ShapeServiceURL != "" {
		shapes = shape.NewClient(cfg.ShapeServiceURL, client)
	}

	eng := engine.New(engine.Options{
		PollInterval:  cfg.PollInterval,
		FetchTimeout:  cfg.FetchTimeout,
		FrameInterval: cfg.FrameInterval,
		Transition:    cfg.Transition,
		Thresholds: eta.Thresholds{
			MinSpeedKmh: cfg.MinSpeedKmh,
			Arrived:     eta.Threshold{Meters: cfg.ArrivedMeters, Label: eta.LabelArrived},
			Arriving:    eta.Threshold{Meters: cfg.ArrivingMeters, Label: eta.LabelArriving},
		},
	}, topoSrc, liveSrc, shapes, notifier, wrapEngineMetrics(mcol))

	apiSrv := api.New(eng).Serve(cfg.HTTPAddr)

	// Blocks until ctx is cancelled
	if err := eng.Run(ctx); err != nil {
		log.Printf("engine error: %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	_ = apiSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

func topologySource(cfg *config.Config, sqlDB *sql.DB, client *http.Client) feed.TopologySource {
	if cfg.TopologySource == config.SourcePostgres {
		return &db.Topology{DB: sqlDB}
	}
	return &feed.DocumentTopology{Location: cfg.TopologySource, Client: client}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapEngineMetrics(c *metrics.Collector) engine.Metrics {
	if c == nil {
		return nil
	}
	return &engineMetrics{c: c}
}

type engineMetrics struct{ c *metrics.Collector }

func (m *engineMetrics) SnapshotIngested(rep fleet.IngestReport, skipped, tracked int, d time.Duration) {
	m.c.SnapshotsIngested.Inc()
	m.c.EntriesSkipped.Add(float64(skipped))
	m.c.VehiclesAdded.Add(float64(len(rep.Added)))
	m.c.VehiclesEvicted.Add(float64(len(rep.Removed)))
	m.c.Preempted.Add(float64(rep.Preempted))
	m.c.TrackedVehicles.Set(float64(tracked))
	m.c.IngestDuration.Observe(d.Seconds())
}

func (m *engineMetrics) PollFailed(source string)      { m.c.PollFailures.WithLabelValues(source).Inc() }
func (m *engineMetrics) PollObserve(d time.Duration)   { m.c.PollDuration.Observe(d.Seconds()) }
func (m *engineMetrics) FramesTicked(animating int)    { m.c.AnimatingVehicles.Set(float64(animating)) }
func (m *engineMetrics) TripQuery(reason trips.Reason) { m.c.TripQueries.WithLabelValues(string(reason)).Inc() }
func (m *engineMetrics) ShapeFetched(result string)    { m.c.ShapeFetches.WithLabelValues(result).Inc() }
func (m *engineMetrics) TopologyLoaded(routes, stops int) {
	m.c.TopologyRoutes.Set(float64(routes))
	m.c.TopologyStops.Set(float64(stops))
}
