package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TrackedVehicles   prometheus.Gauge
	AnimatingVehicles prometheus.Gauge
	TopologyRoutes    prometheus.Gauge
	TopologyStops     prometheus.Gauge

	SnapshotsIngested prometheus.Counter
	PollFailures      *prometheus.CounterVec // source label
	EntriesSkipped    prometheus.Counter
	VehiclesAdded     prometheus.Counter
	VehiclesEvicted   prometheus.Counter
	Preempted         prometheus.Counter
	TripQueries       *prometheus.CounterVec // reason label
	ShapeFetches      *prometheus.CounterVec // result label: ok|error|superseded

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	IngestDuration  prometheus.Histogram
	PollDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
	Transition   prometheus.Gauge // seconds
}

func NewCollector(pollInterval, transition time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tracked_vehicles",
			Help: "Number of vehicles in the live set.",
		}),
		AnimatingVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_animating_vehicles",
			Help: "Number of vehicles with an in-flight transition.",
		}),
		TopologyRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_topology_routes",
			Help: "Routes in the loaded topology.",
		}),
		TopologyStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_topology_stops",
			Help: "Distinct stop names in the loaded topology.",
		}),
		SnapshotsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_snapshots_ingested_total",
			Help: "Total snapshots applied to the live set.",
		}),
		PollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_poll_failures_total",
			Help: "Polls that delivered no snapshot.",
		}, []string{"source"}),
		EntriesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_entries_skipped_total",
			Help: "Malformed snapshot entries dropped.",
		}),
		VehiclesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_vehicles_added_total",
			Help: "Vehicles first seen.",
		}),
		VehiclesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_vehicles_evicted_total",
			Help: "Vehicles removed because a snapshot no longer listed them.",
		}),
		Preempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_transitions_preempted_total",
			Help: "Transitions replaced before they finished.",
		}),
		TripQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_trip_queries_total",
			Help: "Trip queries by outcome.",
		}, []string{"reason"}),
		ShapeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_shape_fetches_total",
			Help: "Route shape requests by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_ingest_duration_seconds",
			Help:    "Time to apply one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_poll_duration_seconds",
			Help:    "Time to fetch one snapshot from the live source.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Poll interval in seconds.",
		}),
		Transition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_transition_seconds",
			Help: "Animation duration between snapshots in seconds.",
		}),
	}

	reg.MustRegister(
		c.TrackedVehicles, c.AnimatingVehicles, c.TopologyRoutes, c.TopologyStops,
		c.SnapshotsIngested, c.PollFailures, c.EntriesSkipped,
		c.VehiclesAdded, c.VehiclesEvicted, c.Preempted,
		c.TripQueries, c.ShapeFetches,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.IngestDuration, c.PollDuration, c.PublishDuration,
		c.PollInterval, c.Transition,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.Transition.Set(transition.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
