package publisher

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-tracker/internal/fleet"
)

type NATSPublisher struct {
	nc            *nats.Conn
	prefix        string
	logSubjects   bool
	publishFrames bool
	metrics       PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type Options struct {
	Prefix        string // subject prefix, e.g. "fleet"
	LogSubjects   bool
	PublishFrames bool
}

func NewNATSPublisher(url string, opts Options, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{
		nc:            nc,
		prefix:        subjectToken(opts.Prefix),
		logSubjects:   opts.LogSubjects,
		publishFrames: opts.PublishFrames,
		metrics:       m,
	}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// UpdatedMessage is published once per ingest cycle.
type UpdatedMessage struct {
	CycleID string    `json:"cycleId"`
	At      time.Time `json:"at"`
	Added   []string  `json:"added"`
	Updated []string  `json:"updated"`
	Tracked int       `json:"tracked"`
}

// RemovedMessage is published when a cycle evicted vehicles.
type RemovedMessage struct {
	CycleID string    `json:"cycleId"`
	At      time.Time `json:"at"`
	Removed []string  `json:"removed"`
}

type FramesMessage struct {
	At     time.Time     `json:"at"`
	Frames []fleet.Frame `json:"frames"`
}

func (p *NATSPublisher) VehiclesChanged(cycleID string, at time.Time, rep fleet.IngestReport, tracked int) error {
	err := p.publish("updated", UpdatedMessage{
		CycleID: cycleID,
		At:      at,
		Added:   nonNil(rep.Added),
		Updated: nonNil(rep.Updated),
		Tracked: tracked,
	})
	if len(rep.Removed) > 0 {
		if rerr := p.publish("removed", RemovedMessage{CycleID: cycleID, At: at, Removed: rep.Removed}); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (p *NATSPublisher) FramesTicked(at time.Time, frames []fleet.Frame) error {
	if !p.publishFrames || len(frames) == 0 {
		return nil
	}
	return p.publish("frames", FramesMessage{At: at, Frames: frames})
}

func (p *NATSPublisher) publish(kind string, msg any) error {
	subject := p.prefix + "." + kind
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
