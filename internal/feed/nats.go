package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"transit-tracker/internal/fleet"
)

// PositionMessage is the per-trip JSON the GTFS simulator publishes on
// "<route>.<trip>" subjects.
type PositionMessage struct {
	TripID    string    `json:"tripId"`
	RouteID   string    `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	Progress  float64   `json:"progress"`
	SpeedMps  float64   `json:"speedMps"`
}

type seenPosition struct {
	entry    fleet.Entry
	received time.Time
}

// NATSListener folds streamed per-vehicle positions into snapshots. Each
// FetchSnapshot returns every vehicle heard from within staleAfter.
type NATSListener struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	subject    string
	ignore     string // subject prefix of our own notifications
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.Mutex
	latest map[string]seenPosition // vehicleID -> last message
	bad    int
}

func newNATSListener(subject string, staleAfter time.Duration) *NATSListener {
	return &NATSListener{
		subject:    subject,
		staleAfter: staleAfter,
		now:        time.Now,
		latest:     make(map[string]seenPosition),
	}
}

// NewNATSListener subscribes to subject. Messages under ignorePrefix (the
// tracker's own fleet notifications) are dropped; empty ignores nothing.
func NewNATSListener(url, subject string, staleAfter time.Duration, ignorePrefix string) (*NATSListener, error) {
	l := newNATSListener(subject, staleAfter)
	l.ignore = ignorePrefix
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker-positions"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats positions disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats positions reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	sub, err := nc.Subscribe(subject, l.handle)
	if err != nil {
		nc.Close()
		return nil, err
	}
	l.nc = nc
	l.sub = sub
	log.Printf("listening for positions on nats subject %s", subject)
	return l, nil
}

func (l *NATSListener) Name() string { return "nats:" + l.subject }

func (l *NATSListener) handle(m *nats.Msg) {
	if l.ignore != "" && strings.HasPrefix(m.Subject, l.ignore+".") {
		return
	}
	var pm PositionMessage
	if err := json.Unmarshal(m.Data, &pm); err != nil {
		l.mu.Lock()
		l.bad++
		l.mu.Unlock()
		return
	}
	lat, lng, speed := pm.Lat, pm.Lon, pm.SpeedMps*3.6
	p := Position{VehicleID: pm.TripID, RouteID: pm.RouteID, Lat: &lat, Lng: &lng, Speed: &speed}
	if !pm.Timestamp.IsZero() {
		p.LastUpdate = pm.Timestamp.Format(time.RFC3339Nano)
	}
	e, err := p.Entry()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.bad++
		return
	}
	l.latest[e.VehicleID] = seenPosition{entry: e, received: l.now()}
}

// FetchSnapshot returns an error while disconnected so the fleet is kept
// rather than evicted.
func (l *NATSListener) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if l.nc != nil && !l.nc.IsConnected() {
		return Snapshot{}, errors.New("nats not connected")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{Entries: make([]fleet.Entry, 0, len(l.latest)), Skipped: l.bad}
	l.bad = 0
	for id, sp := range l.latest {
		if l.staleAfter > 0 && now.Sub(sp.received) > l.staleAfter {
			delete(l.latest, id)
			continue
		}
		snap.Entries = append(snap.Entries, sp.entry)
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].VehicleID < snap.Entries[j].VehicleID })
	return snap, nil
}

func (l *NATSListener) Close() {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
	if l.nc != nil {
		l.nc.Close()
	}
}
