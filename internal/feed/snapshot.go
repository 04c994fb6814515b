package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
)

// ErrNotSnapshot means the payload was delivered but is not a vehicle array.
// Callers treat it like a transport failure and keep the current fleet.
var ErrNotSnapshot = errors.New("payload is not a vehicle array")

const (
	FormatJSON   = "json"
	FormatGTFSRT = "gtfsrt"
)

// Snapshot is one successful poll. An empty Entries slice is a valid empty fleet.
type Snapshot struct {
	Entries []fleet.Entry
	Skipped int
}

// SnapshotSource returns a full snapshot per call, or an error when no
// snapshot could be obtained this cycle.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
	Name() string
}

// Position is one row of the /buses/live payload.
type Position struct {
	VehicleID  string   `json:"vehicle_id" validate:"required"`
	RouteID    string   `json:"route_id" validate:"required"`
	Lat        *float64 `json:"lat" validate:"required,latitude"`
	Lng        *float64 `json:"lng" validate:"required,longitude"`
	Speed      *float64 `json:"speed" validate:"omitempty,gte=0"`
	LastUpdate string   `json:"last_update,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Entry validates p and converts it.
func (p Position) Entry() (fleet.Entry, error) {
	if err := validate.Struct(p); err != nil {
		return fleet.Entry{}, err
	}
	e := fleet.Entry{
		VehicleID:  p.VehicleID,
		RouteID:    p.RouteID,
		Coordinate: geo.Coordinate{Lat: *p.Lat, Lng: *p.Lng},
		Timestamp:  parseTimestamp(p.LastUpdate),
	}
	if p.Speed != nil {
		e.SpeedKmh = *p.Speed
	}
	return e, nil
}

// BuildSnapshot converts positions, skipping the invalid ones.
func BuildSnapshot(positions []Position) Snapshot {
	snap := Snapshot{Entries: make([]fleet.Entry, 0, len(positions))}
	for _, p := range positions {
		e, err := p.Entry()
		if err != nil {
			snap.Skipped++
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap
}

// DecodeJSONSnapshot decodes a JSON array of positions entry by entry, so one
// malformed element does not sink the batch.
func DecodeJSONSnapshot(b []byte) (Snapshot, error) {
	if t := bytes.TrimSpace(b); len(t) == 0 || t[0] != '[' {
		return Snapshot{}, ErrNotSnapshot
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	positions := make([]Position, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var p Position
		if err := json.Unmarshal(r, &p); err != nil {
			skipped++
			continue
		}
		positions = append(positions, p)
	}
	snap := BuildSnapshot(positions)
	snap.Skipped += skipped
	return snap, nil
}

// DocumentSnapshots polls a JSON or GTFS-RT document from a URL or file.
type DocumentSnapshots struct {
	Location string
	Format   string
	Client   *http.Client
}

func (s *DocumentSnapshots) Name() string { return s.Location }

func (s *DocumentSnapshots) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	b, err := fetchBytes(ctx, httpClient(s.Client), s.Location)
	if err != nil {
		return Snapshot{}, err
	}
	if s.Format == FormatGTFSRT {
		return DecodeGTFSRTSnapshot(b)
	}
	return DecodeJSONSnapshot(b)
}
