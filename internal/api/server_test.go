package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"transit-tracker/internal/engine"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
)

type staticTopology struct {
	routes map[string]topology.Route
	err    error
}

func (s staticTopology) Name() string { return "static" }
func (s staticTopology) FetchTopology(context.Context) (map[string]topology.Route, error) {
	return s.routes, s.err
}

type noLive struct{}

func (noLive) Name() string { return "none" }
func (noLive) FetchSnapshot(context.Context) (feed.Snapshot, error) {
	return feed.Snapshot{}, errors.New("unused")
}

func stop(name string, lat, lng float64) topology.Stop {
	return topology.Stop{Name: name, Coordinate: geo.Coordinate{Lat: lat, Lng: lng}}
}

func newTestServer(t *testing.T, topo staticTopology) (*engine.Engine, http.Handler) {
	t.Helper()
	e := engine.New(engine.DefaultOptions(), topo, noLive{}, nil, nil, nil)
	_ = e.LoadTopology(context.Background())
	return e, New(e).Handler()
}

func sampleTopology() staticTopology {
	return staticTopology{routes: map[string]topology.Route{
		"R1": {ID: "R1", DisplayName: "Line 1", Stops: []topology.Stop{stop("A", 0, 0), stop("B", 0, 0.01), stop("C", 0, 0.02)}},
		"R2": {ID: "R2", DisplayName: "Line 2", Stops: []topology.Stop{stop("C", 0, 0.02), stop("D", 0.01, 0.02)}},
	}}
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func ingest(e *engine.Engine, entries ...fleet.Entry) {
	e.Ingest(feed.Snapshot{Entries: entries})
}

func entry(id, route string, lat, lng, speed float64) fleet.Entry {
	return fleet.Entry{VehicleID: id, RouteID: route, Coordinate: geo.Coordinate{Lat: lat, Lng: lng}, SpeedKmh: speed}
}

func TestVehicles(t *testing.T) {
	e, h := newTestServer(t, sampleTopology())
	ingest(e, entry("BUS-2", "R1", 0, 0.01, 30), entry("BUS-1", "R2", 0, 0.02, 20))

	var resp APIResponse[[]fleet.TrackedVehicle]
	require.Equal(t, http.StatusOK, get(t, h, "/vehicles", &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "BUS-1", resp.Data[0].VehicleID)
	assert.Equal(t, "BUS-2", resp.Data[1].VehicleID)
}

func TestVehicleStatus(t *testing.T) {
	e, h := newTestServer(t, sampleTopology())
	ingest(e, entry("BUS-1", "R1", 0, 0.0001, 30))

	var resp APIResponse[engine.VehicleStatus]
	require.Equal(t, http.StatusOK, get(t, h, "/vehicles/BUS-1", &resp))
	require.NotNil(t, resp.Data.NearestStop)
	assert.Equal(t, "A", resp.Data.NearestStop.Name)
	assert.Equal(t, "Arrived", resp.Data.ETA.Label)

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, get(t, h, "/vehicles/BUS-9", &errResp))
	assert.Equal(t, "vehicle not found", errResp.Error)
}

func TestTrips(t *testing.T) {
	e, h := newTestServer(t, sampleTopology())

	var resp APIResponse[tripsResponse]
	require.Equal(t, http.StatusOK, get(t, h, "/trips?from=A&to=C", &resp))
	assert.Equal(t, "no_active_vehicles", string(resp.Data.Reason))
	assert.Equal(t, "Route exists, but no buses active.", resp.Data.Message)

	ingest(e, entry("far", "R1", 0, 0.015, 30), entry("near", "R1", 0, 0.001, 30))
	resp = APIResponse[tripsResponse]{}
	require.Equal(t, http.StatusOK, get(t, h, "/trips?from=A&to=C", &resp))
	assert.Equal(t, "ok", string(resp.Data.Reason))
	assert.Empty(t, resp.Data.Message)
	require.Len(t, resp.Data.Trips, 2)
	assert.Equal(t, "near", resp.Data.Trips[0].Vehicle.VehicleID)

	resp = APIResponse[tripsResponse]{}
	get(t, h, "/trips?from=A&to=Z", &resp)
	assert.Equal(t, "unknown_stop", string(resp.Data.Reason))

	resp = APIResponse[tripsResponse]{}
	get(t, h, "/trips?from=A&to=D", &resp)
	assert.Equal(t, "no_route", string(resp.Data.Reason))
}

func TestRoutes(t *testing.T) {
	_, h := newTestServer(t, sampleTopology())

	var resp APIResponse[[]routeView]
	require.Equal(t, http.StatusOK, get(t, h, "/routes", &resp))
	require.Len(t, resp.Data, 2)
	r1 := resp.Data[0]
	assert.Equal(t, "R1", r1.ID)
	assert.Equal(t, "Line 1", r1.Name)
	assert.False(t, r1.ShapeResolved)

	coords, rest, err := polyline.DecodeCoords([]byte(r1.Shape))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 3)
	assert.InDelta(t, 0.02, coords[2][1], 1e-5)

	var one APIResponse[routeView]
	require.Equal(t, http.StatusOK, get(t, h, "/routes/R2", &one))
	assert.Len(t, one.Data.Stops, 2)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/routes/R9", nil))
}

func TestRoutesSurfacesTopologyError(t *testing.T) {
	_, h := newTestServer(t, staticTopology{err: errors.New("HTTP 500 from http://routes")})

	var errResp errorResponse
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/routes", &errResp))
	assert.Contains(t, errResp.Error, "HTTP 500")

	var health healthResponse
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Routes)
	assert.Contains(t, health.TopologyError, "HTTP 500")

	var stops APIResponse[[]topology.Stop]
	require.Equal(t, http.StatusOK, get(t, h, "/stops", &stops))
	assert.NotNil(t, stops.Data)
	assert.Empty(t, stops.Data)
}

func TestStops(t *testing.T) {
	_, h := newTestServer(t, sampleTopology())

	var all APIResponse[[]topology.Stop]
	require.Equal(t, http.StatusOK, get(t, h, "/stops", &all))
	names := make([]string, 0, len(all.Data))
	for _, s := range all.Data {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)

	var near APIResponse[[]topology.StopDistance]
	require.Equal(t, http.StatusOK, get(t, h, "/stops/nearby?lat=0&lng=0.0001", &near))
	require.Len(t, near.Data, 1)
	assert.Equal(t, "A", near.Data[0].Name)

	near = APIResponse[[]topology.StopDistance]{}
	require.Equal(t, http.StatusOK, get(t, h, "/stops/nearby?lat=0&lng=0.005&radius=2000", &near))
	assert.Len(t, near.Data, 3)
}

func TestBadParams(t *testing.T) {
	_, h := newTestServer(t, sampleTopology())
	for _, target := range []string{
		"/stops/nearby?lat=x&lng=0",
		"/stops/nearby?lat=0",
		"/stops/nearby?lat=0&lng=0&radius=-5",
		"/stops/nearby?lat=95&lng=0",
		"/eta?distance=abc&speed=30",
		"/eta?distance=100",
		"/eta?distance=-1&speed=30",
		"/eta?distance=100&speed=30&threshold=soon",
		"/eta?distance=NaN&speed=40",
		"/eta?distance=100&speed=NaN",
		"/eta?distance=Inf&speed=40",
		"/stops/nearby?lat=NaN&lng=0",
		"/stops/nearby?lat=0&lng=0&radius=NaN",
		"/stops/nearby?lat=0&lng=0&radius=Inf",
	} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(t, h, target, nil))
		})
	}
}

func TestETA(t *testing.T) {
	_, h := newTestServer(t, sampleTopology())

	tests := []struct {
		target string
		label  string
	}{
		{"/eta?distance=1000&speed=60", "1 min"},
		{"/eta?distance=1000&speed=10", "2 min"},
		{"/eta?distance=80&speed=30", "Arriving"},
		{"/eta?distance=80&speed=30&threshold=arrived", "1 min"},
		{"/eta?distance=40&speed=30&threshold=arrived", "Arrived"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			var resp APIResponse[struct {
				Label string `json:"label"`
			}]
			require.Equal(t, http.StatusOK, get(t, h, tt.target, &resp))
			assert.Equal(t, tt.label, resp.Data.Label)
		})
	}
}

func TestOptionsPreflight(t *testing.T) {
	_, h := newTestServer(t, sampleTopology())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/vehicles", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTripsMatchStopNamesExactly(t *testing.T) {
	e, h := newTestServer(t, staticTopology{routes: map[string]topology.Route{
		"R3": {ID: "R3", DisplayName: "Line 3", Stops: []topology.Stop{stop(" Depot ", 0, 0), stop("E", 0, 0.01)}},
	}})
	ingest(e, entry("BUS-3", "R3", 0, 0.001, 30))

	var resp APIResponse[tripsResponse]
	require.Equal(t, http.StatusOK, get(t, h, "/trips?from=%20Depot%20&to=E", &resp))
	assert.Equal(t, "ok", string(resp.Data.Reason))
	assert.Equal(t, " Depot ", resp.Data.From)

	resp = APIResponse[tripsResponse]{}
	get(t, h, "/trips?from=Depot&to=E", &resp)
	assert.Equal(t, "unknown_stop", string(resp.Data.Reason))
}
