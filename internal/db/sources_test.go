package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) sql.NullString    { return sql.NullString{String: s, Valid: true} }
func num(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

func TestAssembleRoutes(t *testing.T) {
	rows := []topologyRow{
		{RouteID: "AS-1", RouteName: "Red Line", StopName: str("Golden Temple"), Lat: num(31.62), Lng: num(74.8765)},
		{RouteID: "AS-1", RouteName: "Red Line", StopName: str("Hall Gate"), Lat: num(31.6318), Lng: num(74.8718)},
		{RouteID: "AS-1", RouteName: "Red Line", StopName: str("Ghost"), Lat: sql.NullFloat64{}, Lng: num(74.8)},
		{RouteID: "AS-2", RouteName: "", StopName: str("Hall Gate"), Lat: num(31.6318), Lng: num(74.8718)},
	}
	routes, skipped := assembleRoutes(rows)

	assert.Equal(t, 1, skipped)
	require.Len(t, routes, 2)
	assert.Equal(t, "Red Line", routes["AS-1"].DisplayName)
	require.Len(t, routes["AS-1"].Stops, 2)
	assert.Equal(t, "Golden Temple", routes["AS-1"].Stops[0].Name)
	assert.Equal(t, "Hall Gate", routes["AS-1"].Stops[1].Name)
	assert.Equal(t, "AS-2", routes["AS-2"].DisplayName)
}

func TestPositionFromRow(t *testing.T) {
	ts := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	p := positionFromRow(str("BUS-1"), str("AS-1"), num(31.6), num(74.8), sql.NullFloat64{}, sql.NullTime{Time: ts, Valid: true})

	e, err := p.Entry()
	require.NoError(t, err)
	assert.Equal(t, "BUS-1", e.VehicleID)
	assert.Equal(t, 0.0, e.SpeedKmh)
	assert.True(t, ts.Equal(e.Timestamp))

	p = positionFromRow(str("BUS-2"), sql.NullString{}, num(31.6), num(74.8), num(20), sql.NullTime{})
	_, err = p.Entry()
	assert.Error(t, err, "null route id fails validation")
}

// TestPostgresSources runs against a live database when TEST_DATABASE_URL is set.
func TestPostgresSources(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer conn.Close()

	_, err = (&Topology{DB: conn}).FetchTopology(ctx)
	require.NoError(t, err)
	_, err = (&Snapshots{DB: conn, MaxAge: time.Hour}).FetchSnapshot(ctx)
	require.NoError(t, err)
}

func TestConnectRejectsUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db ping")
}
