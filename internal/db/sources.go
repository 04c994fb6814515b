package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"transit-tracker/internal/feed"
	"transit-tracker/internal/topology"
)

type topologyRow struct {
	RouteID   string
	RouteName string
	StopName  sql.NullString
	Lat       sql.NullFloat64
	Lng       sql.NullFloat64
}

// Topology reads routes and their ordered stops from the routes/stops tables.
type Topology struct {
	DB *sql.DB
}

func (t *Topology) Name() string { return "postgres:routes" }

func (t *Topology) FetchTopology(ctx context.Context) (map[string]topology.Route, error) {
	q := `
SELECT r.route_id, COALESCE(r.route_name, ''), s.stop_name, s.latitude, s.longitude
FROM routes r
JOIN stops s ON r.route_id = s.route_id
ORDER BY r.route_id, s.stop_sequence`
	rows, err := t.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var tr []topologyRow
	for rows.Next() {
		var r topologyRow
		if err := rows.Scan(&r.RouteID, &r.RouteName, &r.StopName, &r.Lat, &r.Lng); err != nil {
			return nil, err
		}
		tr = append(tr, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	routes, skipped := assembleRoutes(tr)
	if skipped > 0 {
		log.Printf("postgres topology: skipped %d malformed stops", skipped)
	}
	return routes, nil
}

// assembleRoutes groups rows already ordered by route and stop sequence.
func assembleRoutes(rows []topologyRow) (map[string]topology.Route, int) {
	doc := feed.RoutesDocument{Routes: map[string]feed.RouteDoc{}}
	for _, r := range rows {
		rd := doc.Routes[r.RouteID]
		rd.RouteName = r.RouteName
		sd := feed.StopDoc{Name: r.StopName.String}
		if r.Lat.Valid {
			lat := r.Lat.Float64
			sd.Lat = &lat
		}
		if r.Lng.Valid {
			lng := r.Lng.Float64
			sd.Lng = &lng
		}
		rd.Stops = append(rd.Stops, sd)
		doc.Routes[r.RouteID] = rd
	}
	return doc.ToRoutes()
}

// Snapshots returns the latest logged position of every vehicle. With MaxAge
// set, vehicles that have not reported within it are left out.
type Snapshots struct {
	DB     *sql.DB
	MaxAge time.Duration
}

func (s *Snapshots) Name() string { return "postgres:vehicle_logs" }

func (s *Snapshots) FetchSnapshot(ctx context.Context) (feed.Snapshot, error) {
	q := `
SELECT DISTINCT ON (vehicle_id)
    vehicle_id, route_id, latitude, longitude, speed, time
FROM vehicle_logs
WHERE $1::timestamptz IS NULL OR time >= $1::timestamptz
ORDER BY vehicle_id, time DESC`
	var cutoff sql.NullTime
	if s.MaxAge > 0 {
		cutoff = sql.NullTime{Time: time.Now().Add(-s.MaxAge), Valid: true}
	}
	rows, err := s.DB.QueryContext(ctx, q, cutoff)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("query vehicle_logs: %w", err)
	}
	defer rows.Close()

	var positions []feed.Position
	for rows.Next() {
		var (
			vehicleID, routeID sql.NullString
			lat, lng, speed    sql.NullFloat64
			ts                 sql.NullTime
		)
		if err := rows.Scan(&vehicleID, &routeID, &lat, &lng, &speed, &ts); err != nil {
			return feed.Snapshot{}, err
		}
		positions = append(positions, positionFromRow(vehicleID, routeID, lat, lng, speed, ts))
	}
	if err := rows.Err(); err != nil {
		return feed.Snapshot{}, err
	}
	return feed.BuildSnapshot(positions), nil
}

func positionFromRow(vehicleID, routeID sql.NullString, lat, lng, speed sql.NullFloat64, ts sql.NullTime) feed.Position {
	p := feed.Position{VehicleID: vehicleID.String, RouteID: routeID.String}
	if lat.Valid {
		v := lat.Float64
		p.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		p.Lng = &v
	}
	if speed.Valid {
		v := speed.Float64
		p.Speed = &v
	}
	if ts.Valid {
		p.LastUpdate = ts.Time.UTC().Format(time.RFC3339Nano)
	}
	return p
}

