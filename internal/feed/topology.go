package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
)

var validate = validator.New()

// TopologySource loads the static route table once per call.
type TopologySource interface {
	FetchTopology(ctx context.Context) (map[string]topology.Route, error)
	Name() string
}

// RoutesDocument is the /routes payload: route id -> name and ordered stops.
type RoutesDocument struct {
	Routes map[string]RouteDoc `json:"routes" yaml:"routes"`
}

type RouteDoc struct {
	RouteName string    `json:"routeName" yaml:"routeName"`
	Stops     []StopDoc `json:"stops" yaml:"stops"`
}

type StopDoc struct {
	Name string   `json:"name" yaml:"name" validate:"required"`
	Lat  *float64 `json:"lat" yaml:"lat" validate:"required,latitude"`
	Lng  *float64 `json:"lng" yaml:"lng" validate:"required,longitude"`
}

// ToRoutes converts the document, dropping stops that fail validation. The
// number of dropped stops is returned.
func (d RoutesDocument) ToRoutes() (map[string]topology.Route, int) {
	out := make(map[string]topology.Route, len(d.Routes))
	skipped := 0
	for id, rd := range d.Routes {
		if strings.TrimSpace(id) == "" {
			skipped += len(rd.Stops)
			continue
		}
		r := topology.Route{ID: id, DisplayName: rd.RouteName}
		if r.DisplayName == "" {
			r.DisplayName = id
		}
		for _, sd := range rd.Stops {
			if err := validate.Struct(sd); err != nil {
				skipped++
				continue
			}
			r.Stops = append(r.Stops, topology.Stop{
				Name:       sd.Name,
				Coordinate: geo.Coordinate{Lat: *sd.Lat, Lng: *sd.Lng},
			})
		}
		out[id] = r
	}
	return out, skipped
}

// DocumentTopology reads a RoutesDocument from an http(s) URL or a local
// JSON/YAML file.
type DocumentTopology struct {
	Location string
	Client   *http.Client
}

func (s *DocumentTopology) Name() string { return s.Location }

func (s *DocumentTopology) FetchTopology(ctx context.Context) (map[string]topology.Route, error) {
	b, err := fetchBytes(ctx, httpClient(s.Client), s.Location)
	if err != nil {
		return nil, err
	}
	var doc RoutesDocument
	switch strings.ToLower(filepath.Ext(s.Location)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	default:
		err = json.Unmarshal(b, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode topology from %s: %w", s.Location, err)
	}
	routes, skipped := doc.ToRoutes()
	if skipped > 0 {
		log.Printf("topology %s: skipped %d malformed stops", s.Location, skipped)
	}
	return routes, nil
}
