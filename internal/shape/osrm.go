package shape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"transit-tracker/internal/geo"
)

// DefaultBaseURL is the public OSRM demo server.
const DefaultBaseURL = "https://router.project-osrm.org"

var ErrNoRoute = errors.New("routing service returned no route")

// Client asks an OSRM-compatible routing service for a road-following path
// through a route's stops.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) requestURL(stops []geo.Coordinate) string {
	parts := make([]string, 0, len(stops))
	for _, s := range stops {
		parts = append(parts, strconv.FormatFloat(s.Lng, 'f', -1, 64)+","+strconv.FormatFloat(s.Lat, 'f', -1, 64))
	}
	return fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson", c.BaseURL, strings.Join(parts, ";"))
}

// RouteShape returns the dense polyline for stops, which must hold at least two points.
func (c *Client) RouteShape(ctx context.Context, stops []geo.Coordinate) ([]geo.Coordinate, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("need at least 2 stops, got %d", len(stops))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(stops), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from routing service", resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode routing response: %w", err)
	}
	if body.Code != "" && body.Code != "Ok" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, body.Code)
	}
	if len(body.Routes) == 0 {
		return nil, ErrNoRoute
	}
	coords := body.Routes[0].Geometry.Coordinates
	out := make([]geo.Coordinate, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		out = append(out, geo.Coordinate{Lat: c[1], Lng: c[0]})
	}
	if len(out) < 2 {
		return nil, ErrNoRoute
	}
	return out, nil
}
