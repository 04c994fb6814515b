package api

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/twpayne/go-polyline"

	"transit-tracker/internal/engine"
	"transit-tracker/internal/eta"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/topology"
	"transit-tracker/internal/trips"
)

const defaultNearbyRadius = 500.0

// Fleet is the read side of the engine.
type Fleet interface {
	Vehicles() []fleet.TrackedVehicle
	VehicleStatus(id string) (engine.VehicleStatus, bool)
	FindTrips(from, to string) trips.Result
	Topology() *topology.Index
	TopologyError() error
	Thresholds() eta.Thresholds
}

type APIResponse[T any] struct {
	Data T `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	fleet  Fleet
	router *mux.Router
}

func New(f Fleet) *Server {
	s := &Server{fleet: f, router: mux.NewRouter()}

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Content-Type", "application/json")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/vehicles", s.handleVehicles).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/vehicles/{id}", s.handleVehicle).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/trips", s.handleTrips).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/routes/{id}", s.handleRoute).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/stops", s.handleStops).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/stops/nearby", s.handleStopsNearby).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/eta", s.handleETA).Methods(http.MethodGet, http.MethodOptions)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Serve starts the query API on addr.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
		}
	}()
	log.Printf("api listening on %s", addr)
	return srv
}

// parseFinite rejects NaN and infinities along with unparsable input.
func parseFinite(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type healthResponse struct {
	Status        string `json:"status"`
	Vehicles      int    `json:"vehicles"`
	Routes        int    `json:"routes"`
	Stops         int    `json:"stops"`
	TopologyError string `json:"topologyError,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	idx := s.fleet.Topology()
	resp := healthResponse{
		Status:   "ok",
		Vehicles: len(s.fleet.Vehicles()),
		Routes:   idx.RouteCount(),
		Stops:    idx.StopCount(),
	}
	if err := s.fleet.TopologyError(); err != nil {
		resp.TopologyError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse[[]fleet.TrackedVehicle]{Data: s.fleet.Vehicles()})
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.fleet.VehicleStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse[engine.VehicleStatus]{Data: st})
}

type tripsResponse struct {
	trips.Result
	Message string `json:"message,omitempty"`
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	// stop names match exactly, surrounding spaces included
	res := s.fleet.FindTrips(q.Get("from"), q.Get("to"))
	writeJSON(w, http.StatusOK, APIResponse[tripsResponse]{Data: tripsResponse{Result: res, Message: res.Reason.Message()}})
}

type routeView struct {
	ID            string          `json:"routeId"`
	Name          string          `json:"routeName"`
	Stops         []topology.Stop `json:"stops"`
	Shape         string          `json:"shape"`
	ShapeResolved bool            `json:"shapeResolved"`
}

func newRouteView(idx *topology.Index, r topology.Route) routeView {
	pts, resolved := idx.Polyline(r.ID)
	coords := make([][]float64, 0, len(pts))
	for i, p := range pts {
		if i > 0 && p == pts[i-1] {
			continue
		}
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return routeView{
		ID:            r.ID,
		Name:          r.DisplayName,
		Stops:         r.Stops,
		Shape:         string(polyline.EncodeCoords(coords)),
		ShapeResolved: resolved,
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.TopologyError(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	idx := s.fleet.Topology()
	routes := idx.Routes()
	out := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		out = append(out, newRouteView(idx, rt))
	}
	writeJSON(w, http.StatusOK, APIResponse[[]routeView]{Data: out})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	idx := s.fleet.Topology()
	rt, ok := idx.Route(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse[routeView]{Data: newRouteView(idx, rt)})
}

func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	stops := s.fleet.Topology().Stops()
	if stops == nil {
		stops = []topology.Stop{}
	}
	writeJSON(w, http.StatusOK, APIResponse[[]topology.Stop]{Data: stops})
}

func (s *Server) handleStopsNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, ok := parseFinite(q.Get("lat"))
	if !ok || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lng, ok := parseFinite(q.Get("lng"))
	if !ok || lng < -180 || lng > 180 {
		writeError(w, http.StatusBadRequest, "invalid lng")
		return
	}
	radius := defaultNearbyRadius
	if v := q.Get("radius"); v != "" {
		radius, ok = parseFinite(v)
		if !ok || radius <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius")
			return
		}
	}
	near := s.fleet.Topology().StopsNear(geo.Coordinate{Lat: lat, Lng: lng}, radius)
	if near == nil {
		near = []topology.StopDistance{}
	}
	writeJSON(w, http.StatusOK, APIResponse[[]topology.StopDistance]{Data: near})
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dist, ok := parseFinite(q.Get("distance"))
	if !ok || dist < 0 {
		writeError(w, http.StatusBadRequest, "invalid distance")
		return
	}
	speed, ok := parseFinite(q.Get("speed"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid speed")
		return
	}
	th := s.fleet.Thresholds()
	var est eta.Estimate
	switch strings.ToLower(q.Get("threshold")) {
	case "", "arriving":
		est = th.Approaching(dist, speed)
	case "arrived":
		est = th.AtStop(dist, speed)
	default:
		writeError(w, http.StatusBadRequest, "invalid threshold")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse[eta.Estimate]{Data: est})
}
