package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// SourcePostgres and SourceNATS select the non-document sources.
const (
	SourcePostgres = "postgres"
	SourceNATS     = "nats"
)

type Config struct {
	TopologySource string `validate:"required"`
	LiveSource     string `validate:"required"`
	LiveFormat     string `validate:"oneof=json gtfsrt"`
	LiveMaxAge     time.Duration

	DatabaseURL string

	NATSURL              string
	NATSPositionsSubject string `validate:"required"`
	NATSEventsPrefix     string
	NATSStaleAfter       time.Duration
	LogNATSSubjects      bool
	PublishFrames        bool

	PollInterval  time.Duration
	FetchTimeout  time.Duration
	Transition    time.Duration
	FrameInterval time.Duration

	MinSpeedKmh    float64 `validate:"gt=0"`
	ArrivedMeters  float64 `validate:"gte=0"`
	ArrivingMeters float64 `validate:"gte=0"`

	ShapeServiceURL string `validate:"omitempty,url"`
	HTTPAddr        string `validate:"required"`
	MetricsAddr     string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		TopologySource: strings.TrimSpace(os.Getenv("TOPOLOGY_SOURCE")),
		LiveSource:     strings.TrimSpace(os.Getenv("LIVE_SOURCE")),
		LiveFormat:     strings.ToLower(getenvDefault("LIVE_FORMAT", "json")),
	}

	if cfg.TopologySource == SourcePostgres || cfg.LiveSource == SourcePostgres {
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSPositionsSubject = getenvDefault("NATS_POSITIONS_SUBJECT", "*.*")
	// Empty disables fleet notifications.
	cfg.NATSEventsPrefix = lookupDefault("NATS_EVENTS_PREFIX", "fleet")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))
	cfg.PublishFrames = parseBool(os.Getenv("PUBLISH_FRAMES"))

	var err error
	if cfg.NATSStaleAfter, err = seconds("NATS_STALE_AFTER_SEC", 30*time.Second, false); err != nil {
		return nil, err
	}
	if cfg.LiveMaxAge, err = seconds("LIVE_MAX_AGE_SEC", 0, true); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = millis("POLL_INTERVAL_MS", 2000*time.Millisecond, false); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = millis("FETCH_TIMEOUT_MS", 5000*time.Millisecond, false); err != nil {
		return nil, err
	}
	// Zero jumps straight to the new position.
	if cfg.Transition, err = millis("TRANSITION_MS", 2000*time.Millisecond, true); err != nil {
		return nil, err
	}
	if cfg.FrameInterval, err = millis("FRAME_INTERVAL_MS", 50*time.Millisecond, false); err != nil {
		return nil, err
	}

	if cfg.MinSpeedKmh, err = float("MIN_SPEED_KMH", 30); err != nil {
		return nil, err
	}
	if cfg.ArrivedMeters, err = float("ARRIVED_THRESHOLD_M", 50); err != nil {
		return nil, err
	}
	if cfg.ArrivingMeters, err = float("ARRIVING_THRESHOLD_M", 100); err != nil {
		return nil, err
	}

	cfg.ShapeServiceURL = lookupDefault("SHAPE_SERVICE_URL", "https://router.project-osrm.org")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid %s: %q", envName(verrs[0].Field()), fmt.Sprint(verrs[0].Value()))
		}
		return nil, err
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set for postgres sources")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

var envNames = map[string]string{
	"TopologySource":       "TOPOLOGY_SOURCE",
	"LiveSource":           "LIVE_SOURCE",
	"LiveFormat":           "LIVE_FORMAT",
	"NATSPositionsSubject": "NATS_POSITIONS_SUBJECT",
	"MinSpeedKmh":          "MIN_SPEED_KMH",
	"ArrivedMeters":        "ARRIVED_THRESHOLD_M",
	"ArrivingMeters":       "ARRIVING_THRESHOLD_M",
	"ShapeServiceURL":      "SHAPE_SERVICE_URL",
	"HTTPAddr":             "HTTP_ADDR",
}

func envName(field string) string {
	if n, ok := envNames[field]; ok {
		return n
	}
	return field
}

func millis(name string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 || (ms == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func seconds(name string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 || (sec == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func float(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// lookupDefault is like getenvDefault but keeps an explicitly empty value.
func lookupDefault(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
