package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorStaticGauges(t *testing.T) {
	c := NewCollector(2*time.Second, 1500*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PollInterval))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.Transition))
}

func TestCollectorLabelledCounters(t *testing.T) {
	c := NewCollector(time.Second, time.Second)
	c.PollFailures.WithLabelValues("http://feed").Inc()
	c.PollFailures.WithLabelValues("http://feed").Inc()
	c.TripQueries.WithLabelValues("ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PollFailures.WithLabelValues("http://feed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripQueries.WithLabelValues("ok")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(time.Second, time.Second)
	c.TrackedVehicles.Set(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracker_tracked_vehicles 3")
	assert.NotContains(t, string(body), "go_goroutines")
}
