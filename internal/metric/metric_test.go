package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistriesAreIndependent(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()

	a.FramesForwarded.Inc()
	assert.NotSame(t, a.registry, b.registry)
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.FramesReceived.WithLabelValues("compact").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bridge_frames_received_total")
}
