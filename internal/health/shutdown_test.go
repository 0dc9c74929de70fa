package health_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/health"
	"github.com/noah-isme/atomic-shop/internal/store"
)

func TestReadyDrainsDuringShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	handler := health.Handler{Checker: health.Probes{DB: store.NewMemory()}}
	ready := func() (int, map[string]string) {
		rr := httptest.NewRecorder()
		handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		var status map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
		return rr.Code, status
	}

	code, status := ready()
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, status, "server")

	// the store stays healthy, only the drain flag takes the pod out of rotation
	health.SetReady(false)
	code, status = ready()
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting down", status["server"])
	require.Equal(t, "ok", status["db"])

	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
