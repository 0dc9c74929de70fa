package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/obs"
)

func TestInitTracerExporters(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
}

func TestTracingMiddlewarePassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(obs.TracingMiddleware)
	r.Get("/api/v1/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}
