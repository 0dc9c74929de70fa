package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/atomic-shop/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	l, err := New("1-M", nil, "test")
	require.NoError(t, err)
	handler := Handler{Limiter: l, Key: func(*http.Request) string { return "static" }}
	counted := handler.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/cart/items", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr2.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerKeysPerOwner(t *testing.T) {
	l, err := New("1-M", nil, "")
	require.NoError(t, err)
	mw := Handler{Limiter: l}.Middleware(okHandler())

	send := func(ctx context.Context) int {
		req := httptest.NewRequest(http.MethodPost, "/cart/items", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		return rr.Code
	}
	alice := common.WithSessionToken(context.Background(), "alice")
	bob := common.WithSessionToken(context.Background(), "bob")

	require.Equal(t, http.StatusOK, send(alice))
	require.Equal(t, http.StatusOK, send(bob))
	require.Equal(t, http.StatusTooManyRequests, send(alice))
}

type failingStore struct{ limiter.Store }

func (failingStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	rate, err := limiter.NewRateFromFormatted("1-S")
	require.NoError(t, err)
	var seen error
	handler := Handler{
		Limiter: limiter.New(failingStore{}, rate),
		OnError: func(err error) { seen = err },
	}
	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualError(t, seen, "store down")
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New("often", nil, "")
	require.Error(t, err)
}

func TestOwnerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "u-1"))
	require.Equal(t, "user:u-1", OwnerKey(req))

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Contains(t, OwnerKey(anon), "ip:")
}
