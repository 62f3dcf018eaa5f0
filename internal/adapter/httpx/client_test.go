package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:   srv.URL,
		RateLimit: 1000,
		RateBurst: 1000,
	})
}

func TestGetDecodesJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/things", r.URL.Path)
		assert.Equal(t, "crosswire/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"ok":true,"count":3}`))
	}))

	resp, err := c.Get(context.Background(), "/v1/things", nil, nil)
	require.NoError(t, err)

	var out struct {
		OK    bool `json:"ok"`
		Count int  `json:"count"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.True(t, out.OK)
	assert.Equal(t, 3, out.Count)
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))

	_, err := c.Get(context.Background(), "/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Get(context.Background(), "/", nil, nil)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))

	_, err := c.Get(context.Background(), "/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBearerTokenApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:   srv.URL,
		Auth:      BearerToken{Token: "xoxb-token"},
		RateLimit: 1000,
	})
	_, err := c.Get(context.Background(), "/", nil, nil)
	require.NoError(t, err)
}
