package infrastructure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, checks ...ReadinessCheck) (*httptest.Server, *http.ServeMux) {
	t.Helper()

	mux := http.NewServeMux()
	RegisterOperationalRoutes(mux, checks...)
	server := httptest.NewServer(WithMiddlewares(mux))
	t.Cleanup(server.Close)

	return server, mux
}

func TestWithMiddlewares(t *testing.T) {
	server, mux := newTestServer(t)

	seenRequestID := make(chan string, 1)
	mux.HandleFunc("GET /flush", func(w http.ResponseWriter, r *http.Request) {
		seenRequestID <- RequestID(r.Context())
		flusher, ok := w.(http.Flusher)
		if !assert.True(t, ok) {
			return
		}
		_, _ = w.Write([]byte("chunk"))
		flusher.Flush()
	})
	mux.HandleFunc("GET /hijack", func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Hijacker)
		assert.True(t, ok)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(server.URL + "/flush")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "chunk", string(body))
	assert.Equal(t, resp.Header.Get(headerRequestID), <-seenRequestID)

	resp, err = http.Get(server.URL + "/hijack")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(server.URL + "/panic")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "order_engine_http_request_duration_seconds")
}

func TestWithMiddlewares_KeepsRequestID(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(headerRequestID))
}

func TestRegisterOperationalRoutes_Readiness(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server, _ := newTestServer(t,
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "nats", Check: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("nats: connection closed")
		}},
	)

	readyz := func() (int, map[string]any) {
		resp, err := http.Get(server.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := readyz()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	healthy.Store(false)
	code, body = readyz()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "nats": "nats: connection closed"}, body["checks"])
}
