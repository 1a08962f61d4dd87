package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/api/middleware"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_CarriesRequestAndUserID(t *testing.T) {
	buf := captureLogs(t)

	h := chimw.RequestID(middleware.Logger(middleware.Identity("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.RequestLogger(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set(middleware.DefaultUserHeader, "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	require.Len(t, lines, 2)

	inside, access := lines[0], lines[1]
	assert.Equal(t, "inside", inside["message"])
	assert.Equal(t, "alice", inside["user_id"])
	assert.NotEmpty(t, inside["request_id"])

	assert.Equal(t, "request", access["message"])
	assert.Equal(t, "warn", access["level"])
	assert.Equal(t, "alice", access["user_id"])
	assert.Equal(t, inside["request_id"], access["request_id"])
	assert.EqualValues(t, http.StatusTeapot, access["status"])
}

func TestLogger_AnonymousRequestHasNoUserID(t *testing.T) {
	buf := captureLogs(t)

	h := middleware.Logger(middleware.Identity("")(okHandler()))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, http.StatusUnauthorized, lines[0]["status"])
	assert.NotContains(t, lines[0], "user_id")
}

func TestLogger_PassesFlushThrough(t *testing.T) {
	captureLogs(t)

	h := middleware.Logger(middleware.Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: {}\n\n"))
		f.Flush()
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", nil))
	assert.True(t, rec.Flushed)
}

func TestRequestLogger_FallsBackToGlobal(t *testing.T) {
	buf := captureLogs(t)

	middleware.RequestLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context()).Info().Msg("outside")
	assert.Contains(t, buf.String(), `"message":"outside"`)
}
