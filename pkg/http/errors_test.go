package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	assert.Equal(t, "test_error", body["error"])
	assert.Equal(t, "Test message", body["message"])
	assert.NotContains(t, body, "details")
	assert.NotContains(t, body, "locked_until")
	assert.NotContains(t, body, "reset_at")
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	body := decode(t, w)
	assert.Equal(t, "Additional details", body["details"])
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	until := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	pkghttp.WriteLocked(w, until, 10)

	assert.Equal(t, 403, w.Code)
	body := decode(t, w)
	assert.Equal(t, "account_locked", body["error"])
	assert.Equal(t, "2026-03-01T12:10:00Z", body["locked_until"])
	assert.EqualValues(t, 10, body["minutes_remaining"])
	assert.NotEmpty(t, body["unlock_hint"])
}

func TestWriteRateLimited(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset := now.Add(90 * time.Second)

	w := httptest.NewRecorder()
	pkghttp.WriteRateLimited(w, &reset, now)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, "2026-03-01T12:01:30Z", body["reset_at"])

	w = httptest.NewRecorder()
	pkghttp.WriteRateLimited(w, nil, now)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*httptest.ResponseRecorder)
		status int
		code   string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "x") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "x") }, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "x") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "x") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "x") }, 409, "conflict"},
		{"too many", func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "x") }, 429, "rate_limit_exceeded"},
		{"unavailable", func(w *httptest.ResponseRecorder) { pkghttp.WriteServiceUnavailable(w, "x") }, 503, "service_unavailable"},
		{"internal", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "x") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}
