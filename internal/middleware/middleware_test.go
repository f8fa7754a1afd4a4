package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	mu       sync.Mutex
	decision models.RateDecision
	calls    []string
}

func (f *fakeLimiter) Check(ctx context.Context, identity, endpoint string) models.RateDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, identity+"|"+endpoint)
	return f.decision
}

type fakePeeker struct {
	claims *models.TokenClaims
}

func (f fakePeeker) ValidateAccessToken(token string) (*models.TokenClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid")
	}
	return f.claims, nil
}

func echoBody(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

func TestSanitizeJSON(t *testing.T) {
	handler := SanitizeJSON(1 << 10)(echoBody(t))

	t.Run("strips markup outside credential fields", func(t *testing.T) {
		body := `{"name":"<script>alert(1)</script>Ana","password":"<p>s3cret</p>","email":"Ana@Example.com"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var got map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.NotContains(t, got["name"], "<script>")
		assert.Contains(t, got["name"], "Ana")
		assert.Equal(t, "<p>s3cret</p>", got["password"])
		assert.Equal(t, "Ana@Example.com", got["email"])
	})

	t.Run("invalid JSON passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"name":`, w.Body.String())
	})

	t.Run("oversized body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(bytes.Repeat([]byte("a"), 2<<10)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestRateLimiter_KeysByIPOrUser(t *testing.T) {
	limiter := &fakeLimiter{decision: models.RateDecision{Allowed: true, Remaining: 7}}
	rl := NewRateLimiter(limiter, fakePeeker{claims: &models.TokenClaims{UserID: "u-1"}}, pkghttp.NewIPConfig(nil))
	handler := rl.For("login")(okHandler())

	anon := httptest.NewRequest(http.MethodPost, "/", nil)
	anon.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, anon)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", w.Header().Get("X-RateLimit-Remaining"))

	authed := httptest.NewRequest(http.MethodPost, "/", nil)
	authed.RemoteAddr = "203.0.113.9:4000"
	authed.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), authed)

	forged := httptest.NewRequest(http.MethodPost, "/", nil)
	forged.RemoteAddr = "203.0.113.9:4000"
	forged.Header.Set("Authorization", "Bearer forged")
	handler.ServeHTTP(httptest.NewRecorder(), forged)

	assert.Equal(t, []string{
		"ip:203.0.113.9|login",
		"user:u-1|login",
		"ip:203.0.113.9|login",
	}, limiter.calls)
}

func TestRateLimiter_Denied(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset := now.Add(90 * time.Second)
	limiter := &fakeLimiter{decision: models.RateDecision{Allowed: false, Remaining: 0, ResetAt: &reset}}
	rl := NewRateLimiter(limiter, nil, pkghttp.NewIPConfig(nil))
	rl.now = func() time.Time { return now }

	called := false
	handler := rl.For("login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
}

func TestRateLimiter_FailOpenOmitsRemaining(t *testing.T) {
	limiter := &fakeLimiter{decision: models.RateDecision{Allowed: true, Remaining: -1}}
	handler := NewRateLimiter(limiter, nil, pkghttp.NewIPConfig(nil)).For("refresh")(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Remaining"))
}

func TestFloodGuard(t *testing.T) {
	handler := FloodGuard(2, pkghttp.NewIPConfig(nil))(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.5:1234"
	other.Header.Set("X-Forwarded-For", "198.51.100.4")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code, "untrusted forwarded header must not share a bucket")
}

func TestClientInfo(t *testing.T) {
	var got pkghttp.ClientInfo
	handler := ClientInfo(pkghttp.NewIPConfig(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = pkghttp.ClientInfoFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "torneo-test")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", got.IP)
	assert.Equal(t, "torneo-test", got.UserAgent)
}

func recordingStage(name string, order *[]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestPipeline_Order(t *testing.T) {
	var order []string
	p := &Pipeline{
		Sanitize: recordingStage("sanitize", &order),
		RateLimit: func(endpoint string) func(http.Handler) http.Handler {
			return recordingStage("rate_limit:"+endpoint, &order)
		},
		Authenticate: recordingStage("authenticate", &order),
		Authorize: func(roles ...string) func(http.Handler) http.Handler {
			return recordingStage("authorize:"+strings.Join(roles, ","), &order)
		},
	}

	assert.Equal(t, []string{"sanitize", "rate_limit"}, p.Public("login").Stages())
	assert.Equal(t, []string{"sanitize", "rate_limit", "authenticate"}, p.Authenticated("default").Stages())

	chain := p.Authorized("default", "admin")
	assert.Equal(t, []string{"sanitize", "rate_limit", "authenticate", "authorize"}, chain.Stages())

	chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"sanitize", "rate_limit:default", "authenticate", "authorize:admin", "handler"}, order)
}

func TestPipeline_RejectedRequestStopsEarly(t *testing.T) {
	var order []string
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "rate_limit")
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	p := &Pipeline{
		Sanitize:     recordingStage("sanitize", &order),
		RateLimit:    func(string) func(http.Handler) http.Handler { return deny },
		Authenticate: recordingStage("authenticate", &order),
		Authorize:    func(...string) func(http.Handler) http.Handler { return recordingStage("authorize", &order) },
	}

	w := httptest.NewRecorder()
	p.Authorized("default", "admin").Then(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"sanitize", "rate_limit"}, order)
}
