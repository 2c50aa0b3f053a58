package routes_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/infra/config"
	"github.com/arklim/session-gate/internal/infra/security"
	"github.com/arklim/session-gate/internal/repository/memory"
	httproutes "github.com/arklim/session-gate/internal/transport/http/routes"
	"github.com/arklim/session-gate/internal/transport/http/middleware"
	"github.com/arklim/session-gate/internal/usecase"
)

type countingWindow struct {
	counts map[string]int
}

func (w *countingWindow) Acquire(_ context.Context, identifier string, limit int, _ time.Duration, _ time.Time) (port.AttemptWindow, error) {
	if w.counts == nil {
		w.counts = make(map[string]int)
	}
	if w.counts[identifier] >= limit {
		return port.AttemptWindow{Allowed: false, Count: w.counts[identifier]}, nil
	}
	w.counts[identifier]++
	return port.AttemptWindow{Allowed: true, Count: w.counts[identifier]}, nil
}

type failingCache struct{}

func (failingCache) HealthCheck(context.Context) error { return errors.New("redis unavailable") }

func newTestEngine(t *testing.T, cfg *config.AppConfig, deps httproutes.Dependencies) (*gin.Engine, *security.TokenVerifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.PutAccount(domain.Account{ID: "1", Name: "Acme"})

	verifier, err := security.NewTokenVerifier(config.AuthSettings{JWTSecret: "route-secret"})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}

	recorder := usecase.NewAnalyticsRecorder(store.Analytics(), nil, zaptest.NewLogger(t))
	deps.Config = cfg
	deps.Logger = zaptest.NewLogger(t)
	deps.TokenVerifier = verifier
	deps.Gatherer = prometheus.NewRegistry()
	deps.Sessions = usecase.NewSessionService(store.Sessions(), store.Accounts(), recorder,
		domain.NewLivenessPolicy(30*time.Minute), zaptest.NewLogger(t))

	return httproutes.Register(deps), verifier
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, &config.AppConfig{App: config.AppSettings{Env: "test"}}, httproutes.Dependencies{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessIncludesCache(t *testing.T) {
	r, _ := newTestEngine(t, &config.AppConfig{}, httproutes.Dependencies{Cache: failingCache{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when redis is down, got %d", w.Code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r, _ := newTestEngine(t, &config.AppConfig{}, httproutes.Dependencies{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/1/status", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStartSessionRateLimited(t *testing.T) {
	cfg := &config.AppConfig{RateLimit: config.RateLimitSettings{
		Enabled:                 true,
		WindowDuration:          time.Minute,
		StartSessionMaxAttempts: 1,
	}}
	r, verifier := newTestEngine(t, cfg, httproutes.Dependencies{
		RateLimiter: middleware.NewRateLimiter(&countingWindow{}, nil),
	})

	token, err := verifier.IssueToken("", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/start", bytes.NewBufferString(`{"account_id": 1}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 201 then 429, got %v", codes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, &config.AppConfig{}, httproutes.Dependencies{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
