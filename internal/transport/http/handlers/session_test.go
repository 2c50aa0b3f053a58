package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository/memory"
	"github.com/arklim/session-gate/internal/transport/http/middleware"
	"github.com/arklim/session-gate/internal/usecase"
)

var handlerEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type brokenAnalyticsLog struct{}

func (brokenAnalyticsLog) Append(context.Context, domain.AnalyticsEvent) error {
	return errors.New("disk full")
}

type handlerFixture struct {
	router *gin.Engine
	store  *memory.Store
	now    *time.Time
}

func newHandlerFixture(t *testing.T, log port.AnalyticsLog) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	limit := 2
	store.PutAccount(domain.Account{ID: "1", Name: "Acme", MaxConcurrentUsers: &limit})

	now := handlerEpoch
	clock := func() time.Time { return now }

	if log == nil {
		log = store.Analytics()
	}
	recorder := usecase.NewAnalyticsRecorder(log, nil, zaptest.NewLogger(t))
	service := usecase.NewSessionService(store.Sessions(), store.Accounts(), recorder,
		domain.NewLivenessPolicy(30*time.Minute), zaptest.NewLogger(t)).WithClock(clock)

	router := gin.New()
	router.Use(middleware.EnrichContext())
	router.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set(middleware.UserIDKey, user)
		}
		c.Next()
	})

	handler := NewSessionHandler(service, zaptest.NewLogger(t))
	handler.RegisterRoutes(router.Group("/sessions"), router.Group("/session"))
	handler.RegisterAccountRoutes(router.Group("/accounts"))

	return &handlerFixture{router: router, store: store, now: &now}
}

func (f *handlerFixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func (f *handlerFixture) start(t *testing.T, user string) StartSessionResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/sessions/start", user, map[string]any{
		"account_id": 1,
		"domain":     "example.com",
		"timestamp":  handlerEpoch.Format(time.RFC3339),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decode[StartSessionResponse](t, rr)
}

func TestStartSessionCreated(t *testing.T) {
	f := newHandlerFixture(t, nil)

	resp := f.start(t, "alice@example.com")
	if resp.Session.AccountID != "1" || resp.Session.UserID != "alice@example.com" {
		t.Fatalf("unexpected session %+v", resp.Session)
	}
	if resp.ActiveSessions != 1 || resp.MaxConcurrentUsers != 2 {
		t.Fatalf("unexpected counts %+v", resp)
	}
	if len(resp.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", resp.Warnings)
	}
	if len(f.store.Events()) != 1 {
		t.Fatalf("expected one analytics event")
	}
}

func TestStartSessionLimitReached(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.start(t, "alice@example.com")
	f.start(t, "bob@example.com")

	rr := f.do(t, http.MethodPost, "/sessions/start", "carol@example.com", map[string]any{"account_id": "1"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decode[LimitReachedResponse](t, rr)
	if body.ActiveSessions != 2 || body.MaxConcurrentUsers != 2 {
		t.Fatalf("unexpected limit body %+v", body)
	}
	if body.Error != "Maximum concurrent users reached" || body.TraceID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestStartSessionErrors(t *testing.T) {
	f := newHandlerFixture(t, nil)

	cases := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{name: "unauthenticated", body: map[string]any{"account_id": 1}, status: http.StatusUnauthorized},
		{name: "missing account", user: "alice@example.com", body: map[string]any{"domain": "x"}, status: http.StatusBadRequest},
		{name: "fractional account id", user: "alice@example.com", body: map[string]any{"account_id": 1.5}, status: http.StatusBadRequest},
		{name: "unknown account", user: "alice@example.com", body: map[string]any{"account_id": 99}, status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/sessions/start", tc.user, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestStartSessionReportsAnalyticsWarning(t *testing.T) {
	f := newHandlerFixture(t, brokenAnalyticsLog{})

	resp := f.start(t, "alice@example.com")
	if len(resp.Warnings) != 1 || resp.Warnings[0] != WarningAnalyticsAppendFailed {
		t.Fatalf("expected analytics warning, got %v", resp.Warnings)
	}
}

func TestRecordActivityAndEndByID(t *testing.T) {
	f := newHandlerFixture(t, nil)
	started := f.start(t, "alice@example.com")
	*f.now = handlerEpoch.Add(10 * time.Minute)

	rr := f.do(t, http.MethodPut, "/session/"+started.Session.ID+"/activity", "alice@example.com", map[string]any{"domain": "docs.example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	updated := decode[SessionMutationResponse](t, rr)
	if updated.Session.Domain == nil || *updated.Session.Domain != "docs.example.com" {
		t.Fatalf("expected domain merge, got %+v", updated.Session)
	}
	if !updated.Session.LastActivity.Equal(*f.now) {
		t.Fatalf("expected last activity refreshed, got %v", updated.Session.LastActivity)
	}

	rr = f.do(t, http.MethodPost, "/session/"+started.Session.ID+"/end", "alice@example.com", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	ended := decode[SessionMutationResponse](t, rr)
	if ended.Session.Active || ended.Session.Duration == nil || *ended.Session.Duration != 600 {
		t.Fatalf("unexpected ended session %+v", ended.Session)
	}

	rr = f.do(t, http.MethodPost, "/session/"+started.Session.ID+"/end", "alice@example.com", nil)
	again := decode[SessionMutationResponse](t, rr)
	if rr.Code != http.StatusOK || !again.AlreadyEnded {
		t.Fatalf("expected idempotent end, got %d %+v", rr.Code, again)
	}
}

func TestSessionByIDOwnership(t *testing.T) {
	f := newHandlerFixture(t, nil)
	started := f.start(t, "alice@example.com")

	rr := f.do(t, http.MethodPost, "/session/"+started.Session.ID+"/end", "mallory@example.com", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPut, "/session/missing/activity", "alice@example.com", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUserScopedActivityAndEnd(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.start(t, "alice@example.com")

	rr := f.do(t, http.MethodPut, "/sessions/1", "alice@example.com", map[string]any{"domain": "example.org"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPut, "/sessions/1", "bob@example.com", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for user without session, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/sessions/end", "alice@example.com", map[string]any{"account_id": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/sessions/end", "alice@example.com", map[string]any{"account_id": 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 once no live session remains, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/sessions/end", "alice@example.com", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without account id, got %d", rr.Code)
	}
}

func TestStatusAndList(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.start(t, "alice@example.com")

	rr := f.do(t, http.MethodGet, "/sessions/1/status", "alice@example.com", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	status := decode[SessionStatusResponse](t, rr)
	if !status.ActiveSession || status.ActiveSessions != 1 || status.MaxConcurrentUsers != 2 || !status.CanStart {
		t.Fatalf("unexpected status %+v", status)
	}

	rr = f.do(t, http.MethodGet, "/sessions/99/status", "alice@example.com", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rr.Code)
	}

	*f.now = handlerEpoch.Add(31 * time.Minute)
	rr = f.do(t, http.MethodGet, "/accounts/1/sessions", "alice@example.com", nil)
	list := decode[SessionListResponse](t, rr)
	if rr.Code != http.StatusOK || list.ActiveSessions != 0 || len(list.Sessions) != 0 {
		t.Fatalf("expected stale session to be excluded, got %d %+v", rr.Code, list)
	}
}

func TestFlexibleIDUnmarshal(t *testing.T) {
	cases := map[string]string{
		`42`:       "42",
		`"acct-7"`: "acct-7",
		`" 9 "`:    "9",
		`null`:     "",
	}
	for input, want := range cases {
		var id FlexibleID
		if err := json.Unmarshal([]byte(input), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", input, err)
		}
		if id.String() != want {
			t.Fatalf("unmarshal %s = %q, want %q", input, id, want)
		}
	}

	var id FlexibleID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Fatalf("expected error for boolean id")
	}
}
