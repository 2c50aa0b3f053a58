package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerMasksCallerDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logger(zap.New(core)))
	router.GET("/sessions/:account_id/status", func(c *gin.Context) {
		c.Set(UserIDKey, "alice@example.com")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/acct-1/status", nil)
	req.RemoteAddr = "192.168.10.20:5555"
	req.Header.Set(requestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Header().Get(requestIDHeader) != "req-1" {
		t.Fatalf("expected request id to be echoed")
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["client_ip"] != "192.168.*.*" {
		t.Fatalf("expected masked ip, got %v", fields["client_ip"])
	}
	if fields["user_id"] != "ali***@example.com" {
		t.Fatalf("expected masked user id, got %v", fields["user_id"])
	}
	if fields["request_id"] != "req-1" || fields["route"] != "/sessions/:account_id/status" {
		t.Fatalf("unexpected correlation fields %v", fields)
	}
}

func TestLoggerWarnsOnServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(Logger(zap.New(core)))
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	if got := logs.FilterLevelExact(zapcore.WarnLevel).Len(); got != 1 {
		t.Fatalf("expected one warn entry, got %d", got)
	}
}
