package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/infra/logger"
	"github.com/arklim/session-gate/internal/transport/http/middleware"
	"github.com/arklim/session-gate/internal/usecase"
)

// SessionHandler exposes the browser extension's session endpoints.
type SessionHandler struct {
	sessions *usecase.SessionService
	logger   *zap.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions *usecase.SessionService, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, logger: log}
}

// RegisterRoutes binds account-scoped routes under /sessions and id-scoped routes under /session.
// Extra middlewares apply to session start only.
func (h *SessionHandler) RegisterRoutes(sessions, session *gin.RouterGroup, startMiddlewares ...gin.HandlerFunc) {
	if sessions != nil {
		start := append(append([]gin.HandlerFunc{}, startMiddlewares...), h.StartSession)
		sessions.POST("/start", start...)
		sessions.POST("/end", h.EndSessionForUser)
		sessions.GET("/:account_id/status", h.GetSessionStatus)
		sessions.PUT("/:account_id", h.RecordActivityForUser)
	}
	if session != nil {
		session.PUT("/:session_id/activity", h.RecordActivity)
		session.POST("/:session_id/end", h.EndSession)
	}
}

// RegisterAccountRoutes binds read-only account views.
func (h *SessionHandler) RegisterAccountRoutes(accounts *gin.RouterGroup) {
	if accounts == nil {
		return
	}
	accounts.GET("/:account_id/sessions", h.ListActiveSessions)
}

// ListActiveSessions returns the account's sessions that are currently live.
func (h *SessionHandler) ListActiveSessions(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	sessions, err := h.sessions.GetActiveSessions(c.Request.Context(), accountID)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	payload := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, newSessionPayload(session))
	}

	c.JSON(http.StatusOK, SessionListResponse{
		AccountID:      accountID,
		ActiveSessions: len(payload),
		Sessions:       payload,
	})
}

// GetSessionStatus tells the caller whether they hold a live session and whether they could start one.
func (h *SessionHandler) GetSessionStatus(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	status, err := h.sessions.GetSessionStatus(c.Request.Context(), strings.TrimSpace(c.Param("account_id")), userID)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to load session status")
		return
	}

	c.JSON(http.StatusOK, SessionStatusResponse{
		ActiveSession:      status.HasActiveSession,
		ActiveSessions:     status.ActiveSessions,
		MaxConcurrentUsers: status.MaxConcurrentUsers,
		CanStart:           status.CanStart,
	})
}

// StartSession admits a new session for the caller.
func (h *SessionHandler) StartSession(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}
	if req.AccountID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "account_id is required"))
		return
	}

	result, err := h.sessions.StartSession(c.Request.Context(), usecase.StartSessionInput{
		AccountID:       req.AccountID.String(),
		UserID:          userID,
		Domain:          req.Domain,
		ClientTimestamp: req.Timestamp,
	})
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "Failed to create session")
		return
	}

	h.logAnalyticsWarning(c, result.AnalyticsErr, result.Session.AccountID, result.Session.ID)
	c.JSON(http.StatusCreated, StartSessionResponse{
		Message:            "Session started successfully",
		Session:            newSessionPayload(result.Session),
		ActiveSessions:     result.ActiveCount,
		MaxConcurrentUsers: result.Limit,
		Warnings:           warningsFor(result.AnalyticsErr),
	})
}

// RecordActivity refreshes a session the caller owns.
func (h *SessionHandler) RecordActivity(c *gin.Context) {
	sessionID, ok := h.requireOwnedSession(c)
	if !ok {
		return
	}

	var req ActivityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.sessions.RecordActivity(c.Request.Context(), sessionID, req.toUpdate())
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to update session")
		return
	}
	h.respondMutation(c, result, "Session updated successfully")
}

// EndSession terminates a session the caller owns.
func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID, ok := h.requireOwnedSession(c)
	if !ok {
		return
	}

	result, err := h.sessions.EndSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to end session")
		return
	}
	h.respondMutation(c, result, "Session ended successfully")
}

// RecordActivityForUser refreshes the caller's most recent live session under the account.
func (h *SessionHandler) RecordActivityForUser(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req ActivityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.sessions.RecordActivityForUser(c.Request.Context(), strings.TrimSpace(c.Param("account_id")), userID, req.toUpdate())
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to update session")
		return
	}
	h.respondMutation(c, result, "Session updated successfully")
}

// EndSessionForUser ends the caller's most recent live session under the account in the body.
func (h *SessionHandler) EndSessionForUser(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "account_id is required"))
		return
	}

	result, err := h.sessions.EndSessionForUser(c.Request.Context(), req.AccountID.String(), userID)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to end session")
		return
	}
	h.respondMutation(c, result, "Session ended successfully")
}

func (h *SessionHandler) respondMutation(c *gin.Context, result *usecase.SessionMutationResult, message string) {
	h.logAnalyticsWarning(c, result.AnalyticsErr, result.Session.AccountID, result.Session.ID)
	if result.AlreadyEnded {
		message = "Session already ended"
	}
	c.JSON(http.StatusOK, SessionMutationResponse{
		Message:      message,
		Session:      newSessionPayload(result.Session),
		AlreadyEnded: result.AlreadyEnded,
		Warnings:     warningsFor(result.AnalyticsErr),
	})
}

func (h *SessionHandler) requireUser(c *gin.Context) (string, bool) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return "", false
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return "", false
	}
	return userID, true
}

// requireOwnedSession resolves :session_id and checks the caller owns it.
func (h *SessionHandler) requireOwnedSession(c *gin.Context) (string, bool) {
	userID, ok := h.requireUser(c)
	if !ok {
		return "", false
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to load session")
		return "", false
	}
	if session.UserID != userID {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "session belongs to another user"))
		return "", false
	}
	return sessionID, true
}

func (h *SessionHandler) logAnalyticsWarning(c *gin.Context, err error, accountID, sessionID string) {
	if err == nil {
		return
	}
	fields := append(logger.SessionFields(accountID, "", sessionID),
		zap.String("trace_id", middleware.GetTraceID(c)),
		zap.Error(err),
	)
	h.logger.Warn("session operation succeeded without analytics", fields...)
}

// bindOptionalJSON decodes the body when one is present. Heartbeats may be sent empty.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return false
	}
	return true
}
