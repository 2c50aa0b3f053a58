package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-gate/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var limitErr *usecase.LimitReachedError
	if errors.As(err, &limitErr) {
		c.JSON(http.StatusConflict, LimitReachedResponse{
			ErrorResponse:      NewErrorResponse(c, "Maximum concurrent users reached"),
			ActiveSessions:     limitErr.ActiveCount,
			MaxConcurrentUsers: limitErr.Limit,
		})
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// sessionErrorCases covers the sentinels every session operation can return.
var sessionErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "invalid request"},
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "Account not found"},
	{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "Session not found"},
	{Err: usecase.ErrAdmissionBusy, Status: http.StatusServiceUnavailable, Message: "admission busy, retry shortly"},
	{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "request timed out"},
}
