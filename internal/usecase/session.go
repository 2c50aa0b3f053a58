package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

const tracerName = "github.com/arklim/session-gate/internal/usecase"

var errAlreadyEnded = errors.New("session already ended")

// StartSessionInput carries the caller's start request. UserID is resolved by the transport layer.
type StartSessionInput struct {
	AccountID       string
	UserID          string
	Domain          *string
	ClientTimestamp *time.Time
}

// StartSessionResult describes an admitted session.
type StartSessionResult struct {
	Session     domain.Session
	ActiveCount int
	Limit       int
	// AnalyticsErr is set when the session was stored but its start event could not be recorded.
	AnalyticsErr error
}

// SessionMutationResult describes the outcome of an activity or end operation.
type SessionMutationResult struct {
	Session      domain.Session
	AlreadyEnded bool
	AnalyticsErr error
}

// SessionStatus summarises an account from one user's perspective.
type SessionStatus struct {
	HasActiveSession   bool
	ActiveSessions     int
	MaxConcurrentUsers int
	CanStart           bool
}

// SessionService coordinates admission and the session lifecycle.
type SessionService struct {
	sessions  port.SessionRepository
	admission *AdmissionEngine
	recorder  *AnalyticsRecorder
	locker    port.AccountLocker
	metrics   port.SessionMetrics
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewSessionService constructs a SessionService. Admission is serialised with an in-process locker
// unless WithAccountLocker supplies another one.
func NewSessionService(sessions port.SessionRepository, accounts port.AccountRepository, recorder *AnalyticsRecorder, policy domain.LivenessPolicy, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NewAnalyticsRecorder(nil, nil, logger)
	}
	service := &SessionService{
		sessions:  sessions,
		admission: NewAdmissionEngine(accounts, sessions, policy),
		recorder:  recorder,
		locker:    NewLocalAccountLocker(),
		metrics:   noopSessionMetrics{},
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		newID:     uuid.NewString,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the clock used for stamping, liveness and analytics timestamps.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
		s.admission.WithClock(clock)
		s.recorder.WithClock(clock)
	}
	return s
}

// WithAccountLocker replaces the admission lock, e.g. with a distributed implementation.
func (s *SessionService) WithAccountLocker(locker port.AccountLocker) *SessionService {
	if locker != nil {
		s.locker = locker
	}
	return s
}

// WithMetrics wires telemetry hooks.
func (s *SessionService) WithMetrics(metrics port.SessionMetrics) *SessionService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithTracer overrides the tracer used for operation spans.
func (s *SessionService) WithTracer(tracer trace.Tracer) *SessionService {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

// WithIDGenerator overrides session id generation.
func (s *SessionService) WithIDGenerator(gen func() string) *SessionService {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Admission exposes the underlying admission engine.
func (s *SessionService) Admission() *AdmissionEngine {
	return s.admission
}

// GetActiveSessions lists the account's sessions that pass the liveness check.
func (s *SessionService) GetActiveSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.GetActiveSessions", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	_, active, err := s.admission.Evaluate(ctx, accountID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return active, nil
}

// GetSessionStatus reports the account's occupancy and whether the user already holds a live session.
func (s *SessionService) GetSessionStatus(ctx context.Context, accountID, userID string) (*SessionStatus, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.GetSessionStatus", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	decision, active, err := s.admission.Evaluate(ctx, accountID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	hasSession := false
	for _, session := range active {
		if session.UserID == userID {
			hasSession = true
			break
		}
	}

	return &SessionStatus{
		HasActiveSession:   hasSession,
		ActiveSessions:     decision.ActiveCount,
		MaxConcurrentUsers: decision.Limit,
		CanStart:           hasSession || decision.Allowed,
	}, nil
}

// GetSession fetches a single session regardless of its state.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, translateSessionError(err, "get session")
	}
	return session, nil
}

// StartSession admits and persists a new session while holding the account lock.
// A rejected admission returns *LimitReachedError and writes nothing.
func (s *SessionService) StartSession(ctx context.Context, input StartSessionInput) (*StartSessionResult, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.StartSession", trace.WithAttributes(
		attribute.String("account.id", input.AccountID),
	))
	defer span.End()

	accountID := strings.TrimSpace(input.AccountID)
	userID := strings.TrimSpace(input.UserID)
	if accountID == "" || userID == "" {
		return nil, fmt.Errorf("%w: account id and user id are required", ErrInvalidInput)
	}

	release, err := s.locker.LockAccount(ctx, accountID)
	if err != nil {
		s.metrics.ObserveAdmission(AdmissionFailed)
		recordSpanError(span, err)
		if errors.Is(err, repository.ErrLockUnavailable) {
			return nil, ErrAdmissionBusy
		}
		return nil, fmt.Errorf("acquire account lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			s.logger.Warn("failed to release account lock", zap.String("account_id", accountID), zap.Error(err))
		}
	}()

	now := s.now()
	session := domain.NewSession(s.newID(), accountID, userID, now)
	session.Domain = normalizeDomain(input.Domain)
	if input.ClientTimestamp != nil {
		ts := input.ClientTimestamp.UTC()
		session.ClientTimestamp = &ts
	}

	decision, err := s.admission.CanAdmit(ctx, accountID)
	if err != nil {
		s.metrics.ObserveAdmission(AdmissionFailed)
		recordSpanError(span, err)
		return nil, err
	}
	if !decision.Allowed {
		s.metrics.ObserveAdmission(AdmissionRejected)
		s.logger.Info("session admission rejected",
			zap.String("account_id", accountID),
			zap.Int("active_sessions", decision.ActiveCount),
			zap.Int("max_concurrent_users", decision.Limit),
		)
		return nil, &LimitReachedError{ActiveCount: decision.ActiveCount, Limit: decision.Limit}
	}

	// a distributed lock may have expired once the deadline passes; never write outside it
	if err := ctx.Err(); err != nil {
		s.metrics.ObserveAdmission(AdmissionFailed)
		recordSpanError(span, err)
		return nil, fmt.Errorf("admit session: %w", err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.metrics.ObserveAdmission(AdmissionFailed)
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: create session: %w", ErrStoreFailure, err)
	}
	s.metrics.ObserveAdmission(AdmissionAdmitted)
	span.SetAttributes(attribute.String("session.id", session.ID))

	result := &StartSessionResult{
		Session:     session,
		ActiveCount: decision.ActiveCount + 1,
		Limit:       decision.Limit,
	}
	result.AnalyticsErr = s.record(ctx, domain.EventSessionStart, session)

	s.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("account_id", accountID),
		zap.Int("active_sessions", result.ActiveCount),
		zap.Int("max_concurrent_users", result.Limit),
	)
	return result, nil
}

// RecordActivity refreshes the session's last activity and merges the soft fields of update.
func (s *SessionService) RecordActivity(ctx context.Context, sessionID string, update domain.ActivityUpdate) (*SessionMutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.RecordActivity", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	update.Domain = normalizeDomain(update.Domain)
	now := s.now()
	updated, err := s.sessions.Update(ctx, sessionID, func(session *domain.Session) error {
		session.ApplyActivity(update)
		session.Touch(now)
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, translateSessionError(err, "record activity")
	}

	result := &SessionMutationResult{Session: *updated}
	result.AnalyticsErr = s.record(ctx, domain.EventSessionActivity, *updated)
	return result, nil
}

// EndSession terminates the session. Ending an already terminated session is a no-op that keeps the
// original end time and duration, reports AlreadyEnded and records no event.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (*SessionMutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.EndSession", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	now := s.now()
	var existing domain.Session
	updated, err := s.sessions.Update(ctx, sessionID, func(session *domain.Session) error {
		if !session.End(now) {
			existing = session.Clone()
			return errAlreadyEnded
		}
		return nil
	})
	if errors.Is(err, errAlreadyEnded) {
		s.logger.Debug("session already ended", zap.String("session_id", sessionID))
		return &SessionMutationResult{Session: existing, AlreadyEnded: true}, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, translateSessionError(err, "end session")
	}

	result := &SessionMutationResult{Session: *updated}
	result.AnalyticsErr = s.record(ctx, domain.EventSessionEnd, *updated)

	fields := []zap.Field{zap.String("session_id", updated.ID), zap.String("account_id", updated.AccountID)}
	if updated.Duration != nil {
		fields = append(fields, zap.Float64("duration_seconds", *updated.Duration))
	}
	s.logger.Info("session ended", fields...)
	return result, nil
}

// RecordActivityForUser records activity on the user's most recent live session under the account.
func (s *SessionService) RecordActivityForUser(ctx context.Context, accountID, userID string, update domain.ActivityUpdate) (*SessionMutationResult, error) {
	session, err := s.latestLiveSession(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	return s.RecordActivity(ctx, session.ID, update)
}

// EndSessionForUser ends the user's most recent live session under the account.
func (s *SessionService) EndSessionForUser(ctx context.Context, accountID, userID string) (*SessionMutationResult, error) {
	session, err := s.latestLiveSession(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	return s.EndSession(ctx, session.ID)
}

func (s *SessionService) latestLiveSession(ctx context.Context, accountID, userID string) (*domain.Session, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: account id and user id are required", ErrInvalidInput)
	}

	_, active, err := s.admission.Evaluate(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var latest *domain.Session
	for i := range active {
		candidate := active[i]
		if candidate.UserID != userID {
			continue
		}
		if latest == nil || candidate.LastActivity.After(*latest.LastActivity) {
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return latest, nil
}

func (s *SessionService) record(ctx context.Context, eventType domain.AnalyticsEventType, session domain.Session) error {
	s.metrics.IncLifecycleEvent(eventType)

	if _, err := s.recorder.Record(ctx, eventType, session); err != nil {
		s.metrics.IncAnalyticsFailure(eventType)
		s.logger.Warn("failed to record analytics event",
			zap.String("event_type", string(eventType)),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func translateSessionError(err error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

func normalizeDomain(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
