package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingAnalyticsLog struct {
	err error
}

func (f failingAnalyticsLog) Append(context.Context, domain.AnalyticsEvent) error {
	return f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
	err    error
}

func (p *recordingPublisher) PublishSessionLifecycle(_ context.Context, event domain.AnalyticsEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	admissions map[string]int
	lifecycle  map[domain.AnalyticsEventType]int
	failures   map[domain.AnalyticsEventType]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		admissions: make(map[string]int),
		lifecycle:  make(map[domain.AnalyticsEventType]int),
		failures:   make(map[domain.AnalyticsEventType]int),
	}
}

func (m *countingMetrics) ObserveAdmission(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admissions[outcome]++
}

func (m *countingMetrics) IncLifecycleEvent(eventType domain.AnalyticsEventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycle[eventType]++
}

func (m *countingMetrics) IncAnalyticsFailure(eventType domain.AnalyticsEventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[eventType]++
}

// cancellingLocker grants the lock and then cancels the caller's context, as if the
// request deadline expired while the account lock was held.
type cancellingLocker struct {
	cancel context.CancelFunc
}

func (l cancellingLocker) LockAccount(context.Context, string) (func() error, error) {
	l.cancel()
	return func() error { return nil }, nil
}

var testEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func sequentialIDs(prefix string) func() string {
	var counter atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, counter.Add(1))
	}
}

// newTestService wires a SessionService over a fresh memory store seeded with the given accounts.
func newTestService(t *testing.T, accounts ...domain.Account) (*SessionService, *memory.Store, *fakeClock) {
	t.Helper()

	store := memory.NewStore()
	for _, account := range accounts {
		store.PutAccount(account)
	}

	clock := newFakeClock(testEpoch)
	logger := zaptest.NewLogger(t)
	recorder := NewAnalyticsRecorder(store.Analytics(), nil, logger)

	service := NewSessionService(store.Sessions(), store.Accounts(), recorder, domain.NewLivenessPolicy(30*time.Minute), logger).
		WithClock(clock.Now).
		WithIDGenerator(sequentialIDs("sess"))

	return service, store, clock
}
