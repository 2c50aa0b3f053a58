package usecase

import (
	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
)

// Admission outcomes reported to port.SessionMetrics.
const (
	AdmissionAdmitted = "admitted"
	AdmissionRejected = "rejected"
	AdmissionFailed   = "error"
)

type noopSessionMetrics struct{}

func (noopSessionMetrics) ObserveAdmission(string)                       {}
func (noopSessionMetrics) IncLifecycleEvent(domain.AnalyticsEventType)   {}
func (noopSessionMetrics) IncAnalyticsFailure(domain.AnalyticsEventType) {}

var _ port.SessionMetrics = noopSessionMetrics{}
