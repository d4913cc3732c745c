package alerting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/jordanlanch/leadrouting/pkg/logger"
)

// SentryReporter reports queue entries that reached a terminal failure so an
// operator can resolve them manually.
type SentryReporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// NewSentryReporter creates a reporter on hub, or on the current hub when nil.
func NewSentryReporter(hub *sentry.Hub, log logger.Logger) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub, log: log}
}

// ReportTerminalFailure implements domain.FailureReporter
func (r *SentryReporter) ReportTerminalFailure(ctx context.Context, tenantID, leadID, entryID int64, reason string) {
	r.log.Warn("lead routing failed permanently",
		"tenant_id", tenantID,
		"lead_id", leadID,
		"entry_id", entryID,
		"reason", reason,
	)

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("tenant_id", strconv.FormatInt(tenantID, 10))
		scope.SetTag("component", "routing")
		scope.SetContext("queue_entry", sentry.Context{
			"entry_id": entryID,
			"lead_id":  leadID,
			"reason":   reason,
		})
		scope.SetFingerprint([]string{"routing-terminal-failure", strconv.FormatInt(tenantID, 10)})
		hub.CaptureMessage(fmt.Sprintf("lead %d could not be routed: %s", leadID, reason))
	})
}
