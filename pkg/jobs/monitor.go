package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/workload"
)

// Monitor runs the routing housekeeping tasks for every tenant
type Monitor struct {
	queue        *queue.Queue
	workload     *workload.Tracker
	users        domain.UserDirectory
	reporter     domain.FailureReporter
	metrics      *metrics.Metrics
	logger       logger.Logger
	stallTimeout time.Duration
}

// NewMonitor creates a new monitor instance. reporter may be nil.
func NewMonitor(q *queue.Queue, tracker *workload.Tracker, users domain.UserDirectory, reporter domain.FailureReporter, m *metrics.Metrics, log logger.Logger, stallTimeout time.Duration) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		queue:        q,
		workload:     tracker,
		users:        users,
		reporter:     reporter,
		metrics:      m,
		logger:       log,
		stallTimeout: stallTimeout,
	}
}

// TenantResult summarizes one task for one tenant
type TenantResult struct {
	TenantID int64
	Count    int64
	Err      error
}

func (m *Monitor) tenants(ctx context.Context) ([]int64, error) {
	tenants, err := m.users.ListTenants(ctx)
	if err != nil {
		return nil, domain.NewExternalServiceError("user directory", err)
	}
	return tenants, nil
}

// ReclaimStalled takes back entries whose claim outlived the stall timeout. Entries
// that ran out of attempts are reported as terminal failures. A failing tenant does
// not stop the others.
func (m *Monitor) ReclaimStalled(ctx context.Context) ([]TenantResult, error) {
	tenants, err := m.tenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]TenantResult, 0, len(tenants))
	for _, tenantID := range tenants {
		reclaimed, err := m.queue.ReclaimStalled(ctx, tenantID, m.stallTimeout)
		n := int64(len(reclaimed))
		results = append(results, TenantResult{TenantID: tenantID, Count: n, Err: err})
		if err != nil {
			m.logger.Error("failed to reclaim stalled entries", "tenant_id", tenantID, "error", err)
		}
		if n == 0 {
			continue
		}

		m.logger.Warn("reclaimed stalled entries", "tenant_id", tenantID, "count", n)
		if m.metrics != nil {
			m.metrics.RecordReclaimed(n)
		}
		for _, e := range reclaimed {
			if e.Status != queue.StatusFailed {
				continue
			}
			m.logger.Error("routing failed after repeated stalls", "tenant_id", tenantID, "lead_id", e.LeadID, "entry_id", e.ID, "attempts", e.Attempts)
			if m.reporter != nil {
				m.reporter.ReportTerminalFailure(ctx, tenantID, e.LeadID, e.ID, "reclaimed after stall timeout")
			}
		}
	}
	return results, nil
}

// SyncWorkload reseeds workload records from the user directory.
func (m *Monitor) SyncWorkload(ctx context.Context) ([]TenantResult, error) {
	tenants, err := m.tenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]TenantResult, 0, len(tenants))
	for _, tenantID := range tenants {
		users, err := m.users.ListSalesUsers(ctx, tenantID)
		if err != nil {
			m.logger.Error("failed to list sales users", "tenant_id", tenantID, "error", err)
			results = append(results, TenantResult{TenantID: tenantID, Err: err})
			continue
		}
		res, err := m.workload.Sync(ctx, tenantID, users)
		if err != nil {
			m.logger.Error("failed to sync workload", "tenant_id", tenantID, "error", err)
			results = append(results, TenantResult{TenantID: tenantID, Err: err})
			continue
		}
		m.logger.Info("workload synced", "tenant_id", tenantID, "upserted", res.Upserted, "deactivated", res.Deactivated)
		results = append(results, TenantResult{TenantID: tenantID, Count: int64(res.Upserted)})
	}
	return results, nil
}

// RecordQueueGauges publishes per-status queue sizes.
func (m *Monitor) RecordQueueGauges(ctx context.Context) error {
	tenants, err := m.tenants(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, tenantID := range tenants {
		counts, err := m.queue.StatusCounts(ctx, tenantID)
		if err != nil {
			failed++
			m.logger.Error("failed to count queue entries", "tenant_id", tenantID, "error", err)
			continue
		}
		if m.metrics == nil {
			continue
		}
		byStatus := make(map[string]int64, len(counts))
		for st, n := range counts {
			byStatus[string(st)] = n
		}
		m.metrics.SetQueueEntries(tenantID, byStatus)
	}
	if failed > 0 {
		return fmt.Errorf("queue gauges failed for %d of %d tenants", failed, len(tenants))
	}
	return nil
}
