package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// Pool runs coordinator workers that poll every tenant for eligible entries.
type Pool struct {
	coordinator  *Coordinator
	tenants      domain.UserDirectory
	workers      int
	pollInterval time.Duration
}

// NewPool creates a worker pool
func NewPool(c *Coordinator, tenants domain.UserDirectory, workers int, pollInterval time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Pool{coordinator: c, tenants: tenants, workers: workers, pollInterval: pollInterval}
}

// Run blocks until ctx is cancelled and every worker has stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, uuid.NewString())
		}()
	}

	p.coordinator.Logger.Info("routing workers started", "workers", p.workers)
	<-ctx.Done()
	wg.Wait()
	p.coordinator.Logger.Info("routing workers stopped")
}

func (p *Pool) work(ctx context.Context, workerID string) {
	log := p.coordinator.Logger.With("worker_id", workerID)
	for {
		claimed, err := p.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			log.Error("routing sweep failed", "error", err)
		}

		// Keep draining while there is work; sleep only on an idle sweep.
		if claimed > 0 && err == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// RunOnce processes one batch for every tenant and returns how many entries were claimed.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (int, error) {
	tenants, err := p.tenants.ListTenants(ctx)
	if err != nil {
		return 0, domain.NewExternalServiceError("user directory", err)
	}

	claimed := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return claimed, ctx.Err()
		}
		result, err := p.coordinator.ProcessBatch(ctx, tenantID, workerID)
		if err != nil {
			p.coordinator.Logger.Error("failed to process tenant batch", "tenant_id", tenantID, "worker_id", workerID, "error", err)
			continue
		}
		claimed += result.Claimed
	}
	return claimed, nil
}
