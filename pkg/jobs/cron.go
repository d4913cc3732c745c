package jobs

import (
	"context"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Schedules holds the cron specs of the housekeeping jobs. An empty spec disables the job.
type Schedules struct {
	Reaper       string
	WorkloadSync string
	QueueGauges  string
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron    *cron.Cron
	monitor *Monitor
	logger  logger.Logger
	timeout time.Duration
}

// NewCronManager creates a new cron manager
func NewCronManager(monitor *Monitor, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Nop()
	}

	return &CronManager{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		monitor: monitor,
		logger:  log,
		timeout: time.Minute,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs(s Schedules) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"reaper", s.Reaper, func(ctx context.Context) error {
			_, err := cm.monitor.ReclaimStalled(ctx)
			return err
		}},
		{"workload_sync", s.WorkloadSync, func(ctx context.Context) error {
			_, err := cm.monitor.SyncWorkload(ctx)
			return err
		}},
		{"queue_gauges", s.QueueGauges, cm.monitor.RecordQueueGauges},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := cm.cron.AddFunc(job.spec, cm.wrap(job.name, job.run)); err != nil {
			return err
		}
		cm.logger.Info("cron job scheduled", "job", job.name, "spec", job.spec)
	}
	return nil
}

func (cm *CronManager) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			cm.logger.Error("cron job failed", "job", name, "error", err)
			return
		}
		cm.logger.Debug("cron job completed", "job", name, "duration", time.Since(start))
	}
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (cm *CronManager) Stop() {
	cm.logger.Info("stopping cron scheduler")
	<-cm.cron.Stop().Done()
}

// GetMonitor returns the monitor (for manual triggers)
func (cm *CronManager) GetMonitor() *Monitor {
	return cm.monitor
}
