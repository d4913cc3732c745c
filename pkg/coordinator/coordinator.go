package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/evaluator"
	"github.com/jordanlanch/leadrouting/pkg/history"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/telemetry"
	"github.com/jordanlanch/leadrouting/pkg/workload"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Outcome is how processing a queue entry ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeStale     Outcome = "stale" // another worker owns the entry now
)

// OwnerSelector chooses the owner of a lead without side effects.
type OwnerSelector interface {
	SelectOwner(ctx context.Context, tenantID int64, lead domain.LeadSnapshot) (*evaluator.Selection, error)
}

// CursorAdvancer moves round-robin cursors with compare-and-set semantics.
type CursorAdvancer interface {
	AdvanceCursor(ctx context.Context, tenantID, ruleID int64, from rules.Cursor, userID int64) (bool, error)
	RewindCursor(ctx context.Context, tenantID, ruleID int64, advanced, previous rules.Cursor) error
}

const (
	// maxCursorRaces bounds how often one entry re-selects after losing the cursor.
	maxCursorRaces = 16
	// settleTimeout bounds state changes that must land after the worker context ends.
	settleTimeout = 5 * time.Second
)

// Config tunes batch processing.
type Config struct {
	BatchSize         int
	Concurrency       int
	DependencyTimeout time.Duration
}

// DefaultConfig returns production batch settings
func DefaultConfig() Config {
	return Config{BatchSize: 25, Concurrency: 8, DependencyTimeout: 3 * time.Second}
}

// Deps are the collaborators of a Coordinator. Metrics and Reporter are optional.
type Deps struct {
	Queue    *queue.Queue
	Selector OwnerSelector
	Workload *workload.Tracker
	History  *history.Log
	Cursors  CursorAdvancer
	Leads    domain.LeadDirectory
	Reporter domain.FailureReporter
	Metrics  *metrics.Metrics
	Logger   logger.Logger
}

// Coordinator drives claimed queue entries to a final or retry state.
type Coordinator struct {
	Deps
	cfg Config
}

// New creates a coordinator
func New(deps Deps, cfg Config) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Coordinator{Deps: deps, cfg: cfg}
}

// BatchResult summarizes one dequeue batch.
type BatchResult struct {
	Claimed  int
	Outcomes map[Outcome]int
	Errors   int
}

// ProcessBatch claims up to BatchSize entries of a tenant and processes them
// concurrently. A failing entry never stops the others.
func (c *Coordinator) ProcessBatch(ctx context.Context, tenantID int64, workerID string) (BatchResult, error) {
	entries, err := c.Queue.DequeueBatch(ctx, tenantID, c.cfg.BatchSize, workerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to dequeue batch: %w", err)
	}

	result := BatchResult{Claimed: len(entries), Outcomes: make(map[Outcome]int)}
	if len(entries) == 0 {
		return result, nil
	}

	outcomes := make([]Outcome, len(entries))
	errs := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i := range entries {
		i := i
		g.Go(func() error {
			outcomes[i], errs[i] = c.Process(ctx, &entries[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			result.Errors++
			c.Logger.Error("failed to process queue entry",
				"tenant_id", tenantID,
				"entry_id", entries[i].ID,
				"lead_id", entries[i].LeadID,
				"error", err,
			)
			continue
		}
		result.Outcomes[outcomes[i]]++
	}
	return result, nil
}

// Process handles one IN_PROGRESS entry. The returned error is set only when
// the entry could not be moved to its next state.
func (c *Coordinator) Process(ctx context.Context, e *queue.Entry) (outcome Outcome, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "routing.process_entry",
		attribute.Int64("tenant.id", e.TenantID),
		attribute.Int64("lead.id", e.LeadID),
		attribute.Int64("entry.id", e.ID),
		attribute.Int("entry.attempts", e.Attempts),
	)
	defer func() {
		span.SetAttributes(attribute.String("routing.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.Metrics != nil && err == nil {
			c.Metrics.RecordOutcome(string(outcome), time.Since(start))
		}
	}()

	log := c.Logger.With("tenant_id", e.TenantID, "lead_id", e.LeadID, "entry_id", e.ID)

	lead, err := c.fetchLead(ctx, e)
	if err != nil {
		if domain.IsNotFound(err) {
			return c.cancel(ctx, e, "lead no longer exists")
		}
		return c.retry(ctx, e, err)
	}
	if !lead.Status.Routable() {
		return c.cancel(ctx, e, fmt.Sprintf("lead status is %s", lead.Status))
	}

	done, err := c.alreadyAssigned(ctx, e, lead)
	if err != nil {
		return c.retry(ctx, e, err)
	}
	if done {
		log.Info("lead already assigned by a previous claim of this entry")
		return c.finish(ctx, e)
	}

	sel, err := c.selectOwner(ctx, e, *lead)
	if err != nil {
		if !domain.IsRetryable(err) {
			return c.fail(ctx, e, err.Error())
		}
		return c.retry(ctx, e, err)
	}
	span.SetAttributes(
		attribute.Int64("routing.user_id", sel.UserID),
		attribute.Int64("routing.rule_id", sel.RuleID),
		attribute.String("routing.method", string(sel.Method)),
		attribute.Bool("routing.overflow", sel.Overflow),
	)

	if err := c.Workload.IncrementLoad(ctx, e.TenantID, sel.UserID, !sel.Overflow); err != nil {
		c.rewind(ctx, log, e, sel)
		return c.retry(ctx, e, err)
	}

	if err := c.setOwner(ctx, e, sel.UserID); err != nil {
		c.compensate(ctx, log, e, sel)
		return c.retry(ctx, e, err)
	}

	if err := c.recordAssignment(ctx, e, sel); err != nil {
		c.compensate(ctx, log, e, sel)
		return c.retry(ctx, e, err)
	}

	log.Info("lead assigned", "user_id", sel.UserID, "rule_id", sel.RuleID, "method", sel.Method, "overflow", sel.Overflow)
	return c.finish(ctx, e)
}

// selectOwner evaluates the rules and, for round-robin, claims the cursor before
// anything is written. A lost claim means a concurrent assignment took that user,
// so the selection is repeated from the new cursor.
func (c *Coordinator) selectOwner(ctx context.Context, e *queue.Entry, lead domain.LeadSnapshot) (*evaluator.Selection, error) {
	for race := 0; race < maxCursorRaces; race++ {
		sel, err := c.Selector.SelectOwner(ctx, e.TenantID, lead)
		if err != nil {
			return nil, err
		}
		if sel.Method != domain.StrategyRoundRobin || c.Cursors == nil {
			return sel, nil
		}

		claimed, err := c.Cursors.AdvanceCursor(ctx, e.TenantID, sel.RuleID, sel.Cursor, sel.UserID)
		if err != nil {
			return nil, err
		}
		if claimed {
			return sel, nil
		}
	}
	return nil, domain.NewConflictError("round-robin cursor kept moving during selection")
}

// recordAssignment appends the history record. The owner is already written to
// the lead service at this point, so it runs even when the worker is stopping.
func (c *Coordinator) recordAssignment(ctx context.Context, e *queue.Entry, sel *evaluator.Selection) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	ruleID := sel.RuleID
	_, err := c.History.Append(ctx, history.Record{
		TenantID:       e.TenantID,
		LeadID:         e.LeadID,
		AssignedUserID: sel.UserID,
		RuleID:         &ruleID,
		Method:         sel.Method,
		Reason:         assignmentReason(sel),
	})
	return err
}

func (c *Coordinator) fetchLead(ctx context.Context, e *queue.Entry) (*domain.LeadSnapshot, error) {
	ctx, cancel := c.withDependencyTimeout(ctx)
	defer cancel()

	lead, err := c.Leads.GetLeadSnapshot(ctx, e.TenantID, e.LeadID)
	if err != nil {
		if domain.IsNotFound(err) || domain.GetErrorCode(err) == domain.ErrCodeExternalService {
			return nil, err
		}
		return nil, domain.NewExternalServiceError("lead service", err)
	}
	return lead, nil
}

func (c *Coordinator) setOwner(ctx context.Context, e *queue.Entry, userID int64) error {
	ctx, cancel := c.withDependencyTimeout(ctx)
	defer cancel()

	if err := c.Leads.SetLeadOwner(ctx, e.TenantID, e.LeadID, userID); err != nil {
		if domain.IsExternalService(err) {
			return err
		}
		return domain.NewExternalServiceError("lead service", err)
	}
	return nil
}

func (c *Coordinator) withDependencyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.DependencyTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.DependencyTimeout)
}

// alreadyAssigned reports whether the lead was assigned after this entry was
// created, either by a holder that stalled before MarkDone or by an operator.
func (c *Coordinator) alreadyAssigned(ctx context.Context, e *queue.Entry, lead *domain.LeadSnapshot) (bool, error) {
	if lead.OwnerID == nil {
		return false, nil
	}
	latest, err := c.History.Latest(ctx, e.TenantID, e.LeadID)
	if domain.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !latest.CreatedAt.Before(e.CreatedAt) && latest.AssignedUserID == *lead.OwnerID, nil
}

// settleContext outlives ctx so rollbacks and queue transitions still land when
// the worker is shutting down.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// compensate rolls back the workload increment and cursor claim of an
// assignment that did not complete.
func (c *Coordinator) compensate(ctx context.Context, log logger.Logger, e *queue.Entry, sel *evaluator.Selection) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	c.rewind(ctx, log, e, sel)
	if err := c.Workload.DecrementLoad(ctx, e.TenantID, sel.UserID); err != nil {
		log.Error("failed to roll back workload increment", "user_id", sel.UserID, "error", err)
		return
	}
	if c.Metrics != nil {
		c.Metrics.RecordCompensation()
	}
}

func (c *Coordinator) rewind(ctx context.Context, log logger.Logger, e *queue.Entry, sel *evaluator.Selection) {
	if sel.Method != domain.StrategyRoundRobin || c.Cursors == nil {
		return
	}
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := c.Cursors.RewindCursor(ctx, e.TenantID, sel.RuleID, sel.Cursor.Next(sel.UserID), sel.Cursor); err != nil {
		log.Warn("failed to rewind round-robin cursor", "rule_id", sel.RuleID, "error", err)
	}
}

func (c *Coordinator) finish(ctx context.Context, e *queue.Entry) (Outcome, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if _, err := c.Queue.MarkDone(ctx, e); err != nil {
		return c.transitionError(e, err)
	}
	return OutcomeDone, nil
}

func (c *Coordinator) cancel(ctx context.Context, e *queue.Entry, reason string) (Outcome, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if _, err := c.Queue.MarkCancelled(ctx, e, reason); err != nil {
		return c.transitionError(e, err)
	}
	c.Logger.Info("routing cancelled", "tenant_id", e.TenantID, "lead_id", e.LeadID, "reason", reason)
	return OutcomeCancelled, nil
}

func (c *Coordinator) retry(ctx context.Context, e *queue.Entry, cause error) (Outcome, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	updated, err := c.Queue.MarkRetry(ctx, e, cause.Error())
	if err != nil {
		return c.transitionError(e, err)
	}
	if updated.Status == queue.StatusFailed {
		c.report(ctx, updated, cause.Error())
		return OutcomeFailed, nil
	}
	c.Logger.Debug("routing rescheduled",
		"tenant_id", e.TenantID,
		"lead_id", e.LeadID,
		"attempts", updated.Attempts,
		"eligible_at", updated.EligibleAt,
		"reason", cause.Error(),
	)
	return OutcomeRetry, nil
}

func (c *Coordinator) fail(ctx context.Context, e *queue.Entry, reason string) (Outcome, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	updated, err := c.Queue.MarkFailed(ctx, e, reason)
	if err != nil {
		return c.transitionError(e, err)
	}
	c.report(ctx, updated, reason)
	return OutcomeFailed, nil
}

func (c *Coordinator) report(ctx context.Context, e *queue.Entry, reason string) {
	if c.Reporter != nil {
		c.Reporter.ReportTerminalFailure(ctx, e.TenantID, e.LeadID, e.ID, reason)
	}
}

func (c *Coordinator) transitionError(e *queue.Entry, err error) (Outcome, error) {
	if domain.IsStaleEntry(err) {
		c.Logger.Warn("queue entry changed hands", "tenant_id", e.TenantID, "entry_id", e.ID)
		return OutcomeStale, nil
	}
	return "", err
}

func assignmentReason(sel *evaluator.Selection) string {
	reason := fmt.Sprintf("rule %d selected user %d via %s", sel.RuleID, sel.UserID, sel.Method)
	if sel.Overflow {
		reason += " (overflow)"
	}
	return reason
}
