package queue

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

const entriesTable = "queue_entries"

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusDone, StatusFailed, StatusCancelled}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

var entryColumns = []string{
	"id", "tenant_id", "lead_id", "status", "priority_score", "attempts", "max_attempts",
	"last_error", "claimed_by", "claimed_at", "last_attempt_at", "eligible_at", "created_at", "updated_at",
}

// Entry is a lead waiting for, or done with, automatic assignment.
type Entry struct {
	ID            int64      `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	LeadID        int64      `json:"lead_id"`
	Status        Status     `json:"status"`
	PriorityScore int        `json:"priority_score"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LastError     *string    `json:"last_error"`
	ClaimedBy     *string    `json:"claimed_by"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	EligibleAt    time.Time  `json:"eligible_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Config controls retry scheduling.
type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// DefaultConfig returns the production retry policy
func DefaultConfig() Config {
	return Config{
		BaseDelay:   5 * time.Second,
		MaxDelay:    10 * time.Minute,
		MaxAttempts: 5,
		Now:         time.Now,
	}
}

// Filter selects entries for List. Zero values do not filter.
type Filter struct {
	LeadID   int64
	Statuses []Status
	Limit    int
}

// Queue is the durable routing queue. At most one PENDING or IN_PROGRESS entry
// exists per (tenant, lead); every state change is a compare-and-set UPDATE.
type Queue struct {
	db  *database.Client
	cfg Config
}

// New creates a routing queue
func New(db *database.Client, cfg Config) *Queue {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Queue{db: db, cfg: cfg}
}

// now is truncated to microseconds so values round-trip through Postgres unchanged.
func (q *Queue) now() time.Time {
	return q.cfg.Now().UTC().Truncate(time.Microsecond)
}

// Enqueue stages a lead for assignment. If the lead already has an active entry that
// entry is returned with created=false.
func (q *Queue) Enqueue(ctx context.Context, tenantID, leadID int64, priorityScore int) (entry *Entry, created bool, err error) {
	if existing, err := q.Active(ctx, tenantID, leadID); err == nil {
		return existing, false, nil
	} else if !domain.IsNotFound(err) {
		return nil, false, err
	}

	now := q.now()
	id, err := database.ScanInt64(ctx, q.db.DB, q.db.Builder().
		Insert(entriesTable).
		Columns("tenant_id", "lead_id", "status", "priority_score", "attempts", "max_attempts", "eligible_at", "created_at", "updated_at").
		Values(tenantID, leadID, string(StatusPending), priorityScore, 0, q.cfg.MaxAttempts, now, now, now).
		Returning("id"))
	if err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			existing, aerr := q.Active(ctx, tenantID, leadID)
			if aerr != nil {
				return nil, false, fmt.Errorf("failed to load active entry after conflict: %w", aerr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to enqueue lead: %w", err)
	}

	entry, err = q.Get(ctx, tenantID, id)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// DequeueBatch claims up to limit eligible PENDING entries for workerID, highest
// priority first, then oldest. Each claim is a compare-and-set on status so two
// callers never receive the same entry.
func (q *Queue) DequeueBatch(ctx context.Context, tenantID int64, limit int, workerID string) ([]Entry, error) {
	if limit < 1 {
		return []Entry{}, nil
	}
	now := q.now()

	var candidates []struct {
		ID int64 `sql:"id"`
	}
	err := database.ScanAll(ctx, q.db.DB, q.db.Builder().
		Select("id").
		From(entsql.Table(entriesTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("status", string(StatusPending)),
			entsql.LTE("eligible_at", now),
		)).
		OrderBy(entsql.Desc("priority_score"), entsql.Asc("created_at"), entsql.Asc("id")).
		Limit(limit), &candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending entries: %w", err)
	}

	claimed := make([]any, 0, len(candidates))
	for _, c := range candidates {
		n, err := database.Exec(ctx, q.db.DB, q.db.Builder().
			Update(entriesTable).
			Set("status", string(StatusInProgress)).
			Set("claimed_by", workerID).
			Set("claimed_at", now).
			Set("last_attempt_at", now).
			Set("updated_at", now).
			Where(entsql.And(
				entsql.EQ("id", c.ID),
				entsql.EQ("status", string(StatusPending)),
			)))
		if err != nil {
			return nil, fmt.Errorf("failed to claim entry %d: %w", c.ID, err)
		}
		if n == 1 {
			claimed = append(claimed, c.ID)
		}
	}
	if len(claimed) == 0 {
		return []Entry{}, nil
	}

	return q.query(ctx, q.db.Builder().
		Select(entryColumns...).
		From(entsql.Table(entriesTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.In("id", claimed...),
		)).
		OrderBy(entsql.Desc("priority_score"), entsql.Asc("created_at"), entsql.Asc("id")))
}

// MarkDone completes an entry after a successful assignment.
func (q *Queue) MarkDone(ctx context.Context, e *Entry) (*Entry, error) {
	now := q.now()
	return q.transition(ctx, e, q.db.Builder().
		Update(entriesTable).
		Set("status", string(StatusDone)).
		SetNull("last_error").
		Set("updated_at", now))
}

// MarkRetry records a failed attempt. The entry returns to PENDING with
// eligible_at pushed out by the backoff, or becomes FAILED once max_attempts is reached.
func (q *Queue) MarkRetry(ctx context.Context, e *Entry, reason string) (*Entry, error) {
	now := q.now()
	attempts := e.Attempts + 1

	update := q.db.Builder().
		Update(entriesTable).
		Set("attempts", attempts).
		Set("last_error", reason).
		Set("updated_at", now)
	if attempts >= e.MaxAttempts {
		update.Set("status", string(StatusFailed))
	} else {
		update.
			Set("status", string(StatusPending)).
			Set("eligible_at", now.Add(Backoff(q.cfg.BaseDelay, q.cfg.MaxDelay, attempts)))
	}
	return q.transition(ctx, e, update)
}

// MarkFailed ends an entry that cannot be assigned automatically.
func (q *Queue) MarkFailed(ctx context.Context, e *Entry, reason string) (*Entry, error) {
	return q.transition(ctx, e, q.db.Builder().
		Update(entriesTable).
		Set("status", string(StatusFailed)).
		Set("attempts", e.Attempts+1).
		Set("last_error", reason).
		Set("updated_at", q.now()))
}

// MarkCancelled ends an entry whose lead no longer needs an owner.
func (q *Queue) MarkCancelled(ctx context.Context, e *Entry, reason string) (*Entry, error) {
	return q.transition(ctx, e, q.db.Builder().
		Update(entriesTable).
		Set("status", string(StatusCancelled)).
		Set("last_error", reason).
		Set("updated_at", q.now()))
}

// transition applies update only while e is still held by the same claim.
func (q *Queue) transition(ctx context.Context, e *Entry, update *entsql.UpdateBuilder) (*Entry, error) {
	where := entsql.And(
		entsql.EQ("tenant_id", e.TenantID),
		entsql.EQ("id", e.ID),
		entsql.EQ("status", string(StatusInProgress)),
		entsql.EQ("attempts", e.Attempts),
	)
	if e.ClaimedBy != nil {
		where = entsql.And(where, entsql.EQ("claimed_by", *e.ClaimedBy))
	}
	if e.ClaimedAt != nil {
		where = entsql.And(where, entsql.EQ("claimed_at", e.ClaimedAt.UTC()))
	}

	n, err := database.Exec(ctx, q.db.DB, update.Where(where))
	if err != nil {
		return nil, fmt.Errorf("failed to update entry %d: %w", e.ID, err)
	}
	if n == 0 {
		return nil, domain.NewStaleEntryError(e.ID)
	}
	return q.Get(ctx, e.TenantID, e.ID)
}

// ReclaimStalled takes back IN_PROGRESS entries claimed longer than stallTimeout ago.
// A stall counts as a failed attempt: the entry returns to PENDING behind the backoff,
// or becomes FAILED once max_attempts is reached. Entries whose holder finished in
// the meantime are skipped. It returns the entries it changed.
func (q *Queue) ReclaimStalled(ctx context.Context, tenantID int64, stallTimeout time.Duration) ([]Entry, error) {
	now := q.now()
	stalled, err := q.query(ctx, q.db.Builder().
		Select(entryColumns...).
		From(entsql.Table(entriesTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("status", string(StatusInProgress)),
			entsql.LT("claimed_at", now.Add(-stallTimeout)),
		)).
		OrderBy(entsql.Asc("id")))
	if err != nil {
		return nil, fmt.Errorf("failed to select stalled entries: %w", err)
	}

	reclaimed := make([]Entry, 0, len(stalled))
	for i := range stalled {
		e := &stalled[i]
		attempts := e.Attempts + 1

		update := q.db.Builder().
			Update(entriesTable).
			Set("attempts", attempts).
			SetNull("claimed_by").
			SetNull("claimed_at").
			Set("last_error", "reclaimed after stall timeout").
			Set("updated_at", now)
		if attempts >= e.MaxAttempts {
			update.Set("status", string(StatusFailed))
		} else {
			update.
				Set("status", string(StatusPending)).
				Set("eligible_at", now.Add(Backoff(q.cfg.BaseDelay, q.cfg.MaxDelay, attempts)))
		}

		updated, err := q.transition(ctx, e, update)
		if domain.IsStaleEntry(err) {
			continue
		}
		if err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim entry %d: %w", e.ID, err)
		}
		reclaimed = append(reclaimed, *updated)
	}
	return reclaimed, nil
}

// StatusCounts returns the number of entries per status. Every status is present.
func (q *Queue) StatusCounts(ctx context.Context, tenantID int64) (map[Status]int64, error) {
	var rows []struct {
		Status Status `sql:"status"`
		Count  int64  `sql:"count"`
	}
	err := database.ScanAll(ctx, q.db.DB, q.db.Builder().
		Select("status", entsql.As(entsql.Count("*"), "count")).
		From(entsql.Table(entriesTable)).
		Where(entsql.EQ("tenant_id", tenantID)).
		GroupBy("status"), &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	counts := make(map[Status]int64, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, tenantID, entryID int64) (*Entry, error) {
	found, err := q.query(ctx, q.db.Builder().
		Select(entryColumns...).
		From(entsql.Table(entriesTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("id", entryID),
		)))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("queue entry")
	}
	return &found[0], nil
}

// Active returns the lead's PENDING or IN_PROGRESS entry.
func (q *Queue) Active(ctx context.Context, tenantID, leadID int64) (*Entry, error) {
	found, err := q.List(ctx, tenantID, Filter{
		LeadID:   leadID,
		Statuses: []Status{StatusPending, StatusInProgress},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("active queue entry")
	}
	return &found[0], nil
}

// List returns entries matching the filter, newest first.
func (q *Queue) List(ctx context.Context, tenantID int64, f Filter) ([]Entry, error) {
	where := entsql.EQ("tenant_id", tenantID)
	if f.LeadID != 0 {
		where = entsql.And(where, entsql.EQ("lead_id", f.LeadID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = entsql.And(where, entsql.In("status", statuses...))
	}

	query := q.db.Builder().
		Select(entryColumns...).
		From(entsql.Table(entriesTable)).
		Where(where).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if f.Limit > 0 {
		query.Limit(f.Limit)
	}
	return q.query(ctx, query)
}

// ListByLead returns every entry ever created for a lead, newest first.
func (q *Queue) ListByLead(ctx context.Context, tenantID, leadID int64) ([]Entry, error) {
	return q.List(ctx, tenantID, Filter{LeadID: leadID})
}

func (q *Queue) query(ctx context.Context, sel *entsql.Selector) ([]Entry, error) {
	found := []Entry{}
	if err := database.ScanAll(ctx, q.db.DB, sel, &found); err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	return found, nil
}
