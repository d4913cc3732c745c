package workload

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

const recordsTable = "workload_records"

var recordColumns = []string{"tenant_id", "user_id", "active_leads_count", "max_capacity", "is_available", "updated_at"}

// Record tracks how many open leads a sales user owns.
type Record struct {
	TenantID         int64     `json:"tenant_id"`
	UserID           int64     `json:"user_id"`
	ActiveLeadsCount int       `json:"active_leads_count"`
	MaxCapacity      int       `json:"max_capacity"`
	IsAvailable      bool      `json:"is_available"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasCapacity reports whether the user can take another lead without overflow.
func (r Record) HasCapacity() bool {
	return r.ActiveLeadsCount < r.MaxCapacity
}

// SyncResult summarizes a directory sync.
type SyncResult struct {
	Upserted    int `json:"upserted"`
	Deactivated int `json:"deactivated"`
}

// Tracker maintains per-user workload counters. Every counter change is a single
// conditional UPDATE so concurrent coordinators never lose an increment.
type Tracker struct {
	db              *database.Client
	defaultCapacity int
	now             func() time.Time
}

// NewTracker creates a workload tracker. defaultCapacity applies to directory users without one.
func NewTracker(db *database.Client, defaultCapacity int) *Tracker {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	return &Tracker{
		db:              db,
		defaultCapacity: defaultCapacity,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// IncrementLoad adds one active lead to the user. With withinCapacity the update only
// applies while the user is under capacity and fails with CapacityExhausted otherwise.
func (t *Tracker) IncrementLoad(ctx context.Context, tenantID, userID int64, withinCapacity bool) error {
	where := entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("user_id", userID),
	)
	if withinCapacity {
		where = entsql.And(where, entsql.ColumnsLT("active_leads_count", "max_capacity"))
	}

	n, err := database.Exec(ctx, t.db.DB, t.db.Builder().
		Update(recordsTable).
		Add("active_leads_count", 1).
		Set("updated_at", t.now()).
		Where(where))
	if err != nil {
		return fmt.Errorf("failed to increment workload: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := t.Get(ctx, tenantID, userID); err != nil {
		return err
	}
	return domain.NewCapacityExhaustedError(fmt.Sprintf("user %d is at capacity", userID))
}

// DecrementLoad removes one active lead from the user. The counter never drops below zero.
func (t *Tracker) DecrementLoad(ctx context.Context, tenantID, userID int64) error {
	n, err := database.Exec(ctx, t.db.DB, t.db.Builder().
		Update(recordsTable).
		Add("active_leads_count", -1).
		Set("updated_at", t.now()).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("user_id", userID),
			entsql.GT("active_leads_count", 0),
		)))
	if err != nil {
		return fmt.Errorf("failed to decrement workload: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Already at zero is fine; a missing record is not.
	_, err = t.Get(ctx, tenantID, userID)
	return err
}

// Get returns the workload record of one user.
func (t *Tracker) Get(ctx context.Context, tenantID, userID int64) (*Record, error) {
	found, err := t.list(ctx, entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("user_id", userID),
	))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("workload record")
	}
	return &found[0], nil
}

// ListEligible returns available users ordered by active_leads_count, then user_id.
func (t *Tracker) ListEligible(ctx context.Context, tenantID int64) ([]Record, error) {
	return t.list(ctx, entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("is_available", true),
	))
}

// List returns every workload record of the tenant.
func (t *Tracker) List(ctx context.Context, tenantID int64) ([]Record, error) {
	return t.list(ctx, entsql.EQ("tenant_id", tenantID))
}

// SetAvailability marks a user as taking or not taking new leads.
func (t *Tracker) SetAvailability(ctx context.Context, tenantID, userID int64, available bool) error {
	return t.set(ctx, tenantID, userID, "is_available", available)
}

// SetCapacity changes a user's maximum number of active leads.
func (t *Tracker) SetCapacity(ctx context.Context, tenantID, userID int64, capacity int) error {
	if capacity < 1 {
		return domain.NewValidationError("max_capacity must be positive")
	}
	return t.set(ctx, tenantID, userID, "max_capacity", capacity)
}

// Sync seeds and refreshes records from the user directory. Counters are left untouched;
// users missing from the directory or inactive there become unavailable.
func (t *Tracker) Sync(ctx context.Context, tenantID int64, users []domain.DirectoryUser) (SyncResult, error) {
	var result SyncResult
	now := t.now()

	err := t.db.WithTx(ctx, func(tx database.Executor) error {
		keep := make([]any, 0, len(users))
		for _, u := range users {
			capacity := u.MaxCapacity
			if capacity < 1 {
				capacity = t.defaultCapacity
			}
			_, err := database.Exec(ctx, tx, t.db.Builder().
				Insert(recordsTable).
				Columns("tenant_id", "user_id", "active_leads_count", "max_capacity", "is_available", "updated_at").
				Values(tenantID, u.ID, 0, capacity, u.Active, now).
				OnConflict(
					entsql.ConflictColumns("tenant_id", "user_id"),
					entsql.ResolveWith(func(s *entsql.UpdateSet) {
						s.SetExcluded("max_capacity")
						s.SetExcluded("is_available")
						s.SetExcluded("updated_at")
					}),
				))
			if err != nil {
				return fmt.Errorf("failed to upsert workload for user %d: %w", u.ID, err)
			}
			result.Upserted++
			keep = append(keep, u.ID)
		}

		n, err := database.Exec(ctx, tx, t.db.Builder().
			Update(recordsTable).
			Set("is_available", false).
			Set("updated_at", now).
			Where(entsql.And(
				entsql.EQ("tenant_id", tenantID),
				entsql.EQ("is_available", true),
				entsql.NotIn("user_id", keep...),
			)))
		if err != nil {
			return fmt.Errorf("failed to deactivate departed users: %w", err)
		}
		result.Deactivated = int(n)
		return nil
	})
	return result, err
}

func (t *Tracker) set(ctx context.Context, tenantID, userID int64, column string, value any) error {
	n, err := database.Exec(ctx, t.db.DB, t.db.Builder().
		Update(recordsTable).
		Set(column, value).
		Set("updated_at", t.now()).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("user_id", userID),
		)))
	if err != nil {
		return fmt.Errorf("failed to update workload %s: %w", column, err)
	}
	if n == 0 {
		return domain.NewNotFoundError("workload record")
	}
	return nil
}

func (t *Tracker) list(ctx context.Context, where *entsql.Predicate) ([]Record, error) {
	found := []Record{}
	err := database.ScanAll(ctx, t.db.DB, t.db.Builder().
		Select(recordColumns...).
		From(entsql.Table(recordsTable)).
		Where(where).
		OrderBy(entsql.Asc("active_leads_count"), entsql.Asc("user_id")), &found)
	if err != nil {
		return nil, fmt.Errorf("failed to list workload: %w", err)
	}
	return found, nil
}
