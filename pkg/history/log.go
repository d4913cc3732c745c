package history

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

const (
	historyTable  = "assignment_history"
	releasesTable = "assignment_releases"
)

var recordColumns = []string{"id", "tenant_id", "lead_id", "assigned_user_id", "rule_id", "method", "reason", "created_at"}

// Record is one assignment decision. Records are never updated or deleted.
type Record struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	LeadID         int64           `json:"lead_id"`
	AssignedUserID int64           `json:"assigned_user_id"`
	RuleID         *int64          `json:"rule_id"`
	Method         domain.Strategy `json:"method"`
	Reason         string          `json:"reason"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Log is the append-only assignment ledger.
type Log struct {
	db  *database.Client
	now func() time.Time
}

// NewLog creates a history log
func NewLog(db *database.Client) *Log {
	return &Log{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append writes a record and returns it with its id and timestamp set.
func (l *Log) Append(ctx context.Context, rec Record) (*Record, error) {
	if rec.TenantID == 0 || rec.LeadID == 0 || rec.AssignedUserID == 0 {
		return nil, domain.NewValidationError("history record needs tenant, lead and assigned user")
	}
	if !rec.Method.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown assignment method %q", rec.Method))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}

	id, err := database.ScanInt64(ctx, l.db.DB, l.db.Builder().
		Insert(historyTable).
		Columns("tenant_id", "lead_id", "assigned_user_id", "rule_id", "method", "reason", "created_at").
		Values(rec.TenantID, rec.LeadID, rec.AssignedUserID, rec.RuleID, string(rec.Method), rec.Reason, rec.CreatedAt.UTC()).
		Returning("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// ListForLead returns a lead's decisions, newest first.
func (l *Log) ListForLead(ctx context.Context, tenantID, leadID int64) ([]Record, error) {
	return l.list(ctx, tenantID, leadID, 0)
}

// Latest returns the most recent decision for a lead.
func (l *Log) Latest(ctx context.Context, tenantID, leadID int64) (*Record, error) {
	found, err := l.list(ctx, tenantID, leadID, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("assignment history")
	}
	return &found[0], nil
}

// Release marks the assignment rec as finished, when its lead is closed or handed
// to another owner. released is false when rec was already released.
func (l *Log) Release(ctx context.Context, rec *Record) (released bool, err error) {
	n, err := database.Exec(ctx, l.db.DB, l.db.Builder().
		Insert(releasesTable).
		Columns("history_id", "tenant_id", "lead_id", "released_at").
		Values(rec.ID, rec.TenantID, rec.LeadID, l.now()).
		OnConflict(
			entsql.ConflictColumns("history_id"),
			entsql.DoNothing(),
		))
	if err != nil {
		return false, fmt.Errorf("failed to release assignment %d: %w", rec.ID, err)
	}
	return n == 1, nil
}

// Unrelease reverts Release when the workload change that followed it failed.
func (l *Log) Unrelease(ctx context.Context, rec *Record) error {
	_, err := database.Exec(ctx, l.db.DB, l.db.Builder().
		Delete(releasesTable).
		Where(entsql.And(
			entsql.EQ("history_id", rec.ID),
			entsql.EQ("tenant_id", rec.TenantID),
		)))
	if err != nil {
		return fmt.Errorf("failed to revert release of assignment %d: %w", rec.ID, err)
	}
	return nil
}

func (l *Log) list(ctx context.Context, tenantID, leadID int64, limit int) ([]Record, error) {
	query := l.db.Builder().
		Select(recordColumns...).
		From(entsql.Table(historyTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("lead_id", leadID),
		)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		query.Limit(limit)
	}

	found := []Record{}
	if err := database.ScanAll(ctx, l.db.DB, query, &found); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return found, nil
}
