package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

const (
	rulesTable   = "assignment_rules"
	cursorsTable = "rule_cursors"
)

var ruleColumns = []string{
	"id", "tenant_id", "name", "strategy", "priority_order", "active",
	"criteria", "allow_overflow", "created_at", "updated_at",
}

// Store persists assignment rules and their round-robin cursors.
type Store struct {
	db       *database.Client
	cache    Cache
	validate *validator.Validate
	now      func() time.Time
}

// NewStore creates a rule store. cache may be nil, in which case every read hits the database.
func NewStore(db *database.Client, cache Cache) *Store {
	return &Store{
		db:       db,
		cache:    cache,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new active rule.
func (s *Store) Create(ctx context.Context, tenantID int64, req CreateRuleRequest) (*Rule, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if err := checkCriteria(req.Criteria); err != nil {
		return nil, err
	}

	now := s.now()
	id, err := database.ScanInt64(ctx, s.db.DB, s.db.Builder().
		Insert(rulesTable).
		Columns("tenant_id", "name", "strategy", "priority_order", "active", "criteria", "allow_overflow", "created_at", "updated_at").
		Values(tenantID, req.Name, string(req.Strategy), req.PriorityOrder, true, req.Criteria, req.AllowOverflow, now, now).
		Returning("id"))
	if err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			return nil, priorityConflict(req.PriorityOrder)
		}
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.invalidate(ctx, tenantID)
	return s.Get(ctx, tenantID, id)
}

// Update applies the set fields of req to an existing rule.
func (s *Store) Update(ctx context.Context, tenantID, ruleID int64, req UpdateRuleRequest) (*Rule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if req.Criteria != nil {
		if err := checkCriteria(*req.Criteria); err != nil {
			return nil, err
		}
	}

	update := s.db.Builder().Update(rulesTable).Set("updated_at", s.now())
	priority := 0
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.NewValidationError("name must not be blank")
		}
		update.Set("name", name)
	}
	if req.Strategy != nil {
		update.Set("strategy", string(*req.Strategy))
	}
	if req.PriorityOrder != nil {
		priority = *req.PriorityOrder
		update.Set("priority_order", priority)
	}
	if req.Criteria != nil {
		update.Set("criteria", *req.Criteria)
	}
	if req.AllowOverflow != nil {
		update.Set("allow_overflow", *req.AllowOverflow)
	}
	if req.Active != nil {
		update.Set("active", *req.Active)
	}

	n, err := database.Exec(ctx, s.db.DB, update.Where(entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("id", ruleID),
	)))
	if err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			if req.PriorityOrder == nil {
				current, gerr := s.Get(ctx, tenantID, ruleID)
				if gerr == nil {
					priority = current.PriorityOrder
				}
			}
			return nil, priorityConflict(priority)
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	if n == 0 {
		return nil, domain.NewNotFoundError("rule")
	}

	s.invalidate(ctx, tenantID)
	return s.Get(ctx, tenantID, ruleID)
}

// Disable deactivates a rule. Rules are never deleted because history references them.
func (s *Store) Disable(ctx context.Context, tenantID, ruleID int64) (*Rule, error) {
	n, err := database.Exec(ctx, s.db.DB, s.db.Builder().
		Update(rulesTable).
		Set("active", false).
		Set("updated_at", s.now()).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("id", ruleID),
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to disable rule: %w", err)
	}
	if n == 0 {
		return nil, domain.NewNotFoundError("rule")
	}

	s.invalidate(ctx, tenantID)
	return s.Get(ctx, tenantID, ruleID)
}

// Get returns one rule of the tenant.
func (s *Store) Get(ctx context.Context, tenantID, ruleID int64) (*Rule, error) {
	var found []Rule
	err := database.ScanAll(ctx, s.db.DB, s.db.Builder().
		Select(ruleColumns...).
		From(entsql.Table(rulesTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("id", ruleID),
		)), &found)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rule: %w", err)
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("rule")
	}
	return &found[0], nil
}

// List returns the tenant's rules in evaluation order (priority_order, id).
func (s *Store) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Rule, error) {
	where := entsql.EQ("tenant_id", tenantID)
	if filter.ActiveOnly {
		where = entsql.And(where, entsql.EQ("active", true))
	}

	found := []Rule{}
	err := database.ScanAll(ctx, s.db.DB, s.db.Builder().
		Select(ruleColumns...).
		From(entsql.Table(rulesTable)).
		Where(where).
		OrderBy(entsql.Asc("priority_order"), entsql.Asc("id")), &found)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return found, nil
}

// ListActive returns the active rules in evaluation order, served from the cache when fresh.
func (s *Store) ListActive(ctx context.Context, tenantID int64) ([]Rule, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, tenantID); ok {
			return cached, nil
		}
	}

	active, err := s.List(ctx, tenantID, ListFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, tenantID, active)
	}
	return active, nil
}

// Cursor returns the position of a round-robin rule. It is the zero Cursor before the first assignment.
func (s *Store) Cursor(ctx context.Context, tenantID, ruleID int64) (Cursor, error) {
	var rows []Cursor
	err := database.ScanAll(ctx, s.db.DB, s.db.Builder().
		Select("last_user_id", "version").
		From(entsql.Table(cursorsTable)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("rule_id", ruleID),
		)), &rows)
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to read rule cursor: %w", err)
	}
	if len(rows) == 0 {
		return Cursor{}, nil
	}
	return rows[0], nil
}

// AdvanceCursor moves a round-robin rule from position from to userID. It is a
// compare-and-set on the cursor version: false means another assignment moved the
// cursor first and the caller must select again.
func (s *Store) AdvanceCursor(ctx context.Context, tenantID, ruleID int64, from Cursor, userID int64) (bool, error) {
	next := from.Next(userID)

	var n int64
	var err error
	if !from.Set() {
		n, err = database.Exec(ctx, s.db.DB, s.db.Builder().
			Insert(cursorsTable).
			Columns("tenant_id", "rule_id", "last_user_id", "version", "updated_at").
			Values(tenantID, ruleID, next.LastUserID, next.Version, s.now()).
			OnConflict(
				entsql.ConflictColumns("tenant_id", "rule_id"),
				entsql.DoNothing(),
			))
	} else {
		n, err = database.Exec(ctx, s.db.DB, s.db.Builder().
			Update(cursorsTable).
			Set("last_user_id", next.LastUserID).
			Set("version", next.Version).
			Set("updated_at", s.now()).
			Where(entsql.And(
				entsql.EQ("tenant_id", tenantID),
				entsql.EQ("rule_id", ruleID),
				entsql.EQ("version", from.Version),
			)))
	}
	if err != nil {
		return false, fmt.Errorf("failed to advance rule cursor: %w", err)
	}
	return n == 1, nil
}

// RewindCursor undoes an advance whose assignment did not happen, restoring the
// user it was moved from. It does nothing once another assignment moved the cursor.
func (s *Store) RewindCursor(ctx context.Context, tenantID, ruleID int64, advanced, previous Cursor) error {
	where := entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("rule_id", ruleID),
		entsql.EQ("version", advanced.Version),
	)

	var err error
	if !previous.Set() {
		_, err = database.Exec(ctx, s.db.DB, s.db.Builder().
			Delete(cursorsTable).
			Where(where))
	} else {
		_, err = database.Exec(ctx, s.db.DB, s.db.Builder().
			Update(cursorsTable).
			Set("last_user_id", previous.LastUserID).
			Set("version", advanced.Version+1).
			Set("updated_at", s.now()).
			Where(where))
	}
	if err != nil {
		return fmt.Errorf("failed to rewind rule cursor: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, tenantID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, tenantID)
	}
}

func checkCriteria(c Criteria) error {
	if c.MinScore != nil && c.MaxScore != nil && *c.MinScore > *c.MaxScore {
		return domain.NewValidationError(fmt.Sprintf("min_score (%d) must not exceed max_score (%d)", *c.MinScore, *c.MaxScore))
	}
	return nil
}

func priorityConflict(priority int) error {
	return domain.NewConflictError(fmt.Sprintf("priority_order %d is already used by an active rule", priority))
}
