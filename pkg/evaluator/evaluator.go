package evaluator

import (
	"context"
	"fmt"
	"sort"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/workload"
)

// RuleSource provides the active rules of a tenant and their round-robin cursors.
type RuleSource interface {
	ListActive(ctx context.Context, tenantID int64) ([]rules.Rule, error)
	Cursor(ctx context.Context, tenantID, ruleID int64) (rules.Cursor, error)
}

// WorkloadSource lists available users ordered by active lead count, then user id.
type WorkloadSource interface {
	ListEligible(ctx context.Context, tenantID int64) ([]workload.Record, error)
}

// TerritorySource resolves the users covering an industry.
type TerritorySource interface {
	MembersForIndustry(ctx context.Context, tenantID int64, industry string) ([]int64, error)
}

// Selection is the owner chosen for a lead and the rule that chose it.
type Selection struct {
	UserID   int64
	RuleID   int64
	Method   domain.Strategy
	Overflow bool // every candidate was at capacity and the rule allowed overflow

	// Cursor is the round-robin position UserID was chosen from.
	Cursor rules.Cursor
}

// Evaluator picks an owner for a lead. It never writes: the caller claims the
// round-robin cursor from Selection.Cursor before assigning.
type Evaluator struct {
	rules       RuleSource
	workload    WorkloadSource
	territories TerritorySource
}

// New creates an evaluator
func New(rules RuleSource, workload WorkloadSource, territories TerritorySource) *Evaluator {
	return &Evaluator{rules: rules, workload: workload, territories: territories}
}

// SelectOwner evaluates the tenant's active rules in priority order and applies
// the strategy of the first rule whose criteria match the lead.
func (e *Evaluator) SelectOwner(ctx context.Context, tenantID int64, lead domain.LeadSnapshot) (*Selection, error) {
	active, err := e.rules.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rule := firstMatch(active, lead)
	if rule == nil {
		return nil, domain.NewNoEligibleCandidateError("no active rule matches the lead")
	}
	if rule.Strategy == domain.StrategyManual {
		return nil, domain.NewManualAssignmentRequiredError(rule.ID)
	}

	available, err := e.workload.ListEligible(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workload: %w", err)
	}

	if rule.Strategy == domain.StrategyTerritoryMatch {
		available, err = e.restrictToTerritory(ctx, tenantID, lead.Industry, available)
		if err != nil {
			return nil, err
		}
		if len(available) == 0 {
			return nil, domain.NewNoEligibleCandidateError(fmt.Sprintf("no available territory member covers industry %q", lead.Industry))
		}
	}

	pool, overflow, err := candidatePool(*rule, available)
	if err != nil {
		return nil, err
	}

	sel := &Selection{RuleID: rule.ID, Method: rule.Strategy, Overflow: overflow}
	switch rule.Strategy {
	case domain.StrategyRoundRobin:
		cur, err := e.rules.Cursor(ctx, tenantID, rule.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cursor: %w", err)
		}
		sel.Cursor = cur
		sel.UserID = nextAfter(pool, cur.LastUserID, cur.Set())
	case domain.StrategyLeastWorkload, domain.StrategyTerritoryMatch:
		sel.UserID = leastLoaded(pool)
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("rule %d has unknown strategy %q", rule.ID, rule.Strategy))
	}
	return sel, nil
}

func firstMatch(active []rules.Rule, lead domain.LeadSnapshot) *rules.Rule {
	ordered := make([]rules.Rule, len(active))
	copy(ordered, active)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PriorityOrder != ordered[j].PriorityOrder {
			return ordered[i].PriorityOrder < ordered[j].PriorityOrder
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i := range ordered {
		if ordered[i].Active && ordered[i].Criteria.Matches(lead) {
			return &ordered[i]
		}
	}
	return nil
}

func (e *Evaluator) restrictToTerritory(ctx context.Context, tenantID int64, industry string, available []workload.Record) ([]workload.Record, error) {
	if e.territories == nil {
		return nil, nil
	}
	members, err := e.territories.MembersForIndustry(ctx, tenantID, industry)
	if err != nil {
		return nil, fmt.Errorf("failed to load territory members: %w", err)
	}

	inTerritory := make(map[int64]bool, len(members))
	for _, id := range members {
		inTerritory[id] = true
	}

	var matched []workload.Record
	for _, r := range available {
		if inTerritory[r.UserID] {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// candidatePool keeps users with spare capacity. When none has any, overflow
// rules fall back to every available user.
func candidatePool(rule rules.Rule, available []workload.Record) ([]workload.Record, bool, error) {
	if len(available) == 0 {
		return nil, false, domain.NewNoEligibleCandidateError("no available users")
	}

	var pool []workload.Record
	for _, r := range available {
		if r.HasCapacity() {
			pool = append(pool, r)
		}
	}
	if len(pool) > 0 {
		return pool, false, nil
	}
	if !rule.AllowOverflow {
		return nil, false, domain.NewCapacityExhaustedError(fmt.Sprintf("all %d available users are at capacity", len(available)))
	}
	return available, true, nil
}

// nextAfter returns the smallest user id greater than the cursor, wrapping to
// the smallest id overall.
func nextAfter(pool []workload.Record, last int64, hasCursor bool) int64 {
	ids := make([]int64, len(pool))
	for i, r := range pool {
		ids[i] = r.UserID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if hasCursor {
		for _, id := range ids {
			if id > last {
				return id
			}
		}
	}
	return ids[0]
}

func leastLoaded(pool []workload.Record) int64 {
	best := pool[0]
	for _, r := range pool[1:] {
		if r.ActiveLeadsCount < best.ActiveLeadsCount ||
			(r.ActiveLeadsCount == best.ActiveLeadsCount && r.UserID < best.UserID) {
			best = r
		}
	}
	return best.UserID
}
