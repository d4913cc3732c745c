package leadassignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/history"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/territory"
	"github.com/jordanlanch/leadrouting/pkg/workload"
)

// Deps are the collaborators of the lead assignment service. Metrics and Logger are optional.
type Deps struct {
	Rules       *rules.Store
	Territories *territory.Service
	Workload    *workload.Tracker
	Queue       *queue.Queue
	History     *history.Log
	Leads       domain.LeadDirectory
	Users       domain.UserDirectory
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// Service handles lead assignment operations.
type Service struct {
	Deps
	validate *validator.Validate
}

// NewService creates a new lead assignment service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Service{Deps: deps, validate: validator.New()}
}

// QueueStatus is the number of queue entries per status for a tenant.
type QueueStatus struct {
	TenantID int64                  `json:"tenant_id"`
	Counts   map[queue.Status]int64 `json:"counts"`
	Total    int64                  `json:"total"`
}

// ManualAssignRequest represents an operator assignment.
type ManualAssignRequest struct {
	LeadID int64  `json:"lead_id" validate:"required,gt=0"`
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// CreateRule creates an assignment rule.
func (s *Service) CreateRule(ctx context.Context, tenantID int64, req rules.CreateRuleRequest) (*rules.Rule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Rules.Create(ctx, tenantID, req)
}

// UpdateRule changes the set fields of a rule.
func (s *Service) UpdateRule(ctx context.Context, tenantID, ruleID int64, req rules.UpdateRuleRequest) (*rules.Rule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Rules.Update(ctx, tenantID, ruleID, req)
}

// DisableRule deactivates a rule. Rules are never deleted.
func (s *Service) DisableRule(ctx context.Context, tenantID, ruleID int64) (*rules.Rule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Rules.Disable(ctx, tenantID, ruleID)
}

// ListRules returns the tenant's rules in evaluation order.
func (s *Service) ListRules(ctx context.Context, tenantID int64, filter rules.ListFilter) ([]rules.Rule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Rules.List(ctx, tenantID, filter)
}

// RouteLead stages a lead for automatic assignment. Routing a lead that
// already has an active entry returns that entry with created=false.
func (s *Service) RouteLead(ctx context.Context, tenantID, leadID int64, priorityScore int) (*queue.Entry, bool, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, false, err
	}
	if leadID <= 0 {
		return nil, false, domain.NewValidationError("lead_id must be positive")
	}
	if priorityScore < 0 {
		return nil, false, domain.NewValidationError("priority_score must not be negative")
	}

	entry, created, err := s.Queue.Enqueue(ctx, tenantID, leadID, priorityScore)
	if err != nil {
		return nil, false, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordEnqueue(created)
	}
	s.Logger.Debug("lead routed", "tenant_id", tenantID, "lead_id", leadID, "entry_id", entry.ID, "created", created)
	return entry, created, nil
}

// GetQueueStatus returns entry counts grouped by status.
func (s *Service) GetQueueStatus(ctx context.Context, tenantID int64) (*QueueStatus, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	counts, err := s.Queue.StatusCounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	status := &QueueStatus{TenantID: tenantID, Counts: counts}
	for _, n := range counts {
		status.Total += n
	}
	return status, nil
}

// ListQueueEntries returns queue entries, newest first, for operators.
func (s *Service) ListQueueEntries(ctx context.Context, tenantID int64, filter queue.Filter) ([]queue.Entry, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	for _, st := range filter.Statuses {
		if !validStatus(st) {
			return nil, domain.NewValidationError(fmt.Sprintf("unknown queue status %q", st))
		}
	}
	return s.Queue.List(ctx, tenantID, filter)
}

// GetAssignmentHistory returns a lead's assignment decisions, newest first.
func (s *Service) GetAssignmentHistory(ctx context.Context, tenantID, leadID int64) ([]history.Record, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.History.ListForLead(ctx, tenantID, leadID)
}

// CloseLead releases the workload a closed or converted lead held on its owner.
func (s *Service) CloseLead(ctx context.Context, tenantID, leadID, userID int64) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if leadID <= 0 || userID <= 0 {
		return domain.NewValidationError("lead_id and user_id must be positive")
	}

	released, err := s.release(ctx, tenantID, leadID, userID)
	if err != nil {
		return err
	}
	if !released {
		s.Logger.Info("lead already closed", "tenant_id", tenantID, "lead_id", leadID, "user_id", userID)
		return nil
	}
	s.Logger.Info("lead closed", "tenant_id", tenantID, "lead_id", leadID, "user_id", userID)
	return nil
}

// release frees the workload slot userID holds for leadID. Only the owner of the
// latest assignment can release it, and each assignment is released once.
func (s *Service) release(ctx context.Context, tenantID, leadID, userID int64) (bool, error) {
	latest, err := s.History.Latest(ctx, tenantID, leadID)
	if err != nil {
		return false, err
	}
	if latest.AssignedUserID != userID {
		return false, domain.NewConflictError(fmt.Sprintf("lead %d is assigned to user %d", leadID, latest.AssignedUserID))
	}

	released, err := s.History.Release(ctx, latest)
	if err != nil || !released {
		return false, err
	}
	if err := s.Workload.DecrementLoad(ctx, tenantID, userID); err != nil {
		if undoErr := s.History.Unrelease(ctx, latest); undoErr != nil {
			s.Logger.Error("failed to revert assignment release", "tenant_id", tenantID, "lead_id", leadID, "error", undoErr)
		}
		return false, err
	}
	return true, nil
}

// AssignLeadManually assigns a lead on behalf of an operator, typically to
// resolve a lead the router could not place. The previous owner, if any,
// releases the lead.
func (s *Service) AssignLeadManually(ctx context.Context, tenantID int64, req ManualAssignRequest) (*history.Record, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	lead, err := s.Leads.GetLeadSnapshot(ctx, tenantID, req.LeadID)
	if err != nil {
		return nil, err
	}
	if !lead.Status.Routable() {
		return nil, domain.NewValidationError(fmt.Sprintf("lead status %s cannot be assigned", lead.Status))
	}
	if lead.OwnerID != nil && *lead.OwnerID == req.UserID {
		return nil, domain.NewConflictError("lead is already assigned to this user")
	}

	if err := s.Workload.IncrementLoad(ctx, tenantID, req.UserID, false); err != nil {
		return nil, err
	}
	if err := s.Leads.SetLeadOwner(ctx, tenantID, req.LeadID, req.UserID); err != nil {
		if decErr := s.Workload.DecrementLoad(ctx, tenantID, req.UserID); decErr != nil {
			s.Logger.Error("failed to roll back workload increment", "tenant_id", tenantID, "user_id", req.UserID, "error", decErr)
		}
		return nil, err
	}
	if lead.OwnerID != nil {
		if _, err := s.release(ctx, tenantID, req.LeadID, *lead.OwnerID); err != nil {
			s.Logger.Warn("failed to release previous owner", "tenant_id", tenantID, "user_id", *lead.OwnerID, "error", err)
		}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	return s.History.Append(ctx, history.Record{
		TenantID:       tenantID,
		LeadID:         req.LeadID,
		AssignedUserID: req.UserID,
		Method:         domain.StrategyManual,
		Reason:         reason,
	})
}

// CreateTerritory creates a territory used by TERRITORY_MATCH rules.
func (s *Service) CreateTerritory(ctx context.Context, tenantID int64, req territory.CreateTerritoryRequest) (*territory.Territory, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Territories.CreateTerritory(ctx, tenantID, req)
}

// AddTerritoryMember adds a sales user to a territory.
func (s *Service) AddTerritoryMember(ctx context.Context, tenantID, territoryID, userID int64) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if userID <= 0 {
		return domain.NewValidationError("user_id must be positive")
	}
	return s.Territories.AddMember(ctx, tenantID, territoryID, userID)
}

// RemoveTerritoryMember removes a sales user from a territory.
func (s *Service) RemoveTerritoryMember(ctx context.Context, tenantID, territoryID, userID int64) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	return s.Territories.RemoveMember(ctx, tenantID, territoryID, userID)
}

// ListTerritories returns the tenant's territories with their members.
func (s *Service) ListTerritories(ctx context.Context, tenantID int64) ([]territory.Territory, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Territories.ListTerritories(ctx, tenantID, false)
}

// SyncWorkload reseeds the tenant's workload records from the user directory.
func (s *Service) SyncWorkload(ctx context.Context, tenantID int64) (workload.SyncResult, error) {
	if err := checkTenant(tenantID); err != nil {
		return workload.SyncResult{}, err
	}
	users, err := s.Users.ListSalesUsers(ctx, tenantID)
	if err != nil {
		if domain.IsNotFound(err) || domain.IsExternalService(err) {
			return workload.SyncResult{}, err
		}
		return workload.SyncResult{}, domain.NewExternalServiceError("user directory", err)
	}
	return s.Workload.Sync(ctx, tenantID, users)
}

// ListWorkload returns every workload record of the tenant.
func (s *Service) ListWorkload(ctx context.Context, tenantID int64) ([]workload.Record, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	return s.Workload.List(ctx, tenantID)
}

// SetUserAvailability pauses or resumes routing to a user.
func (s *Service) SetUserAvailability(ctx context.Context, tenantID, userID int64, available bool) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	return s.Workload.SetAvailability(ctx, tenantID, userID, available)
}

func checkTenant(tenantID int64) error {
	if tenantID <= 0 {
		return domain.NewValidationError("tenant_id must be positive")
	}
	return nil
}

func validStatus(st queue.Status) bool {
	for _, s := range queue.Statuses {
		if s == st {
			return true
		}
	}
	return false
}
