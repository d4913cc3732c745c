package leadclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// LeadService implements domain.LeadDirectory against the lead service API.
type LeadService struct {
	c *client
}

// NewLeadService creates a lead service client
func NewLeadService(baseURL string, opts Options) *LeadService {
	return &LeadService{c: newClient("lead service", baseURL, opts)}
}

type setOwnerRequest struct {
	UserID int64 `json:"user_id"`
}

// GetLeadSnapshot fetches the routing-relevant fields of a lead.
func (s *LeadService) GetLeadSnapshot(ctx context.Context, tenantID, leadID int64) (*domain.LeadSnapshot, error) {
	var lead domain.LeadSnapshot
	err := s.c.do(ctx, http.MethodGet, leadPath(tenantID, leadID), nil, &lead)
	if errors.Is(err, errNotFound) {
		return nil, domain.NewNotFoundError("lead")
	}
	if err != nil {
		return nil, err
	}
	if lead.Status == domain.LeadStatusDeleted {
		return nil, domain.NewNotFoundError("lead")
	}
	if lead.ID == 0 {
		lead.ID = leadID
	}
	lead.TenantID = tenantID
	return &lead, nil
}

// SetLeadOwner assigns the lead to userID.
func (s *LeadService) SetLeadOwner(ctx context.Context, tenantID, leadID, userID int64) error {
	err := s.c.do(ctx, http.MethodPut, leadPath(tenantID, leadID)+"/owner", setOwnerRequest{UserID: userID}, nil)
	if errors.Is(err, errNotFound) {
		return domain.NewNotFoundError("lead")
	}
	return err
}

func leadPath(tenantID, leadID int64) string {
	return fmt.Sprintf("/internal/v1/tenants/%d/leads/%d", tenantID, leadID)
}
