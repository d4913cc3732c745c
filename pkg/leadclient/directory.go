package leadclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// Directory implements domain.UserDirectory against the user directory API.
type Directory struct {
	c *client
}

// NewDirectory creates a user directory client
func NewDirectory(baseURL string, opts Options) *Directory {
	return &Directory{c: newClient("user directory", baseURL, opts)}
}

type tenantsResponse struct {
	Tenants []int64 `json:"tenants"`
}

type usersResponse struct {
	Users []domain.DirectoryUser `json:"users"`
}

// ListTenants returns every tenant with routing enabled.
func (d *Directory) ListTenants(ctx context.Context) ([]int64, error) {
	var resp tenantsResponse
	if err := d.c.do(ctx, http.MethodGet, "/internal/v1/tenants", nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, domain.NewExternalServiceError(d.c.service, err)
		}
		return nil, err
	}
	return resp.Tenants, nil
}

// ListSalesUsers returns the sales users of a tenant.
func (d *Directory) ListSalesUsers(ctx context.Context, tenantID int64) ([]domain.DirectoryUser, error) {
	var resp usersResponse
	err := d.c.do(ctx, http.MethodGet, fmt.Sprintf("/internal/v1/tenants/%d/sales-users", tenantID), nil, &resp)
	if errors.Is(err, errNotFound) {
		return nil, domain.NewNotFoundError("tenant")
	}
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}
