package domain

import "context"

// LeadDirectory reads and updates leads owned by the lead service
type LeadDirectory interface {
	// GetLeadSnapshot returns a NotFound error when the lead is missing or deleted.
	GetLeadSnapshot(ctx context.Context, tenantID, leadID int64) (*LeadSnapshot, error)
	SetLeadOwner(ctx context.Context, tenantID, leadID, userID int64) error
}

// UserDirectory lists tenants and their sales users
type UserDirectory interface {
	ListTenants(ctx context.Context) ([]int64, error)
	ListSalesUsers(ctx context.Context, tenantID int64) ([]DirectoryUser, error)
}

// FailureReporter receives entries that reached a terminal failure
type FailureReporter interface {
	ReportTerminalFailure(ctx context.Context, tenantID, leadID, entryID int64, reason string)
}
