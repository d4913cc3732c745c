package testdata

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// ErrUnavailable is returned by the in-memory directories when failure is injected.
var ErrUnavailable = errors.New("service unavailable")

// LeadDirectory is an in-memory domain.LeadDirectory for tests.
type LeadDirectory struct {
	mu          sync.Mutex
	leads       map[int64]map[int64]domain.LeadSnapshot
	failLookup  map[int64]bool
	failSetOwn  bool
	ownerWrites int
}

// NewLeadDirectory creates an empty lead directory
func NewLeadDirectory() *LeadDirectory {
	return &LeadDirectory{
		leads:      make(map[int64]map[int64]domain.LeadSnapshot),
		failLookup: make(map[int64]bool),
	}
}

// Put stores or replaces a lead.
func (d *LeadDirectory) Put(lead domain.LeadSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.leads[lead.TenantID] == nil {
		d.leads[lead.TenantID] = make(map[int64]domain.LeadSnapshot)
	}
	d.leads[lead.TenantID][lead.ID] = lead
}

// Delete removes a lead.
func (d *LeadDirectory) Delete(tenantID, leadID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.leads[tenantID], leadID)
}

// FailLookup makes GetLeadSnapshot fail for one lead.
func (d *LeadDirectory) FailLookup(leadID int64, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failLookup[leadID] = fail
}

// FailSetOwner makes SetLeadOwner fail for every lead.
func (d *LeadDirectory) FailSetOwner(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSetOwn = fail
}

// Owner returns the current owner of a lead.
func (d *LeadDirectory) Owner(tenantID, leadID int64) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lead, ok := d.leads[tenantID][leadID]
	if !ok || lead.OwnerID == nil {
		return 0, false
	}
	return *lead.OwnerID, true
}

// OwnerWrites counts successful SetLeadOwner calls.
func (d *LeadDirectory) OwnerWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ownerWrites
}

func (d *LeadDirectory) GetLeadSnapshot(ctx context.Context, tenantID, leadID int64) (*domain.LeadSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLookup[leadID] {
		return nil, ErrUnavailable
	}
	lead, ok := d.leads[tenantID][leadID]
	if !ok || lead.Status == domain.LeadStatusDeleted {
		return nil, domain.NewNotFoundError("lead")
	}
	return &lead, nil
}

func (d *LeadDirectory) SetLeadOwner(ctx context.Context, tenantID, leadID, userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSetOwn {
		return ErrUnavailable
	}
	lead, ok := d.leads[tenantID][leadID]
	if !ok {
		return domain.NewNotFoundError("lead")
	}
	owner := userID
	lead.OwnerID = &owner
	d.leads[tenantID][leadID] = lead
	d.ownerWrites++
	return nil
}

// UserDirectory is an in-memory domain.UserDirectory for tests.
type UserDirectory struct {
	mu    sync.Mutex
	users map[int64][]domain.DirectoryUser
	fail  bool
}

// NewUserDirectory creates an empty user directory
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[int64][]domain.DirectoryUser)}
}

// SetUsers replaces the sales users of a tenant.
func (d *UserDirectory) SetUsers(tenantID int64, users []domain.DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[tenantID] = append([]domain.DirectoryUser(nil), users...)
}

// Fail makes every call fail.
func (d *UserDirectory) Fail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *UserDirectory) ListTenants(ctx context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, ErrUnavailable
	}
	tenants := make([]int64, 0, len(d.users))
	for id := range d.users {
		tenants = append(tenants, id)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })
	return tenants, nil
}

func (d *UserDirectory) ListSalesUsers(ctx context.Context, tenantID int64) ([]domain.DirectoryUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, ErrUnavailable
	}
	return append([]domain.DirectoryUser(nil), d.users[tenantID]...), nil
}

// FailureRecorder is a domain.FailureReporter that keeps every report.
type FailureRecorder struct {
	mu      sync.Mutex
	Reports []FailureReport
}

// FailureReport is one recorded terminal failure.
type FailureReport struct {
	TenantID, LeadID, EntryID int64
	Reason                    string
}

func (r *FailureRecorder) ReportTerminalFailure(ctx context.Context, tenantID, leadID, entryID int64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reports = append(r.Reports, FailureReport{TenantID: tenantID, LeadID: leadID, EntryID: entryID, Reason: reason})
}

// All returns a copy of the recorded reports.
func (r *FailureRecorder) All() []FailureReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FailureReport(nil), r.Reports...)
}
