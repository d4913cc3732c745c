package territory

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

const (
	territoriesTable = "territories"
	membersTable     = "territory_members"
)

// Service handles territory management operations.
type Service struct {
	db  *database.Client
	now func() time.Time
}

// NewService creates a new territory service.
func NewService(db *database.Client) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Industries is a JSON-encoded list of industry names.
type Industries []string

func (i Industries) Value() (driver.Value, error) {
	if i == nil {
		i = Industries{}
	}
	data, err := json.Marshal([]string(i))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (i *Industries) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(i))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(i))
	default:
		return fmt.Errorf("industries: unsupported type %T", src)
	}
}

// Territory groups sales users that cover a set of industries.
type Territory struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Name       string     `json:"name"`
	Industries Industries `json:"industries"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	MemberIDs  []int64    `json:"member_ids,omitempty" sql:"-"`
}

// CreateTerritoryRequest represents a request to create a territory.
type CreateTerritoryRequest struct {
	Name       string   `json:"name" validate:"required,max=255"`
	Industries []string `json:"industries" validate:"required,min=1,dive,required"`
}

type member struct {
	TerritoryID int64 `sql:"territory_id"`
	UserID      int64 `sql:"user_id"`
}

var territoryColumns = []string{"id", "tenant_id", "name", "industries", "active", "created_at", "updated_at"}

// CreateTerritory creates a new active territory.
func (s *Service) CreateTerritory(ctx context.Context, tenantID int64, req CreateTerritoryRequest) (*Territory, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("territory name is required")
	}
	industries := normalize(req.Industries)
	if len(industries) == 0 {
		return nil, domain.NewValidationError("territory needs at least one industry")
	}

	now := s.now()
	id, err := database.ScanInt64(ctx, s.db.DB, s.db.Builder().
		Insert(territoriesTable).
		Columns("tenant_id", "name", "industries", "active", "created_at", "updated_at").
		Values(tenantID, name, Industries(industries), true, now, now).
		Returning("id"))
	if err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			return nil, domain.NewConflictError(fmt.Sprintf("territory %q already exists", name))
		}
		return nil, fmt.Errorf("failed to create territory: %w", err)
	}

	return s.GetTerritory(ctx, tenantID, id)
}

// GetTerritory returns a territory with its members.
func (s *Service) GetTerritory(ctx context.Context, tenantID, territoryID int64) (*Territory, error) {
	found, err := s.list(ctx, entsql.And(
		entsql.EQ("tenant_id", tenantID),
		entsql.EQ("id", territoryID),
	))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("territory")
	}
	return &found[0], nil
}

// ListTerritories returns the tenant's territories ordered by name.
func (s *Service) ListTerritories(ctx context.Context, tenantID int64, activeOnly bool) ([]Territory, error) {
	where := entsql.EQ("tenant_id", tenantID)
	if activeOnly {
		where = entsql.And(where, entsql.EQ("active", true))
	}
	return s.list(ctx, where)
}

// AddMember adds a user to a territory. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, tenantID, territoryID, userID int64) error {
	if _, err := s.GetTerritory(ctx, tenantID, territoryID); err != nil {
		return err
	}
	_, err := database.Exec(ctx, s.db.DB, s.db.Builder().
		Insert(membersTable).
		Columns("territory_id", "user_id", "created_at").
		Values(territoryID, userID, s.now()).
		OnConflict(
			entsql.ConflictColumns("territory_id", "user_id"),
			entsql.DoNothing(),
		))
	if err != nil {
		return fmt.Errorf("failed to add territory member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a territory.
func (s *Service) RemoveMember(ctx context.Context, tenantID, territoryID, userID int64) error {
	if _, err := s.GetTerritory(ctx, tenantID, territoryID); err != nil {
		return err
	}
	_, err := database.Exec(ctx, s.db.DB, s.db.Builder().
		Delete(membersTable).
		Where(entsql.And(
			entsql.EQ("territory_id", territoryID),
			entsql.EQ("user_id", userID),
		)))
	if err != nil {
		return fmt.Errorf("failed to remove territory member: %w", err)
	}
	return nil
}

// MembersForIndustry returns the members of active territories covering the industry, ascending.
func (s *Service) MembersForIndustry(ctx context.Context, tenantID int64, industry string) ([]int64, error) {
	industry = strings.ToLower(strings.TrimSpace(industry))
	if industry == "" {
		return nil, nil
	}

	active, err := s.ListTerritories(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var members []int64
	for _, t := range active {
		if !covers(t.Industries, industry) {
			continue
		}
		for _, id := range t.MemberIDs {
			if !seen[id] {
				seen[id] = true
				members = append(members, id)
			}
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (s *Service) list(ctx context.Context, where *entsql.Predicate) ([]Territory, error) {
	found := []Territory{}
	err := database.ScanAll(ctx, s.db.DB, s.db.Builder().
		Select(territoryColumns...).
		From(entsql.Table(territoriesTable)).
		Where(where).
		OrderBy(entsql.Asc("name")), &found)
	if err != nil {
		return nil, fmt.Errorf("failed to list territories: %w", err)
	}
	if len(found) == 0 {
		return found, nil
	}

	ids := make([]any, len(found))
	byID := make(map[int64]*Territory, len(found))
	for i := range found {
		ids[i] = found[i].ID
		byID[found[i].ID] = &found[i]
	}

	var members []member
	err = database.ScanAll(ctx, s.db.DB, s.db.Builder().
		Select("territory_id", "user_id").
		From(entsql.Table(membersTable)).
		Where(entsql.In("territory_id", ids...)).
		OrderBy(entsql.Asc("user_id")), &members)
	if err != nil {
		return nil, fmt.Errorf("failed to list territory members: %w", err)
	}
	for _, m := range members {
		t := byID[m.TerritoryID]
		t.MemberIDs = append(t.MemberIDs, m.UserID)
	}
	return found, nil
}

func covers(industries []string, industry string) bool {
	for _, i := range industries {
		if strings.ToLower(strings.TrimSpace(i)) == industry {
			return true
		}
	}
	return false
}

func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
