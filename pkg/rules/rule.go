package rules

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// Rule is a tenant-scoped assignment rule. Columns map through the json tags.
type Rule struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Name          string          `json:"name"`
	Strategy      domain.Strategy `json:"strategy"`
	PriorityOrder int             `json:"priority_order"`
	Active        bool            `json:"active"`
	Criteria      Criteria        `json:"criteria"`
	AllowOverflow bool            `json:"allow_overflow"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Cursor is the position of a round-robin rule. Version counts advances and is
// zero while the rule has never assigned.
type Cursor struct {
	LastUserID int64 `json:"last_user_id"`
	Version    int64 `json:"version"`
}

// Set reports whether the rule has assigned at least once.
func (c Cursor) Set() bool { return c.Version > 0 }

// Next is the position after assigning userID.
func (c Cursor) Next(userID int64) Cursor {
	return Cursor{LastUserID: userID, Version: c.Version + 1}
}

// Criteria restricts which leads a rule applies to. Empty fields match any lead.
type Criteria struct {
	Industries []string `json:"industries,omitempty" validate:"omitempty,dive,required,max=100"`
	Sources    []string `json:"sources,omitempty" validate:"omitempty,dive,required,max=100"`
	MinScore   *int     `json:"min_score,omitempty" validate:"omitempty,gte=0"`
	MaxScore   *int     `json:"max_score,omitempty" validate:"omitempty,gte=0"`
}

// Matches reports whether the lead satisfies every non-empty criterion.
// Industry and source comparisons ignore case.
func (c Criteria) Matches(lead domain.LeadSnapshot) bool {
	if len(c.Industries) > 0 && !containsFold(c.Industries, lead.Industry) {
		return false
	}
	if len(c.Sources) > 0 && !containsFold(c.Sources, lead.Source) {
		return false
	}
	if c.MinScore != nil && lead.Score < *c.MinScore {
		return false
	}
	if c.MaxScore != nil && lead.Score > *c.MaxScore {
		return false
	}
	return true
}

func containsFold(values []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}

// Value stores criteria as a JSON document.
func (c Criteria) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan accepts the JSON document written by Value.
func (c *Criteria) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Criteria{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("criteria: unsupported type %T", src)
	}
	*c = Criteria{}
	return json.Unmarshal(data, c)
}

// CreateRuleRequest represents a new assignment rule
type CreateRuleRequest struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Strategy      domain.Strategy `json:"strategy" validate:"required,oneof=ROUND_ROBIN LEAST_WORKLOAD TERRITORY_MATCH MANUAL"`
	PriorityOrder int             `json:"priority_order" validate:"gte=0"`
	Criteria      Criteria        `json:"criteria"`
	AllowOverflow bool            `json:"allow_overflow"`
}

// UpdateRuleRequest changes the fields that are set. Active=true re-enables a disabled rule.
type UpdateRuleRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Strategy      *domain.Strategy `json:"strategy,omitempty" validate:"omitempty,oneof=ROUND_ROBIN LEAST_WORKLOAD TERRITORY_MATCH MANUAL"`
	PriorityOrder *int             `json:"priority_order,omitempty" validate:"omitempty,gte=0"`
	Criteria      *Criteria        `json:"criteria,omitempty"`
	AllowOverflow *bool            `json:"allow_overflow,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

// ListFilter selects rules for ListRules
type ListFilter struct {
	ActiveOnly bool
}
