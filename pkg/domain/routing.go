package domain

import "strings"

// Strategy is the owner-selection method of an assignment rule. It is also the
// method recorded on assignment history.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "ROUND_ROBIN"
	StrategyLeastWorkload  Strategy = "LEAST_WORKLOAD"
	StrategyTerritoryMatch Strategy = "TERRITORY_MATCH"
	StrategyManual         Strategy = "MANUAL"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyRoundRobin, StrategyLeastWorkload, StrategyTerritoryMatch, StrategyManual}

// Valid reports whether s is one of the supported strategies
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// LeadStatus mirrors the lifecycle status owned by the lead service.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusClosed    LeadStatus = "closed"
	LeadStatusDeleted   LeadStatus = "deleted"
)

// Routable reports whether a lead in this status may still receive an owner.
func (s LeadStatus) Routable() bool {
	switch LeadStatus(strings.ToLower(string(s))) {
	case LeadStatusConverted, LeadStatusClosed, LeadStatusDeleted:
		return false
	default:
		return true
	}
}

// LeadSnapshot is the subset of a lead the router reads.
type LeadSnapshot struct {
	ID       int64      `json:"id"`
	TenantID int64      `json:"tenant_id"`
	Score    int        `json:"score"`
	Source   string     `json:"source"`
	Industry string     `json:"industry"`
	Status   LeadStatus `json:"status"`
	OwnerID  *int64     `json:"owner_id,omitempty"`
}

// DirectoryUser is a sales user as reported by the user directory.
type DirectoryUser struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	MaxCapacity int    `json:"max_capacity"`
	Active      bool   `json:"active"`
}
