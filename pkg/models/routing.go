package models

import "github.com/jordanlanch/leadrouting/pkg/queue"

// RouteLeadRequest stages a lead for automatic assignment
type RouteLeadRequest struct {
	LeadID        int64 `json:"lead_id" validate:"required,gt=0"`
	PriorityScore int   `json:"priority_score" validate:"gte=0"`
}

// RouteLeadResponse reports the active queue entry for the lead
type RouteLeadResponse struct {
	Entry   *queue.Entry `json:"entry"`
	Created bool         `json:"created"`
}

// CloseLeadRequest releases the workload of a closed lead
type CloseLeadRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// TerritoryMemberRequest adds a user to a territory
type TerritoryMemberRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// AvailabilityRequest pauses or resumes routing to a user
type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}
