package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/jordanlanch/leadrouting/pkg/api/errors"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/leadassignment"
	"github.com/jordanlanch/leadrouting/pkg/models"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/labstack/echo/v4"
)

const requestTimeout = 10 * time.Second

// LeadAssignmentHandler exposes rule management, routing and assignment history.
type LeadAssignmentHandler struct {
	service *leadassignment.Service
}

// NewLeadAssignmentHandler creates a new lead assignment handler.
func NewLeadAssignmentHandler(service *leadassignment.Service) *LeadAssignmentHandler {
	return &LeadAssignmentHandler{service: service}
}

// RegisterRoutes mounts the handler on a group rooted at /api/v1/tenants/:tenant_id.
func (h *LeadAssignmentHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/rules", h.CreateRule)
	g.GET("/rules", h.ListRules)
	g.PATCH("/rules/:rule_id", h.UpdateRule)
	g.POST("/rules/:rule_id/disable", h.DisableRule)

	g.POST("/leads/route", h.RouteLead)
	g.GET("/leads/:lead_id/history", h.GetAssignmentHistory)
	g.POST("/leads/:lead_id/assign", h.AssignLead)
	g.POST("/leads/:lead_id/close", h.CloseLead)

	g.GET("/queue", h.GetQueueStatus)
	g.GET("/queue/entries", h.ListQueueEntries)
}

// pathID parses a positive int64 path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name + " must be a positive integer")
	}
	return id, nil
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// CreateRule godoc
// @Summary Create assignment rule
// @Tags Lead Routing
// @Accept json
// @Produce json
// @Param tenant_id path int true "Tenant ID"
// @Param request body rules.CreateRuleRequest true "Rule"
// @Success 201 {object} rules.Rule
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/tenants/{tenant_id}/rules [post]
func (h *LeadAssignmentHandler) CreateRule(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req rules.CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	rule, err := h.service.CreateRule(ctx, tenantID, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// UpdateRule godoc
// @Summary Update assignment rule
// @Tags Lead Routing
// @Router /api/v1/tenants/{tenant_id}/rules/{rule_id} [patch]
func (h *LeadAssignmentHandler) UpdateRule(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	ruleID, err := pathID(c, "rule_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req rules.UpdateRuleRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	rule, err := h.service.UpdateRule(ctx, tenantID, ruleID, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// DisableRule godoc
// @Summary Disable assignment rule
// @Tags Lead Routing
// @Router /api/v1/tenants/{tenant_id}/rules/{rule_id}/disable [post]
func (h *LeadAssignmentHandler) DisableRule(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	ruleID, err := pathID(c, "rule_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	rule, err := h.service.DisableRule(ctx, tenantID, ruleID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// ListRules godoc
// @Summary List assignment rules in evaluation order
// @Tags Lead Routing
// @Param active query bool false "Only active rules"
// @Router /api/v1/tenants/{tenant_id}/rules [get]
func (h *LeadAssignmentHandler) ListRules(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
	list, err := h.service.ListRules(ctx, tenantID, rules.ListFilter{ActiveOnly: activeOnly})
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.NewListResponse(list))
}

// RouteLead godoc
// @Summary Stage a lead for automatic assignment
// @Description Idempotent: routing a lead with an active entry returns that entry with created=false
// @Tags Lead Routing
// @Accept json
// @Produce json
// @Param request body models.RouteLeadRequest true "Lead"
// @Success 201 {object} models.RouteLeadResponse
// @Success 200 {object} models.RouteLeadResponse
// @Router /api/v1/tenants/{tenant_id}/leads/route [post]
func (h *LeadAssignmentHandler) RouteLead(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req models.RouteLeadRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	entry, created, err := h.service.RouteLead(ctx, tenantID, req.LeadID, req.PriorityScore)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, models.RouteLeadResponse{Entry: entry, Created: created})
}

// GetAssignmentHistory godoc
// @Summary Get assignment history of a lead, newest first
// @Tags Lead Routing
// @Router /api/v1/tenants/{tenant_id}/leads/{lead_id}/history [get]
func (h *LeadAssignmentHandler) GetAssignmentHistory(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	leadID, err := pathID(c, "lead_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	records, err := h.service.GetAssignmentHistory(ctx, tenantID, leadID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.NewListResponse(records))
}

// AssignLead godoc
// @Summary Manually assign lead to user
// @Description Operator resolution for leads the router could not place
// @Tags Lead Routing
// @Router /api/v1/tenants/{tenant_id}/leads/{lead_id}/assign [post]
func (h *LeadAssignmentHandler) AssignLead(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	leadID, err := pathID(c, "lead_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req leadassignment.ManualAssignRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	// Override lead ID from path
	req.LeadID = leadID

	record, err := h.service.AssignLeadManually(ctx, tenantID, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// CloseLead releases the owner's workload when a lead is closed or converted.
func (h *LeadAssignmentHandler) CloseLead(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	leadID, err := pathID(c, "lead_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req models.CloseLeadRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if req.UserID <= 0 {
		return apierrors.ValidationError(c, domain.NewValidationError("user_id must be positive"))
	}

	if err := h.service.CloseLead(ctx, tenantID, leadID, req.UserID); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: "workload released"})
}

// GetQueueStatus godoc
// @Summary Queue entry counts grouped by status
// @Tags Lead Routing
// @Router /api/v1/tenants/{tenant_id}/queue [get]
func (h *LeadAssignmentHandler) GetQueueStatus(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	status, err := h.service.GetQueueStatus(ctx, tenantID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListQueueEntries godoc
// @Summary List queue entries, newest first
// @Tags Lead Routing
// @Param status query string false "Comma separated statuses"
// @Param lead_id query int false "Lead ID"
// @Param limit query int false "Max entries"
// @Router /api/v1/tenants/{tenant_id}/queue/entries [get]
func (h *LeadAssignmentHandler) ListQueueEntries(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var filter queue.Filter
	for _, raw := range c.QueryParams()["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, queue.Status(strings.ToUpper(s)))
			}
		}
	}
	if v := c.QueryParam("lead_id"); v != "" {
		if filter.LeadID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return apierrors.ValidationError(c, domain.NewValidationError("lead_id must be an integer"))
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return apierrors.ValidationError(c, domain.NewValidationError("limit must be a non-negative integer"))
		}
	}

	entries, err := h.service.ListQueueEntries(ctx, tenantID, filter)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.NewListResponse(entries))
}
