package handlers

import (
	"net/http"

	apierrors "github.com/jordanlanch/leadrouting/pkg/api/errors"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/leadassignment"
	"github.com/jordanlanch/leadrouting/pkg/models"
	"github.com/jordanlanch/leadrouting/pkg/territory"
	"github.com/labstack/echo/v4"
)

// TerritoryHandler manages territories and sales user workload.
type TerritoryHandler struct {
	service *leadassignment.Service
}

// NewTerritoryHandler creates a new territory handler.
func NewTerritoryHandler(service *leadassignment.Service) *TerritoryHandler {
	return &TerritoryHandler{service: service}
}

// RegisterRoutes mounts the handler on a group rooted at /api/v1/tenants/:tenant_id.
func (h *TerritoryHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/territories", h.CreateTerritory)
	g.GET("/territories", h.ListTerritories)
	g.POST("/territories/:territory_id/members", h.AddMember)
	g.DELETE("/territories/:territory_id/members/:user_id", h.RemoveMember)

	g.GET("/workload", h.ListWorkload)
	g.POST("/workload/sync", h.SyncWorkload)
	g.PUT("/workload/:user_id/availability", h.SetAvailability)
}

// CreateTerritory godoc
// @Summary Create territory
// @Tags Territories
// @Param request body territory.CreateTerritoryRequest true "Territory"
// @Success 201 {object} territory.Territory
// @Router /api/v1/tenants/{tenant_id}/territories [post]
func (h *TerritoryHandler) CreateTerritory(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req territory.CreateTerritoryRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	created, err := h.service.CreateTerritory(ctx, tenantID, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListTerritories godoc
// @Summary List territories with members
// @Tags Territories
// @Router /api/v1/tenants/{tenant_id}/territories [get]
func (h *TerritoryHandler) ListTerritories(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	list, err := h.service.ListTerritories(ctx, tenantID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.NewListResponse(list))
}

// AddMember adds a sales user to a territory.
func (h *TerritoryHandler) AddMember(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	territoryID, err := pathID(c, "territory_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req models.TerritoryMemberRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	if err := h.service.AddTerritoryMember(ctx, tenantID, territoryID, req.UserID); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusCreated, models.SuccessResponse{Success: true, Message: "member added"})
}

// RemoveMember removes a sales user from a territory.
func (h *TerritoryHandler) RemoveMember(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	territoryID, err := pathID(c, "territory_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	userID, err := pathID(c, "user_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	if err := h.service.RemoveTerritoryMember(ctx, tenantID, territoryID, userID); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListWorkload returns the workload records of the tenant.
func (h *TerritoryHandler) ListWorkload(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	records, err := h.service.ListWorkload(ctx, tenantID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.NewListResponse(records))
}

// SyncWorkload godoc
// @Summary Reseed workload records from the user directory
// @Tags Territories
// @Router /api/v1/tenants/{tenant_id}/workload/sync [post]
func (h *TerritoryHandler) SyncWorkload(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	result, err := h.service.SyncWorkload(ctx, tenantID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SetAvailability pauses or resumes routing to a user.
func (h *TerritoryHandler) SetAvailability(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, err := pathID(c, "tenant_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	userID, err := pathID(c, "user_id")
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req models.AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if req.Available == nil {
		return apierrors.ValidationError(c, domain.NewValidationError("available is required"))
	}

	if err := h.service.SetUserAvailability(ctx, tenantID, userID, *req.Available); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true})
}
