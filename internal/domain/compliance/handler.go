package compliance

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/takehome", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RolePharmacist, auth.RoleCounselor))
	readGroup.GET("/holds", h.ListHolds)
	readGroup.GET("/holds/:id", h.GetHold)
	readGroup.GET("/holds/:id/overrides", h.ListOverrides)

	writeGroup := api.Group("/takehome", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RoleCounselor))
	writeGroup.POST("/holds", h.OpenHold)

	// Overrides are a charge-nurse exception; closing and review belong to
	// the prescriber.
	overrideGroup := api.Group("/takehome", auth.RequireRole(auth.RoleChargeNurse, auth.RolePhysician))
	overrideGroup.POST("/holds/:id/override", h.Override)

	physician := api.Group("/takehome", auth.RequireRole(auth.RolePhysician))
	physician.POST("/holds/:id/close", h.CloseHold)
	physician.POST("/overrides/:id/review", h.ReviewOverride)
}

func (h *Handler) ListHolds(c echo.Context) error {
	holds, err := h.svc.ListHolds(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, holds)
}

func (h *Handler) GetHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hold, err := h.svc.GetHold(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) OpenHold(c echo.Context) error {
	var hold Hold
	if err := c.Bind(&hold); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hold.OpenedBy = auth.StaffIDFromContext(c.Request().Context())
	if err := h.svc.OpenHold(c.Request().Context(), &hold); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, hold)
}

type overrideRequest struct {
	OverrideReason string `json:"override_reason"`
	OverrideType   string `json:"override_type"`
}

func (h *Handler) Override(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ov, err := h.svc.Override(ctx, OverrideRequest{
		HoldID:       id,
		Reason:       req.OverrideReason,
		Type:         req.OverrideType,
		OverriddenBy: auth.StaffIDFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ov)
}

func (h *Handler) ListOverrides(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListOverrides(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) CloseHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	hold, err := h.svc.CloseHold(ctx, id, auth.StaffIDFromContext(ctx), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) ReviewOverride(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ov, err := h.svc.ReviewOverride(ctx, id, auth.StaffIDFromContext(ctx), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ov)
}
