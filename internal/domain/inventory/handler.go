package inventory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/inventory", auth.RequireRole(auth.RolePharmacist, auth.RoleChargeNurse))
	g.POST("/snapshots", h.CreateSnapshot)
	g.GET("/snapshots", h.ListSnapshots)
	g.GET("/snapshots/:id", h.GetSnapshot)
}

func (h *Handler) CreateSnapshot(c echo.Context) error {
	var req SnapshotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.TakenBy = auth.StaffIDFromContext(c.Request().Context())
	snap, err := h.svc.CreateSnapshot(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	snap, err := h.svc.GetSnapshot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListSnapshots(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSnapshots(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
