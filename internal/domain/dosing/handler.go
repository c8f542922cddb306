package dosing

import (
	"net/http"
	"strconv"

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
	// Dose preparation – dispensing staff and prescribers
	doseRead := api.Group("/dose", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RolePharmacist))
	doseRead.POST("/prepare", h.PrepareDose)
	doseRead.GET("/dispensations", h.ListDispensations)

	doseWrite := api.Group("/dose", auth.RequireRole(auth.RoleNurse, auth.RoleChargeNurse, auth.RolePharmacist))
	doseWrite.POST("/dispense", h.DispenseDose)

	bottleRead := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RolePharmacist))
	bottleRead.GET("/bottle/active", h.ActiveBottle)
	bottleRead.GET("/bottles", h.SearchBottles)
	bottleRead.GET("/bottles/:id", h.GetBottle)
	bottleRead.GET("/bottles/:id/changeovers", h.ListChangeovers)

	// Stock handling – pharmacy and charge nurses
	bottleWrite := api.Group("", auth.RequireRole(auth.RoleChargeNurse, auth.RolePharmacist))
	bottleWrite.POST("/bottle/changeover", h.Changeover)
	bottleWrite.POST("/bottles", h.CreateBottle)
	bottleWrite.POST("/bottles/:id/activate", h.ActivateBottle)
}

// -- Dose Handlers --

func (h *Handler) PrepareDose(c echo.Context) error {
	var req PrepareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.PrepareDose(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DispenseDose(c echo.Context) error {
	var req PrepareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	d, err := h.svc.DispenseDose(ctx, req, auth.StaffIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDispensations(c echo.Context) error {
	patientID, err := strconv.ParseInt(c.QueryParam("patient_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDispensations(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Bottle Handlers --

func (h *Handler) Changeover(c echo.Context) error {
	var req ChangeoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PerformedBy = auth.StaffIDFromContext(c.Request().Context())
	co, err := h.svc.Changeover(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, co)
}

func (h *Handler) ActiveBottle(c echo.Context) error {
	medicationID, err := uuid.Parse(c.QueryParam("medication_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "medication_id query parameter is required")
	}
	b, err := h.svc.ActiveBottle(c.Request().Context(), medicationID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateBottle(c echo.Context) error {
	var b Bottle
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBottle(c.Request().Context(), &b); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBottle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBottle(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ActivateBottle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	b, err := h.svc.ActivateBottle(ctx, id, auth.StaffIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListChangeovers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListChangeovers(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SearchBottles(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{
		"medication_id": c.QueryParam("medication_id"),
		"status":        c.QueryParam("status"),
		"lot_number":    c.QueryParam("lot_number"),
	}
	items, total, err := h.svc.SearchBottles(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
