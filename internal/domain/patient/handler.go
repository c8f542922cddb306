package patient

import (
	"net/http"
	"strconv"

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
	// Read endpoints – every clinic role
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RolePharmacist, auth.RoleCounselor, auth.RoleFrontDesk))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/patients/:id/drug-screens", h.ListDrugScreens)

	// Registration – front desk and clinical staff
	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleFrontDesk))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)
	writeGroup.PUT("/patients/:id/dispensing-name", h.SetDispensingName)

	// Clinical endpoints
	clinical := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse))
	clinical.POST("/patients/:id/drug-screens", h.RecordDrugScreen)

	riskGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleChargeNurse))
	riskGroup.PATCH("/patients/:id/risk-level", h.UpdateRiskLevel)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"name", "mrn", "risk_level", "active"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	// Fields absent from the body keep their stored values.
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := c.Bind(p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type riskLevelRequest struct {
	RiskLevel string `json:"risk_level"`
}

func (h *Handler) UpdateRiskLevel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req riskLevelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateRiskLevel(c.Request().Context(), id, req.RiskLevel); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "risk_level": req.RiskLevel})
}

type dispensingNameRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *Handler) SetDispensingName(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req dispensingNameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetDispensingName(c.Request().Context(), id, req.DisplayName); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Drug Screen Handlers --

func (h *Handler) RecordDrugScreen(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var ds DrugScreen
	if err := c.Bind(&ds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ds.PatientID = id
	ds.RecordedBy = auth.StaffIDFromContext(c.Request().Context())
	if err := h.svc.RecordDrugScreen(c.Request().Context(), &ds); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ds)
}

func (h *Handler) ListDrugScreens(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDrugScreens(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
