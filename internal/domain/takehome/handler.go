package takehome

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
	readGroup := api.Group("/takehome", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse,
		auth.RolePharmacist, auth.RoleCounselor))
	readGroup.POST("/eligibility", h.CheckEligibility)
	readGroup.GET("/orders", h.ListOrders)
	readGroup.GET("/orders/:id", h.GetOrder)
	readGroup.GET("/orders/:id/kits", h.ListKits)

	// Ordering – prescribers
	orderGroup := api.Group("/takehome", auth.RequireRole(auth.RolePhysician))
	orderGroup.POST("/orders", h.CreateOrder)
	orderGroup.PATCH("/orders/:id", h.UpdateOrder)

	// Kit preparation – dispensing staff
	kitGroup := api.Group("/takehome", auth.RequireRole(auth.RoleNurse, auth.RoleChargeNurse, auth.RolePharmacist))
	kitGroup.POST("/orders/:id/kits", h.PrepareKit)
}

type eligibilityRequest struct {
	PatientID int64  `json:"patient_id"`
	Days      int    `json:"days"`
	RiskLevel string `json:"risk_level"`
}

func (h *Handler) CheckEligibility(c echo.Context) error {
	var req eligibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.CheckEligibility(c.Request().Context(), req.PatientID, req.Days, req.RiskLevel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// -- Order Handlers --

func (h *Handler) CreateOrder(c echo.Context) error {
	var o Order
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.CreatedBy = auth.StaffIDFromContext(c.Request().Context())
	if err := h.svc.CreateOrder(c.Request().Context(), &o); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"patient_id", "status"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchOrders(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

// -- Kit Handlers --

func (h *Handler) PrepareKit(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var k Kit
	if err := c.Bind(&k); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	k.OrderID = orderID
	k.PreparedBy = auth.StaffIDFromContext(c.Request().Context())
	if err := h.svc.PrepareKit(c.Request().Context(), &k); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, k)
}

func (h *Handler) ListKits(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	kits, err := h.svc.ListKits(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	if kits == nil {
		kits = []*Kit{}
	}
	return c.JSON(http.StatusOK, kits)
}
