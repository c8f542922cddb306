package medication

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
	// Read endpoints – clinical roles
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleChargeNurse, auth.RolePharmacist))
	readGroup.GET("/formulary", h.ListMedications)
	readGroup.GET("/formulary/:id", h.GetMedication)
	readGroup.GET("/medications", h.ListPatientMedications)
	readGroup.GET("/medications/:id", h.GetPatientMedication)
	readGroup.GET("/prescriptions", h.ListPrescriptions)
	readGroup.GET("/prescriptions/:id", h.GetPrescription)

	// Formulary maintenance – pharmacy
	formulary := api.Group("", auth.RequireRole(auth.RolePharmacist))
	formulary.POST("/formulary", h.CreateMedication)
	formulary.PUT("/formulary/:id", h.UpdateMedication)

	// Orders and prescriptions – prescribers
	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician))
	writeGroup.POST("/medications", h.CreatePatientMedication)
	writeGroup.POST("/medications/:id/discontinue", h.DiscontinuePatientMedication)
	writeGroup.POST("/prescriptions", h.CreatePrescription)
	writeGroup.POST("/prescriptions/:id/cancel", h.CancelPrescription)
}

func parseUUID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// patientQuery reads the required ?patient_id= filter.
func patientQuery(c echo.Context) (int64, error) {
	pid, err := strconv.ParseInt(c.QueryParam("patient_id"), 10, 64)
	if err != nil || pid <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "patient_id query parameter is required")
	}
	return pid, nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// -- Medication Handlers --

func (h *Handler) CreateMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateMedication(c.Request().Context(), &m); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMedication(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := c.Bind(m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = id
	if err := h.svc.UpdateMedication(c.Request().Context(), m); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("all") != "true"
	items, total, err := h.svc.ListMedications(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- PatientMedication Handlers --

func (h *Handler) CreatePatientMedication(c echo.Context) error {
	var pm PatientMedication
	if err := c.Bind(&pm); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if pm.PrescriberID == nil {
		pm.PrescriberID = auth.StaffIDFromContext(c.Request().Context())
	}
	if err := h.svc.CreatePatientMedication(c.Request().Context(), &pm); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pm)
}

func (h *Handler) GetPatientMedication(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	pm, err := h.svc.GetPatientMedication(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pm)
}

func (h *Handler) ListPatientMedications(c echo.Context) error {
	pid, err := patientQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientMedications(c.Request().Context(), pid, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) DiscontinuePatientMedication(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	pm, err := h.svc.DiscontinuePatientMedication(ctx, id, req.Reason, auth.StaffIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pm)
}

// -- Prescription Handlers --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var rx Prescription
	if err := c.Bind(&rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if rx.PrescriberID == nil {
		rx.PrescriberID = auth.StaffIDFromContext(c.Request().Context())
	}
	if err := h.svc.CreatePrescription(c.Request().Context(), &rx); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pid, err := patientQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), pid, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CancelPrescription(c echo.Context) error {
	id, err := parseUUID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rx, err := h.svc.CancelPrescription(ctx, id, req.Reason, auth.StaffIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}
