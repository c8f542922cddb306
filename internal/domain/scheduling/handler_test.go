package scheduling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	return h, f, e
}

func serve(e *echo.Echo, c echo.Context, fn echo.HandlerFunc) {
	if err := fn(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"patient_id":42,"start_time":"2024-03-16T14:30:00Z","end_time":"2024-03-16T14:45:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	serve(e, c, h.CreateAppointment)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateAppointment_EndBeforeStart(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"patient_id":42,"start_time":"2024-03-16T14:30:00Z","end_time":"2024-03-16T14:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	serve(e, c, h.CreateAppointment)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetAppointment_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	serve(e, c, h.GetAppointment)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"checked-in"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	serve(e, c, h.UpdateStatus)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_SendReminder_NoPhone(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, 43, fixedNow.Add(time.Hour))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	serve(e, c, h.SendReminder)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	serve(e, c, h.DeleteAppointment)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, ok := f.appts.appts[a.ID]; ok {
		t.Error("expected appointment to be deleted")
	}
}
