package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/takehome/holds")

	if err := RequestTimeout(5*time.Second)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/api/takehome/holds")

	err := RequestTimeout(time.Minute)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected request context to carry a deadline")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_ReturnsGatewayTimeout(t *testing.T) {
	c, _ := newTestContext(http.MethodPost, "/api/dose/prepare")

	err := RequestTimeout(20*time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", httpErr.Code)
	}
}

func TestRequestTimeout_HandlerErrorBeforeDeadline(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/api/patients/1")

	err := RequestTimeout(time.Minute)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected the handler's 404 to pass through, got %v", err)
	}
}
