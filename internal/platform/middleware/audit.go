package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
)

// AccessRecorder persists one access entry per audited request.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, entry hipaa.AccessEntry) error
}

// Audit logs every /api/ call as a phi_access event and, when a recorder is
// given, persists it. It must run inside the tenant middleware so the
// recorder writes to the caller's clinic schema.
func Audit(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			ctx := req.Context()
			entry := hipaa.AccessEntry{
				UserID:     auth.UserIDFromContext(ctx),
				Roles:      auth.RolesFromContext(ctx),
				Resource:   resourceOf(path),
				PatientID:  patientIDOf(c),
				Action:     actionOf(req.Method, path),
				Method:     req.Method,
				Path:       path,
				StatusCode: status,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				AccessedAt: time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			if recorder != nil {
				if recErr := recorder.RecordAccess(ctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			evt := logger.Info()
			if entry.Action == "override" {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func actionOf(method, path string) string {
	if strings.HasSuffix(path, "/override") {
		return "override"
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf maps /api/takehome/holds/... to "takehome/holds" and
// /api/patients/42 to "patients".
func resourceOf(path string) string {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/"), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown"
	}
	if segs[0] == "takehome" && len(segs) > 1 && segs[1] != "" {
		return segs[0] + "/" + segs[1]
	}
	return segs[0]
}

// patientIDOf finds a numeric patient id in /api/patients/<id> or the
// patient_id query parameter.
func patientIDOf(c echo.Context) string {
	path := c.Request().URL.Path
	if rest, ok := strings.CutPrefix(path, "/api/patients/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			return id
		}
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		if _, err := strconv.ParseInt(pid, 10, 64); err == nil {
			return pid
		}
	}
	return ""
}
