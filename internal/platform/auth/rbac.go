package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Clinic roles. Admin passes every role check.
const (
	RoleAdmin       = "admin"
	RolePhysician   = "physician"
	RoleNurse       = "nurse"
	RoleChargeNurse = "charge_nurse"
	RolePharmacist  = "pharmacist"
	RoleCounselor   = "counselor"
	RoleFrontDesk   = "front_desk"
)

// HasRole reports whether roles grants any of required.
func HasRole(roles []string, required ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
