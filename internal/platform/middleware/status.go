package middleware

import (
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

func statusOf(err error) int {
	status, _ := apperr.Render(err)
	return status
}
