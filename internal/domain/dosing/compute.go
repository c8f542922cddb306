package dosing

import (
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

// VolumePrecision is the number of decimal places a computed volume keeps.
const VolumePrecision = 2

// ComputeVolume converts a dose in mg to ml of a solution with the given
// concentration in mg/ml.
func ComputeVolume(requestedMg, concentration decimal.Decimal) (decimal.Decimal, error) {
	if !concentration.IsPositive() {
		return decimal.Zero, apperr.Validation("concentration must be greater than zero")
	}
	if !requestedMg.IsPositive() {
		return decimal.Zero, apperr.Validation("requested_mg must be greater than zero")
	}
	return requestedMg.DivRound(concentration, VolumePrecision), nil
}

// Variance is measured minus expected.
func Variance(measured, expected decimal.Decimal) decimal.Decimal {
	return measured.Sub(expected)
}
