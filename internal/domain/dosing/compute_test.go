package dosing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

func TestComputeVolume(t *testing.T) {
	tests := []struct {
		mg, conc, want string
	}{
		{"80", "10", "8"},
		{"65", "10", "6.5"},
		{"100", "3", "33.33"},
		{"2", "3", "0.67"},
	}
	for _, tt := range tests {
		got, err := ComputeVolume(decimal.RequireFromString(tt.mg), decimal.RequireFromString(tt.conc))
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "%s mg at %s mg/ml: got %s", tt.mg, tt.conc, got)
	}
}

func TestComputeVolume_Invalid(t *testing.T) {
	_, err := ComputeVolume(decimal.NewFromInt(80), decimal.Zero)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = ComputeVolume(decimal.NewFromInt(80), decimal.NewFromInt(-1))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = ComputeVolume(decimal.Zero, decimal.NewFromInt(10))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestVariance(t *testing.T) {
	got := Variance(decimal.RequireFromString("12.5"), decimal.RequireFromString("14"))
	assert.Equal(t, "-1.5", got.String())
}
