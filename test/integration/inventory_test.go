package integration

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/inventory"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

func TestInventorySnapshot(t *testing.T) {
	c := newClinic(t)
	methadone := c.createMedication(t, "Methadone 10mg/ml", "II", 10)
	naloxone := c.createMedication(t, "Naloxone 4mg", "", 4)
	c.createBottle(t, methadone.ID, "LOT-A", 1000)

	_, err := c.inventory.CreateSnapshot(c.ctx, inventory.SnapshotRequest{
		TakenBy: &devStaff,
		Lines: []inventory.LineInput{
			{MedicationID: methadone.ID, CountingMethod: inventory.CountEstimated, CountedQty: decimal.NewFromInt(990)},
		},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected Schedule II estimate to be rejected, got %v", err)
	}
	if _, total, _ := c.inventory.ListSnapshots(c.ctx, 10, 0); total != 0 {
		t.Errorf("expected no snapshot rows after rejection, got %d", total)
	}

	snap, err := c.inventory.CreateSnapshot(c.ctx, inventory.SnapshotRequest{
		TakenBy: &devStaff,
		Notes:   "end of shift",
		Lines: []inventory.LineInput{
			{MedicationID: methadone.ID, CountingMethod: inventory.CountExact, CountedQty: decimal.NewFromInt(990)},
			{MedicationID: naloxone.ID, CountingMethod: inventory.CountEstimated, CountedQty: decimal.NewFromInt(12),
				ExpectedQty: ptrDecimal(decimal.NewFromInt(12))},
		},
	})
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	got, err := c.inventory.GetSnapshot(c.ctx, snap.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(got.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got.Lines))
	}
	byMed := map[uuid.UUID]*inventory.Line{}
	for _, l := range got.Lines {
		byMed[l.MedicationID] = l
	}
	if v := byMed[methadone.ID].Variance; !v.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected methadone variance -10 against bottle stock, got %s", v)
	}
	if !byMed[methadone.ID].IsScheduleII() {
		t.Error("expected schedule copied from the formulary")
	}
}

func ptrDecimal(d decimal.Decimal) *decimal.Decimal { return &d }
