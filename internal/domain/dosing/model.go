package dosing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	BottlePending = "pending"
	BottleActive  = "active"
	BottleRetired = "retired"
)

// Bottle maps to the bottles table: a stock bottle of liquid medication.
type Bottle struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	MedicationID    uuid.UUID       `db:"medication_id" json:"medication_id"`
	LotNumber       string          `db:"lot_number" json:"lot_number"`
	InitialVolumeMl decimal.Decimal `db:"initial_volume_ml" json:"initial_volume_ml"`
	CurrentVolumeMl decimal.Decimal `db:"current_volume_ml" json:"current_volume_ml"`
	Status          string          `db:"status" json:"status"`
	OpenedAt        *time.Time      `db:"opened_at" json:"opened_at,omitempty"`
	RetiredAt       *time.Time      `db:"retired_at" json:"retired_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Changeover maps to the bottle_changeovers table.
type Changeover struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	OldBottleID       uuid.UUID       `db:"old_bottle_id" json:"old_bottle_id"`
	NewBottleID       uuid.UUID       `db:"new_bottle_id" json:"new_bottle_id"`
	MeasuredVolumeMl  decimal.Decimal `db:"measured_volume_ml" json:"measured_volume_ml"`
	ExpectedVolumeMl  decimal.Decimal `db:"expected_volume_ml" json:"expected_volume_ml"`
	VarianceMl        decimal.Decimal `db:"variance_ml" json:"variance_ml"`
	Witness1Signature string          `db:"witness1_signature" json:"witness1_signature"`
	Witness2Signature string          `db:"witness2_signature" json:"witness2_signature"`
	PerformedBy       *uuid.UUID      `db:"performed_by" json:"performed_by,omitempty"`
	PerformedAt       time.Time       `db:"performed_at" json:"performed_at"`
}

// Dispensation maps to the dose_dispensations table.
type Dispensation struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	PatientID           int64           `db:"patient_id" json:"patient_id"`
	PatientMedicationID uuid.UUID       `db:"patient_medication_id" json:"patient_medication_id"`
	BottleID            uuid.UUID       `db:"bottle_id" json:"bottle_id"`
	DoseMg              decimal.Decimal `db:"dose_mg" json:"dose_mg"`
	VolumeMl            decimal.Decimal `db:"volume_ml" json:"volume_ml"`
	DispensedBy         *uuid.UUID      `db:"dispensed_by" json:"dispensed_by,omitempty"`
	DispensedAt         time.Time       `db:"dispensed_at" json:"dispensed_at"`
}

// ActiveOrder is a patient's active dosing order joined with its medication.
type ActiveOrder struct {
	PatientMedicationID  uuid.UUID
	PatientID            int64
	MedicationID         uuid.UUID
	MedicationName       string
	DailyDoseMg          decimal.Decimal
	ConcentrationMgPerMl decimal.Decimal
}

// Preparation is the result of a dose computation. It is not persisted.
type Preparation struct {
	PatientID            int64           `json:"patient_id"`
	PatientMedicationID  uuid.UUID       `json:"patient_medication_id"`
	MedicationID         uuid.UUID       `json:"medication_id"`
	MedicationName       string          `json:"medication_name"`
	BottleID             uuid.UUID       `json:"bottle_id"`
	RequestedMg          decimal.Decimal `json:"requested_mg"`
	ConcentrationMgPerMl decimal.Decimal `json:"concentration"`
	ComputedMl           decimal.Decimal `json:"computed_ml"`
	AvailableMl          decimal.Decimal `json:"available_ml"`
}
