package medication

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScheduleII is the DEA schedule that requires exact physical counts.
const ScheduleII = "II"

const (
	StatusActive       = "active"
	StatusDiscontinued = "discontinued"
	StatusCancelled    = "cancelled"
	StatusCompleted    = "completed"
)

// Medication maps to the medications table (the clinic formulary).
type Medication struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	Name                 string          `db:"name" json:"name"`
	Schedule             *string         `db:"schedule" json:"schedule,omitempty"`
	ConcentrationMgPerMl decimal.Decimal `db:"concentration_mg_per_ml" json:"concentration_mg_per_ml"`
	Form                 string          `db:"form" json:"form"`
	Active               bool            `db:"active" json:"active"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

// IsScheduleII reports whether the medication is a Schedule II substance.
func (m *Medication) IsScheduleII() bool {
	return m.Schedule != nil && *m.Schedule == ScheduleII
}

// PatientMedication maps to the patient_medications table: a standing dosing
// order for one patient and medication.
type PatientMedication struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	PatientID         int64           `db:"patient_id" json:"patient_id"`
	MedicationID      uuid.UUID       `db:"medication_id" json:"medication_id"`
	MedicationName    string          `db:"medication_name" json:"medication_name,omitempty"`
	DailyDoseMg       decimal.Decimal `db:"daily_dose_mg" json:"daily_dose_mg"`
	Status            string          `db:"status" json:"status"`
	StartDate         string          `db:"start_date" json:"start_date"`
	PrescriberID      *uuid.UUID      `db:"prescriber_id" json:"prescriber_id,omitempty"`
	DiscontinueReason *string         `db:"discontinue_reason" json:"discontinue_reason,omitempty"`
	DiscontinuedBy    *uuid.UUID      `db:"discontinued_by" json:"discontinued_by,omitempty"`
	DiscontinuedAt    *time.Time      `db:"discontinued_at" json:"discontinued_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Prescription maps to the prescriptions table.
type Prescription struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      int64      `db:"patient_id" json:"patient_id"`
	PrescriberID   *uuid.UUID `db:"prescriber_id" json:"prescriber_id,omitempty"`
	MedicationName string     `db:"medication_name" json:"medication_name"`
	Dose           string     `db:"dose" json:"dose"`
	Quantity       int        `db:"quantity" json:"quantity"`
	Refills        int        `db:"refills" json:"refills"`
	Status         string     `db:"status" json:"status"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy    *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
