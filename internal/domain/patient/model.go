package patient

import (
	"time"

	"github.com/google/uuid"
)

// Risk levels drive the take-home schedule a patient can earn.
const (
	RiskHigh     = "high"
	RiskStandard = "standard"
	RiskLow      = "low"
)

// Drug screen results.
const (
	ResultPositive = "positive"
	ResultNegative = "negative"
)

// Patient maps to the patients table.
type Patient struct {
	ID          int64     `db:"id" json:"id"`
	MRN         string    `db:"mrn" json:"mrn"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	DateOfBirth *string   `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	RiskLevel   string    `db:"risk_level" json:"risk_level"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// FullName is the legal name, "First Last".
func (p *Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// DrugScreen maps to the drug_screens table (urine drug screen results).
type DrugScreen struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   int64      `db:"patient_id" json:"patient_id"`
	CollectedAt time.Time  `db:"collected_at" json:"collected_at"`
	Result      string     `db:"result" json:"result"`
	Substances  []string   `db:"substances" json:"substances"`
	RecordedBy  *uuid.UUID `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
