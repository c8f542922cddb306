package takehome

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RiskHigh     = "high"
	RiskStandard = "standard"
	RiskLow      = "low"
)

const (
	OrderActive    = "active"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

const (
	KitPrepared  = "prepared"
	KitDispensed = "dispensed"
	KitReturned  = "returned"
)

// Order maps to the takehome_orders table: a grant of consecutive
// unsupervised dosing days.
type Order struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID int64      `db:"patient_id" json:"patient_id"`
	Days      int        `db:"days" json:"days"`
	RiskLevel string     `db:"risk_level" json:"risk_level"`
	StartDate string     `db:"start_date" json:"start_date"`
	EndDate   string     `db:"end_date" json:"end_date"`
	Status    string     `db:"status" json:"status"`
	Notes     *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Kit maps to the takehome_kits table: one prepared dose for one day of an
// order.
type Kit struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	OrderID    uuid.UUID       `db:"order_id" json:"order_id"`
	BottleID   *uuid.UUID      `db:"bottle_id" json:"bottle_id,omitempty"`
	DoseMg     decimal.Decimal `db:"dose_mg" json:"dose_mg"`
	DayNumber  int             `db:"day_number" json:"day_number"`
	Status     string          `db:"status" json:"status"`
	PreparedBy *uuid.UUID      `db:"prepared_by" json:"prepared_by,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
