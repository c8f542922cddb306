package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CountExact     = "exact"
	CountEstimated = "estimated"
)

// ScheduleII must always be counted exactly.
const ScheduleII = "II"

// Snapshot maps to the inventory_snapshots table.
type Snapshot struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	TakenBy   *uuid.UUID `db:"taken_by" json:"taken_by,omitempty"`
	TakenAt   time.Time  `db:"taken_at" json:"taken_at"`
	Notes     *string    `db:"notes" json:"notes,omitempty"`
	LineCount int        `db:"-" json:"line_count"`
	Lines     []*Line    `db:"-" json:"lines,omitempty"`
}

// Line maps to the inventory_snapshot_lines table.
type Line struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	SnapshotID     uuid.UUID       `db:"snapshot_id" json:"snapshot_id"`
	MedicationID   uuid.UUID       `db:"medication_id" json:"medication_id"`
	Schedule       *string         `db:"schedule" json:"schedule,omitempty"`
	CountingMethod string          `db:"counting_method" json:"counting_method"`
	ExpectedQty    decimal.Decimal `db:"expected_qty" json:"expected_qty"`
	CountedQty     decimal.Decimal `db:"counted_qty" json:"counted_qty"`
	Variance       decimal.Decimal `db:"variance" json:"variance"`
}

// IsScheduleII reports whether the line counts a Schedule II substance.
func (l *Line) IsScheduleII() bool {
	return l.Schedule != nil && *l.Schedule == ScheduleII
}

// Medication is the formulary data a count needs.
type Medication struct {
	ID       uuid.UUID
	Name     string
	Schedule *string
}
