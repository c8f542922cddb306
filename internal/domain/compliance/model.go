package compliance

import (
	"time"

	"github.com/google/uuid"
)

const (
	HoldOpen       = "open"
	HoldOverridden = "overridden"
	HoldClosed     = "closed"
)

const (
	OverrideClinical       = "clinical"
	OverrideAdministrative = "administrative"
	OverrideEmergency      = "emergency"
)

// ReasonPositiveUDS is the reason code of holds opened automatically for a
// positive drug screen.
const ReasonPositiveUDS = "positive_uds"

// CodeHoldAlreadyOpen marks the conflict returned when a patient already has
// an open positive-screen hold.
const CodeHoldAlreadyOpen = "HOLD_ALREADY_OPEN"

// Display names used when a lookup finds nothing.
const (
	UnknownPatient = "Unknown patient"
	SystemActor    = "System"
)

const (
	// MinOverrideReasonLength is the shortest accepted override reason.
	MinOverrideReasonLength = 20
	// ReviewWindow is how long the medical director has to review an override.
	ReviewWindow = 24 * time.Hour
	// MaxListedHolds caps ListHolds.
	MaxListedHolds = 50
)

// Hold maps to the compliance_holds table. PatientName and OpenedByName are
// resolved on read.
type Hold struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         int64      `db:"patient_id" json:"patient_id"`
	PatientName       string     `db:"-" json:"patient_name"`
	ReasonCode        string     `db:"reason_code" json:"reason_code"`
	OpenedBy          *uuid.UUID `db:"opened_by" json:"opened_by,omitempty"`
	OpenedByName      string     `db:"-" json:"opened_by_name"`
	OpenedTime        time.Time  `db:"opened_time" json:"opened_time"`
	Status            string     `db:"status" json:"status"`
	RequiresCounselor bool       `db:"requires_counselor" json:"requires_counselor"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	ClosedAt          *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy          *uuid.UUID `db:"closed_by" json:"closed_by,omitempty"`
}

// Override maps to the compliance_hold_overrides table.
type Override struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	HoldID           uuid.UUID  `db:"hold_id" json:"hold_id"`
	OverrideReason   string     `db:"override_reason" json:"override_reason"`
	OverrideType     string     `db:"override_type" json:"override_type"`
	OverriddenBy     *uuid.UUID `db:"overridden_by" json:"overridden_by,omitempty"`
	OverrideTime     time.Time  `db:"override_time" json:"override_time"`
	RequiresMDReview bool       `db:"requires_md_review" json:"requires_md_review"`
	ReviewBy         time.Time  `db:"review_by" json:"review_by"`
	ReviewedAt       *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy       *uuid.UUID `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNotes      *string    `db:"review_notes" json:"review_notes,omitempty"`
}
