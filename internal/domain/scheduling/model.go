package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusCheckedIn = "checked-in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no-show"
)

// DefaultType is used when an appointment is booked without a type.
const DefaultType = "dosing"

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       int64      `db:"patient_id" json:"patient_id"`
	ProviderID      *uuid.UUID `db:"provider_id" json:"provider_id,omitempty"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         time.Time  `db:"end_time" json:"end_time"`
	Status          string     `db:"status" json:"status"`
	AppointmentType string     `db:"appointment_type" json:"appointment_type"`
	Reason          *string    `db:"reason" json:"reason,omitempty"`
	ReminderSentAt  *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

var transitions = map[string][]string{
	StatusScheduled: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to
// another. Completed, cancelled and no-show are final.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further status change is allowed.
func IsFinal(status string) bool {
	return len(transitions[status]) == 0
}
