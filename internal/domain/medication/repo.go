package medication

import (
	"context"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	Update(ctx context.Context, m *Medication) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Medication, int, error)
}

type PatientMedicationRepository interface {
	Create(ctx context.Context, pm *PatientMedication) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientMedication, error)
	ListByPatient(ctx context.Context, patientID int64, status string, limit, offset int) ([]*PatientMedication, int, error)
	// Discontinue moves an active order to discontinued. It returns false when
	// the order was no longer active.
	Discontinue(ctx context.Context, pm *PatientMedication) (bool, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, rx *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID int64, status string, limit, offset int) ([]*Prescription, int, error)
	// Cancel moves an active prescription to cancelled. It returns false when
	// the prescription was no longer active.
	Cancel(ctx context.Context, rx *Prescription) (bool, error)
}
