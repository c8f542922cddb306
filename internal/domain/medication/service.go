package medication

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
)

// MinReasonLength is the shortest accepted discontinue or cancel reason.
const MinReasonLength = 5

type Service struct {
	medications   MedicationRepository
	orders        PatientMedicationRepository
	prescriptions PrescriptionRepository
	tx            db.TxRunner
	audit         hipaa.Recorder
}

func NewService(
	meds MedicationRepository,
	orders PatientMedicationRepository,
	rxs PrescriptionRepository,
	tx db.TxRunner,
	audit hipaa.Recorder,
) *Service {
	return &Service{
		medications:   meds,
		orders:        orders,
		prescriptions: rxs,
		tx:            tx,
		audit:         audit,
	}
}

var validSchedules = map[string]bool{
	"II": true, "III": true, "IV": true, "V": true,
}

func validReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return "", apperr.Validation("reason must be at least %d characters", MinReasonLength)
	}
	return reason, nil
}

// -- Medication (formulary) --

func (s *Service) CreateMedication(ctx context.Context, m *Medication) error {
	if err := validateMedication(m); err != nil {
		return err
	}
	m.Active = true
	return s.medications.Create(ctx, m)
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.medications.GetByID(ctx, id)
}

func (s *Service) UpdateMedication(ctx context.Context, m *Medication) error {
	if err := validateMedication(m); err != nil {
		return err
	}
	return s.medications.Update(ctx, m)
}

func (s *Service) ListMedications(ctx context.Context, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	return s.medications.List(ctx, activeOnly, limit, offset)
}

func validateMedication(m *Medication) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return apperr.Validation("name is required")
	}
	if !m.ConcentrationMgPerMl.IsPositive() {
		return apperr.Validation("concentration_mg_per_ml must be greater than zero")
	}
	if m.Schedule != nil {
		if *m.Schedule == "" {
			m.Schedule = nil
		} else if !validSchedules[*m.Schedule] {
			return apperr.Validation("invalid schedule: %s", *m.Schedule)
		}
	}
	if m.Form == "" {
		m.Form = "oral solution"
	}
	return nil
}

// -- PatientMedication (dosing orders) --

func (s *Service) CreatePatientMedication(ctx context.Context, pm *PatientMedication) error {
	if pm.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	if pm.MedicationID == uuid.Nil {
		return apperr.Validation("medication_id is required")
	}
	if !pm.DailyDoseMg.IsPositive() {
		return apperr.Validation("daily_dose_mg must be greater than zero")
	}
	if pm.StartDate == "" {
		pm.StartDate = time.Now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", pm.StartDate); err != nil {
		return apperr.Validation("start_date must be YYYY-MM-DD")
	}
	med, err := s.medications.GetByID(ctx, pm.MedicationID)
	if err != nil {
		return err
	}
	if !med.Active {
		return apperr.Validation("medication %s is not on the active formulary", med.Name)
	}
	pm.MedicationName = med.Name
	pm.Status = StatusActive
	return s.orders.Create(ctx, pm)
}

func (s *Service) GetPatientMedication(ctx context.Context, id uuid.UUID) (*PatientMedication, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListPatientMedications(ctx context.Context, patientID int64, status string, limit, offset int) ([]*PatientMedication, int, error) {
	return s.orders.ListByPatient(ctx, patientID, status, limit, offset)
}

// DiscontinuePatientMedication stops an active dosing order. The reason must
// be at least MinReasonLength characters.
func (s *Service) DiscontinuePatientMedication(ctx context.Context, id uuid.UUID, reason string, by *uuid.UUID) (*PatientMedication, error) {
	reason, err := validReason(reason)
	if err != nil {
		return nil, err
	}

	var pm *PatientMedication
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		pm, err = s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if pm.Status != StatusActive {
			return apperr.Conflict("patient medication is %s", pm.Status)
		}
		pm.DiscontinueReason = &reason
		pm.DiscontinuedBy = by
		ok, err := s.orders.Discontinue(ctx, pm)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("patient medication is no longer active")
		}
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "patient_medication",
			EntityID: pm.ID.String(),
			Action:   hipaa.ActionDiscontinue,
			ActorID:  by,
			Detail:   map[string]interface{}{"patient_id": pm.PatientID, "reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// -- Prescription --

func (s *Service) CreatePrescription(ctx context.Context, rx *Prescription) error {
	if rx.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	rx.MedicationName = strings.TrimSpace(rx.MedicationName)
	if rx.MedicationName == "" {
		return apperr.Validation("medication_name is required")
	}
	if strings.TrimSpace(rx.Dose) == "" {
		return apperr.Validation("dose is required")
	}
	if rx.Quantity <= 0 {
		return apperr.Validation("quantity must be greater than zero")
	}
	if rx.Refills < 0 {
		return apperr.Validation("refills cannot be negative")
	}
	rx.Status = StatusActive
	return s.prescriptions.Create(ctx, rx)
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, patientID int64, status string, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.ListByPatient(ctx, patientID, status, limit, offset)
}

// CancelPrescription cancels an active prescription. The reason must be at
// least MinReasonLength characters.
func (s *Service) CancelPrescription(ctx context.Context, id uuid.UUID, reason string, by *uuid.UUID) (*Prescription, error) {
	reason, err := validReason(reason)
	if err != nil {
		return nil, err
	}

	var rx *Prescription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		rx, err = s.prescriptions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rx.Status != StatusActive {
			return apperr.Conflict("prescription is %s", rx.Status)
		}
		rx.CancelReason = &reason
		rx.CancelledBy = by
		ok, err := s.prescriptions.Cancel(ctx, rx)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("prescription is no longer active")
		}
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "prescription",
			EntityID: rx.ID.String(),
			Action:   hipaa.ActionCancel,
			ActorID:  by,
			Detail:   map[string]interface{}{"patient_id": rx.PatientID, "reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return rx, nil
}
