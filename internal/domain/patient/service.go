package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// HoldOpener opens a compliance hold for a positive drug screen. It runs in
// the same transaction as the screen insert.
type HoldOpener interface {
	OpenHoldForScreen(ctx context.Context, patientID int64, screenID uuid.UUID, openedBy *uuid.UUID) error
}

type Service struct {
	patients PatientRepository
	screens  DrugScreenRepository
	tx       db.TxRunner
	holds    HoldOpener
	autoHold bool
}

func NewService(patients PatientRepository, screens DrugScreenRepository, tx db.TxRunner) *Service {
	return &Service{patients: patients, screens: screens, tx: tx}
}

// SetHoldOpener enables automatic compliance holds on positive screens when
// autoHold is true.
func (s *Service) SetHoldOpener(h HoldOpener, autoHold bool) {
	s.holds = h
	s.autoHold = autoHold
}

var validRiskLevels = map[string]bool{
	RiskHigh: true, RiskStandard: true, RiskLow: true,
}

var validResults = map[string]bool{
	ResultPositive: true, ResultNegative: true,
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	if p.RiskLevel == "" {
		p.RiskLevel = RiskStandard
	}
	if !validRiskLevels[p.RiskLevel] {
		return apperr.Validation("invalid risk_level: %s", p.RiskLevel)
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// UpdatePatient replaces demographics. Risk level has its own operation and
// is left untouched.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) UpdateRiskLevel(ctx context.Context, id int64, riskLevel string) error {
	if !validRiskLevels[riskLevel] {
		return apperr.Validation("invalid risk_level: %s", riskLevel)
	}
	return s.patients.UpdateRiskLevel(ctx, id, riskLevel)
}

// SetDispensingName sets the name shown on the dispensing floor and in hold
// lists instead of the legal name.
func (s *Service) SetDispensingName(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("display_name is required")
	}
	return s.patients.SetDispensingName(ctx, id, name)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, params, limit, offset)
}

// RiskLevel returns the patient's current risk level.
func (s *Service) RiskLevel(ctx context.Context, id int64) (string, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return p.RiskLevel, nil
}

// ContactInfo returns the display name and phone number used for reminders.
func (s *Service) ContactInfo(ctx context.Context, id int64) (string, string, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	phone := ""
	if p.Phone != nil {
		phone = *p.Phone
	}
	return p.FullName(), phone, nil
}

func validatePatient(p *Patient) error {
	p.MRN = strings.TrimSpace(p.MRN)
	if p.MRN == "" {
		return apperr.Validation("mrn is required")
	}
	if strings.TrimSpace(p.FirstName) == "" {
		return apperr.Validation("first_name is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return apperr.Validation("last_name is required")
	}
	if p.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *p.DateOfBirth)
		if err != nil {
			return apperr.Validation("date_of_birth must be YYYY-MM-DD")
		}
		if dob.After(time.Now()) {
			return apperr.Validation("date_of_birth is in the future")
		}
	}
	return nil
}

// -- Drug screens --

// RecordDrugScreen stores a screen result. A positive result opens a
// compliance hold in the same transaction when auto-hold is enabled.
func (s *Service) RecordDrugScreen(ctx context.Context, ds *DrugScreen) error {
	if ds.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	if !validResults[ds.Result] {
		return apperr.Validation("result must be positive or negative")
	}
	if ds.CollectedAt.IsZero() {
		ds.CollectedAt = time.Now().UTC()
	}
	if ds.CollectedAt.After(time.Now().Add(time.Minute)) {
		return apperr.Validation("collected_at is in the future")
	}
	if _, err := s.patients.GetByID(ctx, ds.PatientID); err != nil {
		return err
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.screens.Create(ctx, ds); err != nil {
			return err
		}
		if ds.Result == ResultPositive && s.autoHold && s.holds != nil {
			return s.holds.OpenHoldForScreen(ctx, ds.PatientID, ds.ID, ds.RecordedBy)
		}
		return nil
	})
}

func (s *Service) ListDrugScreens(ctx context.Context, patientID int64, limit, offset int) ([]*DrugScreen, int, error) {
	return s.screens.ListByPatient(ctx, patientID, limit, offset)
}

// HasRecentPositive reports whether the patient had a positive screen
// collected at or after since.
func (s *Service) HasRecentPositive(ctx context.Context, patientID int64, since time.Time) (bool, error) {
	return s.screens.HasPositiveSince(ctx, patientID, since)
}
