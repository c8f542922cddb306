package takehome

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

// HoldChecker reports open compliance holds.
type HoldChecker interface {
	HasOpenHold(ctx context.Context, patientID int64) (bool, error)
}

// ScreenChecker reports positive drug screens collected at or after since.
type ScreenChecker interface {
	HasRecentPositive(ctx context.Context, patientID int64, since time.Time) (bool, error)
}

// RiskLookup returns a patient's recorded risk level.
type RiskLookup interface {
	RiskLevel(ctx context.Context, patientID int64) (string, error)
}

// Policy holds the clinic's take-home settings.
type Policy struct {
	LookbackDays       int
	AutoHoldOnPositive bool
}

type Service struct {
	orders   OrderRepository
	kits     KitRepository
	holds    HoldChecker
	screens  ScreenChecker
	patients RiskLookup
	policy   Policy
	now      func() time.Time
}

func NewService(orders OrderRepository, kits KitRepository, holds HoldChecker, screens ScreenChecker, patients RiskLookup, policy Policy) *Service {
	if policy.LookbackDays <= 0 {
		policy.LookbackDays = 30
	}
	return &Service{
		orders:   orders,
		kits:     kits,
		holds:    holds,
		screens:  screens,
		patients: patients,
		policy:   policy,
		now:      time.Now,
	}
}

var validRiskLevels = map[string]bool{
	RiskHigh: true, RiskStandard: true, RiskLow: true,
}

// Status transitions allowed by UpdateStatus. Only active orders change.
var validOrderTransitions = map[string]bool{
	OrderCompleted: true, OrderCancelled: true,
}

// CheckEligibility evaluates a request against the patient's real hold and
// drug-screen state. An empty riskLevel uses the patient's recorded level.
// Lookup failures are returned unchanged.
func (s *Service) CheckEligibility(ctx context.Context, patientID int64, days int, riskLevel string) (*Eligibility, error) {
	if patientID <= 0 {
		return nil, apperr.Validation("patient_id is required")
	}
	if days < 1 {
		return nil, apperr.Validation("days must be at least 1")
	}
	risk, err := s.resolveRisk(ctx, patientID, riskLevel)
	if err != nil {
		return nil, err
	}

	hasHold, err := s.holds.HasOpenHold(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var recentPositive bool
	if s.policy.AutoHoldOnPositive {
		since := s.now().AddDate(0, 0, -s.policy.LookbackDays)
		recentPositive, err = s.screens.HasRecentPositive(ctx, patientID, since)
		if err != nil {
			return nil, err
		}
	}

	result := Evaluate(EligibilityInput{
		RiskLevel:          risk,
		Days:               days,
		HasOpenHold:        hasHold,
		RecentPositiveUDS:  recentPositive,
		AutoHoldOnPositive: s.policy.AutoHoldOnPositive,
	})
	return &result, nil
}

func (s *Service) resolveRisk(ctx context.Context, patientID int64, riskLevel string) (string, error) {
	if riskLevel == "" {
		return s.patients.RiskLevel(ctx, patientID)
	}
	if !validRiskLevels[riskLevel] {
		return "", apperr.Validation("invalid risk_level: %s", riskLevel)
	}
	return riskLevel, nil
}

// -- Orders --

// CreateOrder persists an order after the eligibility rules pass. An
// ineligible request fails validation with the reasons attached.
func (s *Service) CreateOrder(ctx context.Context, o *Order) error {
	if o.StartDate == "" {
		return apperr.Validation("start_date is required")
	}
	start, err := time.Parse("2006-01-02", o.StartDate)
	if err != nil {
		return apperr.Validation("start_date must be YYYY-MM-DD")
	}

	if o.RiskLevel == "" && o.PatientID > 0 {
		if o.RiskLevel, err = s.patients.RiskLevel(ctx, o.PatientID); err != nil {
			return err
		}
	}

	elig, err := s.CheckEligibility(ctx, o.PatientID, o.Days, o.RiskLevel)
	if err != nil {
		return err
	}
	if !elig.Eligible {
		return apperr.Validation("patient is not eligible for %d take-home days", o.Days).
			WithCode("NOT_ELIGIBLE").
			WithDetails(map[string]interface{}{
				"eligible": false,
				"reasons":  elig.Reasons,
			})
	}
	o.EndDate = start.AddDate(0, 0, o.Days-1).Format("2006-01-02")
	o.Status = OrderActive
	return s.orders.Create(ctx, o)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) SearchOrders(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	return s.orders.Search(ctx, params, limit, offset)
}

// UpdateStatus completes or cancels an active order.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Order, error) {
	if !validOrderTransitions[status] {
		return nil, apperr.Validation("status must be completed or cancelled")
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OrderActive {
		return nil, apperr.Conflict("order is already %s", o.Status)
	}
	o.Status = status
	ok, err := s.orders.UpdateStatus(ctx, o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("order is no longer active")
	}
	return o, nil
}

// -- Kits --

// PrepareKit records the dose for one day of an active order.
func (s *Service) PrepareKit(ctx context.Context, k *Kit) error {
	if !k.DoseMg.IsPositive() {
		return apperr.Validation("dose_mg must be greater than zero")
	}
	o, err := s.orders.GetByID(ctx, k.OrderID)
	if err != nil {
		return err
	}
	if o.Status != OrderActive {
		return apperr.Conflict("order is %s", o.Status)
	}
	if k.DayNumber < 1 || k.DayNumber > o.Days {
		return apperr.Validation("day_number must be between 1 and %d", o.Days)
	}
	k.Status = KitPrepared
	return s.kits.Create(ctx, k)
}

func (s *Service) ListKits(ctx context.Context, orderID uuid.UUID) ([]*Kit, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.kits.ListByOrder(ctx, orderID)
}
