package dosing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
)

type Service struct {
	bottles       BottleRepository
	changeovers   ChangeoverRepository
	dispensations DispensationRepository
	orders        OrderLookup
	tx            db.TxRunner
	audit         hipaa.Recorder
	loc           *time.Location
	now           func() time.Time
}

func NewService(bottles BottleRepository, changeovers ChangeoverRepository, dispensations DispensationRepository,
	orders OrderLookup, tx db.TxRunner, audit hipaa.Recorder) *Service {
	return &Service{
		bottles:       bottles,
		changeovers:   changeovers,
		dispensations: dispensations,
		orders:        orders,
		tx:            tx,
		audit:         audit,
		loc:           time.UTC,
		now:           time.Now,
	}
}

// SetLocation sets the clinic time zone that bounds a dosing day.
func (s *Service) SetLocation(loc *time.Location) {
	s.loc = loc
}

// -- Dose preparation --

// PrepareRequest asks for a dose for a patient's active order. MedicationID
// picks the order when the patient has more than one.
type PrepareRequest struct {
	PatientID    int64           `json:"patient_id"`
	RequestedMg  decimal.Decimal `json:"requested_mg"`
	MedicationID *uuid.UUID      `json:"medication_id,omitempty"`
}

// PrepareDose converts the requested dose to a volume from the active bottle
// without drawing from it.
func (s *Service) PrepareDose(ctx context.Context, req PrepareRequest) (*Preparation, error) {
	if err := validatePrepare(req); err != nil {
		return nil, err
	}
	order, err := s.orders.ActiveOrder(ctx, req.PatientID, req.MedicationID)
	if err != nil {
		return nil, err
	}
	if err := checkDailyDose(req.RequestedMg, order.DailyDoseMg); err != nil {
		return nil, err
	}
	bottle, err := s.bottles.GetActive(ctx, order.MedicationID)
	if err != nil {
		return nil, err
	}
	return prepare(req, order, bottle)
}

func validatePrepare(req PrepareRequest) error {
	if req.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	if !req.RequestedMg.IsPositive() {
		return apperr.Validation("requested_mg must be greater than zero")
	}
	return nil
}

func checkDailyDose(requestedMg, dailyDoseMg decimal.Decimal) error {
	if requestedMg.GreaterThan(dailyDoseMg) {
		return apperr.Validation("requested dose %s mg exceeds the daily dose of %s mg", requestedMg, dailyDoseMg).
			WithCode("EXCEEDS_DAILY_DOSE").
			WithDetails(map[string]interface{}{
				"requested_mg":  requestedMg,
				"daily_dose_mg": dailyDoseMg,
			})
	}
	return nil
}

func prepare(req PrepareRequest, order *ActiveOrder, bottle *Bottle) (*Preparation, error) {
	ml, err := ComputeVolume(req.RequestedMg, order.ConcentrationMgPerMl)
	if err != nil {
		return nil, err
	}
	if bottle.CurrentVolumeMl.LessThan(ml) {
		return nil, apperr.Validation("insufficient volume in bottle %s", bottle.ID).
			WithCode("INSUFFICIENT_VOLUME").
			WithDetails(map[string]interface{}{
				"bottle_id":    bottle.ID,
				"available_ml": bottle.CurrentVolumeMl,
				"required_ml":  ml,
				"shortfall_ml": ml.Sub(bottle.CurrentVolumeMl),
			})
	}
	return &Preparation{
		PatientID:            order.PatientID,
		PatientMedicationID:  order.PatientMedicationID,
		MedicationID:         order.MedicationID,
		MedicationName:       order.MedicationName,
		BottleID:             bottle.ID,
		RequestedMg:          req.RequestedMg,
		ConcentrationMgPerMl: order.ConcentrationMgPerMl,
		ComputedMl:           ml,
		AvailableMl:          bottle.CurrentVolumeMl,
	}, nil
}

// DispenseDose prepares a dose and draws it from the locked active bottle.
// Doses already dispensed today count toward the daily limit. The order row
// is locked before today's total is read, so a concurrent dispense against
// the same order waits and then sees the committed total.
func (s *Service) DispenseDose(ctx context.Context, req PrepareRequest, dispensedBy *uuid.UUID) (*Dispensation, error) {
	if err := validatePrepare(req); err != nil {
		return nil, err
	}

	var d *Dispensation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.ActiveOrderForUpdate(ctx, req.PatientID, req.MedicationID)
		if err != nil {
			return err
		}
		given, err := s.dispensations.TotalSince(ctx, order.PatientMedicationID, startOfDay(s.now().In(s.loc)))
		if err != nil {
			return err
		}
		if err := checkDailyDose(given.Add(req.RequestedMg), order.DailyDoseMg); err != nil {
			return err
		}
		bottle, err := s.bottles.GetActiveForUpdate(ctx, order.MedicationID)
		if err != nil {
			return err
		}
		p, err := prepare(req, order, bottle)
		if err != nil {
			return err
		}
		ok, err := s.bottles.Draw(ctx, bottle.ID, p.ComputedMl)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("bottle %s changed during dispensing", bottle.ID)
		}

		d = &Dispensation{
			PatientID:           order.PatientID,
			PatientMedicationID: order.PatientMedicationID,
			BottleID:            bottle.ID,
			DoseMg:              req.RequestedMg,
			VolumeMl:            p.ComputedMl,
			DispensedBy:         dispensedBy,
		}
		if err := s.dispensations.Create(ctx, d); err != nil {
			return err
		}
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "dose_dispensation",
			EntityID: d.ID.String(),
			Action:   hipaa.ActionDispense,
			ActorID:  dispensedBy,
			Detail: map[string]interface{}{
				"patient_id": d.PatientID,
				"bottle_id":  d.BottleID.String(),
				"dose_mg":    d.DoseMg.String(),
				"volume_ml":  d.VolumeMl.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *Service) ListDispensations(ctx context.Context, patientID int64, limit, offset int) ([]*Dispensation, int, error) {
	if patientID <= 0 {
		return nil, 0, apperr.Validation("patient_id is required")
	}
	return s.dispensations.ListByPatient(ctx, patientID, limit, offset)
}

// -- Bottle changeover --

// ChangeoverRequest swaps the bottle on the pump. Both witnesses sign.
type ChangeoverRequest struct {
	OldBottleID       uuid.UUID       `json:"old_bottle_id"`
	NewBottleID       uuid.UUID       `json:"new_bottle_id"`
	MeasuredVolumeMl  decimal.Decimal `json:"measured_volume_ml"`
	Witness1Signature string          `json:"witness1_signature"`
	Witness2Signature string          `json:"witness2_signature"`
	PerformedBy       *uuid.UUID      `json:"-"`
}

// Changeover retires the active bottle at its measured volume and activates
// the replacement. Both bottle rows stay locked until the changeover row and
// its audit record are written.
func (s *Service) Changeover(ctx context.Context, req ChangeoverRequest) (*Changeover, error) {
	w1 := strings.TrimSpace(req.Witness1Signature)
	w2 := strings.TrimSpace(req.Witness2Signature)
	var missing []string
	if w1 == "" {
		missing = append(missing, "witness1_signature")
	}
	if w2 == "" {
		missing = append(missing, "witness2_signature")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("two witness signatures are required").
			WithCode("WITNESS_REQUIRED").
			WithDetails(map[string]interface{}{"missing": missing})
	}
	if strings.EqualFold(w1, w2) {
		return nil, apperr.Validation("witness signatures must come from two different people")
	}
	if req.OldBottleID == uuid.Nil || req.NewBottleID == uuid.Nil {
		return nil, apperr.Validation("old_bottle_id and new_bottle_id are required")
	}
	if req.OldBottleID == req.NewBottleID {
		return nil, apperr.Validation("old and new bottle must differ")
	}
	if req.MeasuredVolumeMl.IsNegative() {
		return nil, apperr.Validation("measured_volume_ml must not be negative")
	}

	co := &Changeover{
		OldBottleID:       req.OldBottleID,
		NewBottleID:       req.NewBottleID,
		MeasuredVolumeMl:  req.MeasuredVolumeMl,
		Witness1Signature: w1,
		Witness2Signature: w2,
		PerformedBy:       req.PerformedBy,
		PerformedAt:       s.now().UTC(),
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.bottles.LockPair(ctx, req.OldBottleID, req.NewBottleID)
		if err != nil {
			return err
		}
		oldBottle, ok := locked[req.OldBottleID]
		if !ok {
			return apperr.NotFound("bottle %s not found", req.OldBottleID)
		}
		newBottle, ok := locked[req.NewBottleID]
		if !ok {
			return apperr.NotFound("bottle %s not found", req.NewBottleID)
		}
		if oldBottle.Status != BottleActive {
			return apperr.Conflict("bottle %s is %s, only the active bottle can be changed over", oldBottle.ID, oldBottle.Status)
		}
		if newBottle.Status == BottleRetired {
			return apperr.Conflict("bottle %s is retired", newBottle.ID)
		}
		if newBottle.MedicationID != oldBottle.MedicationID {
			return apperr.Validation("new bottle holds a different medication")
		}

		co.ExpectedVolumeMl = oldBottle.CurrentVolumeMl
		co.VarianceMl = Variance(co.MeasuredVolumeMl, co.ExpectedVolumeMl)

		if err := s.bottles.Retire(ctx, oldBottle.ID, co.MeasuredVolumeMl); err != nil {
			return err
		}
		if err := s.bottles.Activate(ctx, newBottle.ID); err != nil {
			return err
		}
		if err := s.changeovers.Create(ctx, co); err != nil {
			return err
		}
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "bottle_changeover",
			EntityID: co.ID.String(),
			Action:   hipaa.ActionChangeover,
			ActorID:  req.PerformedBy,
			Detail: map[string]interface{}{
				"old_bottle_id": co.OldBottleID.String(),
				"new_bottle_id": co.NewBottleID.String(),
				"expected_ml":   co.ExpectedVolumeMl.String(),
				"measured_ml":   co.MeasuredVolumeMl.String(),
				"variance_ml":   co.VarianceMl.String(),
				"witnesses":     []string{w1, w2},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return co, nil
}

func (s *Service) ListChangeovers(ctx context.Context, bottleID uuid.UUID) ([]*Changeover, error) {
	if _, err := s.bottles.GetByID(ctx, bottleID); err != nil {
		return nil, err
	}
	items, err := s.changeovers.ListByBottle(ctx, bottleID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Changeover{}
	}
	return items, nil
}

// -- Bottles --

// CreateBottle receives a full bottle into stock. New bottles start pending.
func (s *Service) CreateBottle(ctx context.Context, b *Bottle) error {
	if b.MedicationID == uuid.Nil {
		return apperr.Validation("medication_id is required")
	}
	b.LotNumber = strings.TrimSpace(b.LotNumber)
	if b.LotNumber == "" {
		return apperr.Validation("lot_number is required")
	}
	if !b.InitialVolumeMl.IsPositive() {
		return apperr.Validation("initial_volume_ml must be greater than zero")
	}
	b.CurrentVolumeMl = b.InitialVolumeMl
	b.Status = BottlePending
	b.OpenedAt = nil
	b.RetiredAt = nil
	return s.bottles.Create(ctx, b)
}

// ActivateBottle puts a pending bottle on the pump when none is active for
// its medication. Replacing an active bottle goes through Changeover.
func (s *Service) ActivateBottle(ctx context.Context, id uuid.UUID, by *uuid.UUID) (*Bottle, error) {
	var b *Bottle
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.bottles.LockPair(ctx, id, id)
		if err != nil {
			return err
		}
		var ok bool
		if b, ok = locked[id]; !ok {
			return apperr.NotFound("bottle %s not found", id)
		}
		if b.Status != BottlePending {
			return apperr.Conflict("bottle %s is %s, only pending bottles can be activated", id, b.Status)
		}
		if err := s.bottles.Activate(ctx, id); err != nil {
			return err
		}
		now := s.now().UTC()
		b.Status = BottleActive
		b.OpenedAt = &now
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "bottle",
			EntityID: id.String(),
			Action:   hipaa.ActionActivate,
			ActorID:  by,
			Detail:   map[string]interface{}{"medication_id": b.MedicationID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBottle(ctx context.Context, id uuid.UUID) (*Bottle, error) {
	return s.bottles.GetByID(ctx, id)
}

func (s *Service) ActiveBottle(ctx context.Context, medicationID uuid.UUID) (*Bottle, error) {
	return s.bottles.GetActive(ctx, medicationID)
}

var validBottleStatuses = map[string]bool{
	BottlePending: true, BottleActive: true, BottleRetired: true,
}

func (s *Service) SearchBottles(ctx context.Context, params map[string]string, limit, offset int) ([]*Bottle, int, error) {
	if st := params["status"]; st != "" && !validBottleStatuses[st] {
		return nil, 0, apperr.Validation("invalid status: %s", st)
	}
	return s.bottles.Search(ctx, params, limit, offset)
}
