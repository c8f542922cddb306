package inventory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
)

type Service struct {
	snapshots SnapshotRepository
	stock     StockLookup
	tx        db.TxRunner
	audit     hipaa.Recorder
}

func NewService(snapshots SnapshotRepository, stock StockLookup, tx db.TxRunner, audit hipaa.Recorder) *Service {
	return &Service{snapshots: snapshots, stock: stock, tx: tx, audit: audit}
}

// LineInput is one counted medication. ExpectedQty defaults to the volume on
// hand in non-retired bottles.
type LineInput struct {
	MedicationID   uuid.UUID        `json:"medication_id"`
	CountingMethod string           `json:"counting_method"`
	CountedQty     decimal.Decimal  `json:"counted_qty"`
	ExpectedQty    *decimal.Decimal `json:"expected_qty,omitempty"`
}

type SnapshotRequest struct {
	Notes   string      `json:"notes"`
	Lines   []LineInput `json:"lines"`
	TakenBy *uuid.UUID  `json:"-"`
}

var validCountingMethods = map[string]bool{
	CountExact: true, CountEstimated: true,
}

// CreateSnapshot records a physical count. Schedules come from the formulary,
// never from the request, and every Schedule II line must be counted exactly.
// The snapshot, its lines and the audit record commit together.
func (s *Service) CreateSnapshot(ctx context.Context, req SnapshotRequest) (*Snapshot, error) {
	if len(req.Lines) == 0 {
		return nil, apperr.Validation("at least one line is required")
	}
	ids := make([]uuid.UUID, 0, len(req.Lines))
	seen := make(map[uuid.UUID]bool, len(req.Lines))
	for i, in := range req.Lines {
		if in.MedicationID == uuid.Nil {
			return nil, apperr.Validation("lines[%d]: medication_id is required", i)
		}
		if seen[in.MedicationID] {
			return nil, apperr.Validation("lines[%d]: medication %s is counted twice", i, in.MedicationID)
		}
		seen[in.MedicationID] = true
		if !validCountingMethods[in.CountingMethod] {
			return nil, apperr.Validation("lines[%d]: counting_method must be exact or estimated", i)
		}
		if in.CountedQty.IsNegative() {
			return nil, apperr.Validation("lines[%d]: counted_qty must not be negative", i)
		}
		if in.ExpectedQty != nil && in.ExpectedQty.IsNegative() {
			return nil, apperr.Validation("lines[%d]: expected_qty must not be negative", i)
		}
		ids = append(ids, in.MedicationID)
	}

	snap := &Snapshot{TakenBy: req.TakenBy}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		snap.Notes = &notes
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		meds, err := s.stock.Medications(ctx, ids)
		if err != nil {
			return err
		}
		var unknown []string
		for _, id := range ids {
			if _, ok := meds[id]; !ok {
				unknown = append(unknown, id.String())
			}
		}
		if len(unknown) > 0 {
			return apperr.Validation("unknown medication").
				WithDetails(map[string]interface{}{"medication_ids": unknown})
		}

		var offenders []string
		for _, in := range req.Lines {
			l := &Line{
				MedicationID:   in.MedicationID,
				Schedule:       meds[in.MedicationID].Schedule,
				CountingMethod: in.CountingMethod,
				CountedQty:     in.CountedQty,
			}
			if l.IsScheduleII() && l.CountingMethod != CountExact {
				offenders = append(offenders, l.MedicationID.String())
			}
			snap.Lines = append(snap.Lines, l)
		}
		if len(offenders) > 0 {
			return apperr.Validation("Schedule II medications require exact counting").
				WithCode("EXACT_COUNT_REQUIRED").
				WithDetails(map[string]interface{}{"medication_ids": offenders})
		}

		onHand, err := s.stock.OnHand(ctx, ids)
		if err != nil {
			return err
		}
		for i, l := range snap.Lines {
			l.ExpectedQty = onHand[l.MedicationID]
			if req.Lines[i].ExpectedQty != nil {
				l.ExpectedQty = *req.Lines[i].ExpectedQty
			}
			l.Variance = l.CountedQty.Sub(l.ExpectedQty)
		}

		if err := s.snapshots.Create(ctx, snap); err != nil {
			return err
		}
		return s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "inventory_snapshot",
			EntityID: snap.ID.String(),
			Action:   hipaa.ActionSnapshot,
			ActorID:  req.TakenBy,
			Detail: map[string]interface{}{
				"lines":         len(snap.Lines),
				"discrepancies": discrepancies(snap.Lines),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// discrepancies lists the medications whose count differs from stock.
func discrepancies(lines []*Line) []string {
	out := []string{}
	for _, l := range lines {
		if !l.Variance.IsZero() {
			out = append(out, l.MedicationID.String())
		}
	}
	return out
}

func (s *Service) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	return s.snapshots.GetByID(ctx, id)
}

func (s *Service) ListSnapshots(ctx context.Context, limit, offset int) ([]*Snapshot, int, error) {
	return s.snapshots.List(ctx, limit, offset)
}
