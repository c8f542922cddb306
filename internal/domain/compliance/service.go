package compliance

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/notification"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/websocket"
)

// Notifier delivers a templated SMS.
type Notifier interface {
	Send(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// EventPublisher pushes hold changes to connected staff screens.
type EventPublisher interface {
	Publish(ctx context.Context, e websocket.Event)
}

type Service struct {
	holds     HoldRepository
	overrides OverrideRepository
	names     NameResolver
	tx        db.TxRunner
	audit     hipaa.Recorder
	logger    zerolog.Logger
	notifier  Notifier
	mdPhone   string
	events    EventPublisher
	now       func() time.Time
}

func NewService(holds HoldRepository, overrides OverrideRepository, names NameResolver, tx db.TxRunner, audit hipaa.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		holds:     holds,
		overrides: overrides,
		names:     names,
		tx:        tx,
		audit:     audit,
		logger:    logger.With().Str("component", "compliance").Logger(),
		now:       time.Now,
	}
}

// SetNotifier enables the medical-director SMS sent after each override.
func (s *Service) SetNotifier(n Notifier, medicalDirectorPhone string) {
	s.notifier = n
	s.mdPhone = medicalDirectorPhone
}

// SetEventPublisher enables live alerts. Events go out only after the change
// commits.
func (s *Service) SetEventPublisher(p EventPublisher) {
	s.events = p
}

func (s *Service) publish(ctx context.Context, eventType, entityID string, patientID int64, data interface{}) {
	if s.events == nil {
		return
	}
	e := websocket.Event{
		Type:      eventType,
		Clinic:    db.TenantFromContext(ctx),
		EntityID:  entityID,
		PatientID: patientID,
		At:        s.now().UTC(),
		Data:      data,
	}
	db.AfterCommit(ctx, func() { s.events.Publish(context.WithoutCancel(ctx), e) })
}

var validListStatuses = map[string]bool{
	HoldOpen: true, HoldOverridden: true, HoldClosed: true,
}

var validOverrideTypes = map[string]bool{
	OverrideClinical: true, OverrideAdministrative: true, OverrideEmergency: true,
}

// -- Holds --

// ListHolds returns up to MaxListedHolds holds with the given status, newest
// first. status defaults to open; "all" lists every status. Name lookup
// failures never fail the call.
func (s *Service) ListHolds(ctx context.Context, status string) ([]*Hold, error) {
	switch {
	case status == "":
		status = HoldOpen
	case status == "all":
		status = ""
	case !validListStatuses[status]:
		return nil, apperr.Validation("invalid status: %s", status)
	}

	holds, err := s.holds.List(ctx, status, MaxListedHolds)
	if err != nil {
		return nil, err
	}
	s.resolveNames(ctx, holds)
	if holds == nil {
		holds = []*Hold{}
	}
	return holds, nil
}

func (s *Service) GetHold(ctx context.Context, id uuid.UUID) (*Hold, error) {
	h, err := s.holds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.resolveNames(ctx, []*Hold{h})
	return h, nil
}

func (s *Service) resolveNames(ctx context.Context, holds []*Hold) {
	if len(holds) == 0 {
		return
	}
	patientIDs := make([]int64, 0, len(holds))
	var staffIDs []uuid.UUID
	for _, h := range holds {
		patientIDs = append(patientIDs, h.PatientID)
		if h.OpenedBy != nil {
			staffIDs = append(staffIDs, *h.OpenedBy)
		}
	}

	patients, err := s.names.PatientNames(ctx, patientIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("resolve patient names")
	}
	staff, err := s.names.StaffNames(ctx, staffIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("resolve staff names")
	}

	for _, h := range holds {
		h.PatientName = UnknownPatient
		if name := patients[h.PatientID]; name != "" {
			h.PatientName = name
		}
		h.OpenedByName = SystemActor
		if h.OpenedBy != nil {
			if name := staff[*h.OpenedBy]; name != "" {
				h.OpenedByName = name
			}
		}
	}
}

// OpenHold places a new open hold on a patient.
func (s *Service) OpenHold(ctx context.Context, h *Hold) error {
	if h.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	h.ReasonCode = strings.TrimSpace(h.ReasonCode)
	if h.ReasonCode == "" {
		return apperr.Validation("reason_code is required")
	}
	h.Status = HoldOpen
	h.OpenedTime = s.now().UTC()
	h.ClosedAt = nil
	h.ClosedBy = nil

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.holds.Create(ctx, h); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "compliance_hold",
			EntityID: h.ID.String(),
			Action:   hipaa.ActionCreate,
			ActorID:  h.OpenedBy,
			Detail:   map[string]interface{}{"patient_id": h.PatientID, "reason_code": h.ReasonCode},
		}); err != nil {
			return err
		}
		s.publish(ctx, websocket.EventHoldOpened, h.ID.String(), h.PatientID, map[string]interface{}{"reason_code": h.ReasonCode})
		return nil
	})
}

// OpenHoldForScreen opens a positive-screen hold unless one is already open.
// It joins the caller's transaction. A hold opened concurrently by another
// screen wins and this call is a no-op.
func (s *Service) OpenHoldForScreen(ctx context.Context, patientID int64, screenID uuid.UUID, openedBy *uuid.UUID) error {
	exists, err := s.holds.HasOpen(ctx, patientID, ReasonPositiveUDS)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	notes := "Opened for positive drug screen " + screenID.String()
	err = s.OpenHold(ctx, &Hold{
		PatientID:         patientID,
		ReasonCode:        ReasonPositiveUDS,
		OpenedBy:          openedBy,
		RequiresCounselor: true,
		Notes:             &notes,
	})
	if isHoldAlreadyOpen(err) {
		return nil
	}
	return err
}

func isHoldAlreadyOpen(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae) && ae.Code == CodeHoldAlreadyOpen
}

// HasOpenHold reports whether the patient has any open hold.
func (s *Service) HasOpenHold(ctx context.Context, patientID int64) (bool, error) {
	return s.holds.HasOpen(ctx, patientID, "")
}

// CloseHold releases an open or overridden hold.
func (s *Service) CloseHold(ctx context.Context, id uuid.UUID, closedBy *uuid.UUID, notes string) (*Hold, error) {
	var h *Hold
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		h, err = s.holds.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if h.Status == HoldClosed {
			return apperr.Conflict("compliance hold is already closed")
		}
		h.ClosedBy = closedBy
		if notes = strings.TrimSpace(notes); notes != "" {
			h.Notes = &notes
		}
		if err := s.holds.Close(ctx, h); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "compliance_hold",
			EntityID: h.ID.String(),
			Action:   hipaa.ActionClose,
			ActorID:  closedBy,
			Detail:   map[string]interface{}{"patient_id": h.PatientID},
		}); err != nil {
			return err
		}
		s.publish(ctx, websocket.EventHoldClosed, h.ID.String(), h.PatientID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// -- Overrides --

// OverrideRequest is a charge nurse's request to lift an open hold.
type OverrideRequest struct {
	HoldID       uuid.UUID
	Reason       string
	Type         string
	OverriddenBy *uuid.UUID
}

// Override lifts an open hold. The hold status change, override row and audit
// record commit together; the medical director is notified afterwards and a
// notification failure does not undo the override.
func (s *Service) Override(ctx context.Context, req OverrideRequest) (*Override, error) {
	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < MinOverrideReasonLength {
		return nil, apperr.Validation("override_reason must be at least %d characters", MinOverrideReasonLength).
			WithDetails(map[string]interface{}{"min_length": MinOverrideReasonLength})
	}
	if req.Type == "" {
		req.Type = OverrideClinical
	}
	if !validOverrideTypes[req.Type] {
		return nil, apperr.Validation("invalid override_type: %s", req.Type)
	}

	now := s.now().UTC()
	ov := &Override{
		HoldID:           req.HoldID,
		OverrideReason:   reason,
		OverrideType:     req.Type,
		OverriddenBy:     req.OverriddenBy,
		OverrideTime:     now,
		RequiresMDReview: true,
		ReviewBy:         now.Add(ReviewWindow),
	}

	var hold *Hold
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		hold, err = s.holds.GetForUpdate(ctx, req.HoldID)
		if err != nil {
			return err
		}
		if hold.Status != HoldOpen {
			return apperr.Conflict("compliance hold is %s, only open holds can be overridden", hold.Status)
		}
		if err := s.holds.SetStatus(ctx, hold.ID, HoldOverridden); err != nil {
			return err
		}
		hold.Status = HoldOverridden
		if err := s.overrides.Create(ctx, ov); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "compliance_hold",
			EntityID: hold.ID.String(),
			Action:   hipaa.ActionOverride,
			ActorID:  req.OverriddenBy,
			Detail: map[string]interface{}{
				"override_id":   ov.ID.String(),
				"patient_id":    hold.PatientID,
				"override_type": ov.OverrideType,
				"review_by":     ov.ReviewBy,
			},
		}); err != nil {
			return err
		}
		s.publish(ctx, websocket.EventHoldOverridden, hold.ID.String(), hold.PatientID, map[string]interface{}{
			"override_id":   ov.ID.String(),
			"override_type": ov.OverrideType,
			"review_by":     ov.ReviewBy,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyMedicalDirector(ctx, hold, ov)
	return ov, nil
}

func (s *Service) notifyMedicalDirector(ctx context.Context, hold *Hold, ov *Override) {
	if s.notifier == nil || s.mdPhone == "" {
		s.logger.Debug().Str("hold_id", hold.ID.String()).Msg("medical director notification not configured")
		return
	}
	s.resolveNames(ctx, []*Hold{hold})
	overriddenBy := SystemActor
	if ov.OverriddenBy != nil {
		if staff, err := s.names.StaffNames(ctx, []uuid.UUID{*ov.OverriddenBy}); err == nil && staff[*ov.OverriddenBy] != "" {
			overriddenBy = staff[*ov.OverriddenBy]
		}
	}

	_, err := s.notifier.Send(ctx, notification.TemplateHoldOverride, map[string]string{
		"hold_id":       hold.ID.String(),
		"patient_name":  hold.PatientName,
		"overridden_by": overriddenBy,
		"override_type": ov.OverrideType,
		"review_by":     ov.ReviewBy.Format(time.RFC3339),
	}, s.mdPhone)
	if err != nil {
		s.logger.Error().Err(err).
			Str("hold_id", hold.ID.String()).
			Str("override_id", ov.ID.String()).
			Msg("notify medical director of override")
	}
}

func (s *Service) ListOverrides(ctx context.Context, holdID uuid.UUID) ([]*Override, error) {
	if _, err := s.holds.GetByID(ctx, holdID); err != nil {
		return nil, err
	}
	items, err := s.overrides.ListByHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Override{}
	}
	return items, nil
}

// ReviewOverride records the medical director's sign-off on an override.
func (s *Service) ReviewOverride(ctx context.Context, id uuid.UUID, reviewedBy *uuid.UUID, notes string) (*Override, error) {
	var ov *Override
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		ov, err = s.overrides.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ov.ReviewedAt != nil {
			return apperr.Conflict("override was already reviewed")
		}
		ov.ReviewedBy = reviewedBy
		if notes = strings.TrimSpace(notes); notes != "" {
			ov.ReviewNotes = &notes
		}
		if err := s.overrides.MarkReviewed(ctx, ov); err != nil {
			return err
		}
		late := s.now().After(ov.ReviewBy)
		if err := s.audit.Record(ctx, &hipaa.AuditRecord{
			Entity:   "compliance_hold_override",
			EntityID: ov.ID.String(),
			Action:   hipaa.ActionReview,
			ActorID:  reviewedBy,
			Detail: map[string]interface{}{
				"hold_id": ov.HoldID.String(),
				"late":    late,
			},
		}); err != nil {
			return err
		}
		s.publish(ctx, websocket.EventOverrideReviewed, ov.ID.String(), 0, map[string]interface{}{
			"hold_id": ov.HoldID.String(),
			"late":    late,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ov, nil
}
