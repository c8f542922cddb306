package compliance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/notification"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/websocket"
)

// -- Mock Repositories --

type mockHoldRepo struct {
	holds map[uuid.UUID]*Hold
}

func newMockHoldRepo() *mockHoldRepo {
	return &mockHoldRepo{holds: make(map[uuid.UUID]*Hold)}
}

func (m *mockHoldRepo) Create(_ context.Context, h *Hold) error {
	if h.ReasonCode == ReasonPositiveUDS {
		for _, o := range m.holds {
			if o.PatientID == h.PatientID && o.ReasonCode == ReasonPositiveUDS && o.Status == HoldOpen {
				return apperr.Conflict("patient %d already has an open %s hold", h.PatientID, h.ReasonCode).WithCode(CodeHoldAlreadyOpen)
			}
		}
	}
	h.ID = uuid.New()
	m.holds[h.ID] = h
	return nil
}

func (m *mockHoldRepo) GetByID(_ context.Context, id uuid.UUID) (*Hold, error) {
	h, ok := m.holds[id]
	if !ok {
		return nil, apperr.NotFound("compliance hold %s not found", id)
	}
	cp := *h
	return &cp, nil
}

func (m *mockHoldRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Hold, error) {
	return m.GetByID(ctx, id)
}

func (m *mockHoldRepo) List(_ context.Context, status string, limit int) ([]*Hold, error) {
	var result []*Hold
	for _, h := range m.holds {
		if status == "" || h.Status == status {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpenedTime.After(result[j].OpenedTime) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockHoldRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	h, ok := m.holds[id]
	if !ok {
		return apperr.NotFound("compliance hold %s not found", id)
	}
	h.Status = status
	return nil
}

func (m *mockHoldRepo) Close(_ context.Context, h *Hold) error {
	now := time.Now()
	h.Status = HoldClosed
	h.ClosedAt = &now
	cp := *h
	m.holds[h.ID] = &cp
	return nil
}

func (m *mockHoldRepo) HasOpen(_ context.Context, patientID int64, reasonCode string) (bool, error) {
	for _, h := range m.holds {
		if h.PatientID == patientID && h.Status == HoldOpen && (reasonCode == "" || h.ReasonCode == reasonCode) {
			return true, nil
		}
	}
	return false, nil
}

type mockOverrideRepo struct {
	overrides map[uuid.UUID]*Override
}

func newMockOverrideRepo() *mockOverrideRepo {
	return &mockOverrideRepo{overrides: make(map[uuid.UUID]*Override)}
}

func (m *mockOverrideRepo) Create(_ context.Context, o *Override) error {
	o.ID = uuid.New()
	m.overrides[o.ID] = o
	return nil
}

func (m *mockOverrideRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*Override, error) {
	o, ok := m.overrides[id]
	if !ok {
		return nil, apperr.NotFound("override %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (m *mockOverrideRepo) ListByHold(_ context.Context, holdID uuid.UUID) ([]*Override, error) {
	var result []*Override
	for _, o := range m.overrides {
		if o.HoldID == holdID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (m *mockOverrideRepo) MarkReviewed(_ context.Context, o *Override) error {
	now := time.Now()
	o.ReviewedAt = &now
	cp := *o
	m.overrides[o.ID] = &cp
	return nil
}

type stubNames struct {
	patients map[int64]string
	staff    map[uuid.UUID]string
	err      error
}

func (s *stubNames) PatientNames(_ context.Context, ids []int64) (map[int64]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]string)
	for _, id := range ids {
		if n, ok := s.patients[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (s *stubNames) StaffNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[uuid.UUID]string)
	for _, id := range ids {
		if n, ok := s.staff[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type mockRecorder struct {
	records []*hipaa.AuditRecord
}

func (m *mockRecorder) Record(_ context.Context, rec *hipaa.AuditRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	fixedNow  = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	nurseID   = uuid.MustParse("7b1c6a52-55b6-4ad4-9f0e-3d1ce0f0a001")
	overrider = "Dana Charge RN"
)

type fixture struct {
	svc       *Service
	holds     *mockHoldRepo
	overrides *mockOverrideRepo
	names     *stubNames
	audit     *mockRecorder
}

func newFixture() *fixture {
	f := &fixture{
		holds:     newMockHoldRepo(),
		overrides: newMockOverrideRepo(),
		names: &stubNames{
			patients: map[int64]string{42: "Jordan Doe"},
			staff:    map[uuid.UUID]string{nurseID: overrider},
		},
		audit: &mockRecorder{},
	}
	f.svc = NewService(f.holds, f.overrides, f.names, passTx{}, f.audit, zerolog.Nop())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

func (f *fixture) openHold(t *testing.T, patientID int64, openedBy *uuid.UUID) *Hold {
	t.Helper()
	h := &Hold{PatientID: patientID, ReasonCode: "missed_counseling", OpenedBy: openedBy}
	require.NoError(t, f.svc.OpenHold(context.Background(), h))
	return h
}

const validReason = "Patient traveling for a family emergency, counselor consulted"

// -- Holds --

func TestService_OpenHold(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, &nurseID)

	assert.NotEqual(t, uuid.Nil, h.ID)
	assert.Equal(t, HoldOpen, h.Status)
	assert.Equal(t, fixedNow, h.OpenedTime)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, hipaa.ActionCreate, f.audit.records[0].Action)
}

func TestService_OpenHold_Validation(t *testing.T) {
	svc := newTestService()

	err := svc.OpenHold(context.Background(), &Hold{ReasonCode: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = svc.OpenHold(context.Background(), &Hold{PatientID: 1, ReasonCode: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_ListHolds_ResolvesNamesWithFallbacks(t *testing.T) {
	f := newFixture()
	f.openHold(t, 42, &nurseID)
	f.openHold(t, 99, nil)
	unknownStaff := uuid.New()
	f.openHold(t, 42, &unknownStaff)

	holds, err := f.svc.ListHolds(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, holds, 3)

	byPatient := map[int64][]*Hold{}
	for _, h := range holds {
		byPatient[h.PatientID] = append(byPatient[h.PatientID], h)
	}
	assert.Equal(t, UnknownPatient, byPatient[99][0].PatientName)
	assert.Equal(t, SystemActor, byPatient[99][0].OpenedByName)
	for _, h := range byPatient[42] {
		assert.Equal(t, "Jordan Doe", h.PatientName)
		if *h.OpenedBy == nurseID {
			assert.Equal(t, overrider, h.OpenedByName)
		} else {
			assert.Equal(t, SystemActor, h.OpenedByName)
		}
	}
}

func TestService_ListHolds_ResolverFailureFallsBack(t *testing.T) {
	f := newFixture()
	f.openHold(t, 42, &nurseID)
	f.names.err = errors.New("connection reset")

	holds, err := f.svc.ListHolds(context.Background(), HoldOpen)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, UnknownPatient, holds[0].PatientName)
	assert.Equal(t, SystemActor, holds[0].OpenedByName)
}

func TestService_ListHolds_CappedAndFiltered(t *testing.T) {
	f := newFixture()
	for i := 0; i < MaxListedHolds+5; i++ {
		f.openHold(t, int64(i+1), nil)
	}
	closed := f.openHold(t, 500, nil)
	_, err := f.svc.CloseHold(context.Background(), closed.ID, nil, "")
	require.NoError(t, err)

	holds, err := f.svc.ListHolds(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, holds, MaxListedHolds)

	holds, err = f.svc.ListHolds(context.Background(), HoldClosed)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, int64(500), holds[0].PatientID)

	_, err = f.svc.ListHolds(context.Background(), "pending")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_ListHolds_EmptyIsNotNil(t *testing.T) {
	holds, err := newTestService().ListHolds(context.Background(), "all")
	require.NoError(t, err)
	assert.NotNil(t, holds)
	assert.Empty(t, holds)
}

func TestService_OpenHoldForScreen_Idempotent(t *testing.T) {
	f := newFixture()
	screenID := uuid.New()

	require.NoError(t, f.svc.OpenHoldForScreen(context.Background(), 42, screenID, &nurseID))
	require.NoError(t, f.svc.OpenHoldForScreen(context.Background(), 42, uuid.New(), &nurseID))

	require.Len(t, f.holds.holds, 1)
	for _, h := range f.holds.holds {
		assert.Equal(t, ReasonPositiveUDS, h.ReasonCode)
		assert.True(t, h.RequiresCounselor)
		require.NotNil(t, h.Notes)
		assert.Contains(t, *h.Notes, screenID.String())
	}

	open, err := f.svc.HasOpenHold(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, open)
}

// racingHoldRepo lets another screen open its hold between the HasOpen
// check and the insert.
type racingHoldRepo struct {
	*mockHoldRepo
	competitor func()
}

func (r *racingHoldRepo) HasOpen(ctx context.Context, patientID int64, reasonCode string) (bool, error) {
	open, err := r.mockHoldRepo.HasOpen(ctx, patientID, reasonCode)
	if r.competitor != nil {
		r.competitor()
		r.competitor = nil
	}
	return open, err
}

func TestService_OpenHoldForScreen_ConcurrentScreenIsNoOp(t *testing.T) {
	holds := newMockHoldRepo()
	audit := &mockRecorder{}
	pub := &recordingPublisher{}
	racing := &racingHoldRepo{mockHoldRepo: holds}
	svc := NewService(racing, newMockOverrideRepo(), &stubNames{}, passTx{}, audit, zerolog.Nop())
	svc.SetEventPublisher(pub)

	racing.competitor = func() {
		require.NoError(t, holds.Create(context.Background(), &Hold{PatientID: 42, ReasonCode: ReasonPositiveUDS, Status: HoldOpen}))
	}

	require.NoError(t, svc.OpenHoldForScreen(context.Background(), 42, uuid.New(), &nurseID))
	assert.Len(t, holds.holds, 1)
	assert.Empty(t, audit.records)
	assert.Empty(t, pub.events)

	err := svc.OpenHold(context.Background(), &Hold{PatientID: 42, ReasonCode: ReasonPositiveUDS})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestService_CloseHold(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)

	closed, err := f.svc.CloseHold(context.Background(), h.ID, &nurseID, "counseling completed")
	require.NoError(t, err)
	assert.Equal(t, HoldClosed, closed.Status)
	require.NotNil(t, closed.Notes)
	assert.Equal(t, "counseling completed", *closed.Notes)

	_, err = f.svc.CloseHold(context.Background(), h.ID, &nurseID, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.CloseHold(context.Background(), uuid.New(), &nurseID, "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// -- Overrides --

func TestService_Override(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)
	f.audit.records = nil

	ov, err := f.svc.Override(context.Background(), OverrideRequest{
		HoldID:       h.ID,
		Reason:       validReason,
		OverriddenBy: &nurseID,
	})
	require.NoError(t, err)

	assert.Equal(t, OverrideClinical, ov.OverrideType)
	assert.True(t, ov.RequiresMDReview)
	assert.Equal(t, fixedNow, ov.OverrideTime)
	assert.Equal(t, fixedNow.Add(24*time.Hour), ov.ReviewBy)
	assert.Equal(t, HoldOverridden, f.holds.holds[h.ID].Status)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, hipaa.ActionOverride, f.audit.records[0].Action)
	assert.Equal(t, h.ID.String(), f.audit.records[0].EntityID)
}

func TestService_Override_ReasonTooShort(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)

	_, err := f.svc.Override(context.Background(), OverrideRequest{
		HoldID: h.ID,
		Reason: "   too short reason   ",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, HoldOpen, f.holds.holds[h.ID].Status)
	assert.Empty(t, f.overrides.overrides)
}

func TestService_Override_ExactlyMinimumLength(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)

	_, err := f.svc.Override(context.Background(), OverrideRequest{
		HoldID: h.ID,
		Reason: strings.Repeat("é", MinOverrideReasonLength),
	})
	require.NoError(t, err)
}

func TestService_Override_InvalidType(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)

	_, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason, Type: "whim"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_Override_NotOpen(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)

	_, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	require.NoError(t, err)

	_, err = f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, f.overrides.overrides, 1)
}

func TestService_Override_HoldNotFound(t *testing.T) {
	_, err := newTestService().Override(context.Background(), OverrideRequest{HoldID: uuid.New(), Reason: validReason})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestService_Override_NotifiesMedicalDirector(t *testing.T) {
	f := newFixture()
	sms := &notification.MockSMSSender{}
	f.svc.SetNotifier(notification.NewNotifier(sms, notification.NewTemplateEngine(), zerolog.Nop(), nil), "+15550100")
	h := f.openHold(t, 42, nil)

	_, err := f.svc.Override(context.Background(), OverrideRequest{
		HoldID:       h.ID,
		Reason:       validReason,
		Type:         OverrideEmergency,
		OverriddenBy: &nurseID,
	})
	require.NoError(t, err)

	calls := sms.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+15550100", calls[0].To)
	assert.Contains(t, calls[0].Body, "Jordan Doe")
	assert.Contains(t, calls[0].Body, overrider)
	assert.Contains(t, calls[0].Body, OverrideEmergency)
}

func TestService_Override_NotificationFailureKeepsOverride(t *testing.T) {
	f := newFixture()
	sms := &notification.MockSMSSender{ShouldFail: true, FailError: "carrier unavailable"}
	f.svc.SetNotifier(notification.NewNotifier(sms, notification.NewTemplateEngine(), zerolog.Nop(), nil), "+15550100")
	h := f.openHold(t, 42, nil)

	ov, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	require.NoError(t, err)
	assert.NotNil(t, ov)
	assert.Equal(t, HoldOverridden, f.holds.holds[h.ID].Status)
}

func TestService_ListOverrides(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)
	_, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	require.NoError(t, err)

	items, err := f.svc.ListOverrides(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.svc.ListOverrides(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestService_ReviewOverride(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)
	ov, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	require.NoError(t, err)

	mdID := uuid.New()
	reviewed, err := f.svc.ReviewOverride(context.Background(), ov.ID, &mdID, "agree with exception")
	require.NoError(t, err)
	require.NotNil(t, reviewed.ReviewedAt)
	assert.Equal(t, &mdID, reviewed.ReviewedBy)

	_, err = f.svc.ReviewOverride(context.Background(), ov.ID, &mdID, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

type recordingPublisher struct {
	events []websocket.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e websocket.Event) {
	r.events = append(r.events, e)
}

func (r *recordingPublisher) types() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestService_PublishesHoldLifecycle(t *testing.T) {
	f := newFixture()
	pub := &recordingPublisher{}
	f.svc.SetEventPublisher(pub)

	h := f.openHold(t, 42, &nurseID)
	ov, err := f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason, OverriddenBy: &nurseID})
	require.NoError(t, err)
	_, err = f.svc.ReviewOverride(context.Background(), ov.ID, nil, "")
	require.NoError(t, err)
	_, err = f.svc.CloseHold(context.Background(), h.ID, &nurseID, "cleared by counselor")
	require.NoError(t, err)

	assert.Equal(t, []string{
		websocket.EventHoldOpened,
		websocket.EventHoldOverridden,
		websocket.EventOverrideReviewed,
		websocket.EventHoldClosed,
	}, pub.types())

	opened := pub.events[0]
	assert.Equal(t, h.ID.String(), opened.EntityID)
	assert.Equal(t, int64(42), opened.PatientID)
	assert.Equal(t, fixedNow, opened.At)
	assert.Equal(t, ov.ID.String(), pub.events[2].EntityID)
}

func TestService_RejectedOverridePublishesNothing(t *testing.T) {
	f := newFixture()
	h := f.openHold(t, 42, nil)
	_, err := f.svc.CloseHold(context.Background(), h.ID, nil, "")
	require.NoError(t, err)

	pub := &recordingPublisher{}
	f.svc.SetEventPublisher(pub)
	_, err = f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: validReason})
	require.Error(t, err)
	_, err = f.svc.Override(context.Background(), OverrideRequest{HoldID: h.ID, Reason: "too short"})
	require.Error(t, err)
	assert.Empty(t, pub.events)
}
