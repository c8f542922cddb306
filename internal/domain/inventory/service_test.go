package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
)

// -- Mock Repositories --

type mockSnapshotRepo struct {
	snapshots map[uuid.UUID]*Snapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{snapshots: make(map[uuid.UUID]*Snapshot)}
}

func (m *mockSnapshotRepo) Create(_ context.Context, s *Snapshot) error {
	s.ID = uuid.New()
	s.TakenAt = time.Now()
	for _, l := range s.Lines {
		l.ID = uuid.New()
		l.SnapshotID = s.ID
	}
	s.LineCount = len(s.Lines)
	m.snapshots[s.ID] = s
	return nil
}

func (m *mockSnapshotRepo) GetByID(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	s, ok := m.snapshots[id]
	if !ok {
		return nil, apperr.NotFound("inventory snapshot %s not found", id)
	}
	return s, nil
}

func (m *mockSnapshotRepo) List(_ context.Context, _, _ int) ([]*Snapshot, int, error) {
	var result []*Snapshot
	for _, s := range m.snapshots {
		result = append(result, s)
	}
	return result, len(result), nil
}

type stubStock struct {
	meds   map[uuid.UUID]*Medication
	onHand map[uuid.UUID]decimal.Decimal
}

func (s *stubStock) Medications(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medication, error) {
	out := make(map[uuid.UUID]*Medication)
	for _, id := range ids {
		if m, ok := s.meds[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *stubStock) OnHand(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, id := range ids {
		if q, ok := s.onHand[id]; ok {
			out[id] = q
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
	methadoneID = uuid.MustParse("3f0e8a8e-8a86-4c61-9f6e-8f1f5a9c0001")
	diazepamID  = uuid.MustParse("3f0e8a8e-8a86-4c61-9f6e-8f1f5a9c0004")
	naloxoneID  = uuid.MustParse("3f0e8a8e-8a86-4c61-9f6e-8f1f5a9c0005")
)

func strPtr(s string) *string { return &s }

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixture struct {
	svc       *Service
	snapshots *mockSnapshotRepo
	audit     *mockRecorder
}

func newFixture() *fixture {
	f := &fixture{snapshots: newMockSnapshotRepo(), audit: &mockRecorder{}}
	stock := &stubStock{
		meds: map[uuid.UUID]*Medication{
			methadoneID: {ID: methadoneID, Name: "Methadone HCl", Schedule: strPtr(ScheduleII)},
			diazepamID:  {ID: diazepamID, Name: "Diazepam", Schedule: strPtr("IV")},
			naloxoneID:  {ID: naloxoneID, Name: "Naloxone"},
		},
		onHand: map[uuid.UUID]decimal.Decimal{
			methadoneID: qty("1512.5"),
		},
	}
	f.svc = NewService(f.snapshots, stock, passTx{}, f.audit)
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

func TestService_CreateSnapshot(t *testing.T) {
	f := newFixture()
	by := uuid.New()
	expected := qty("40")

	snap, err := f.svc.CreateSnapshot(context.Background(), SnapshotRequest{
		Notes:   " end of day ",
		TakenBy: &by,
		Lines: []LineInput{
			{MedicationID: methadoneID, CountingMethod: CountExact, CountedQty: qty("1510")},
			{MedicationID: diazepamID, CountingMethod: CountEstimated, CountedQty: qty("40"), ExpectedQty: &expected},
		},
	})
	require.NoError(t, err)
	require.Len(t, snap.Lines, 2)
	require.NotNil(t, snap.Notes)
	assert.Equal(t, "end of day", *snap.Notes)

	assert.True(t, qty("1512.5").Equal(snap.Lines[0].ExpectedQty))
	assert.True(t, qty("-2.5").Equal(snap.Lines[0].Variance))
	assert.Equal(t, ScheduleII, *snap.Lines[0].Schedule)
	assert.True(t, snap.Lines[1].Variance.IsZero())

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, hipaa.ActionSnapshot, f.audit.records[0].Action)
	assert.Equal(t, []string{methadoneID.String()}, f.audit.records[0].Detail["discrepancies"])
}

func TestService_CreateSnapshot_ScheduleIIRequiresExact(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateSnapshot(context.Background(), SnapshotRequest{
		Lines: []LineInput{
			{MedicationID: diazepamID, CountingMethod: CountEstimated, CountedQty: qty("40")},
			{MedicationID: methadoneID, CountingMethod: CountEstimated, CountedQty: qty("1500")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, body := apperr.Render(err)
	assert.Equal(t, "EXACT_COUNT_REQUIRED", body["code"])
	assert.Equal(t, []string{methadoneID.String()}, body["medication_ids"])
	assert.Empty(t, f.snapshots.snapshots)
	assert.Empty(t, f.audit.records)
}

func TestService_CreateSnapshot_UnscheduledMayEstimate(t *testing.T) {
	svc := newTestService()

	snap, err := svc.CreateSnapshot(context.Background(), SnapshotRequest{
		Lines: []LineInput{{MedicationID: naloxoneID, CountingMethod: CountEstimated, CountedQty: qty("12")}},
	})
	require.NoError(t, err)
	assert.Nil(t, snap.Lines[0].Schedule)
	assert.True(t, qty("12").Equal(snap.Lines[0].Variance), "no stock on hand means the full count is variance")
}

func TestService_CreateSnapshot_Validation(t *testing.T) {
	svc := newTestService()
	negative := qty("-1")

	cases := map[string][]LineInput{
		"no lines":          nil,
		"missing med":       {{CountingMethod: CountExact, CountedQty: qty("1")}},
		"bad method":        {{MedicationID: methadoneID, CountingMethod: "guess", CountedQty: qty("1")}},
		"negative count":    {{MedicationID: methadoneID, CountingMethod: CountExact, CountedQty: qty("-1")}},
		"negative expected": {{MedicationID: methadoneID, CountingMethod: CountExact, CountedQty: qty("1"), ExpectedQty: &negative}},
		"duplicate": {
			{MedicationID: methadoneID, CountingMethod: CountExact, CountedQty: qty("1")},
			{MedicationID: methadoneID, CountingMethod: CountExact, CountedQty: qty("1")},
		},
		"unknown med": {{MedicationID: uuid.New(), CountingMethod: CountExact, CountedQty: qty("1")}},
	}
	for name, lines := range cases {
		_, err := svc.CreateSnapshot(context.Background(), SnapshotRequest{Lines: lines})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
	}
}

func TestService_GetSnapshot_NotFound(t *testing.T) {
	_, err := newTestService().GetSnapshot(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
