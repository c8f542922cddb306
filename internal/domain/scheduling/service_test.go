package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/notification"
)

// -- Mock Repositories --

type mockApptRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = a
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) Update(_ context.Context, a *Appointment) error {
	if _, ok := m.appts[a.ID]; !ok {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.appts[id]; !ok {
		return apperr.NotFound("appointment %s not found", id)
	}
	delete(m.appts, id)
	return nil
}

func (m *mockApptRepo) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	m.appts[id].ReminderSentAt = &at
	return nil
}

func (m *mockApptRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if st := params["status"]; st != "" && a.Status != st {
			continue
		}
		result = append(result, a)
	}
	return result, len(result), nil
}

func (m *mockApptRepo) DueForReminder(_ context.Context, from, to time.Time) ([]*Appointment, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.Status == StatusScheduled && a.ReminderSentAt == nil && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

type stubContacts map[int64][2]string

func (s stubContacts) ContactInfo(_ context.Context, patientID int64) (string, string, error) {
	c, ok := s[patientID]
	if !ok {
		return "", "", apperr.NotFound("patient %d not found", patientID)
	}
	return c[0], c[1], nil
}

var fixedNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	appts *mockApptRepo
	sms   *notification.MockSMSSender
}

func newFixture() *fixture {
	f := &fixture{appts: newMockApptRepo(), sms: &notification.MockSMSSender{}}
	contacts := stubContacts{
		42: {"Jordan Doe", "+15550142"},
		43: {"Sam Roe", ""},
	}
	notifier := notification.NewNotifier(f.sms, notification.NewTemplateEngine(), zerolog.Nop(), nil)
	f.svc = NewService(f.appts, contacts, notifier, zerolog.Nop())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

func (f *fixture) book(t *testing.T, patientID int64, start time.Time) *Appointment {
	t.Helper()
	a := &Appointment{PatientID: patientID, StartTime: start, EndTime: start.Add(15 * time.Minute)}
	require.NoError(t, f.svc.CreateAppointment(context.Background(), a))
	return a
}

func TestService_CreateAppointment_Defaults(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, DefaultType, a.AppointmentType)
	assert.NotEqual(t, uuid.Nil, a.ID)
}

func TestService_CreateAppointment_Validation(t *testing.T) {
	svc := newTestService()
	start := fixedNow.Add(time.Hour)

	cases := map[string]*Appointment{
		"missing patient": {StartTime: start, EndTime: start.Add(time.Hour)},
		"missing start":   {PatientID: 42, EndTime: start},
		"missing end":     {PatientID: 42, StartTime: start},
		"end before":      {PatientID: 42, StartTime: start, EndTime: start.Add(-time.Minute)},
		"end equal":       {PatientID: 42, StartTime: start, EndTime: start},
		"not scheduled":   {PatientID: 42, StartTime: start, EndTime: start.Add(time.Hour), Status: StatusCompleted},
	}
	for name, a := range cases {
		err := svc.CreateAppointment(context.Background(), a)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
	}
}

func TestService_UpdateStatus(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	got, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusCheckedIn)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, got.Status)

	_, err = f.svc.UpdateStatus(context.Background(), a.ID, StatusNoShow)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(context.Background(), a.ID, "arrived")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(context.Background(), uuid.New(), StatusCancelled)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestService_UpdateAppointment_FinalIsFrozen(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, fixedNow.Add(time.Hour))
	_, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusCancelled)
	require.NoError(t, err)

	upd, _ := f.svc.GetAppointment(context.Background(), a.ID)
	upd.StartTime = upd.StartTime.Add(time.Hour)
	upd.EndTime = upd.EndTime.Add(time.Hour)
	err = f.svc.UpdateAppointment(context.Background(), upd)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestService_UpdateAppointment_Reschedule(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	upd, _ := f.svc.GetAppointment(context.Background(), a.ID)
	upd.PatientID = 99
	upd.StartTime = fixedNow.Add(48 * time.Hour)
	upd.EndTime = upd.StartTime.Add(30 * time.Minute)
	require.NoError(t, f.svc.UpdateAppointment(context.Background(), upd))

	stored := f.appts.appts[a.ID]
	assert.Equal(t, int64(42), stored.PatientID, "patient cannot be reassigned")
	assert.Equal(t, fixedNow.Add(48*time.Hour), stored.StartTime)
}

func TestService_SendReminder(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, time.Date(2024, 3, 16, 14, 30, 0, 0, time.UTC))

	n, err := f.svc.SendReminder(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550142", n.Recipient)

	calls := f.sms.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, "Jordan Doe")
	assert.Contains(t, calls[0].Body, "Sat Mar 16")
	assert.Contains(t, calls[0].Body, "2:30 PM")
	require.NotNil(t, f.appts.appts[a.ID].ReminderSentAt)
	assert.Equal(t, fixedNow, *f.appts.appts[a.ID].ReminderSentAt)
}

func TestService_SendReminder_ClinicTimezone(t *testing.T) {
	f := newFixture()
	loc := time.FixedZone("EST", -5*60*60)
	f.svc.SetLocation(loc)
	a := f.book(t, 42, time.Date(2024, 3, 16, 14, 30, 0, 0, time.UTC))

	_, err := f.svc.SendReminder(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Contains(t, f.sms.Calls()[0].Body, "9:30 AM")
}

func TestService_SendReminder_NoPhone(t *testing.T) {
	f := newFixture()
	a := f.book(t, 43, fixedNow.Add(time.Hour))

	_, err := f.svc.SendReminder(context.Background(), a.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, f.sms.Calls())
}

func TestService_SendReminder_NotScheduled(t *testing.T) {
	f := newFixture()
	a := f.book(t, 42, fixedNow.Add(time.Hour))
	_, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.SendReminder(context.Background(), a.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestService_SendReminder_SenderFailure(t *testing.T) {
	f := newFixture()
	f.sms.ShouldFail = true
	f.sms.FailError = "carrier unavailable"
	a := f.book(t, 42, fixedNow.Add(time.Hour))

	_, err := f.svc.SendReminder(context.Background(), a.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Nil(t, f.appts.appts[a.ID].ReminderSentAt)
}

func TestService_SendDueReminders(t *testing.T) {
	f := newFixture()
	f.book(t, 42, fixedNow.Add(2*time.Hour))
	f.book(t, 43, fixedNow.Add(3*time.Hour))
	f.book(t, 42, fixedNow.Add(30*time.Hour))

	sent, failed, err := f.svc.SendDueReminders(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)

	sent, _, err = f.svc.SendDueReminders(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, sent, "already reminded")

	_, _, err = f.svc.SendDueReminders(context.Background(), 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_SearchAppointments_Validation(t *testing.T) {
	svc := newTestService()

	_, _, err := svc.SearchAppointments(context.Background(), map[string]string{"status": "booked"}, 20, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, _, err = svc.SearchAppointments(context.Background(), map[string]string{"from": "yesterday"}, 20, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
