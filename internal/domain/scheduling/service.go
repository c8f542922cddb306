package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/notification"
)

// ContactLookup returns a patient's display name and phone number.
type ContactLookup interface {
	ContactInfo(ctx context.Context, patientID int64) (name, phone string, err error)
}

// Notifier delivers a templated SMS.
type Notifier interface {
	Send(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	appointments AppointmentRepository
	contacts     ContactLookup
	notifier     Notifier
	logger       zerolog.Logger
	loc          *time.Location
	now          func() time.Time
}

func NewService(appts AppointmentRepository, contacts ContactLookup, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		appointments: appts,
		contacts:     contacts,
		notifier:     notifier,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		loc:          time.UTC,
		now:          time.Now,
	}
}

// SetLocation sets the clinic time zone used in reminder text.
func (s *Service) SetLocation(loc *time.Location) {
	s.loc = loc
}

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusCheckedIn: true, StatusCompleted: true,
	StatusCancelled: true, StatusNoShow: true,
}

func validateTimes(a *Appointment) error {
	if a.StartTime.IsZero() {
		return apperr.Validation("start_time is required")
	}
	if a.EndTime.IsZero() {
		return apperr.Validation("end_time is required")
	}
	if !a.EndTime.After(a.StartTime) {
		return apperr.Validation("end_time must be after start_time")
	}
	return nil
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID <= 0 {
		return apperr.Validation("patient_id is required")
	}
	if err := validateTimes(a); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.Status != StatusScheduled {
		return apperr.Validation("new appointments must be scheduled, got %s", a.Status)
	}
	if a.AppointmentType = strings.TrimSpace(a.AppointmentType); a.AppointmentType == "" {
		a.AppointmentType = DefaultType
	}
	a.ReminderSentAt = nil
	return s.appointments.Create(ctx, a)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// UpdateAppointment saves changes to an appointment that is not final. A
// status change must follow the allowed transitions.
func (s *Service) UpdateAppointment(ctx context.Context, a *Appointment) error {
	existing, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if IsFinal(existing.Status) {
		return apperr.Conflict("appointment is %s and can no longer change", existing.Status)
	}
	if err := validateTimes(a); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = existing.Status
	}
	if !validStatuses[a.Status] {
		return apperr.Validation("invalid status: %s", a.Status)
	}
	if a.Status != existing.Status && !CanTransition(existing.Status, a.Status) {
		return apperr.Conflict("cannot move appointment from %s to %s", existing.Status, a.Status)
	}
	if a.AppointmentType = strings.TrimSpace(a.AppointmentType); a.AppointmentType == "" {
		a.AppointmentType = existing.AppointmentType
	}
	a.PatientID = existing.PatientID
	a.ReminderSentAt = existing.ReminderSentAt
	a.CreatedAt = existing.CreatedAt
	return s.appointments.Update(ctx, a)
}

// UpdateStatus moves an appointment along its workflow.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, apperr.Validation("invalid status: %s", status)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, status) {
		return nil, apperr.Conflict("cannot move appointment from %s to %s", a.Status, status)
	}
	a.Status = status
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.appointments.Delete(ctx, id)
}

func (s *Service) SearchAppointments(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if st := params["status"]; st != "" && !validStatuses[st] {
		return nil, 0, apperr.Validation("invalid status: %s", st)
	}
	for _, k := range []string{"from", "to"} {
		if v := params[k]; v != "" {
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return nil, 0, apperr.Validation("%s must be an RFC 3339 timestamp", k)
			}
		}
	}
	return s.appointments.Search(ctx, params, limit, offset)
}

// -- Reminders --

// SendReminder texts the patient about a scheduled appointment.
func (s *Service) SendReminder(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled {
		return nil, apperr.Conflict("only scheduled appointments get reminders, this one is %s", a.Status)
	}
	return s.remind(ctx, a)
}

func (s *Service) remind(ctx context.Context, a *Appointment) (*notification.Notification, error) {
	name, phone, err := s.contacts.ContactInfo(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}
	if phone = strings.TrimSpace(phone); phone == "" {
		return nil, apperr.Validation("patient %d has no phone number on file", a.PatientID)
	}

	start := a.StartTime.In(s.loc)
	n, err := s.notifier.Send(ctx, notification.TemplateAppointmentReminder, map[string]string{
		"patient_name": name,
		"date":         start.Format("Mon Jan 2"),
		"time":         start.Format("3:04 PM"),
	}, phone)
	if err != nil {
		return n, fmt.Errorf("send appointment reminder: %w", err)
	}

	at := s.now().UTC()
	if err := s.appointments.MarkReminded(ctx, a.ID, at); err != nil {
		return n, err
	}
	a.ReminderSentAt = &at
	return n, nil
}

// SendDueReminders reminds every scheduled appointment starting within the
// window that has not been reminded yet. A failed reminder is logged and
// skipped so one bad phone number does not block the rest.
func (s *Service) SendDueReminders(ctx context.Context, within time.Duration) (sent, failed int, err error) {
	if within <= 0 {
		return 0, 0, apperr.Validation("reminder window must be positive")
	}
	from := s.now()
	due, err := s.appointments.DueForReminder(ctx, from, from.Add(within))
	if err != nil {
		return 0, 0, err
	}
	for _, a := range due {
		if _, err := s.remind(ctx, a); err != nil {
			failed++
			s.logger.Warn().Err(err).
				Str("appointment_id", a.ID.String()).
				Int64("patient_id", a.PatientID).
				Msg("appointment reminder failed")
			continue
		}
		sent++
	}
	return sent, failed, nil
}
