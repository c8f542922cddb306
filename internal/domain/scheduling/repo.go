package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
	// DueForReminder lists scheduled, unreminded appointments starting in
	// [from, to).
	DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error)
}
