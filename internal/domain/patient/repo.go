package patient

import (
	"context"
	"time"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	UpdateRiskLevel(ctx context.Context, id int64, riskLevel string) error
	SetDispensingName(ctx context.Context, id int64, name string) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}

type DrugScreenRepository interface {
	Create(ctx context.Context, ds *DrugScreen) error
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*DrugScreen, int, error)
	HasPositiveSince(ctx context.Context, patientID int64, since time.Time) (bool, error)
}
