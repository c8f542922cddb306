package dosing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BottleRepository interface {
	Create(ctx context.Context, b *Bottle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error)
	// GetActive returns the bottle currently on the pump for a medication.
	GetActive(ctx context.Context, medicationID uuid.UUID) (*Bottle, error)
	// GetActiveForUpdate is GetActive with the row locked until the
	// surrounding transaction ends.
	GetActiveForUpdate(ctx context.Context, medicationID uuid.UUID) (*Bottle, error)
	// LockPair locks both bottles in id order. Missing ids are absent from the
	// result.
	LockPair(ctx context.Context, a, b uuid.UUID) (map[uuid.UUID]*Bottle, error)
	Retire(ctx context.Context, id uuid.UUID, finalVolumeMl decimal.Decimal) error
	Activate(ctx context.Context, id uuid.UUID) error
	// Draw removes volume from an active bottle. It reports false when the
	// bottle is no longer active or holds less than volumeMl.
	Draw(ctx context.Context, id uuid.UUID, volumeMl decimal.Decimal) (bool, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Bottle, int, error)
}

type ChangeoverRepository interface {
	Create(ctx context.Context, c *Changeover) error
	ListByBottle(ctx context.Context, bottleID uuid.UUID) ([]*Changeover, error)
}

type DispensationRepository interface {
	Create(ctx context.Context, d *Dispensation) error
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Dispensation, int, error)
	// TotalSince sums the mg dispensed against an order since the given time.
	TotalSince(ctx context.Context, patientMedicationID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

// OrderLookup finds a patient's active dosing order. A nil medicationID
// selects the most recent active order.
type OrderLookup interface {
	ActiveOrder(ctx context.Context, patientID int64, medicationID *uuid.UUID) (*ActiveOrder, error)
	// ActiveOrderForUpdate is ActiveOrder with the order row locked until the
	// surrounding transaction ends. Dispenses against one order serialize on it.
	ActiveOrderForUpdate(ctx context.Context, patientID int64, medicationID *uuid.UUID) (*ActiveOrder, error)
}
