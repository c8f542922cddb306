package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SnapshotRepository interface {
	// Create inserts the snapshot and its lines.
	Create(ctx context.Context, s *Snapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error)
}

// StockLookup reads the formulary and bottle stock that a count is checked
// against. Unknown ids are absent from the results.
type StockLookup interface {
	Medications(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medication, error)
	// OnHand sums current_volume_ml of every non-retired bottle.
	OnHand(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}
