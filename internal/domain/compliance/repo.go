package compliance

import (
	"context"

	"github.com/google/uuid"
)

type HoldRepository interface {
	Create(ctx context.Context, h *Hold) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hold, error)
	// GetForUpdate locks the hold row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Hold, error)
	// List returns up to limit holds, newest first. An empty status lists all.
	List(ctx context.Context, status string, limit int) ([]*Hold, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	Close(ctx context.Context, h *Hold) error
	HasOpen(ctx context.Context, patientID int64, reasonCode string) (bool, error)
}

type OverrideRepository interface {
	Create(ctx context.Context, o *Override) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Override, error)
	ListByHold(ctx context.Context, holdID uuid.UUID) ([]*Override, error)
	MarkReviewed(ctx context.Context, o *Override) error
}

// NameResolver maps ids to display names. Ids without a name are omitted
// from the result.
type NameResolver interface {
	PatientNames(ctx context.Context, ids []int64) (map[int64]string, error)
	StaffNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}
