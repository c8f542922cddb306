package takehome

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// UpdateStatus changes the status of an active order. It returns false
	// when the order was no longer active.
	UpdateStatus(ctx context.Context, o *Order) (bool, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error)
}

type KitRepository interface {
	Create(ctx context.Context, k *Kit) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Kit, error)
}
