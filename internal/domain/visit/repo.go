package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores a new visit together with its registration audit entry.
	Create(ctx context.Context, v *Visit, entry AuditEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// Update saves v only if the stored version still equals expectedVersion,
	// appending entries in the same transaction. On success v.Version is bumped.
	Update(ctx context.Context, v *Visit, expectedVersion int, entries ...AuditEntry) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error)
	// ListEscalated returns cases pending review plus any case that carries a
	// review-requested timestamp.
	ListEscalated(ctx context.Context) ([]*Visit, error)
	ListAll(ctx context.Context) ([]*Visit, error)
	AuditTrail(ctx context.Context, visitID uuid.UUID) ([]AuditEntry, error)
}
