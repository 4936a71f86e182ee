package ports

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// ErrInvocationNotFound is returned by GetInvocation for unknown IDs.
var ErrInvocationNotFound = errors.New("invocation not found")

// InvocationStore persists invocation records.
// Implementations: SQLite (default), in-memory.
type InvocationStore interface {
	// SaveInvocation stores the terminal record of one invocation.
	SaveInvocation(ctx context.Context, rec *domain.InvocationRecord) error

	// GetInvocation retrieves a record by ID.
	GetInvocation(ctx context.Context, id string) (*domain.InvocationRecord, error)

	// ListInvocations lists records, newest first.
	ListInvocations(ctx context.Context, opts InvocationListOptions) ([]*domain.InvocationRecord, error)

	// Close closes the storage connection
	Close() error
}

// InvocationListOptions filters ListInvocations.
type InvocationListOptions struct {
	Mount  string
	Mode   domain.Mode
	Status domain.InvocationStatus
	Since  time.Time
	Limit  int
	Offset int
}
