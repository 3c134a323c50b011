package stepup

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrStoreUnavailable wraps backend connectivity failures. The engine never
// surfaces it to callers; it always resolves to a denial.
var ErrStoreUnavailable = errors.New("grant store unavailable")

// Store persists step-up grants keyed by (admin, session, scope). Both
// backends implement the identical contract; callers must not know which one
// is active.
type Store interface {
	// Save upserts the grant for its triple. Saving a grant that is already
	// expired is a no-op, not an error.
	Save(ctx context.Context, grant *Grant) error

	// Find returns the live grant for the triple, or nil when absent or
	// expired. Backend failures return an error wrapping ErrStoreUnavailable.
	Find(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error)

	// Consume returns the live grant for the triple and, when the grant is
	// single-use, atomically invalidates it so no concurrent request can
	// consume it again.
	Consume(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error)

	// Revoke deletes the grant for the triple; absent grants are not an error
	Revoke(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) error

	// RevokeSession deletes every grant bound to the session
	RevokeSession(ctx context.Context, adminID, sessionID uuid.UUID) error

	// RevokeAll deletes every grant owned by the admin
	RevokeAll(ctx context.Context, adminID uuid.UUID) error
}
