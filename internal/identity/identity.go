// Package identity resolves the authenticated platform user behind incoming
// device traffic. Token issuance lives in an external service; this package
// only refreshes and asks "who is this".
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoIdentity means no authenticated user could be resolved right now.
// Callers treat it as a transient offline condition, not a failure.
var ErrNoIdentity = errors.New("no authenticated identity")

// Provider is the consumer-side slice of the identity service.
type Provider interface {
	// Refresh renews the session token. Failures are tolerated by callers;
	// a stale-but-valid token still resolves.
	Refresh(ctx context.Context) error
	// AuthUserID returns the platform user id of the current identity, or
	// ErrNoIdentity when unresolvable.
	AuthUserID(ctx context.Context) (uuid.UUID, error)
}
