package auth

import "context"

// CredentialStore owns identity records. Implementations map transient
// backend failures (timeouts, lost connections) to ErrStoreUnavailable
// so callers can tell them apart from credential errors.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	Save(ctx context.Context, identity *Identity) error
}

// SessionRegistry tracks refresh-token jtis. An entry is active when it
// exists, is not revoked, and its issued-at plus the refresh TTL has not
// passed; expired entries are treated as inactive before any physical
// removal.
type SessionRegistry interface {
	// Register inserts a new active entry for the jti.
	Register(ctx context.Context, entry SessionEntry) error

	// Revoke marks the jti revoked. Idempotent: revoking an unknown or
	// already-revoked jti is not an error.
	Revoke(ctx context.Context, jti string) error

	// RevokeAll revokes every active entry for the identity. Atomic
	// with respect to concurrent Rotate calls for the same identity.
	RevokeAll(ctx context.Context, username string) error

	// IsActive reports whether the jti is registered, unrevoked, and
	// within the refresh TTL.
	IsActive(ctx context.Context, jti string) (bool, error)

	// Revoked reports whether the jti was explicitly revoked. Unknown
	// jtis are not revoked.
	Revoked(ctx context.Context, jti string) (bool, error)

	// Rotate atomically checks that oldJTI is active, revokes it, and
	// registers next. Returns ErrRevokedToken when oldJTI is not
	// active; exactly one of two racing rotations of the same jti
	// succeeds.
	Rotate(ctx context.Context, oldJTI string, next SessionEntry) error

	// PruneExpired removes entries past the refresh TTL and returns
	// how many were dropped.
	PruneExpired(ctx context.Context) (int, error)
}
