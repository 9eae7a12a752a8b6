package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned for unknown usernames and wrong
	// passwords alike. Callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountInactive indicates a soft-deactivated identity.
	ErrAccountInactive = errors.New("auth: account inactive")

	// ErrExpiredToken indicates the token's exp claim is in the past.
	ErrExpiredToken = errors.New("auth: token expired")

	// ErrInvalidSignature indicates the signature does not match the
	// process signing key.
	ErrInvalidSignature = errors.New("auth: invalid token signature")

	// ErrMalformedToken indicates the token is structurally invalid.
	ErrMalformedToken = errors.New("auth: malformed token")

	// ErrWrongTokenKind indicates an access token was presented where a
	// refresh token is required, or vice versa.
	ErrWrongTokenKind = errors.New("auth: unexpected token kind")

	// ErrRevokedToken indicates the refresh token's jti is no longer
	// active: already rotated, logged out, or never registered.
	ErrRevokedToken = errors.New("auth: token revoked")

	// ErrInsufficientPermission indicates the role does not grant the
	// required permission.
	ErrInsufficientPermission = errors.New("auth: insufficient permission")

	// ErrCorruptHash indicates a stored password hash that cannot be
	// parsed. Distinct from a plain mismatch, which is not an error.
	ErrCorruptHash = errors.New("auth: corrupt password hash")

	// ErrStoreUnavailable indicates the credential or session store
	// timed out or is unreachable. Transient; callers may retry.
	ErrStoreUnavailable = errors.New("auth: store unavailable")

	// ErrUnknownRole indicates a role missing from the startup
	// permission table. Fatal at construction, never at request time.
	ErrUnknownRole = errors.New("auth: unknown role")

	// ErrAlreadyExists indicates a username collision on provisioning.
	ErrAlreadyExists = errors.New("auth: already exists")

	// ErrNotFound indicates a missing identity or session record.
	ErrNotFound = errors.New("auth: not found")
)

// AccountLockedError reports a temporarily locked account and how long
// the caller has to wait before the next attempt can succeed.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("auth: account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// WeakPasswordError lists the strength rules the candidate password failed.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return "auth: weak password: " + strings.Join(e.Violations, "; ")
}
