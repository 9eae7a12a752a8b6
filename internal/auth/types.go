package auth

import "time"

// Identity represents one account. Owned by the credential store;
// counter and lockout fields are mutated only through the lockout
// guard, the password hash only through the password policy. Identities
// are never deleted, only deactivated.
type Identity struct {
	ID              string
	Username        string
	PasswordHash    string
	Role            Role
	Active          bool
	CreatedAt       time.Time
	LastLogin       time.Time
	FailedAttempts  int
	LockedUntil     time.Time
	LockoutEpisodes int
}

// Locked reports whether the identity is under an active lockout at now.
func (id *Identity) Locked(now time.Time) bool {
	return !id.LockedUntil.IsZero() && now.Before(id.LockedUntil)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionEntry maps a refresh-token jti to its owner. Created on
// issuance, marked revoked on logout, rotation, or admin revocation.
type SessionEntry struct {
	JTI      string
	Username string
	IssuedAt time.Time
	Revoked  bool
}

// Audit event kinds recorded by this subsystem.
const (
	EventLogin            = "auth.login"
	EventLoginFailed      = "auth.login_failed"
	EventLockout          = "auth.lockout"
	EventLogout           = "auth.logout"
	EventTokenRefresh     = "auth.token_refresh"
	EventTokenReplay      = "auth.token_replay"
	EventSignatureAbuse   = "auth.signature_abuse"
	EventPermissionDenied = "auth.permission_denied"
	EventPasswordChanged  = "auth.password_changed"
	EventIdentityCreated  = "auth.identity_created"
	EventIdentityDisabled = "auth.identity_disabled"
)

// Audit event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeLocked  = "locked"
)

// AuditEvent is an immutable security-relevant record. Username is empty
// for unauthenticated failures.
type AuditEvent struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Username string    `json:"username,omitempty"`
	Kind     string    `json:"kind"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
}

// Recorder appends audit events. Record must not block the caller and
// must never surface delivery failures to it.
type Recorder interface {
	Record(event AuditEvent)
}

// NopRecorder discards events. Used when no recorder is configured.
type NopRecorder struct{}

func (NopRecorder) Record(AuditEvent) {}
