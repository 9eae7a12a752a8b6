package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"monitordb.io/internal/obs"
)

// Service implements the authentication and authorization contract
// exposed to the API layer: login, refresh-token rotation, logout, and
// permission checks, with brute-force lockout and an audit trail on
// every access decision.
type Service struct {
	creds     CredentialStore
	sessions  SessionRegistry
	issuer    *Issuer
	guard     *Guard
	passwords *PasswordPolicy
	eval      *Evaluator
	rec       Recorder
	sigs      *sigWatch
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	rules   PasswordRules
	lockout LockoutPolicy
	rec     Recorder
}

// WithPasswordRules overrides the password strength rules.
func WithPasswordRules(rules PasswordRules) ServiceOption {
	return func(c *serviceConfig) { c.rules = rules }
}

// WithLockoutPolicy overrides the brute-force lockout policy.
func WithLockoutPolicy(policy LockoutPolicy) ServiceOption {
	return func(c *serviceConfig) { c.lockout = policy }
}

// WithRecorder attaches the audit recorder.
func WithRecorder(rec Recorder) ServiceOption {
	return func(c *serviceConfig) {
		if rec != nil {
			c.rec = rec
		}
	}
}

// NewService wires the engine together. The permission table is
// flattened and validated here; a broken role configuration fails
// construction rather than surfacing at request time.
func NewService(creds CredentialStore, sessions SessionRegistry, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	cfg := serviceConfig{
		rules:   DefaultPasswordRules(),
		lockout: DefaultLockoutPolicy(),
		rec:     NopRecorder{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Service{
		creds:     creds,
		sessions:  sessions,
		issuer:    issuer,
		guard:     NewGuard(creds, cfg.lockout, cfg.rec),
		passwords: NewPasswordPolicy(cfg.rules),
		eval:      eval,
		rec:       cfg.rec,
		sigs:      newSigWatch(defaultSigAbuseThreshold, defaultSigAbuseWindow),
	}, nil
}

// Evaluator exposes the flattened permission table for introspection.
func (s *Service) Evaluator() *Evaluator { return s.eval }

// AccessTTL returns the access token lifetime, for expires_in fields.
func (s *Service) AccessTTL() time.Duration { return s.issuer.AccessTTL() }

// Login verifies credentials under the lockout guard and issues a fresh
// token pair. Unknown usernames and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	identity, err := s.guard.Attempt(ctx, username, func(id *Identity) error {
		ok, verr := s.passwords.Verify(password, id.PasswordHash)
		if verr != nil {
			return verr
		}
		if !ok {
			return ErrInvalidCredentials
		}
		if !id.Active {
			return ErrAccountInactive
		}
		return nil
	})
	if err != nil {
		s.observeLoginFailure(username, err)
		return TokenPair{}, err
	}

	pair, err := s.mintPair(ctx, identity)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveLogin("success")
	s.rec.Record(AuditEvent{
		Username: identity.Username,
		Kind:     EventLogin,
		Outcome:  OutcomeSuccess,
	})
	return pair, nil
}

func (s *Service) observeLoginFailure(username string, err error) {
	var locked *AccountLockedError
	switch {
	case errors.As(err, &locked):
		obs.ObserveLogin("locked")
		s.rec.Record(AuditEvent{Username: username, Kind: EventLoginFailed, Outcome: OutcomeLocked})
	case errors.Is(err, ErrAccountInactive):
		obs.ObserveLogin("inactive")
		s.rec.Record(AuditEvent{Username: username, Kind: EventLoginFailed, Outcome: OutcomeDenied, Detail: "account inactive"})
	case errors.Is(err, ErrInvalidCredentials):
		obs.ObserveLogin("invalid_credentials")
		s.rec.Record(AuditEvent{Username: username, Kind: EventLoginFailed, Outcome: OutcomeDenied, Detail: "invalid credentials"})
	default:
		obs.ObserveLogin("error")
	}
}

// Refresh rotates a refresh token: the old jti is atomically revoked
// and a new pair issued. A jti that is no longer active fails with
// ErrRevokedToken and is recorded as a possible token theft.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, KindRefresh)
	if err != nil {
		obs.ObserveRefresh(refreshOutcome(err))
		if errors.Is(err, ErrInvalidSignature) {
			s.noteSignatureFailure(refreshToken)
		}
		return TokenPair{}, err
	}

	identity, err := s.creds.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("revoked")
			return TokenPair{}, ErrRevokedToken
		}
		return TokenPair{}, err
	}
	if !identity.Active {
		obs.ObserveRefresh("inactive")
		return TokenPair{}, ErrAccountInactive
	}

	accessToken, _, err := s.issuer.Issue(identity, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, newClaims, err := s.issuer.Issue(identity, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	err = s.sessions.Rotate(ctx, claims.ID, SessionEntry{
		JTI:      newClaims.ID,
		Username: identity.Username,
		IssuedAt: newClaims.IssuedAt.Time,
	})
	if err != nil {
		if errors.Is(err, ErrRevokedToken) {
			obs.ObserveRefresh("revoked")
			// Replay of a rotated or logged-out refresh token points at
			// possible token theft.
			s.rec.Record(AuditEvent{
				Username: identity.Username,
				Kind:     EventTokenReplay,
				Outcome:  OutcomeDenied,
				Detail:   "refresh token replayed: " + claims.ID,
			})
		}
		return TokenPair{}, err
	}

	obs.ObserveRefresh("success")
	s.rec.Record(AuditEvent{
		Username: identity.Username,
		Kind:     EventTokenRefresh,
		Outcome:  OutcomeSuccess,
	})
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  s.issuer.now().Add(s.issuer.AccessTTL()),
		RefreshExpiresAt: newClaims.ExpiresAt.Time,
	}, nil
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrRevokedToken):
		return "revoked"
	default:
		return "invalid"
	}
}

// noteSignatureFailure feeds one invalid-signature failure to the
// watcher. A burst against the same claimed subject is recorded as
// possible token forgery.
func (s *Service) noteSignatureFailure(token string) {
	subject := claimedSubject(token)
	n, crossed := s.sigs.note(subject)
	if !crossed {
		return
	}
	s.rec.Record(AuditEvent{
		Username: subject,
		Kind:     EventSignatureAbuse,
		Outcome:  OutcomeDenied,
		Detail:   strconv.Itoa(n) + " invalid signatures within " + s.sigs.window.String(),
	})
}

// Logout revokes the refresh token's session. Idempotent: revoking an
// already-revoked or expired session succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.issuer.Verify(refreshToken, KindRefresh)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			// The session is already inactive via lazy expiry.
			return nil
		}
		return err
	}
	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		return err
	}
	s.rec.Record(AuditEvent{
		Username: claims.Subject,
		Kind:     EventLogout,
		Outcome:  OutcomeSuccess,
	})
	return nil
}

// Authenticate verifies an access token without a permission check.
// Used by the authn layer to establish identity on the request context.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.issuer.Verify(accessToken, KindAccess)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			s.noteSignatureFailure(accessToken)
		}
		return nil, err
	}
	revoked, err := s.sessions.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// Authorize verifies an access token and checks the required
// permission against the flattened role table. Denials are recorded.
func (s *Service) Authorize(ctx context.Context, accessToken, permission string) (*Claims, error) {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !s.eval.Authorize(Role(claims.Role), permission) {
		obs.ObserveDenial(permission)
		s.rec.Record(AuditEvent{
			Username: claims.Subject,
			Kind:     EventPermissionDenied,
			Outcome:  OutcomeDenied,
			Detail:   permission,
		})
		return nil, ErrInsufficientPermission
	}
	return claims, nil
}

// RevokeAll invalidates every active session for the identity. Used for
// logout-everywhere and administrative suspension.
func (s *Service) RevokeAll(ctx context.Context, username string) error {
	return s.sessions.RevokeAll(ctx, username)
}

// CreateIdentity provisions an account with a strength-checked password
// and a validated role.
func (s *Service) CreateIdentity(ctx context.Context, username, password string, role Role) (*Identity, error) {
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		Username:     normalizeUsername(username),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.creds.Create(ctx, identity); err != nil {
		return nil, err
	}
	s.rec.Record(AuditEvent{
		Username: identity.Username,
		Kind:     EventIdentityCreated,
		Outcome:  OutcomeSuccess,
		Detail:   "role " + string(role),
	})
	return identity, nil
}

// ChangePassword verifies the current password, applies the strength
// policy to the new one, and persists the new hash.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	identity, err := s.creds.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	ok, err := s.passwords.Verify(current, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	identity.PasswordHash = hash
	if err := s.creds.Save(ctx, identity); err != nil {
		return err
	}
	s.rec.Record(AuditEvent{
		Username: identity.Username,
		Kind:     EventPasswordChanged,
		Outcome:  OutcomeSuccess,
	})
	return nil
}

// Deactivate soft-disables the identity and revokes all its sessions.
// Identities are never deleted.
func (s *Service) Deactivate(ctx context.Context, username string) error {
	identity, err := s.creds.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	identity.Active = false
	if err := s.creds.Save(ctx, identity); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, identity.Username); err != nil {
		return err
	}
	s.rec.Record(AuditEvent{
		Username: identity.Username,
		Kind:     EventIdentityDisabled,
		Outcome:  OutcomeSuccess,
	})
	return nil
}

func (s *Service) mintPair(ctx context.Context, identity *Identity) (TokenPair, error) {
	accessToken, accessClaims, err := s.issuer.Issue(identity, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshClaims, err := s.issuer.Issue(identity, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.Register(ctx, SessionEntry{
		JTI:      refreshClaims.ID,
		Username: identity.Username,
		IssuedAt: refreshClaims.IssuedAt.Time,
	}); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}
