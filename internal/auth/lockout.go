package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"monitordb.io/internal/obs"
)

// LockoutPolicy configures the brute-force guard. Factor 1 keeps the
// lockout duration fixed; Factor > 1 escalates it per lockout episode
// up to Max.
type LockoutPolicy struct {
	Threshold int
	Base      time.Duration
	Factor    float64
	Max       time.Duration
}

// DefaultLockoutPolicy locks an account for thirty minutes after five
// consecutive failures, without escalation.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Base: 30 * time.Minute, Factor: 1, Max: 24 * time.Hour}
}

func (p LockoutPolicy) normalize() LockoutPolicy {
	def := DefaultLockoutPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	return p
}

// duration returns the lockout length for the given episode (1-based).
func (p LockoutPolicy) duration(episode int) time.Duration {
	d := p.Base
	for i := 1; i < episode; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Guard tracks consecutive failed login attempts per identity and
// enforces temporary lockout. It is the single authority through which
// the credential store's counter and lockout fields are mutated, and it
// serializes attempts per identity so concurrent failures never lose
// counter increments.
type Guard struct {
	store  CredentialStore
	policy LockoutPolicy
	locks  *kmutex
	rec    Recorder
	now    func() time.Time
}

// NewGuard builds a Guard over the credential store. A nil recorder
// disables lockout audit events.
func NewGuard(store CredentialStore, policy LockoutPolicy, rec Recorder) *Guard {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Guard{
		store:  store,
		policy: policy.normalize(),
		locks:  newKmutex(),
		rec:    rec,
		now:    time.Now,
	}
}

// Threshold returns the configured consecutive-failure threshold.
func (g *Guard) Threshold() int { return g.policy.Threshold }

// Attempt runs one serialized authentication attempt for username.
// verify receives the stored identity and returns nil on success,
// ErrInvalidCredentials on a password mismatch, or any other error to
// abort without touching the counters.
//
// A locked account rejects the attempt outright with
// *AccountLockedError until the lockout expires; the first attempt
// after expiry transitions back to unlocked and proceeds fresh. Any
// successful verification resets the counter to zero.
func (g *Guard) Attempt(ctx context.Context, username string, verify func(*Identity) error) (*Identity, error) {
	g.locks.Lock(username)
	defer g.locks.Unlock(username)

	identity, err := g.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Uniform failure: unknown username reads the same as a
			// wrong password.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := g.now()
	if identity.Locked(now) {
		return nil, &AccountLockedError{RetryAfter: identity.LockedUntil.Sub(now)}
	}
	if !identity.LockedUntil.IsZero() {
		// Lockout expired: implicit Locked -> Unlocked transition.
		identity.LockedUntil = time.Time{}
		identity.FailedAttempts = 0
	}

	verr := verify(identity)
	switch {
	case verr == nil:
		identity.FailedAttempts = 0
		identity.LockedUntil = time.Time{}
		identity.LockoutEpisodes = 0
		identity.LastLogin = now
		if err := g.store.Save(ctx, identity); err != nil {
			return nil, err
		}
		return identity, nil

	case errors.Is(verr, ErrInvalidCredentials):
		identity.FailedAttempts++
		if identity.FailedAttempts >= g.policy.Threshold {
			identity.LockoutEpisodes++
			d := g.policy.duration(identity.LockoutEpisodes)
			identity.LockedUntil = now.Add(d)
			identity.FailedAttempts = 0
			obs.ObserveLockout()
			g.rec.Record(AuditEvent{
				Username: identity.Username,
				Kind:     EventLockout,
				Outcome:  OutcomeLocked,
				Detail:   fmt.Sprintf("locked for %s after %d failed attempts", d, g.policy.Threshold),
			})
		}
		if err := g.store.Save(ctx, identity); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials

	default:
		return nil, verr
	}
}
