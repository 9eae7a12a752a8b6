package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"monitordb.io/internal/ids"
)

// MemoryCredentialStore keeps identities in process memory. Suitable
// for development and tests; production deployments use the Postgres
// store.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	users map[string]*Identity
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{users: make(map[string]*Identity)}
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

func (s *MemoryCredentialStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.users[normalizeUsername(username)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *id
	return &out, nil
}

func (s *MemoryCredentialStore) Create(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeUsername(identity.Username)
	if _, ok := s.users[key]; ok {
		return ErrAlreadyExists
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	cp := *identity
	s.users[key] = &cp
	return nil
}

func (s *MemoryCredentialStore) Save(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeUsername(identity.Username)
	if _, ok := s.users[key]; !ok {
		return ErrNotFound
	}
	cp := *identity
	s.users[key] = &cp
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// MemorySessionRegistry tracks refresh-token jtis in process memory.
// Structural map access sits behind a short RWMutex; the logical
// lifecycle operations additionally serialize per identity through a
// keyed mutex, so rotation and revoke-all for one identity order
// consistently while unrelated identities never contend.
type MemorySessionRegistry struct {
	ttl    time.Duration
	now    func() time.Time
	locks  *kmutex
	mu     sync.RWMutex
	byJTI  map[string]*SessionEntry
	byUser map[string]map[string]struct{}

	registers int // registrations since last opportunistic prune
}

const pruneEvery = 256

func NewMemorySessionRegistry(refreshTTL time.Duration) *MemorySessionRegistry {
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &MemorySessionRegistry{
		ttl:    refreshTTL,
		now:    time.Now,
		locks:  newKmutex(),
		byJTI:  make(map[string]*SessionEntry),
		byUser: make(map[string]map[string]struct{}),
	}
}

var _ SessionRegistry = (*MemorySessionRegistry)(nil)

func (r *MemorySessionRegistry) expired(e *SessionEntry, now time.Time) bool {
	return now.After(e.IssuedAt.Add(r.ttl))
}

func (r *MemorySessionRegistry) Register(ctx context.Context, entry SessionEntry) error {
	r.locks.Lock(entry.Username)
	defer r.locks.Unlock(entry.Username)

	r.mu.Lock()
	r.insertLocked(entry)
	doPrune := false
	r.registers++
	if r.registers >= pruneEvery {
		r.registers = 0
		doPrune = true
	}
	r.mu.Unlock()

	if doPrune {
		_, _ = r.PruneExpired(ctx)
	}
	return nil
}

// insertLocked requires r.mu held.
func (r *MemorySessionRegistry) insertLocked(entry SessionEntry) {
	cp := entry
	if cp.IssuedAt.IsZero() {
		cp.IssuedAt = r.now()
	}
	r.byJTI[cp.JTI] = &cp
	set, ok := r.byUser[cp.Username]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[cp.Username] = set
	}
	set[cp.JTI] = struct{}{}
}

func (r *MemorySessionRegistry) Revoke(ctx context.Context, jti string) error {
	r.mu.RLock()
	e, ok := r.byJTI[jti]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	r.locks.Lock(e.Username)
	defer r.locks.Unlock(e.Username)

	r.mu.Lock()
	if e, ok := r.byJTI[jti]; ok {
		e.Revoked = true
	}
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRegistry) RevokeAll(ctx context.Context, username string) error {
	username = normalizeUsername(username)
	r.locks.Lock(username)
	defer r.locks.Unlock(username)

	r.mu.Lock()
	for jti := range r.byUser[username] {
		if e, ok := r.byJTI[jti]; ok {
			e.Revoked = true
		}
	}
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRegistry) IsActive(ctx context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byJTI[jti]
	if !ok {
		return false, nil
	}
	return !e.Revoked && !r.expired(e, r.now()), nil
}

func (r *MemorySessionRegistry) Revoked(ctx context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byJTI[jti]
	return ok && e.Revoked, nil
}

func (r *MemorySessionRegistry) Rotate(ctx context.Context, oldJTI string, next SessionEntry) error {
	r.mu.RLock()
	old, ok := r.byJTI[oldJTI]
	r.mu.RUnlock()
	if !ok {
		return ErrRevokedToken
	}

	r.locks.Lock(old.Username)
	defer r.locks.Unlock(old.Username)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the identity lock: a racing rotation or revoke-all
	// may have won while we waited.
	old, ok = r.byJTI[oldJTI]
	if !ok || old.Revoked || r.expired(old, r.now()) {
		return ErrRevokedToken
	}
	old.Revoked = true
	r.insertLocked(next)
	return nil
}

func (r *MemorySessionRegistry) PruneExpired(ctx context.Context) (int, error) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for jti, e := range r.byJTI {
		if r.expired(e, now) {
			delete(r.byJTI, jti)
			if set, ok := r.byUser[e.Username]; ok {
				delete(set, jti)
				if len(set) == 0 {
					delete(r.byUser, e.Username)
				}
			}
			pruned++
		}
	}
	return pruned, nil
}
