package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(clock *fakeClock) *MemorySessionRegistry {
	r := NewMemorySessionRegistry(7 * 24 * time.Hour)
	r.now = clock.Now
	return r
}

func TestRegisterAndIsActive(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	if err := r.Register(ctx, SessionEntry{JTI: "j1", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	active, err := r.IsActive(ctx, "j1")
	if err != nil || !active {
		t.Fatalf("fresh session inactive: active=%v err=%v", active, err)
	}
	active, err = r.IsActive(ctx, "unknown")
	if err != nil || active {
		t.Fatalf("unknown jti reported active: active=%v err=%v", active, err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, SessionEntry{JTI: "j1", Username: "alice"})
	if err := r.Revoke(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Revoke(ctx, "j1"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := r.Revoke(ctx, "never-existed"); err != nil {
		t.Fatalf("revoke of unknown jti: %v", err)
	}

	revoked, err := r.Revoked(ctx, "j1")
	if err != nil || !revoked {
		t.Fatalf("revoked=%v err=%v", revoked, err)
	}
}

func TestRevokeAllOnlyTouchesOneIdentity(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, SessionEntry{JTI: "a1", Username: "alice"})
	_ = r.Register(ctx, SessionEntry{JTI: "a2", Username: "alice"})
	_ = r.Register(ctx, SessionEntry{JTI: "b1", Username: "bob"})

	if err := r.RevokeAll(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	for _, jti := range []string{"a1", "a2"} {
		if active, _ := r.IsActive(ctx, jti); active {
			t.Fatalf("alice session %q survived RevokeAll", jti)
		}
	}
	if active, _ := r.IsActive(ctx, "b1"); !active {
		t.Fatal("bob's session caught in alice's RevokeAll")
	}
}

func TestRotateRevokesOldAndRegistersNew(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, SessionEntry{JTI: "old", Username: "alice"})
	if err := r.Rotate(ctx, "old", SessionEntry{JTI: "new", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	if active, _ := r.IsActive(ctx, "old"); active {
		t.Fatal("rotated jti still active")
	}
	if active, _ := r.IsActive(ctx, "new"); !active {
		t.Fatal("replacement jti not active")
	}

	// Replay of the consumed jti.
	if err := r.Rotate(ctx, "old", SessionEntry{JTI: "newer", Username: "alice"}); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken on replay, got %v", err)
	}
}

func TestRotateUnknownAndExpired(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	if err := r.Rotate(ctx, "ghost", SessionEntry{JTI: "n", Username: "x"}); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("unknown jti: %v", err)
	}

	_ = r.Register(ctx, SessionEntry{JTI: "stale", Username: "alice"})
	clock.Advance(7*24*time.Hour + time.Minute)
	if err := r.Rotate(ctx, "stale", SessionEntry{JTI: "n2", Username: "alice"}); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expired jti rotated: %v", err)
	}
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, SessionEntry{JTI: "contested", Username: "alice"})

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Rotate(ctx, "contested", SessionEntry{
				JTI:      fmt.Sprintf("next-%d", i),
				Username: "alice",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRevokedToken):
		default:
			t.Fatalf("rotation %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning rotation, got %d", winners)
	}
}

func TestPruneExpired(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, SessionEntry{JTI: "old1", Username: "alice"})
	_ = r.Register(ctx, SessionEntry{JTI: "old2", Username: "bob"})
	clock.Advance(7*24*time.Hour + time.Minute)
	_ = r.Register(ctx, SessionEntry{JTI: "fresh", Username: "alice"})

	n, err := r.PruneExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if active, _ := r.IsActive(ctx, "fresh"); !active {
		t.Fatal("fresh session pruned")
	}
}

func TestCredentialStoreCopiesIdentities(t *testing.T) {
	store := NewMemoryCredentialStore()
	ctx := context.Background()

	id := &Identity{Username: "Alice", PasswordHash: "h", Role: RoleGuest, Active: true}
	if err := store.Create(ctx, id); err != nil {
		t.Fatal(err)
	}
	if id.ID == "" {
		t.Fatal("Create did not assign an id")
	}

	// Lookup is case-insensitive and returns a copy.
	got, err := store.FindByUsername(ctx, "  ALICE ")
	if err != nil {
		t.Fatal(err)
	}
	got.FailedAttempts = 99
	again, _ := store.FindByUsername(ctx, "alice")
	if again.FailedAttempts != 0 {
		t.Fatal("caller mutation leaked into the store")
	}

	if err := store.Create(ctx, &Identity{Username: "alice"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate username: %v", err)
	}
	if err := store.Save(ctx, &Identity{Username: "nobody"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("save of unknown identity: %v", err)
	}
}
