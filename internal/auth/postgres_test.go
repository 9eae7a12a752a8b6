package auth

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGFindByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	lastLogin := created.Add(48 * time.Hour)
	epoch := time.Unix(0, 0).UTC()

	rows := sqlmock.NewRows([]string{
		"id", "username", "password_hash", "role", "active", "created_at",
		"last_login", "failed_attempts", "locked_until", "lockout_episodes",
	}).AddRow("01A", "alice", "hash", "operator", true, created, lastLogin, 2, epoch, 0)
	mock.ExpectQuery("select id, username, password_hash").
		WithArgs("alice").
		WillReturnRows(rows)

	store := NewPGCredentialStore(db)
	id, err := store.FindByUsername(context.Background(), " Alice ")
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != RoleOperator || id.FailedAttempts != 2 {
		t.Fatalf("unexpected identity %+v", id)
	}
	if !id.LockedUntil.IsZero() {
		t.Fatal("epoch locked_until must read as unlocked")
	}
	if !id.LastLogin.Equal(lastLogin) {
		t.Fatalf("last_login lost: %v", id.LastLogin)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGFindByUsernameNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, username, password_hash").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGCredentialStore(db)
	if _, err := store.FindByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGCreateUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	store := NewPGCredentialStore(db)
	err = store.Create(context.Background(), &Identity{Username: "alice", PasswordHash: "h", Role: RoleGuest})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPGSaveUnknownIdentity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("update users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGCredentialStore(db)
	err = store.Save(context.Background(), &Identity{Username: "ghost", PasswordHash: "h", Role: RoleGuest})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRotateWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set revoked=true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := NewPGSessionRegistry(db, 7*24*time.Hour)
	err = reg.Rotate(context.Background(), "old-jti", SessionEntry{JTI: "new-jti", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRotateLoser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set revoked=true").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	reg := NewPGSessionRegistry(db, 7*24*time.Hour)
	err = reg.Rotate(context.Background(), "consumed-jti", SessionEntry{JTI: "new-jti", Username: "alice"})
	if !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRevokeAllSweepsUntilClean(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// A rotation commits a replacement session between the first and
	// second sweep; the repeat update revokes it before returning.
	mock.ExpectExec("update sessions set revoked=true where username").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("update sessions set revoked=true where username").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update sessions set revoked=true where username").
		WillReturnResult(sqlmock.NewResult(0, 0))

	reg := NewPGSessionRegistry(db, 7*24*time.Hour)
	if err := reg.RevokeAll(context.Background(), "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRevokedUnknownJTI(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("select revoked from sessions").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"revoked"}))

	reg := NewPGSessionRegistry(db, 7*24*time.Hour)
	revoked, err := reg.Revoked(context.Background(), "ghost")
	if err != nil || revoked {
		t.Fatalf("unknown jti: revoked=%v err=%v", revoked, err)
	}
}

func TestPGAuditSinkAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("insert into audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := NewPGAuditSink(db)
	err = sink.Append(context.Background(), AuditEvent{
		ID: "01B", At: time.Now(), Username: "alice",
		Kind: EventLogin, Outcome: OutcomeSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStoreErrMapsTransientFailures(t *testing.T) {
	transient := []error{
		context.DeadlineExceeded,
		context.Canceled,
		driver.ErrBadConn,
	}
	for _, cause := range transient {
		if err := storeErr(cause); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("%v not mapped to ErrStoreUnavailable: %v", cause, err)
		}
	}

	// Application-level failures pass through unchanged.
	plain := errors.New("syntax error")
	if err := storeErr(plain); errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("non-transient error mapped: %v", err)
	}
	if storeErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
