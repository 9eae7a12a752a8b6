package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"monitordb.io/internal/ids"
)

// PGCredentialStore implements CredentialStore over PostgreSQL.
type PGCredentialStore struct {
	db *sql.DB
}

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

var _ CredentialStore = (*PGCredentialStore)(nil)

func (s *PGCredentialStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, username, password_hash, role, active, created_at,
		       coalesce(last_login, 'epoch'::timestamptz),
		       failed_attempts,
		       coalesce(locked_until, 'epoch'::timestamptz),
		       lockout_episodes
		from users where username=$1`, normalizeUsername(username))

	var (
		id          Identity
		role        string
		lastLogin   time.Time
		lockedUntil time.Time
	)
	err := row.Scan(&id.ID, &id.Username, &id.PasswordHash, &role, &id.Active,
		&id.CreatedAt, &lastLogin, &id.FailedAttempts, &lockedUntil, &id.LockoutEpisodes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	id.Role = Role(role)
	if lastLogin.Unix() > 0 {
		id.LastLogin = lastLogin
	}
	if lockedUntil.Unix() > 0 {
		id.LockedUntil = lockedUntil
	}
	return &id, nil
}

func (s *PGCredentialStore) Create(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, password_hash, role, active, created_at,
		                  failed_attempts, lockout_episodes)
		values($1,$2,$3,$4,$5,$6,0,0)`,
		identity.ID, normalizeUsername(identity.Username), identity.PasswordHash,
		string(identity.Role), identity.Active, identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return storeErr(err)
	}
	return nil
}

func (s *PGCredentialStore) Save(ctx context.Context, identity *Identity) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set password_hash=$2, role=$3, active=$4,
		    last_login=nullif($5, 'epoch'::timestamptz),
		    failed_attempts=$6,
		    locked_until=nullif($7, 'epoch'::timestamptz),
		    lockout_episodes=$8,
		    updated_at=now()
		where username=$1`,
		normalizeUsername(identity.Username), identity.PasswordHash, string(identity.Role),
		identity.Active, zeroAsEpoch(identity.LastLogin), identity.FailedAttempts,
		zeroAsEpoch(identity.LockedUntil), identity.LockoutEpisodes)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PGSessionRegistry implements SessionRegistry over PostgreSQL. Row
// locks on the sessions table serialize racing rotations of the same
// jti, so the active->revoked transition happens exactly once.
type PGSessionRegistry struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewPGSessionRegistry(db *sql.DB, refreshTTL time.Duration) *PGSessionRegistry {
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &PGSessionRegistry{db: db, ttl: refreshTTL, now: time.Now}
}

var _ SessionRegistry = (*PGSessionRegistry)(nil)

func (r *PGSessionRegistry) cutoff() time.Time {
	return r.now().Add(-r.ttl)
}

func (r *PGSessionRegistry) Register(ctx context.Context, entry SessionEntry) error {
	if entry.IssuedAt.IsZero() {
		entry.IssuedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		insert into sessions(jti, username, issued_at, revoked)
		values($1,$2,$3,false)`,
		entry.JTI, entry.Username, entry.IssuedAt)
	return storeErr(err)
}

func (r *PGSessionRegistry) Revoke(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx, `update sessions set revoked=true where jti=$1`, jti)
	return storeErr(err)
}

// RevokeAll sweeps the identity's sessions until an update touches
// zero rows. A rotation committing on another connection can insert a
// replacement session after our statement took its snapshot; repeating
// the update catches the late row, so logout-everywhere never leaves a
// concurrently rotated session alive.
func (r *PGSessionRegistry) RevokeAll(ctx context.Context, username string) error {
	name := normalizeUsername(username)
	for {
		res, err := r.db.ExecContext(ctx,
			`update sessions set revoked=true where username=$1 and revoked=false`,
			name)
		if err != nil {
			return storeErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr(err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (r *PGSessionRegistry) IsActive(ctx context.Context, jti string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx,
		`select not revoked and issued_at > $2 from sessions where jti=$1`,
		jti, r.cutoff()).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return active, nil
}

func (r *PGSessionRegistry) Revoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`select revoked from sessions where jti=$1`, jti).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return revoked, nil
}

func (r *PGSessionRegistry) Rotate(ctx context.Context, oldJTI string, next SessionEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update sessions set revoked=true
		where jti=$1 and revoked=false and issued_at > $2`,
		oldJTI, r.cutoff())
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return ErrRevokedToken
	}

	if next.IssuedAt.IsZero() {
		next.IssuedAt = r.now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		insert into sessions(jti, username, issued_at, revoked)
		values($1,$2,$3,false)`,
		next.JTI, next.Username, next.IssuedAt); err != nil {
		return storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *PGSessionRegistry) PruneExpired(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `delete from sessions where issued_at <= $1`, r.cutoff())
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return int(n), nil
}

// PGAuditSink appends audit events to the audit_log table. Satisfies
// audit.Sink.
type PGAuditSink struct {
	db *sql.DB
}

func NewPGAuditSink(db *sql.DB) *PGAuditSink {
	return &PGAuditSink{db: db}
}

func (s *PGAuditSink) Append(ctx context.Context, ev AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, at, username, kind, outcome, detail)
		values($1,$2,nullif($3,''),$4,$5,$6)`,
		ev.ID, ev.At, ev.Username, ev.Kind, ev.Outcome, ev.Detail)
	return storeErr(err)
}

// storeErr maps transient backend failures to ErrStoreUnavailable so
// they are never conflated with credential or token errors.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.As(err, &netErr):
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func zeroAsEpoch(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}
