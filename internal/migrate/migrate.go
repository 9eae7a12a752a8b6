// Package migrate applies the SQL schema files under ops/migrations.
// Bookkeeping lives in a single schema_history table so "what ran
// when" is one query away.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const historyTable = "schema_history"

// Runner executes ordered .up.sql / .down.sql files from a directory.
type Runner struct {
	db  *sql.DB
	dir string
}

func NewRunner(db *sql.DB, dir string) *Runner {
	return &Runner{db: db, dir: dir}
}

// Record is one applied migration.
type Record struct {
	Name      string
	AppliedAt time.Time
}

// Up applies every pending migration in name order and returns how
// many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return 0, err
	}
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return 0, err
	}
	files, err := collectSQL(r.dir, ".up.sql")
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, f := range files {
		if applied[f.base] {
			continue
		}
		if err := r.execFile(ctx, f.path); err != nil {
			return ran, fmt.Errorf("apply %s: %w", f.base, err)
		}
		if _, err := r.db.ExecContext(ctx,
			`insert into `+historyTable+`(name, applied_at) values ($1, $2)`,
			f.base, time.Now().UTC()); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// Down rolls back the most recently applied migration and returns its
// name.
func (r *Runner) Down(ctx context.Context) (string, error) {
	history, err := r.Applied(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := history[len(history)-1].Name
	downPath := strings.TrimSuffix(filepath.Join(r.dir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.execFile(ctx, downPath); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx,
		`delete from `+historyTable+` where name = $1`, last); err != nil {
		return "", err
	}
	return last, nil
}

// Applied lists migrations in the order they ran.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name, applied_at from `+historyTable+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+historyTable+` (
			name       text primary key,
			applied_at timestamptz not null default now()
		)`)
	return err
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+historyTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

// execFile runs every statement in the file inside one transaction.
// pgx over database/sql rejects multi-statement Exec, so files are
// split on top-level semicolons.
func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	base string
	path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{base: d.Name(), path: path})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}

// splitStatements splits SQL on semicolons outside string literals.
func splitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for _, r := range sql {
		switch r {
		case '\'':
			cur.WriteRune(r)
			inString = !inString
		case ';':
			cur.WriteRune(r)
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
