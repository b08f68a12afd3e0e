package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"generalize/internal/generalize"
	"generalize/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type; created_at is stored as RFC3339Nano
// text for reliable round trips and easy debugging.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a path, "file:" URI or ":memory:").
//
// The pool is limited to one connection: every connection to ":memory:"
// would otherwise see its own empty database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// SampleRows implements storage.Repository.
func (r *Repo) SampleRows(ctx context.Context, table string, columns []string, limit int) (*generalize.Table, error) {
	q, err := buildSampleSQL(table, columns, storage.SampleLimit(limit))
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	return storage.ScanTable(rows, columns)
}

// EnsureResultsTable implements storage.Repository.
func (r *Repo) EnsureResultsTable(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertResolutions implements storage.Repository using INSERT OR IGNORE,
// which relies on the UNIQUE (fingerprint, column_name) constraint.
func (r *Repo) InsertResolutions(ctx context.Context, table string, rows []storage.ResultRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	vals := make([][]any, 0, len(rows))
	for _, row := range rows {
		v := row.Values()
		v[len(v)-1] = formatSQLiteTime(row.CreatedAt)
		vals = append(vals, v)
	}

	q, args := buildInsertSQL(table, storage.ResultColumns, vals, true)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: rows affected: %w", table, err)
	}
	return n, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// tableIdent quotes each part of an optionally schema-qualified name.
func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = sqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func buildSampleSQL(table string, columns []string, limit int) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%s: no columns to sample", table)
	}
	return fmt.Sprintf("SELECT %s FROM %s LIMIT %d", joinIdentList(columns), tableIdent(table), limit), nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	for _, c := range t.Columns {
		typ, err := mapType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if c.Nullable != nil && !*c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func mapType(logical string) (string, error) {
	switch logical {
	case storage.TypeText, storage.TypeKey, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

// buildInsertSQL builds one multi-row insert. ignore turns it into
// INSERT OR IGNORE.
func buildInsertSQL(table string, columns []string, rows [][]any, ignore bool) (string, []any) {
	prefix := "INSERT INTO "
	if ignore {
		prefix = "INSERT OR IGNORE INTO "
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
