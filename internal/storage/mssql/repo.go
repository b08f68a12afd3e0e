package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"generalize/internal/generalize"
	"generalize/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Idempotent inserts use INSERT ... SELECT FROM (VALUES ...) WHERE NOT EXISTS.
// Unlike Postgres ON CONFLICT DO NOTHING, that statement does not collapse
// duplicates inside its own VALUES list, so batches are deduplicated first.
//
// This package does not import a driver. The application registers one under
// the name "sqlserver" (storage/all imports github.com/microsoft/go-mssqldb).
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// SampleRows implements storage.Repository using SELECT TOP (n).
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
	q, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertResolutions implements storage.Repository. Statements are chunked to
// stay under SQL Server's 2100-parameter limit.
func (r *Repo) InsertResolutions(ctx context.Context, table string, rows []storage.ResultRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	vals := make([][]any, 0, len(rows))
	for _, row := range rows {
		vals = append(vals, row.Values())
	}
	columns := storage.ResultColumns

	vals, err := dedupeRowsByColumns(vals, columns, storage.ResultDedupeColumns)
	if err != nil {
		return 0, err
	}

	maxRows := 2000 / len(columns)

	var total int64
	for start := 0; start < len(vals); start += maxRows {
		end := min(start+maxRows, len(vals))

		q, args := buildInsertNotExistsSQL(table, columns, vals[start:end], storage.ResultDedupeColumns)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func buildSampleSQL(table string, columns []string, limit int) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%s: no columns to sample", table)
	}
	return fmt.Sprintf("SELECT TOP (%d) %s FROM %s", limit, joinIdentList(columns), mssqlTableIdent(table)), nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		typ, err := mapType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := mssqlIdent(c.Name) + " " + typ
		if c.Nullable != nil && !*c.Nullable {
			def += " NOT NULL"
		} else {
			def += " NULL"
		}
		defs = append(defs, def)
	}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
		defs = append(defs, "UNIQUE ("+joinIdentList(con.Columns)+")")
	}

	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mapType maps logical column types to SQL Server types. Key columns must
// stay under the 900-byte index key limit, hence NVARCHAR(200).
func mapType(logical string) (string, error) {
	switch logical {
	case storage.TypeText:
		return "NVARCHAR(MAX)", nil
	case storage.TypeKey:
		return "NVARCHAR(200)", nil
	case storage.TypeInt:
		return "BIGINT", nil
	case storage.TypeTimestamp:
		return "DATETIMEOFFSET", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(" FROM (VALUES ")
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String(), args
}

// dedupeRowsByColumns keeps the first row for each distinct value of
// dedupeColumns, preserving input order.
func dedupeRowsByColumns(rows [][]any, columns []string, dedupeColumns []string) ([][]any, error) {
	pos := make([]int, 0, len(dedupeColumns))
	for _, dc := range dedupeColumns {
		i, ok := indexOfColumn(columns, dc)
		if !ok {
			return nil, fmt.Errorf("dedupe column %q not present in columns", dc)
		}
		pos = append(pos, i)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	var key strings.Builder
	for _, row := range rows {
		key.Reset()
		for _, p := range pos {
			fmt.Fprintf(&key, "%T:%v\x1f", row[p], row[p])
		}
		k := key.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

func indexOfColumn(columns []string, name string) (int, bool) {
	for i, c := range columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent bracket-quotes schema-qualified names:
// "dbo.imports" -> [dbo].[imports].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// ---- database/sql seam types ----

// dbConn is the part of *sql.DB this package uses, narrowed for tests.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowSet, error)
	Close() error
}

// rowSet is the part of *sql.Rows this package uses.
type rowSet interface {
	storage.Rows
	Close() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (rowSet, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
