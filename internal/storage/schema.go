package storage

import (
	"time"

	"generalize/internal/generalize"
)

// Logical column types. Backends map them to native DDL types.
const (
	TypeText      = "text"
	TypeKey       = "key" // short, indexable text
	TypeInt       = "int"
	TypeTimestamp = "timestamp"
)

// TableSpec describes a table a backend may need to create.
type TableSpec struct {
	Name        string           `json:"name"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ResultColumns is the column order of every results-table insert.
var ResultColumns = []string{
	"run_id",
	"fingerprint",
	"dataset",
	"column_name",
	"position",
	"resolved_index",
	"role",
	"matched_patterns",
	"created_at",
}

// ResultsTable returns the spec of the table classification runs write to.
func ResultsTable(name string) TableSpec {
	notNull := func() *bool { b := false; return &b }
	return TableSpec{
		Name: name,
		Columns: []ColumnSpec{
			{Name: "run_id", Type: TypeKey, Nullable: notNull()},
			{Name: "fingerprint", Type: TypeKey, Nullable: notNull()},
			{Name: "dataset", Type: TypeText},
			{Name: "column_name", Type: TypeKey, Nullable: notNull()},
			{Name: "position", Type: TypeInt, Nullable: notNull()},
			{Name: "resolved_index", Type: TypeInt, Nullable: notNull()},
			{Name: "role", Type: TypeText},
			{Name: "matched_patterns", Type: TypeInt, Nullable: notNull()},
			{Name: "created_at", Type: TypeTimestamp, Nullable: notNull()},
		},
		Constraints: []ConstraintSpec{
			{Kind: "unique", Columns: []string{"fingerprint", "column_name"}},
		},
	}
}

// ResultDedupeColumns identify a stored resolution.
var ResultDedupeColumns = []string{"fingerprint", "column_name"}

// ResultRow is one column of one classification run.
type ResultRow struct {
	RunID       string
	Fingerprint string
	Dataset     string
	Column      string
	Position    int
	// Index is generalize.Unresolved for columns no pattern claimed.
	Index     int
	Role      string
	Matched   int
	CreatedAt time.Time
}

// ResultRows builds rows from an engine mapping. roles maps column name to
// the role that claimed it.
func ResultRows(runID, fingerprint, dataset string, mapping []generalize.Resolution, roles map[string]string, matched int, at time.Time) []ResultRow {
	out := make([]ResultRow, 0, len(mapping))
	for _, m := range mapping {
		out = append(out, ResultRow{
			RunID:       runID,
			Fingerprint: fingerprint,
			Dataset:     dataset,
			Column:      m.Column,
			Position:    m.Position,
			Index:       m.Index,
			Role:        roles[m.Column],
			Matched:     matched,
			CreatedAt:   at,
		})
	}
	return out
}

// Values returns the row aligned with ResultColumns. An empty role is NULL.
func (r ResultRow) Values() []any {
	var role any
	if r.Role != "" {
		role = r.Role
	}
	return []any{
		r.RunID,
		r.Fingerprint,
		r.Dataset,
		r.Column,
		int64(r.Position),
		int64(r.Index),
		role,
		int64(r.Matched),
		r.CreatedAt.UTC(),
	}
}
