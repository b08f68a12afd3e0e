// Package source opens the datasets a classification job samples: local or
// remote CSV/JSON files, HTML pages, and SQL tables.
//
// Every source returns at most the requested number of rows, keyed in
// natural order, with records keyed by the job's configured column names.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"generalize/internal/generalize"
	"generalize/internal/probe"
)

// ErrUnknownKind is returned by Open for unregistered kinds.
var ErrUnknownKind = errors.New("unknown source kind")

// Spec describes where a job's sample comes from.
type Spec struct {
	Kind string `yaml:"kind" json:"kind"`

	// file and html: a local path, file:// URL or http(s):// URL.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`

	// postgres, mssql, sqlite.
	DSN   string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// html: CSS selector of the table (table mode, default "table") or of
	// each record container when Fields is set.
	Selector string  `yaml:"selector,omitempty" json:"selector,omitempty"`
	Fields   []Field `yaml:"fields,omitempty" json:"fields,omitempty"`

	// file: CSV delimiter, default ",".
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`

	// Columns are the names the engine loads, in declaration order. File and
	// HTML headers are matched to them exactly first, then by normalized name.
	Columns []string `yaml:"columns" json:"columns"`
}

// Location returns the configured path or URL.
func (s Spec) Location() string {
	if strings.TrimSpace(s.Path) != "" {
		return s.Path
	}
	return s.URL
}

// Field extracts one column from each HTML record container.
type Field struct {
	Column   string `yaml:"column" json:"column"`
	Selector string `yaml:"selector" json:"selector"`
	// Extract is "text" (default) or "attr".
	Extract string `yaml:"extract,omitempty" json:"extract,omitempty"`
	Attr    string `yaml:"attr,omitempty" json:"attr,omitempty"`
	// Match optionally filters the value with a regex; group 1 wins when present.
	Match string `yaml:"match,omitempty" json:"match,omitempty"`
}

// Source yields a bounded sample.
type Source interface {
	Sample(ctx context.Context, limit int) (*generalize.Table, error)
	Close() error
}

// Opener constructs a Source for a spec of its kind.
type Opener func(ctx context.Context, spec Spec) (Source, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

// Register makes an opener available under kind. It panics on an empty kind,
// a nil opener, or a duplicate registration.
func Register(kind string, open Opener) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if open == nil {
		panic("source: Register called with nil opener")
	}
	if _, exists := openers[kind]; exists {
		panic(fmt.Sprintf("source: opener already registered for kind=%q", kind))
	}
	openers[kind] = open
}

// Open constructs the source described by spec.
func Open(ctx context.Context, spec Spec) (Source, error) {
	mu.RLock()
	open := openers[spec.Kind]
	mu.RUnlock()

	if open == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("source %s: no columns configured", spec.Kind)
	}
	return open(ctx, spec)
}

// Known reports whether kind has a registered opener.
func Known(kind string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := openers[kind]
	return ok
}

// Kinds lists registered kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// rekey maps each row from source headers to the configured column names.
func rekey(headers []string, rows *generalize.Table, columns []string) (*generalize.Table, error) {
	match, err := probe.MatchColumns(headers, columns)
	if err != nil {
		return nil, err
	}
	out := generalize.NewTable(rows.Len())
	rows.Range(func(key string, rec generalize.Record) bool {
		m := make(generalize.MapRecord, len(columns))
		for _, c := range columns {
			m[c] = rec.Value(match[c])
		}
		out.Append(key, m)
		return true
	})
	return out, nil
}

// truncate returns the first limit rows of t.
func truncate(t *generalize.Table, limit int) *generalize.Table {
	if limit <= 0 || t.Len() <= limit {
		return t
	}
	out := generalize.NewTable(limit)
	for _, r := range t.Rows()[:limit] {
		out.Append(r.Key, r.Record)
	}
	return out
}
