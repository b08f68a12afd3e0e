package generalize

import (
	"sort"
	"strconv"
)

// Record is one row of a dataset, looked up by column name.
type Record interface {
	Value(column string) any
}

// Dataset is a row-keyed data source.
//
// Range visits rows in the dataset's natural order and stops early when fn
// returns false. Load samples rows in exactly this order.
type Dataset interface {
	Range(fn func(key string, rec Record) bool)
}

// MapRecord is a Record backed by a plain map. Missing columns read as nil.
type MapRecord map[string]any

// Value implements Record.
func (m MapRecord) Value(column string) any { return m[column] }

// Row is one keyed row of a Table.
type Row struct {
	Key    string
	Record Record
}

// Table is an in-memory Dataset that preserves insertion order.
type Table struct {
	rows []Row
}

// NewTable returns an empty Table with room for n rows.
func NewTable(n int) *Table {
	if n < 0 {
		n = 0
	}
	return &Table{rows: make([]Row, 0, n)}
}

// Append adds a row under key. An empty key is replaced by the row position.
func (t *Table) Append(key string, rec Record) {
	if key == "" {
		key = strconv.Itoa(len(t.rows))
	}
	t.rows = append(t.rows, Row{Key: key, Record: rec})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Rows returns the rows in order. The slice is shared; do not mutate it.
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	return t.rows
}

// Range implements Dataset.
func (t *Table) Range(fn func(key string, rec Record) bool) {
	if t == nil {
		return
	}
	for _, r := range t.rows {
		if !fn(r.Key, r.Record) {
			return
		}
	}
}

// FromMaps builds a Table from positional rows, keyed "0", "1", ...
func FromMaps(rows []map[string]any) *Table {
	t := NewTable(len(rows))
	for i, r := range rows {
		t.Append(strconv.Itoa(i), MapRecord(r))
	}
	return t
}

// FromKeyed builds a Table from a row-keyed map.
//
// Go maps are unordered, so keys are arranged the way an object's own keys
// enumerate: canonical non-negative integers ascending first, then every
// other key in lexicographic order.
func FromKeyed(rows map[string]map[string]any) *Table {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sortRowKeys(keys)

	t := NewTable(len(keys))
	for _, k := range keys {
		t.rows = append(t.rows, Row{Key: k, Record: MapRecord(rows[k])})
	}
	return t
}

func sortRowKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ai, aok := arrayIndex(keys[i])
		bi, bok := arrayIndex(keys[j])
		switch {
		case aok && bok:
			return ai < bi
		case aok:
			return true
		case bok:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}

// arrayIndex reports whether k is a canonical non-negative integer ("0",
// "17" but not "007" or "-1").
func arrayIndex(k string) (uint64, bool) {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(k, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

// asNames converts a dynamically typed column-name argument.
func asNames(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, t != nil
	case []any:
		if t == nil {
			return nil, false
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// asDataset converts a dynamically typed data argument.
func asDataset(v any) (Dataset, bool) {
	switch t := v.(type) {
	case *Table:
		return t, t != nil
	case Dataset:
		return t, true
	case []map[string]any:
		return FromMaps(t), true
	case map[string]map[string]any:
		return FromKeyed(t), true
	case map[string]any:
		rows := make(map[string]map[string]any, len(t))
		for k, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			rows[k] = m
		}
		return FromKeyed(rows), true
	case []any:
		rows := make([]map[string]any, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			rows = append(rows, m)
		}
		return FromMaps(rows), true
	default:
		return nil, false
	}
}
