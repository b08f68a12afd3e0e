package storage

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"

	"generalize/internal/generalize"
)

// NormalizeValue converts a scanned database value to the plain Go scalar
// patterns expect: []byte becomes string, driver.Valuer wrappers (pgtype
// numerics, civil dates) are unwrapped. Other values pass through.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if _, again := dv.(driver.Valuer); again {
			return fmt.Sprint(dv)
		}
		return NormalizeValue(dv)
	default:
		return v
	}
}

// Rows is the part of *sql.Rows ScanTable reads.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ Rows = (*sql.Rows)(nil)

// ScanTable reads rows whose select list is exactly columns into a table
// keyed "0", "1", ... Values pass through NormalizeValue.
func ScanTable(rows Rows, columns []string) (*generalize.Table, error) {
	out := generalize.NewTable(0)
	vals := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for n := 0; rows.Next(); n++ {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", n, err)
		}
		rec := make(generalize.MapRecord, len(columns))
		for i, c := range columns {
			rec[c] = NormalizeValue(vals[i])
			vals[i] = nil
		}
		out.Append(strconv.Itoa(n), rec)
	}
	return out, rows.Err()
}

// SampleLimit clamps a requested sample size to the engine's default when
// unset.
func SampleLimit(limit int) int {
	if limit <= 0 {
		return generalize.DefaultSampleLimit
	}
	return limit
}
