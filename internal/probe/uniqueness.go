package probe

import (
	"fmt"
	"sort"
	"strings"

	"generalize/internal/generalize"
)

const distinctCapPerColumn = 10000

// Uniqueness captures bounded distinct-count stats for a sample.
//
// Row counts are per column: a column counts a row only when it has a
// meaningful (non-nil, non-blank) value there.
type Uniqueness struct {
	// TotalRows is the number of sampled rows. Informational only; ratios
	// use PerColumnTotal.
	TotalRows int

	PerColumnTotal    map[string]int
	PerColumnDistinct map[string]int
	PerColumnCapped   map[string]bool

	// ColumnOrder is the order columns were requested in.
	ColumnOrder []string
}

// ComputeUniqueness scans rows for the given columns. Distinct counting per
// column stops at distinctCapPerColumn to keep memory bounded.
func ComputeUniqueness(rows generalize.Dataset, columns []string) Uniqueness {
	stats := Uniqueness{
		PerColumnTotal:    make(map[string]int, len(columns)),
		PerColumnDistinct: make(map[string]int, len(columns)),
		PerColumnCapped:   make(map[string]bool, len(columns)),
		ColumnOrder:       append([]string(nil), columns...),
	}
	if rows == nil || len(columns) == 0 {
		return stats
	}

	sets := make([]map[string]struct{}, len(columns))
	for i := range sets {
		sets[i] = make(map[string]struct{})
	}

	rows.Range(func(_ string, rec generalize.Record) bool {
		stats.TotalRows++
		if rec == nil {
			return true
		}
		for i, col := range columns {
			v := rec.Value(col)
			if v == nil {
				continue
			}
			s := stringifyScalarForUniq(v)
			if s == "" {
				continue
			}
			stats.PerColumnTotal[col]++

			if stats.PerColumnCapped[col] {
				continue
			}
			sets[i][s] = struct{}{}
			if len(sets[i]) >= distinctCapPerColumn {
				stats.PerColumnCapped[col] = true
				sets[i] = nil
			}
		}
		return true
	})

	for i, col := range columns {
		if stats.PerColumnCapped[col] {
			stats.PerColumnDistinct[col] = distinctCapPerColumn
			continue
		}
		stats.PerColumnDistinct[col] = len(sets[i])
	}
	return stats
}

func stringifyScalarForUniq(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// FormatReport renders stats as a tab-separated table, most repetitive
// columns first. Binary and low-cardinality columns surface at the top,
// which is what someone choosing patterns wants to see.
func FormatReport(stats Uniqueness) string {
	if stats.TotalRows <= 0 {
		return "uniqueness: no rows sampled"
	}

	type row struct {
		Col    string
		Dist   int
		Ratio  float64
		Capped bool
		Den    int
	}

	rows := make([]row, 0, len(stats.ColumnOrder))
	for _, col := range stats.ColumnOrder {
		den := stats.PerColumnTotal[col]
		if den <= 0 {
			continue
		}
		d := stats.PerColumnDistinct[col]
		rows = append(rows, row{
			Col:    col,
			Dist:   d,
			Ratio:  float64(d) / float64(den),
			Capped: stats.PerColumnCapped[col],
			Den:    den,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Ratio == rows[j].Ratio {
			return rows[i].Col < rows[j].Col
		}
		return rows[i].Ratio < rows[j].Ratio
	})

	var b strings.Builder
	fmt.Fprintf(&b, "uniqueness report:\tsampled_rows=%d\n", stats.TotalRows)
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\tratio\tcapped\n", "col", "unique", "rows")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-15s\t%-7d\t%d\t%.1f%%\t%t\n", r.Col, r.Dist, r.Den, r.Ratio*100, r.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
