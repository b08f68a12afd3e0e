package probe

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"generalize/internal/generalize"
)

// readCSVSample parses CSV bytes into a header row and data rows.
//
// The implementation is best-effort and designed for probing:
//   - records with the wrong field count are skipped
//   - fields are trimmed
//   - at most maxRows rows are returned when maxRows > 0
func readCSVSample(data []byte, delimiter rune, maxRows int) ([]string, [][]string, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1 // validated manually
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([][]string, 0, 128)
	for maxRows <= 0 || len(rows) < maxRows {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return headers, rows, err
		}
		if len(rec) != len(headers) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}

	return headers, rows, nil
}

// csvTable converts positional CSV rows into records keyed by header.
// Duplicate headers keep the first occurrence.
func csvTable(headers []string, rows [][]string) *generalize.Table {
	t := generalize.NewTable(len(rows))
	for _, row := range rows {
		rec := make(generalize.MapRecord, len(headers))
		for i, h := range headers {
			if _, dup := rec[h]; dup {
				continue
			}
			rec[h] = row[i]
		}
		t.Append("", rec)
	}
	return t
}
