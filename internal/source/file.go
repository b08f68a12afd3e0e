package source

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"generalize/internal/generalize"
	"generalize/internal/probe"
)

func init() {
	Register("file", openFile)
}

type fileSource struct {
	spec  Spec
	delim rune
}

func openFile(_ context.Context, spec Spec) (Source, error) {
	if strings.TrimSpace(spec.Location()) == "" {
		return nil, fmt.Errorf("source file: path or url is required")
	}
	var delim rune
	if spec.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(spec.Delimiter)
		if size != len(spec.Delimiter) {
			return nil, fmt.Errorf("source file: delimiter must be a single character, got %q", spec.Delimiter)
		}
		delim = r
	}
	return &fileSource{spec: spec, delim: delim}, nil
}

// Sample fetches a bounded prefix of the file, parses it, and matches its
// headers to the configured columns.
func (s *fileSource) Sample(ctx context.Context, limit int) (*generalize.Table, error) {
	res, err := probe.Probe(ctx, probe.Options{
		URL:       s.spec.Location(),
		MaxRows:   limit,
		Delimiter: s.delim,
	})
	if err != nil {
		return nil, fmt.Errorf("source file %s: %w", s.spec.Location(), err)
	}
	rows, err := rekey(res.Headers, res.Rows, s.spec.Columns)
	if err != nil {
		return nil, fmt.Errorf("source file %s: %w", s.spec.Location(), err)
	}
	return truncate(rows, limit), nil
}

func (s *fileSource) Close() error { return nil }
