package source

import (
	"context"
	"fmt"
	"strings"

	"generalize/internal/generalize"
	"generalize/internal/storage"
)

func init() {
	for _, kind := range []string{"postgres", "mssql", "sqlite"} {
		kind := kind
		Register(kind, func(ctx context.Context, spec Spec) (Source, error) {
			return openSQL(ctx, kind, spec)
		})
	}
}

// sqlSource samples a table through a storage backend. The backend must be
// registered (import generalize/internal/storage/all).
type sqlSource struct {
	repo  storage.Repository
	table string
	cols  []string
}

func openSQL(ctx context.Context, kind string, spec Spec) (Source, error) {
	if strings.TrimSpace(spec.Table) == "" {
		return nil, fmt.Errorf("source %s: table is required", kind)
	}
	repo, err := storage.New(ctx, storage.Config{Kind: kind, DSN: spec.DSN})
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", kind, err)
	}
	return &sqlSource{repo: repo, table: spec.Table, cols: spec.Columns}, nil
}

func (s *sqlSource) Sample(ctx context.Context, limit int) (*generalize.Table, error) {
	return s.repo.SampleRows(ctx, s.table, s.cols, limit)
}

func (s *sqlSource) Close() error {
	s.repo.Close()
	return nil
}
