package storage

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"generalize/internal/generalize"
)

type stubRepo struct{ closed bool }

func (s *stubRepo) Close() { s.closed = true }
func (s *stubRepo) SampleRows(context.Context, string, []string, int) (*generalize.Table, error) {
	return generalize.NewTable(0), nil
}
func (s *stubRepo) EnsureResultsTable(context.Context, TableSpec) error { return nil }
func (s *stubRepo) InsertResolutions(context.Context, string, []ResultRow) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	var gotDSN string
	Register("stub-test", func(_ context.Context, cfg Config) (Repository, error) {
		gotDSN = cfg.DSN
		return &stubRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "stub-test", DSN: "mem://x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gotDSN != "mem://x" {
		t.Fatalf("factory got DSN %q", gotDSN)
	}
	repo.Close()
	if !repo.(*stubRepo).closed {
		t.Fatalf("Close not delegated")
	}

	found := false
	for _, k := range Kinds() {
		if k == "stub-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() missing stub-test: %v", Kinds())
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected unsupported-kind error, got %v", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nil, nil }
	Register("dup-test", f)

	tests := []struct {
		name string
		kind string
		f    factory
	}{
		{"empty kind", "", f},
		{"nil factory", "nil-test", nil},
		{"duplicate", "dup-test", f},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tt.kind, tt.f)
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bytes", []byte("M"), "M"},
		{"int64", int64(7), int64(7)},
		{"time", at, at},
		{"pg text", pgtype.Text{String: "F", Valid: true}, "F"},
		{"pg null int", pgtype.Int8{}, nil},
		{"pg numeric from big", pgtype.Numeric{Int: big.NewInt(2001), Valid: true}, "2001"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeValue(tt.in); got != tt.want {
				t.Fatalf("NormalizeValue(%#v)=%#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

type sliceRows struct {
	data [][]any
	i    int
	err  error
}

func (s *sliceRows) Next() bool { s.i++; return s.i <= len(s.data) }
func (s *sliceRows) Scan(dest ...any) error {
	if s.err != nil {
		return s.err
	}
	for i := range dest {
		*(dest[i].(*any)) = s.data[s.i-1][i]
	}
	return nil
}
func (s *sliceRows) Err() error { return nil }

func TestScanTable(t *testing.T) {
	t.Parallel()

	tbl, err := ScanTable(&sliceRows{data: [][]any{{int64(1), []byte("a")}, {nil, "b"}}}, []string{"n", "s"})
	if err != nil {
		t.Fatalf("ScanTable: %v", err)
	}
	rows := tbl.Rows()
	if len(rows) != 2 || rows[0].Key != "0" || rows[0].Record.Value("s") != "a" || rows[1].Record.Value("n") != nil {
		t.Fatalf("rows=%+v", rows)
	}

	boom := errors.New("bad scan")
	if _, err := ScanTable(&sliceRows{data: [][]any{{1}}, err: boom}, []string{"n"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped scan error, got %v", err)
	}
}

func TestResultRows(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 17, 2, 0, 0, 0, time.FixedZone("X", 2*3600))
	rows := ResultRows("run", "fp", "census",
		[]generalize.Resolution{{Column: "Year", Position: 0, Index: 0}, {Column: "Age", Position: 1, Index: generalize.Unresolved}},
		map[string]string{"Year": "year"}, 1, at)

	if len(rows) != 2 {
		t.Fatalf("rows=%d", len(rows))
	}
	v := rows[1].Values()
	if len(v) != len(ResultColumns) {
		t.Fatalf("values=%d, columns=%d", len(v), len(ResultColumns))
	}
	if v[5] != int64(-1) || v[6] != nil {
		t.Fatalf("unresolved row values=%v", v)
	}
	if ts := rows[0].Values()[8].(time.Time); ts.Location() != time.UTC || ts.Hour() != 0 {
		t.Fatalf("created_at not UTC: %v", ts)
	}
	if SampleLimit(0) != generalize.DefaultSampleLimit || SampleLimit(5) != 5 {
		t.Fatalf("SampleLimit defaults wrong")
	}
}
