package generalize

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func keepAll(any, int, []any) bool { return true }
func always([]any) bool           { return true }
func never([]any) bool            { return false }

func firstOccurrence(v any, i int, self []any) bool {
	for j, e := range self {
		if e == v {
			return j == i
		}
	}
	return false
}

func lenIs(n int) Condition {
	return func(f []any) bool { return len(f) == n }
}

// implausibleYear mirrors the year pattern of the rendering routine with a
// fixed current year of 2026.
func implausibleYear(v any, _ int, _ []any) bool {
	n, ok := v.(int)
	if !ok {
		return true
	}
	return n <= 1000 || n >= 2026+100
}

func census() *Table {
	return FromMaps([]map[string]any{
		{"Year": 2001, "Sex": "M", "Age": 25},
		{"Year": 2006, "Sex": "F", "Age": 40},
		{"Year": 2011, "Sex": "M", "Age": 25},
		{"Year": 2011, "Sex": "F", "Age": 60},
	})
}

func rows(n int) *Table {
	t := NewTable(n)
	for i := 0; i < n; i++ {
		t.Append("", MapRecord{"a": i, "b": i * 10})
	}
	return t
}

func TestLoad_SampleCap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rows  int
		limit int
		want  int
	}{
		{"fewer rows than limit", 7, 100, 7},
		{"exactly the limit", 100, 100, 100},
		{"more rows than limit", 250, 100, 100},
		{"default limit", 150, 0, DefaultSampleLimit},
		{"small custom limit", 10, 3, 3},
		{"empty dataset", 0, 100, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := New(WithSampleLimit(tt.limit))
			require.NoError(t, e.Load([]string{"a", "b"}, rows(tt.rows)))

			a := e.Columns().Samples("a")
			b := e.Columns().Samples("b")
			require.Len(t, a, tt.want)
			require.Len(t, b, tt.want)
			for i := range a {
				assert.Equal(t, i, a[i], "row order must be preserved")
				assert.Equal(t, i*10, b[i])
			}
		})
	}
}

func TestLoad_InitializesUnresolved(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))

	for _, n := range []string{"Year", "Sex", "Age"} {
		idx, ok := e.Columns().Index(n)
		assert.True(t, ok)
		assert.Equal(t, Unresolved, idx)
		assert.NotNil(t, e.Columns().Samples(n))
	}
	assert.True(t, e.Columns().Has(3))
	assert.False(t, e.Columns().Has(2))
}

func TestLoad_ResetsPreviousState(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))
	require.NoError(t, e.Add(keepAll, always))
	require.Equal(t, 1, e.Compute())

	idx, _ := e.Columns().Index("Year")
	require.Equal(t, 0, idx)

	require.NoError(t, e.Load([]string{"x"}, FromMaps([]map[string]any{{"x": "only"}})))

	assert.Equal(t, []string{"x"}, e.Columns().Names())
	_, ok := e.Columns().Index("Year")
	assert.False(t, ok, "old column must be gone")
	assert.Nil(t, e.Columns().Samples("Year"))

	idx, ok = e.Columns().Index("x")
	assert.True(t, ok)
	assert.Equal(t, Unresolved, idx)
	assert.Equal(t, []any{"only"}, e.Columns().Samples("x"))

	// The registry is the caller's to clear.
	assert.Equal(t, 1, e.PatternCount())
}

func TestLoad_InvalidInputLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	var nilTable *Table
	tests := []struct {
		name  string
		names []string
		data  Dataset
		kind  error
	}{
		{"nil names", nil, census(), ErrIncorrect},
		{"nil data", []string{"Year"}, nil, ErrAbsent},
		{"typed nil table", []string{"Year"}, nilTable, ErrAbsent},
		{"duplicate names", []string{"Year", "Year"}, census(), ErrIncorrect},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := New()
			require.NoError(t, e.Load([]string{"Sex"}, census()))
			before := e.Columns().Samples("Sex")

			err := e.Load(tt.names, tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			assert.Equal(t, []string{"Sex"}, e.Columns().Names())
			assert.Equal(t, before, e.Columns().Samples("Sex"))
		})
	}
}

func TestLoad_MissingFieldsSampleAsNil(t *testing.T) {
	t.Parallel()

	e := New()
	data := NewTable(2)
	data.Append("r1", MapRecord{"a": 1})
	data.Append("r2", nil)
	require.NoError(t, e.Load([]string{"a", "b"}, data))

	assert.Equal(t, []any{1, nil}, e.Columns().Samples("a"))
	assert.Equal(t, []any{nil, nil}, e.Columns().Samples("b"))
}

func TestLoadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		names   any
		data    any
		wantErr error
		want    []any
	}{
		{
			name:  "string slice and row maps",
			names: []string{"a"},
			data:  []map[string]any{{"a": 1}, {"a": 2}},
			want:  []any{1, 2},
		},
		{
			name:  "decoded json shapes",
			names: []any{"a"},
			data:  []any{map[string]any{"a": "x"}, map[string]any{"a": "y"}},
			want:  []any{"x", "y"},
		},
		{
			name:  "row keyed object",
			names: []string{"a"},
			data: map[string]any{
				"b":  map[string]any{"a": "third"},
				"10": map[string]any{"a": "second"},
				"2":  map[string]any{"a": "first"},
			},
			want: []any{"first", "second", "third"},
		},
		{
			name:    "names not a sequence",
			names:   "Year",
			data:    []map[string]any{},
			wantErr: ErrIncorrect,
		},
		{
			name:    "names with a non-string",
			names:   []any{"a", 1},
			data:    []map[string]any{},
			wantErr: ErrIncorrect,
		},
		{
			name:    "data absent",
			names:   []string{"a"},
			data:    nil,
			wantErr: ErrAbsent,
		},
		{
			name:    "data not indexable",
			names:   []string{"a"},
			data:    42,
			wantErr: ErrIncorrect,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := New()
			err := e.LoadValues(tt.names, tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, e.Columns().Count())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Columns().Samples("a"))
		})
	}
}

func TestAdd_RegistrationCap(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Add(keepAll, always), "add #%d", i)
	}
	err := e.Add(keepAll, always)
	require.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 3, e.PatternCount())

	var ue *UsageError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindCapacity, ue.Kind)
}

func TestAdd_NoColumnsMeansNoPatterns(t *testing.T) {
	t.Parallel()

	e := New()
	require.ErrorIs(t, e.Add(keepAll, always), ErrCapacity)
	assert.Zero(t, e.PatternCount())
}

func TestAdd_RejectsMissingCallbacks(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex"}, census()))

	err := e.Add(nil, always)
	require.ErrorIs(t, err, ErrIncorrect)
	var ue *UsageError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "filter", ue.Arg)

	err = e.Add(keepAll, nil)
	require.ErrorIs(t, err, ErrIncorrect)
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "condition", ue.Arg)

	assert.Zero(t, e.PatternCount())
}

func TestFollows(t *testing.T) {
	t.Parallel()

	e := New()

	var gotIdx []int
	p := &Pattern{
		Filter: func(v any, i int, self []any) bool {
			gotIdx = append(gotIdx, i)
			require.Len(t, self, 4)
			return firstOccurrence(v, i, self)
		},
		Condition: lenIs(2),
	}
	ok, err := e.Follows([]any{"M", "F", "M", "F"}, p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{0, 1, 2, 3}, gotIdx)

	ok, err = e.Follows([]any{}, &Pattern{Filter: keepAll, Condition: lenIs(0)})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.Follows(nil, p)
	require.ErrorIs(t, err, ErrAbsent)

	_, err = e.Follows([]any{1}, nil)
	require.ErrorIs(t, err, ErrAbsent)

	_, err = e.Follows([]any{1}, &Pattern{Filter: keepAll})
	require.ErrorIs(t, err, ErrAbsent)
}

// The year / binary / catch-all trio used by the rendering layer.
func TestCompute_CensusTrio(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))
	require.NoError(t, e.Add(implausibleYear, lenIs(0)))
	require.NoError(t, e.Add(firstOccurrence, lenIs(2)))
	require.NoError(t, e.Add(keepAll, always))

	matched := e.Compute()
	assert.Equal(t, 3, matched)

	want := []Resolution{
		{Column: "Year", Position: 0, Index: 0},
		{Column: "Sex", Position: 1, Index: 1},
		// The catch-all claims the first column it tests, which is Year
		// again; Age is never claimed.
		{Column: "Age", Position: 2, Index: Unresolved},
	}
	if diff := cmp.Diff(want, e.Mapping()); diff != "" {
		t.Fatalf("Mapping() mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < e.PatternCount(); i++ {
		assert.True(t, e.Pattern(i).Matched(), "pattern %d", i)
	}
}

func TestCompute_YearPatternSkipsColumnsWithImplausibleValues(t *testing.T) {
	t.Parallel()

	e := New()
	data := FromMaps([]map[string]any{
		{"Age": 25, "Label": "a", "Year": 2001},
		{"Age": 40, "Label": "b", "Year": 2006},
	})
	require.NoError(t, e.Load([]string{"Age", "Label", "Year"}, data))
	require.NoError(t, e.Add(implausibleYear, lenIs(0)))

	assert.Equal(t, 1, e.Compute())
	idx, _ := e.Columns().Index("Year")
	assert.Equal(t, 2, idx)
	for _, n := range []string{"Age", "Label"} {
		idx, _ := e.Columns().Index(n)
		assert.Equal(t, Unresolved, idx, n)
	}
}

func TestCompute_FirstFitClaim(t *testing.T) {
	t.Parallel()

	e := New()
	data := FromMaps([]map[string]any{
		{"a": 1, "b": "x", "c": "p"},
		{"a": 2, "b": "y", "c": "q"},
		{"a": 3, "b": "x", "c": "p"},
	})
	require.NoError(t, e.Load([]string{"a", "b", "c"}, data))
	require.NoError(t, e.Add(firstOccurrence, lenIs(2)))

	assert.Equal(t, 1, e.Compute())
	b, _ := e.Columns().Index("b")
	c, _ := e.Columns().Index("c")
	assert.Equal(t, 1, b)
	assert.Equal(t, Unresolved, c, "a pattern claims one column only")
}

func TestCompute_LaterPatternOverwritesSameColumn(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex"}, census()))

	var tested []string
	trace := func(tag string) Filter {
		return func(any, int, []any) bool {
			tested = append(tested, tag)
			return true
		}
	}
	require.NoError(t, e.Add(trace("p1"), always))
	require.NoError(t, e.Add(trace("p2"), always))

	assert.Equal(t, 2, e.Compute(), "both patterns count as matched")

	year, _ := e.Columns().Index("Year")
	sex, _ := e.Columns().Index("Sex")
	assert.Equal(t, 0, year)
	assert.Equal(t, Unresolved, sex)
	assert.Equal(t, "Year", e.Pattern(0).Claimed())
	assert.Equal(t, "Year", e.Pattern(1).Claimed())

	// Each pattern stops after its first claim: four samples, one column each.
	assert.Len(t, tested, 8)
}

func TestCompute_UnmatchedPatternIsNotCounted(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))
	require.NoError(t, e.Add(keepAll, never))
	require.NoError(t, e.Add(firstOccurrence, lenIs(2)))

	assert.Equal(t, 1, e.Compute())
	assert.False(t, e.Pattern(0).Matched())
	assert.Empty(t, e.Pattern(0).Claimed())
	assert.True(t, e.Pattern(1).Matched())
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()

	build := func() *Engine {
		e := New()
		require.NoError(t, e.Load([]string{"Year", "Sex", "Age"}, census()))
		require.NoError(t, e.Add(implausibleYear, lenIs(0)))
		require.NoError(t, e.Add(firstOccurrence, lenIs(2)))
		require.NoError(t, e.Add(firstOccurrence, lenIs(3)))
		return e
	}

	first := build()
	first.Compute()
	want := first.Mapping()

	for i := 0; i < 20; i++ {
		e := build()
		e.Compute()
		require.Equal(t, want, e.Mapping(), "run %d", i)
	}

	// Computing again on the same engine changes nothing.
	assert.Equal(t, 3, first.Compute())
	assert.Equal(t, want, first.Mapping())
}

func TestClearPatterns(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.Load([]string{"Year"}, census()))
	require.NoError(t, e.Add(keepAll, always))
	require.ErrorIs(t, e.Add(keepAll, always), ErrCapacity)

	e.ClearPatterns()
	assert.Zero(t, e.PatternCount())
	assert.Nil(t, e.Pattern(0))
	require.NoError(t, e.Add(keepAll, always))
}

func TestUsageErrorsAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	e := New(WithLogger(zap.New(core)))

	_ = e.Load(nil, census())
	_ = e.Add(keepAll, always)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "incorrect", entries[0].ContextMap()["kind"])
	assert.Equal(t, "names", entries[0].ContextMap()["arg"])
	assert.Equal(t, "capacity", entries[1].ContextMap()["kind"])
}

func TestKindString(t *testing.T) {
	t.Parallel()

	for k, want := range map[Kind]string{
		KindAbsent:    "absent",
		KindIncorrect: "incorrect",
		KindCapacity:  "capacity",
		Kind(99):      "unknown",
	} {
		assert.Equal(t, want, k.String(), strconv.Itoa(int(k)))
	}
}
