// Package generalize decides which column of a dataset plays which role.
//
// A caller loads a bounded sample of rows for a set of candidate columns,
// registers patterns in priority order, and computes. Each pattern claims the
// first column (in declaration order) whose filtered sample satisfies its
// condition. The resolved index of a claimed column is its declaration
// position; an unclaimed column stays Unresolved.
//
// Lifecycle per classification task:
//
//	e := generalize.New()
//	if err := e.Load(names, data); err != nil { ... }
//	_ = e.Add(filter, condition) // once per role, highest priority first
//	matched := e.Compute()
//
// Load resets columns but not the pattern registry. Callers that reuse an
// Engine across datasets must call ClearPatterns themselves.
//
// An Engine is not safe for concurrent use. Run concurrent tasks on
// separate engines.
package generalize

import (
	"go.uber.org/zap"
)

// DefaultSampleLimit is the number of rows Load samples when no limit is set.
const DefaultSampleLimit = 100

// Limits bounds the work done by an Engine.
type Limits struct {
	// Sample is the maximum number of rows sampled per Load. Values <= 0 use
	// DefaultSampleLimit.
	Sample int
}

func (l Limits) sample() int {
	if l.Sample <= 0 {
		return DefaultSampleLimit
	}
	return l.Sample
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampleLimit sets Limits.Sample.
func WithSampleLimit(n int) Option {
	return func(e *Engine) { e.limits.Sample = n }
}

// WithLogger sets the logger that receives usage diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine holds the state of one classification task.
type Engine struct {
	limits   Limits
	columns  Columns
	patterns patterns
	log      *zap.Logger
}

// New returns an Engine with no columns and no patterns.
func New(opts ...Option) *Engine {
	e := &Engine{log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	e.columns.reset(nil)
	return e
}

// Limits returns the effective limits.
func (e *Engine) Limits() Limits {
	return Limits{Sample: e.limits.sample()}
}

// Columns exposes the loaded columns and their resolved indices.
func (e *Engine) Columns() *Columns { return &e.columns }

// Pattern returns the i-th registered pattern, or nil when out of range.
func (e *Engine) Pattern(i int) *Pattern {
	if i < 0 || i >= e.patterns.count() {
		return nil
	}
	return e.patterns.get(i)
}

// PatternCount returns the number of registered patterns.
func (e *Engine) PatternCount() int { return e.patterns.count() }

// Load replaces the column set with names and samples up to Limits.Sample
// rows of data, in the dataset's natural order.
//
// Invalid input is rejected before anything is mutated. Patterns are kept.
func (e *Engine) Load(names []string, data Dataset) error {
	if names == nil {
		return e.fail(incorrect("names", "column names must be a sequence"))
	}
	if data == nil {
		return e.fail(absent("data"))
	}
	if t, ok := data.(*Table); ok && t == nil {
		return e.fail(absent("data"))
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return e.fail(incorrect("names", "duplicate column name "+n))
		}
		seen[n] = struct{}{}
	}

	own := make([]string, len(names))
	copy(own, names)
	e.columns.reset(own)

	limit := e.limits.sample()
	count := 0
	data.Range(func(_ string, rec Record) bool {
		if count >= limit {
			return false
		}
		count++
		for _, n := range own {
			var v any
			if rec != nil {
				v = rec.Value(n)
			}
			e.columns.samples[n] = append(e.columns.samples[n], v)
		}
		return true
	})

	e.log.Debug("columns loaded",
		zap.Int("columns", len(own)),
		zap.Int("rows_sampled", count),
		zap.Int("sample_limit", limit))
	return nil
}

// LoadValues is Load for dynamically shaped input such as decoded JSON.
//
// names may be []string or []any holding strings. data may be a Dataset,
// []map[string]any, []any of objects, map[string]map[string]any or
// map[string]any of objects.
func (e *Engine) LoadValues(names any, data any) error {
	ns, ok := asNames(names)
	if !ok {
		return e.fail(incorrect("names", "column names must be a sequence of strings"))
	}
	if data == nil {
		return e.fail(absent("data"))
	}
	ds, ok := asDataset(data)
	if !ok {
		return e.fail(incorrect("data", "data must be an indexable collection of records"))
	}
	return e.Load(ns, ds)
}

// Add registers a pattern. Registration order is match priority.
//
// There can never be more patterns than loaded columns; the call that would
// exceed that fails with KindCapacity and leaves the registry unchanged.
func (e *Engine) Add(f Filter, c Condition) error {
	if e.patterns.count() >= e.columns.Count() {
		return e.fail(&UsageError{Kind: KindCapacity, Arg: "pattern", Msg: "patterns exceeding columns"})
	}
	if f == nil {
		return e.fail(incorrect("filter", "filter must be a function"))
	}
	if c == nil {
		return e.fail(incorrect("condition", "condition must be a function"))
	}
	e.patterns.push(f, c)
	return nil
}

// ClearPatterns drops every registered pattern.
func (e *Engine) ClearPatterns() {
	e.patterns = patterns{}
}

// Follows reports whether samples satisfy p: the filter is applied to every
// element and the condition to the filtered result.
func (e *Engine) Follows(samples []any, p *Pattern) (bool, error) {
	if samples == nil {
		return false, e.fail(absent("array"))
	}
	if p == nil || p.Filter == nil || p.Condition == nil {
		return false, e.fail(absent("pattern object"))
	}
	return p.apply(samples), nil
}

// Compute matches patterns to columns and returns how many patterns have
// claimed a column.
//
// Patterns are tried in registration order, columns in declaration order. A
// pattern claims the first column it fits and is not tried again. A column
// already claimed by an earlier pattern can be claimed again by a later one;
// the index it ends up with is the one written last. Since the index written
// is always the column's own position, the count returned may exceed the
// number of distinct resolved columns.
func (e *Engine) Compute() int {
	for i := 0; i < e.patterns.count(); i++ {
		p := e.patterns.get(i)
		for j, name := range e.columns.names {
			if p.matched {
				break
			}
			ok, err := e.Follows(e.columns.samples[name], p)
			if err != nil || !ok {
				continue
			}
			e.columns.setIndex(name, j)
			p.matched = true
			p.claimed = name
			e.log.Debug("pattern matched",
				zap.Int("pattern", i),
				zap.String("column", name),
				zap.Int("index", j))
		}
	}
	return e.patterns.matchedCount()
}

// Mapping returns the resolution of every loaded column in declaration order.
func (e *Engine) Mapping() []Resolution {
	out := make([]Resolution, 0, len(e.columns.names))
	for i, n := range e.columns.names {
		idx, _ := e.columns.Index(n)
		out = append(out, Resolution{Column: n, Position: i, Index: idx})
	}
	return out
}

func (e *Engine) fail(err *UsageError) error {
	e.log.Warn("usage error",
		zap.String("kind", err.Kind.String()),
		zap.String("arg", err.Arg),
		zap.String("msg", err.Msg))
	return err
}
