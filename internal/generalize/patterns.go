package generalize

// Filter decides whether a sampled value is kept. It receives the value, its
// position, and the full sample so positional predicates ("first occurrence")
// can be written.
type Filter func(value any, index int, self []any) bool

// Condition decides whether the filtered sample fits the pattern.
type Condition func(filtered []any) bool

// Pattern is one hypothesis about what a column looks like.
type Pattern struct {
	Filter    Filter
	Condition Condition

	matched bool
	claimed string
}

// Matched reports whether the pattern has claimed a column.
func (p *Pattern) Matched() bool { return p.matched }

// Claimed returns the name of the column the pattern claimed, or "". A later
// pattern may have claimed the same column since.
func (p *Pattern) Claimed() string { return p.claimed }

// apply runs the filter over samples and the condition over what survives.
func (p *Pattern) apply(samples []any) bool {
	filtered := make([]any, 0, len(samples))
	for i, v := range samples {
		if p.Filter(v, i, samples) {
			filtered = append(filtered, v)
		}
	}
	return p.Condition(filtered)
}

// patterns is the ordered registry. Registration order is match priority.
type patterns struct {
	objects []*Pattern
}

func (r *patterns) count() int { return len(r.objects) }

func (r *patterns) get(i int) *Pattern { return r.objects[i] }

func (r *patterns) push(f Filter, c Condition) *Pattern {
	p := &Pattern{Filter: f, Condition: c}
	r.objects = append(r.objects, p)
	return p
}

func (r *patterns) matchedCount() int {
	n := 0
	for _, p := range r.objects {
		if p.matched {
			n++
		}
	}
	return n
}
