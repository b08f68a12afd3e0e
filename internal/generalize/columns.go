package generalize

// Unresolved is the index reported for a column no pattern has claimed.
const Unresolved = -1

// Columns holds the loaded column names, their resolved indices, and the
// sampled values used for pattern matching.
type Columns struct {
	names   []string
	index   map[string]int
	samples map[string][]any
}

// Names returns the column names in declaration order.
func (c *Columns) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Count returns the number of loaded columns.
func (c *Columns) Count() int { return len(c.names) }

// Has reports whether exactly n columns are loaded.
func (c *Columns) Has(n int) bool { return c.Count() == n }

// Index returns the resolved index of a column. ok is false when the name
// was never loaded; a loaded but unclaimed column reports Unresolved.
func (c *Columns) Index(name string) (idx int, ok bool) {
	idx, ok = c.index[name]
	if !ok {
		return Unresolved, false
	}
	return idx, true
}

// Samples returns the sampled values of a column, in row order.
func (c *Columns) Samples(name string) []any {
	return c.samples[name]
}

func (c *Columns) setIndex(name string, i int) {
	c.index[name] = i
}

func (c *Columns) reset(names []string) {
	c.names = names
	c.index = make(map[string]int, len(names))
	c.samples = make(map[string][]any, len(names))
	for _, n := range names {
		c.index[n] = Unresolved
		c.samples[n] = []any{}
	}
}

// Resolution is one column of the mapping produced by Compute.
type Resolution struct {
	Column   string `json:"column"`
	Position int    `json:"position"`
	// Index is Unresolved unless some pattern claimed the column.
	Index int `json:"index"`
}

// Resolved reports whether a pattern claimed the column.
func (r Resolution) Resolved() bool { return r.Index != Unresolved }
