// Package builtin is a catalogue of ready-made patterns for the
// generalize engine, selectable by name from job configuration.
package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"generalize/internal/generalize"
)

// Spec is a filter/condition pair ready to be passed to Engine.Add.
type Spec struct {
	Name      string
	Filter    generalize.Filter
	Condition generalize.Condition
}

// Register adds s to e.
func (s Spec) Register(e *generalize.Engine) error {
	return e.Add(s.Filter, s.Condition)
}

// ImplausibleYear keeps every value that cannot be a year: non-numbers and
// numbers <= 1000 or >= current year + 100. The condition holds when nothing
// was kept, so the pattern fits a column made only of plausible years.
//
// now is consulted once per filter call; nil means time.Now.
func ImplausibleYear(now func() time.Time) Spec {
	if now == nil {
		now = time.Now
	}
	return Spec{
		Name: "year",
		Filter: func(value any, _ int, _ []any) bool {
			n, ok := ToNumber(value)
			if !ok {
				return true
			}
			y := float64(now().Year())
			return n <= 1000 || n >= y+100
		},
		Condition: func(filtered []any) bool {
			return len(filtered) == 0
		},
	}
}

// FirstOccurrence keeps a value only at the position of its first
// occurrence, reducing a sample to its distinct values in order.
func FirstOccurrence(value any, index int, self []any) bool {
	return IndexOf(self, value) == index
}

// Distinct fits columns with exactly n distinct sampled values.
func Distinct(n int) Spec {
	return Spec{
		Name:   "distinct:" + strconv.Itoa(n),
		Filter: FirstOccurrence,
		Condition: func(filtered []any) bool {
			return len(filtered) == n
		},
	}
}

// Binary fits columns with exactly two distinct sampled values.
func Binary() Spec {
	s := Distinct(2)
	s.Name = "binary"
	return s
}

// MaxDistinct fits columns with between 1 and n distinct sampled values.
func MaxDistinct(n int) Spec {
	return Spec{
		Name:   "max_distinct:" + strconv.Itoa(n),
		Filter: FirstOccurrence,
		Condition: func(filtered []any) bool {
			return len(filtered) >= 1 && len(filtered) <= n
		},
	}
}

// Numeric fits columns whose sampled values are all numbers.
func Numeric() Spec {
	return Spec{
		Name: "numeric",
		Filter: func(value any, _ int, _ []any) bool {
			_, ok := ToNumber(value)
			return !ok
		},
		Condition: func(filtered []any) bool {
			return len(filtered) == 0
		},
	}
}

// Any fits every column. Registered last, it claims the first column
// tested.
func Any() Spec {
	return Spec{
		Name:      "any",
		Filter:    func(any, int, []any) bool { return true },
		Condition: func([]any) bool { return true },
	}
}

// Default is the year / binary category / remainder trio, in that priority.
func Default(now func() time.Time) []Spec {
	return []Spec{ImplausibleYear(now), Binary(), Any()}
}

// Names lists the pattern names Lookup understands.
func Names() []string {
	return []string{"year", "binary", "distinct:<n>", "max_distinct:<n>", "numeric", "any"}
}

// Lookup resolves a pattern by name. Names are case-insensitive.
func Lookup(name string, now func() time.Time) (Spec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	arg := ""
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key, arg = key[:i], strings.TrimSpace(key[i+1:])
	}

	needN := func() (int, error) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("pattern %q: want a positive count after ':'", name)
		}
		return n, nil
	}

	switch key {
	case "year", "binary", "numeric", "any":
		if arg != "" {
			return Spec{}, fmt.Errorf("pattern %q takes no argument", name)
		}
	}

	switch key {
	case "year":
		return ImplausibleYear(now), nil
	case "binary":
		return Binary(), nil
	case "distinct":
		n, err := needN()
		if err != nil {
			return Spec{}, err
		}
		return Distinct(n), nil
	case "max_distinct":
		n, err := needN()
		if err != nil {
			return Spec{}, err
		}
		return MaxDistinct(n), nil
	case "numeric":
		return Numeric(), nil
	case "any":
		return Any(), nil
	default:
		return Spec{}, fmt.Errorf("unknown pattern %q (known: %s)", name, strings.Join(Names(), ", "))
	}
}
