package generalize

import (
	"errors"
	"fmt"
)

// Kind classifies a usage error.
type Kind int

const (
	// KindAbsent means a required argument was missing.
	KindAbsent Kind = iota + 1
	// KindIncorrect means an argument was present but had the wrong shape.
	KindIncorrect
	// KindCapacity means a pattern was registered after every column was
	// already spoken for.
	KindCapacity
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindIncorrect:
		return "incorrect"
	case KindCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *UsageError matches the sentinel of its Kind.
var (
	ErrAbsent    = errors.New("generalize: missing argument")
	ErrIncorrect = errors.New("generalize: incorrect argument")
	ErrCapacity  = errors.New("generalize: patterns exceeding columns")
)

// UsageError reports a malformed call into the engine.
//
// Usage errors are never fatal: the call that produced one left the engine
// state unchanged, and the caller may correct the input and retry.
type UsageError struct {
	Kind Kind
	// Arg names the offending argument ("names", "data", "filter", ...).
	Arg string
	Msg string
}

func (e *UsageError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("usage error (%s %s): %s", e.Kind, e.Arg, e.Msg)
	}
	return fmt.Sprintf("usage error (%s %s)", e.Kind, e.Arg)
}

// Is lets errors.Is match a *UsageError against the Kind sentinels.
func (e *UsageError) Is(target error) bool {
	switch target {
	case ErrAbsent:
		return e.Kind == KindAbsent
	case ErrIncorrect:
		return e.Kind == KindIncorrect
	case ErrCapacity:
		return e.Kind == KindCapacity
	}
	return false
}

func absent(arg string) *UsageError {
	return &UsageError{Kind: KindAbsent, Arg: arg, Msg: "no " + arg + " argument provided"}
}

func incorrect(arg, msg string) *UsageError {
	return &UsageError{Kind: KindIncorrect, Arg: arg, Msg: msg}
}
