// Package metrics is the backend-agnostic instrumentation facade used by the
// classification runner and the sample sources.
//
// Core code calls the package-level helpers; a concrete backend (Datadog, or
// the default no-op) is installed once at process start with SetBackend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names emitted by this module.
const (
	RunsTotal           = "generalize_runs_total"
	PatternsTotal       = "generalize_patterns_total"
	RowsSampledTotal    = "generalize_rows_sampled_total"
	StepDuration        = "generalize_step_duration_seconds"
	HTTPRequestsTotal   = "generalize_http_requests_total"
	HTTPRequestDuration = "generalize_http_request_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nop{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered data out of the installed backend.
func Flush() error { return current().Flush() }

// ObserveStep records how long a named step took and how it ended.
func ObserveStep(step string, start time.Time, err error) {
	ObserveHistogram(StepDuration, time.Since(start).Seconds(), Labels{"step": step, "status": Status(err)})
}

// Status maps an error to the "status" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTP counts one outbound request and records its latency. A
// transport error (no response) is labeled "error".
func ObserveHTTP(start time.Time, statusCode int, err error) {
	status := "error"
	if err == nil {
		status = strconv.Itoa(statusCode)
	}
	l := Labels{"status": status}
	IncCounter(HTTPRequestsTotal, 1, l)
	ObserveHistogram(HTTPRequestDuration, time.Since(start).Seconds(), l)
}
