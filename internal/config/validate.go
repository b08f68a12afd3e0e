package config

import (
	"fmt"
	"strings"
	"time"

	"generalize/internal/generalize/builtin"
	"generalize/internal/source"
	"generalize/internal/storage"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. Path points at the offending field
// in JSON-path-like notation.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJobs validates every job and checks names are unique.
func ValidateJobs(jobs []Job) []Issue {
	var out []Issue
	seen := make(map[string]int, len(jobs))
	for i, j := range jobs {
		prefix := fmt.Sprintf("jobs[%d].", i)
		for _, iss := range ValidateJob(j) {
			iss.Path = prefix + iss.Path
			out = append(out, iss)
		}
		if j.Name == "" {
			continue
		}
		if first, dup := seen[j.Name]; dup {
			out = append(out, Issue{SeverityError, prefix + "name", fmt.Sprintf("duplicate job name %q (first used by jobs[%d])", j.Name, first)})
			continue
		}
		seen[j.Name] = i
	}
	return out
}

// ValidateJob checks a job before anything is opened. Output kinds are
// checked against the registered storage backends.
func ValidateJob(j Job) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(j.Name) == "" {
		add(SeverityError, "name", "is required")
	}

	validateSource(j.Source, add)

	if j.SampleLimit < 0 {
		add(SeverityError, "sample_limit", "must be >= 0, got %d", j.SampleLimit)
	}

	if len(j.Patterns) == 0 {
		add(SeverityWarning, "patterns", "none configured; the year/binary/any defaults apply")
	}
	if n, c := len(j.Patterns), len(j.Source.Columns); c > 0 && n > c {
		add(SeverityError, "patterns", "%d patterns for %d columns; registration stops at the column count", n, c)
	}
	roles := make(map[string]int, len(j.Patterns))
	for i, p := range j.Patterns {
		path := fmt.Sprintf("patterns[%d]", i)
		switch role := strings.TrimSpace(p.Role); {
		case role == "":
			add(SeverityError, path+".role", "is required")
		default:
			if first, dup := roles[role]; dup {
				add(SeverityError, path+".role", "duplicate role %q (first used by patterns[%d])", role, first)
			} else {
				roles[role] = i
			}
		}
		if _, err := builtin.Lookup(p.Match, nil); err != nil {
			add(SeverityError, path+".match", "%v", err)
		}
	}

	if o := j.Output; o != nil {
		if !isOneOf(o.Kind, storage.Kinds()) {
			add(SeverityError, "output.kind", "unknown kind %q (registered: %s)", o.Kind, strings.Join(storage.Kinds(), ", "))
		}
		if strings.TrimSpace(o.DSN) == "" {
			add(SeverityError, "output.dsn", "is required")
		}
	}

	switch j.Metrics.Backend {
	case "", "none":
		if len(j.Metrics.Tags) > 0 {
			add(SeverityWarning, "metrics.tags", "ignored while metrics are disabled")
		}
	case "datadog":
		for i, tag := range j.Metrics.Tags {
			if strings.TrimSpace(tag) == "" {
				add(SeverityError, fmt.Sprintf("metrics.tags[%d]", i), "is empty")
			}
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none or datadog)", j.Metrics.Backend)
	}
	if j.Metrics.FlushEvery < 0 {
		add(SeverityError, "metrics.flush_every", "must be positive")
	} else if j.Metrics.FlushEvery > 0 && j.Metrics.FlushEvery < time.Second {
		add(SeverityWarning, "metrics.flush_every", "%s is shorter than Datadog's 1s resolution", j.Metrics.FlushEvery)
	}

	return out
}

func validateSource(s source.Spec, add func(Severity, string, string, ...any)) {
	switch {
	case s.Kind == "":
		add(SeverityError, "source.kind", "is required")
	case !source.Known(s.Kind):
		add(SeverityError, "source.kind", "unknown kind %q (known: %s)", s.Kind, strings.Join(source.Kinds(), ", "))
	}

	switch s.Kind {
	case "file", "html":
		if strings.TrimSpace(s.Location()) == "" {
			add(SeverityError, "source.path", "path or url is required for %s sources", s.Kind)
		}
		if s.Path != "" && s.URL != "" {
			add(SeverityWarning, "source.url", "ignored because path is set")
		}
	case "postgres", "mssql", "sqlite":
		if strings.TrimSpace(s.DSN) == "" {
			add(SeverityError, "source.dsn", "is required for %s sources", s.Kind)
		}
		if strings.TrimSpace(s.Table) == "" {
			add(SeverityError, "source.table", "is required for %s sources", s.Kind)
		}
	}

	if len(s.Columns) == 0 {
		add(SeverityError, "source.columns", "at least one column is required")
	}
	seen := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		path := fmt.Sprintf("source.columns[%d]", i)
		if strings.TrimSpace(c) == "" {
			add(SeverityError, path, "is empty")
			continue
		}
		if first, dup := seen[c]; dup {
			add(SeverityError, path, "duplicate column %q (first at source.columns[%d])", c, first)
			continue
		}
		seen[c] = i
	}
}

func isOneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
