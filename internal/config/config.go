// Package config describes classification jobs and loads them from YAML or
// JSON files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"generalize/internal/generalize"
	"generalize/internal/source"
)

// DefaultResultsTable is the output table used when none is configured.
const DefaultResultsTable = "column_roles"

// DefaultFlushEvery is the Datadog flush interval used when none is configured.
const DefaultFlushEvery = 60 * time.Second

// Job is one classification task: a sampled dataset, the roles to look for,
// and where to record the outcome.
type Job struct {
	Name   string      `yaml:"name" json:"name"`
	Source source.Spec `yaml:"source" json:"source"`

	// SampleLimit caps the rows sampled per column. 0 means the engine default.
	SampleLimit int `yaml:"sample_limit,omitempty" json:"sample_limit,omitempty"`

	// Patterns are registered in order; earlier patterns claim columns first.
	// An empty list selects the year / binary / remainder defaults.
	Patterns []Pattern `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	Output  *Output `yaml:"output,omitempty" json:"output,omitempty"`
	Metrics Metrics `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Pattern names a role and the built-in pattern that recognizes it.
type Pattern struct {
	Role  string `yaml:"role" json:"role"`
	Match string `yaml:"match" json:"match"`
}

// Output selects the storage backend that receives per-column results.
type Output struct {
	// Kind: "postgres" | "mssql" | "sqlite"
	Kind  string `yaml:"kind" json:"kind"`
	DSN   string `yaml:"dsn" json:"dsn"`
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

// Metrics selects the metrics backend for a run.
type Metrics struct {
	// Backend: "" | "none" | "datadog"
	Backend    string        `yaml:"backend,omitempty" json:"backend,omitempty"`
	Tags       []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	FlushEvery time.Duration `yaml:"flush_every,omitempty" json:"flush_every,omitempty"`
}

// WithDefaults returns j with unset knobs filled in.
func (j Job) WithDefaults() Job {
	if j.SampleLimit <= 0 {
		j.SampleLimit = generalize.DefaultSampleLimit
	}
	if j.Output != nil && j.Output.Table == "" {
		out := *j.Output
		out.Table = DefaultResultsTable
		j.Output = &out
	}
	if j.Metrics.FlushEvery <= 0 {
		j.Metrics.FlushEvery = DefaultFlushEvery
	}
	return j
}

// Load reads every job in the file at path. A file may hold several YAML
// documents separated by "---"; a JSON file holds one job.
func Load(path string) ([]Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jobs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// Parse decodes one or more jobs. Unknown keys are rejected so typos surface
// before a run.
func Parse(b []byte) ([]Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var jobs []Job
	for {
		var j Job
		err := dec.Decode(&j)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode job %d: %w", len(jobs), err)
		}
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		return nil, errors.New("no jobs defined")
	}
	return jobs, nil
}
