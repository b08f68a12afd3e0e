package main

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"generalize/internal/config"
	"generalize/internal/probe"
	"generalize/internal/source"
)

type probeOptions struct {
	url           string
	bytes         int
	rows          int
	delimiter     string
	columns       string
	name          string
	report        bool
	allowInsecure bool
	outputKind    string
	dsn           string
	timeout       time.Duration
}

func newProbeCmd(a *app) *cobra.Command {
	var o probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample a CSV/JSON file and print a starter job or a uniqueness report",
		Long: `probe reads a bounded prefix of a local or remote CSV/JSON file, detects its
format and headers, and prints a job definition that classify accepts.

With --report it prints per-column distinct counts instead, most repetitive
columns first, which helps when choosing patterns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, a, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", "", "URL or path of the source file (CSV or JSON)")
	f.IntVar(&o.bytes, "bytes", probe.DefaultMaxBytes, "Bytes sampled from the start of the file")
	f.IntVar(&o.rows, "rows", 100, "Rows parsed from the sample")
	f.StringVar(&o.delimiter, "delimiter", "", "CSV delimiter (default ,)")
	f.StringVar(&o.columns, "columns", "", "Comma-separated columns to keep (default: every header)")
	f.StringVar(&o.name, "name", "", "Job name (default: derived from the file name)")
	f.BoolVar(&o.report, "report", false, "Print a uniqueness report instead of a job")
	f.BoolVar(&o.allowInsecure, "allow-insecure", false, "Skip TLS verification for https sources")
	f.StringVar(&o.outputKind, "output-kind", "", "Add an output block for this storage kind: postgres|mssql|sqlite")
	f.StringVar(&o.dsn, "dsn", "", "Output DSN (overrides DSN and DSN_* environment variables)")
	f.DurationVar(&o.timeout, "timeout", 60*time.Second, "Bound on fetching the sample")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runProbe(cmd *cobra.Command, a *app, o probeOptions) error {
	if strings.TrimSpace(o.url) == "" {
		return fmt.Errorf("--url must not be empty")
	}
	var delim rune
	if o.delimiter != "" {
		r, size := utf8.DecodeRuneInString(o.delimiter)
		if size != len(o.delimiter) {
			return fmt.Errorf("--delimiter must be a single character, got %q", o.delimiter)
		}
		delim = r
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	res, err := probe.Probe(ctx, probe.Options{
		URL:              o.url,
		MaxBytes:         o.bytes,
		MaxRows:          o.rows,
		Delimiter:        delim,
		AllowInsecureTLS: o.allowInsecure,
		Timeout:          o.timeout,
	})
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	a.log.Debug("probed",
		zap.String("url", o.url),
		zap.Stringer("format", res.Format),
		zap.Strings("headers", res.Headers),
		zap.Int("rows", res.Rows.Len()))

	columns := res.Headers
	if wanted := splitCSV(o.columns); len(wanted) > 0 {
		if _, err := probe.MatchColumns(res.Headers, wanted); err != nil {
			return err
		}
		columns = wanted
	}

	out := cmd.OutOrStdout()
	if o.report {
		_, err := fmt.Fprintln(out, probe.FormatReport(probe.ComputeUniqueness(res.Rows, res.Headers)))
		return err
	}

	job, err := starterJob(o, columns, delim)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return enc.Close()
}

// starterJob builds a job for the probed file. Patterns are left empty so the
// defaults apply until someone picks real ones.
func starterJob(o probeOptions, columns []string, delim rune) (config.Job, error) {
	name := strings.TrimSpace(o.name)
	if name == "" {
		name = jobNameFromURL(o.url)
	}
	spec := source.Spec{Kind: "file", Columns: columns}
	if strings.HasPrefix(o.url, "http://") || strings.HasPrefix(o.url, "https://") {
		spec.URL = o.url
	} else {
		spec.Path = o.url
	}
	if delim != 0 {
		spec.Delimiter = string(delim)
	}

	job := config.Job{Name: name, Source: spec, SampleLimit: o.rows}
	if kind := strings.TrimSpace(o.outputKind); kind != "" {
		dsn, err := resolveDSN(kind, o.dsn)
		if err != nil {
			return config.Job{}, err
		}
		job.Output = &config.Output{Kind: normalizeBackend(kind), DSN: dsn, Table: config.DefaultResultsTable}
	}
	return job, nil
}

// jobNameFromURL derives a job name from the last path element, without its
// extension, normalized to an identifier.
func jobNameFromURL(u string) string {
	u = strings.TrimRight(strings.SplitN(u, "?", 2)[0], "/")
	if i := strings.LastIndexAny(u, `/\`); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.IndexByte(u, '.'); i > 0 {
		u = u[:i]
	}
	if n := probe.NormalizeFieldName(u); n != "" {
		return n
	}
	return "dataset"
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
