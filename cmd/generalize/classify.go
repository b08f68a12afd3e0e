package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"generalize/internal/classify"
	"generalize/internal/config"
)

type classifyOptions struct {
	cfgPath        string
	asJSON         bool
	parallel       int
	metricsBackend string
}

func newClassifyCmd(a *app) *cobra.Command {
	var o classifyOptions
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Sample each job's source and resolve its column roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClassify(cmd, a, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.cfgPath, "config", "c", "", "Job file (YAML or JSON)")
	f.BoolVar(&o.asJSON, "json", false, "Print reports as JSON")
	f.IntVar(&o.parallel, "parallel", 4, "Jobs run at once (0 = all)")
	f.StringVar(&o.metricsBackend, "metrics-backend", "", "Metrics backend: none|datadog (overrides METRICS_BACKEND and the job file)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runClassify(cmd *cobra.Command, a *app, o classifyOptions) error {
	jobs, err := loadJobs(cmd.ErrOrStderr(), o.cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics := initMetrics(ctx, a.log, metricsSettings(jobs, o.metricsBackend))
	defer closeMetrics()

	a.log.Info("classify", zap.String("config", o.cfgPath), zap.Int("jobs", len(jobs)), zap.Int("parallel", o.parallel))
	reports, runErr := classify.RunAll(ctx, jobs, classify.Deps{Logger: a.log}, o.parallel)

	var done []classify.Report
	for _, r := range reports {
		if r.Fingerprint != "" {
			done = append(done, r)
		}
	}
	if err := writeReports(cmd.OutOrStdout(), done, o.asJSON); err != nil {
		return err
	}
	return runErr
}

func writeReports(w io.Writer, reports []classify.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if reports == nil {
			reports = []classify.Report{}
		}
		return enc.Encode(reports)
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := r.WriteText(w); err != nil {
			return err
		}
	}
	return nil
}

// metricsSettings picks the process-wide metrics setup. The backend comes from
// the flag, then METRICS_BACKEND, then the first job that names one.
func metricsSettings(jobs []config.Job, flagBackend string) metricsConfig {
	mc := metricsConfig{backend: flagBackend, jobName: "generalize"}
	if len(jobs) == 0 {
		return mc
	}
	if len(jobs) == 1 {
		mc.jobName = jobs[0].Name
	}
	if mc.backend == "" {
		mc.backend = os.Getenv("METRICS_BACKEND")
	}

	src := jobs[0]
	for _, j := range jobs {
		if j.Metrics.Backend != "" {
			src = j
			break
		}
	}
	src = src.WithDefaults()
	if mc.backend == "" {
		mc.backend = src.Metrics.Backend
	}
	mc.tags = src.Metrics.Tags
	mc.flushEvery = src.Metrics.FlushEvery
	return mc
}
