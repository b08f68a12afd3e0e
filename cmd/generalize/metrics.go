package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"generalize/internal/metrics"
	"generalize/internal/metrics/datadog"
)

type metricsConfig struct {
	backend    string
	jobName    string
	tags       []string
	flushEvery time.Duration
}

// initMetrics installs the configured backend and returns the function that
// flushes and detaches it. Failures fall back to the no-op backend.
func initMetrics(ctx context.Context, log *zap.Logger, mc metricsConfig) func() {
	switch mc.backend {
	case "datadog":
		// Extra tags from the environment complement the job file's tags.
		tags := append(append([]string(nil), mc.tags...), datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)

		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    mc.jobName,
			Tags:       tags,
			FlushEvery: mc.flushEvery,
		})
		if err != nil {
			log.Warn("metrics: datadog init failed; using nop", zap.Error(err))
			return func() {}
		}
		log.Info("metrics enabled",
			zap.String("backend", mc.backend),
			zap.String("job_name", mc.jobName),
			zap.Strings("tags", tags),
			zap.Duration("flush_every", mc.flushEvery))
		metrics.SetBackend(b)

		// Close stops the flush loop and submits what is still buffered.
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		log.Debug("metrics disabled", zap.String("backend", mc.backend))
		return func() {}

	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", mc.backend))
		return func() {}
	}
}
