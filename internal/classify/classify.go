// Package classify runs classification jobs end to end: sample a source,
// resolve column roles with the generalize engine, and record the outcome.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"generalize/internal/config"
	"generalize/internal/fingerprint"
	"generalize/internal/generalize"
	"generalize/internal/generalize/builtin"
	"generalize/internal/metrics"
	"generalize/internal/source"
	"generalize/internal/storage"
)

// Deps are the collaborators of a run. Zero values select the real ones.
type Deps struct {
	Logger *zap.Logger
	Now    func() time.Time
	RunID  func() string

	OpenSource     func(ctx context.Context, spec source.Spec) (source.Source, error)
	OpenRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RunID == nil {
		d.RunID = uuid.NewString
	}
	if d.OpenSource == nil {
		d.OpenSource = source.Open
	}
	if d.OpenRepository == nil {
		d.OpenRepository = storage.New
	}
	return d
}

// Role is the outcome for one configured pattern.
type Role struct {
	Role  string `json:"role"`
	Match string `json:"match"`
	// Column is the column the pattern claimed, or "" when it claimed none.
	Column string `json:"column,omitempty"`
}

// Resolved reports whether the role found a column.
func (r Role) Resolved() bool { return r.Column != "" }

// Column is the outcome for one loaded column.
type Column struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	// Index is generalize.Unresolved when no pattern claimed the column.
	Index int `json:"index"`
	// Role is the last role to claim the column.
	Role string `json:"role,omitempty"`
}

// Report summarizes a run. Fingerprint digests the sample together with the
// applied patterns.
type Report struct {
	Job         string        `json:"job"`
	RunID       string        `json:"run_id"`
	Fingerprint string        `json:"fingerprint"`
	RowsSampled int           `json:"rows_sampled"`
	Matched     int           `json:"matched"`
	Roles       []Role        `json:"roles"`
	Columns     []Column      `json:"columns"`
	Stored      int64         `json:"stored"`
	Duration    time.Duration `json:"duration_ns"`
}

// Run executes one job. The job is expected to have passed
// config.ValidateJob; Run still fails cleanly on anything invalid.
func Run(ctx context.Context, job config.Job, deps Deps) (rep Report, err error) {
	deps = deps.withDefaults()
	job = job.WithDefaults()
	start := deps.Now()

	rep = Report{Job: job.Name, RunID: deps.RunID()}
	log := deps.Logger.With(zap.String("job", job.Name), zap.String("run_id", rep.RunID))

	defer func() {
		rep.Duration = deps.Now().Sub(start)
		metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": metrics.Status(err)})
		if err != nil {
			log.Error("classification failed", zap.Error(err))
			return
		}
		log.Info("classification done",
			zap.Int("rows_sampled", rep.RowsSampled),
			zap.Int("matched", rep.Matched),
			zap.Int64("stored", rep.Stored),
			zap.Duration("duration", rep.Duration))
	}()

	specs, err := patternSpecs(job, deps.Now)
	if err != nil {
		return rep, err
	}

	tbl, err := sample(ctx, job, deps)
	if err != nil {
		return rep, err
	}
	rep.RowsSampled = tbl.Len()
	metrics.IncCounter(metrics.RowsSampledTotal, float64(tbl.Len()), nil)
	log.Debug("sampled", zap.Int("rows", tbl.Len()), zap.Strings("columns", job.Source.Columns))

	e, matched, err := resolve(job, tbl, specs, log)
	if err != nil {
		return rep, err
	}

	applied := make([]fingerprint.Pattern, len(specs))
	for i, s := range specs {
		applied[i] = fingerprint.Pattern{Role: s.role, Match: s.Name}
	}
	rep.Fingerprint = fingerprint.Run(e.Columns(), applied)
	rep.Matched = matched
	byColumn := make(map[string]string, len(specs))
	for i, s := range specs {
		p := e.Pattern(i)
		r := Role{Role: s.role, Match: s.Name, Column: p.Claimed()}
		rep.Roles = append(rep.Roles, r)

		outcome := "unmatched"
		if p.Matched() {
			outcome = "matched"
			byColumn[r.Column] = r.Role
		}
		metrics.IncCounter(metrics.PatternsTotal, 1, metrics.Labels{"outcome": outcome})
	}
	for _, m := range e.Mapping() {
		c := Column{Name: m.Column, Position: m.Position, Index: m.Index}
		if m.Resolved() {
			c.Role = byColumn[m.Column]
		}
		rep.Columns = append(rep.Columns, c)
	}

	if job.Output != nil {
		rows := storage.ResultRows(rep.RunID, rep.Fingerprint, job.Name, e.Mapping(), resolvedRoles(rep.Columns), rep.Matched, start)
		if rep.Stored, err = persist(ctx, *job.Output, rows, deps); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

type roleSpec struct {
	builtin.Spec
	role string
}

// patternSpecs resolves the configured patterns, or the defaults when none
// are configured. Defaults beyond the column count are dropped since the
// engine accepts at most one pattern per column.
func patternSpecs(job config.Job, now func() time.Time) ([]roleSpec, error) {
	if len(job.Patterns) == 0 {
		var out []roleSpec
		for _, s := range builtin.Default(now) {
			if len(out) == len(job.Source.Columns) {
				break
			}
			out = append(out, roleSpec{Spec: s, role: s.Name})
		}
		return out, nil
	}
	out := make([]roleSpec, 0, len(job.Patterns))
	for i, p := range job.Patterns {
		s, err := builtin.Lookup(p.Match, now)
		if err != nil {
			return nil, fmt.Errorf("patterns[%d]: %w", i, err)
		}
		out = append(out, roleSpec{Spec: s, role: p.Role})
	}
	return out, nil
}

func sample(ctx context.Context, job config.Job, deps Deps) (_ *generalize.Table, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep("sample", start, err) }()

	src, err := deps.OpenSource(ctx, job.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tbl, err := src.Sample(ctx, job.SampleLimit)
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	return tbl, nil
}

// resolve loads the sample into a fresh engine, registers the patterns in
// order and computes. It returns the number of patterns that matched.
func resolve(job config.Job, tbl *generalize.Table, specs []roleSpec, log *zap.Logger) (_ *generalize.Engine, _ int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep("compute", start, err) }()

	e := generalize.New(generalize.WithSampleLimit(job.SampleLimit), generalize.WithLogger(log))
	if err := e.Load(job.Source.Columns, tbl); err != nil {
		return nil, 0, fmt.Errorf("load: %w", err)
	}
	for i, s := range specs {
		if err := s.Register(e); err != nil {
			return nil, 0, fmt.Errorf("register pattern %d (%s): %w", i, s.Name, err)
		}
	}
	return e, e.Compute(), nil
}

func resolvedRoles(cols []Column) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		if c.Role != "" {
			out[c.Name] = c.Role
		}
	}
	return out
}

func persist(ctx context.Context, out config.Output, rows []storage.ResultRow, deps Deps) (_ int64, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep("persist", start, err) }()

	repo, err := deps.OpenRepository(ctx, storage.Config{Kind: out.Kind, DSN: out.DSN})
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	defer repo.Close()

	if err := repo.EnsureResultsTable(ctx, storage.ResultsTable(out.Table)); err != nil {
		return 0, fmt.Errorf("ensure results table: %w", err)
	}
	n, err := repo.InsertResolutions(ctx, out.Table, rows)
	if err != nil {
		return 0, fmt.Errorf("insert results: %w", err)
	}
	return n, nil
}

// RunAll runs jobs concurrently, at most parallel at a time (0 means no
// limit), each on its own engine. The first failure cancels the jobs still
// running; reports of finished jobs are kept.
func RunAll(ctx context.Context, jobs []config.Job, deps Deps, parallel int) ([]Report, error) {
	reports := make([]Report, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, job := range jobs {
		g.Go(func() error {
			rep, err := Run(gctx, job, deps)
			reports[i] = rep
			if err != nil {
				return fmt.Errorf("job %q: %w", job.Name, err)
			}
			return nil
		})
	}
	return reports, g.Wait()
}
