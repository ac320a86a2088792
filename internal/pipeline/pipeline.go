// Package pipeline runs the classification engine for whole counties:
// read, validate, cascade, finalize and persist.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chesapeake-lu/landuse/internal/ancillary"
	"github.com/chesapeake-lu/landuse/internal/cascade"
	"github.com/chesapeake-lu/landuse/internal/config"
	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/metrics"
	"github.com/chesapeake-lu/landuse/internal/output"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/report"
	"github.com/chesapeake-lu/landuse/internal/taxonomy"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// Runner classifies counties. Counties share the worker pool and the
// rule list; each gets its own ledger and ancillary resolver.
type Runner struct {
	cfg     *config.Config
	tax     *taxonomy.Taxonomy
	pool    workpool.Submitter
	metrics *metrics.Metrics
	engine  *cascade.Engine
	runID   string
}

// New creates a Runner. m may be nil.
func New(cfg *config.Config, tax *taxonomy.Taxonomy, pool workpool.Submitter, m *metrics.Metrics) *Runner {
	opts := cascade.Options{RuleTimeout: cfg.Run.RuleTimeout}
	if m != nil {
		opts.Observer = m
	}
	return &Runner{
		cfg:     cfg,
		tax:     tax,
		pool:    pool,
		metrics: m,
		engine:  cascade.NewEngine(cascade.DefaultRules(), opts),
		runID:   uuid.NewString(),
	}
}

// RunID identifies this runner's batch in logs and the report.
func (r *Runner) RunID() string {
	return r.runID
}

// Paths returns the input and output GeoPackage paths for county.
func (r *Runner) Paths(county string) (in, out string) {
	in = filepath.Join(r.cfg.Run.InputDir, county, r.cfg.Run.InputFile)
	out = filepath.Join(r.cfg.Run.OutputDir, county, r.cfg.Run.OutputFile)
	return in, out
}

// RunCounty classifies one county and writes its output. The returned
// run always carries whatever was learned before a failure; run.Err is
// set when no output was written.
func (r *Runner) RunCounty(ctx context.Context, county string) (run report.CountyRun) {
	log := zap.L().With(zap.String("component", "pipeline.county"),
		zap.String("county", county), zap.String("run_id", r.runID))
	start := time.Now()
	run = report.CountyRun{County: county, RunID: r.runID}
	defer func() {
		run.Elapsed = time.Since(start)
		if r.metrics != nil {
			r.metrics.ObserveCounty(county, run.Cascade, run.Elapsed, run.Err)
		}
		if run.Err != nil {
			log.Error("county failed", zap.Duration("elapsed", run.Elapsed), zap.Error(run.Err))
			return
		}
		log.Info("county complete",
			zap.Duration("elapsed", run.Elapsed),
			zap.String("output", run.Output),
			zap.Int("labels", len(run.Counts)),
		)
	}()

	in, out := r.Paths(county)
	log.Info("county starting", zap.String("input", in))

	src, err := ReadSource(ctx, in, r.cfg.Run.InputLayer)
	if err != nil {
		run.Err = eris.Wrapf(err, "pipeline: read %s", county)
		return run
	}
	prep, err := pseg.Prepare(src, r.tax)
	run.Prepared = prep
	if err != nil {
		run.Err = eris.Wrapf(err, "pipeline: prepare %s", county)
		return run
	}
	l, err := ledger.New(prep.Records)
	if err != nil {
		run.Err = eris.Wrapf(err, "pipeline: ledger %s", county)
		return run
	}

	resolver, err := ancillary.New(ancillary.Config{
		Dir:    r.cfg.Ancillary.Dir,
		Layers: r.cfg.Ancillary.Layers,
		NoData: r.cfg.Ancillary.NoData,
	})
	if err != nil {
		run.Err = eris.Wrap(err, "pipeline: ancillary")
		return run
	}
	state, ok := r.tax.StateForCounty(county)
	if !ok {
		log.Warn("no state for county, state rules will be skipped")
	}

	rep, err := r.engine.Run(ctx, county, l, cascade.Env{
		Pool:      r.pool,
		Anci:      resolver,
		State:     state,
		BatchSize: r.cfg.Run.BatchSize,
	})
	run.Cascade = rep
	r.observeResources(resolver)
	if err != nil {
		run.Err = eris.Wrapf(err, "pipeline: cascade %s", county)
		return run
	}

	sum := output.Finalize(l, r.tax)
	run.Counts = sum.Counts
	run.MissingCodes = sum.MissingCodes

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		run.Err = eris.Wrapf(err, "pipeline: output dir for %s", county)
		return run
	}
	layer := output.BuildLayer(r.cfg.Run.OutputLayer, l.Records(), r.cfg.Run.KeepWorkingColumns)
	if err := output.WriteGeoPackage(ctx, out, "", layer); err != nil {
		run.Err = eris.Wrapf(err, "pipeline: write %s", county)
		return run
	}
	run.Output = out
	return run
}

func (r *Runner) observeResources(resolver *ancillary.Resolver) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveAncillary(resolver.Stats())
	if p, ok := r.pool.(interface{ Running() int }); ok {
		r.metrics.ObservePool(p.Running())
	}
	r.metrics.SampleProcess()
}

// Run classifies counties with at most run.max_concurrent_counties in
// flight. A failed county does not stop the others. After every county
// has finished the report and metrics textfile are written when
// configured. The error is non-nil when any county failed.
func (r *Runner) Run(ctx context.Context, counties []string) ([]report.CountyRun, error) {
	log := zap.L().With(zap.String("component", "pipeline.run"), zap.String("run_id", r.runID))
	limit := r.cfg.Run.MaxConcurrentCounties
	if limit < 1 {
		limit = 1
	}
	log.Info("run starting", zap.Int("counties", len(counties)), zap.Int("concurrency", limit))

	runs := make([]report.CountyRun, len(counties))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, county := range counties {
		g.Go(func() error {
			runs[i] = r.RunCounty(gctx, county)
			if runs[i].Err != nil {
				failed.Add(1)
			}
			return nil // don't abort the batch on one county
		})
	}
	if err := g.Wait(); err != nil {
		return runs, eris.Wrap(err, "pipeline: run")
	}

	if err := r.finish(runs); err != nil {
		return runs, err
	}

	log.Info("run complete",
		zap.Int("counties", len(counties)),
		zap.Int64("failed", failed.Load()),
	)
	if n := failed.Load(); n > 0 {
		return runs, eris.Errorf("pipeline: %d of %d counties failed", n, len(counties))
	}
	return runs, nil
}

// ReportPath is where the xlsx report for this run is written.
func (r *Runner) ReportPath() string {
	if r.cfg.Report.Dir == "" {
		return ""
	}
	return filepath.Join(r.cfg.Report.Dir, "landuse-"+r.runID+".xlsx")
}

func (r *Runner) finish(runs []report.CountyRun) error {
	if path := r.ReportPath(); path != "" {
		if err := os.MkdirAll(r.cfg.Report.Dir, 0o755); err != nil {
			return eris.Wrap(err, "pipeline: report dir")
		}
		if err := report.Write(path, runs, r.tax); err != nil {
			return err
		}
		zap.L().Info("run report written", zap.String("path", path))
	}
	if r.metrics != nil {
		if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
			return err
		}
	}
	return nil
}
