package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/metrics"
	"github.com/chesapeake-lu/landuse/internal/pipeline"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <county>...",
	Short: "Run the rule cascade for one or more counties",
	Long: `Reads <run.input_dir>/<county>/psegs.gpkg for each county, applies the
ordered rule cascade and writes <run.output_dir>/<county>/landuse.gpkg.

Counties run concurrently up to run.max_concurrent_counties and share one
worker pool. A failed county writes no output and does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.Run.Workers = workers
		}
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.Run.MaxConcurrentCounties = n
		}
		if keep, _ := cmd.Flags().GetBool("keep-working-columns"); keep {
			cfg.Run.KeepWorkingColumns = true
		}

		tax, err := loadTaxonomy()
		if err != nil {
			return err
		}
		pool, err := workpool.New(cfg.Run.Workers)
		if err != nil {
			return err
		}
		defer pool.Close(30 * time.Second) //nolint:errcheck

		m, err := metrics.New()
		if err != nil {
			return err
		}
		if serve, _ := cmd.Flags().GetBool("serve-metrics"); serve {
			stopMetrics := serveMetrics(ctx, m, cfg.Metrics.Addr)
			defer stopMetrics()
		}

		runner := pipeline.New(cfg, tax, pool, m)
		runs, err := runner.Run(ctx, args)
		for _, run := range runs {
			status := "ok"
			if run.Err != nil {
				status = "FAILED: " + run.Err.Error()
			}
			fmt.Printf("%-12s %8.1fs  %s\n", run.County, run.Elapsed.Seconds(), status)
		}
		if path := runner.ReportPath(); path != "" {
			fmt.Printf("report: %s\n", path)
		}
		if err != nil {
			return eris.Wrap(err, "classify")
		}
		return nil
	},
}

// serveMetrics exposes m on addr until the returned func is called or ctx
// ends.
func serveMetrics(ctx context.Context, m *metrics.Metrics, addr string) func() {
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.L().Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics server", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}
}

func init() {
	classifyCmd.Flags().Int("workers", 0, "worker pool size (default: from config, 0 = cores-1)")
	classifyCmd.Flags().Int("concurrency", 0, "counties in flight (default: from config)")
	classifyCmd.Flags().Bool("keep-working-columns", false, "keep area and zoning columns in the output")
	classifyCmd.Flags().Bool("serve-metrics", false, "serve /metrics on metrics.addr while running")
	rootCmd.AddCommand(classifyCmd)
}
