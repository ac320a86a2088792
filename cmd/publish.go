package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chesapeake-lu/landuse/internal/db"
	"github.com/chesapeake-lu/landuse/internal/output"
	"github.com/chesapeake-lu/landuse/internal/postgis"
	"github.com/chesapeake-lu/landuse/internal/resilience"
)

var publishCmd = &cobra.Command{
	Use:   "publish <gpkg>",
	Short: "Replace a county's rows in the PostGIS land-use table",
	Long: `Reads a classified layer and replaces the county's partition of
publish.schema.publish.table in one transaction. The county defaults to the
name of the directory holding the GeoPackage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cfg.Publish.DatabaseURL == "" {
			return eris.New("publish: publish.database_url is not set")
		}
		county, _ := cmd.Flags().GetString("county")
		if county == "" {
			county = filepath.Base(filepath.Dir(args[0]))
		}
		layer, _ := cmd.Flags().GetString("layer")
		if layer == "" {
			layer = cfg.Run.OutputLayer
		}

		recs, err := output.ReadLayer(ctx, args[0], layer)
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		retry := resilience.DefaultPolicy()
		retry.Attempts = cfg.Publish.RetryAttempts
		retry.Backoff = cfg.Publish.RetryBackoff

		connectRetry := retry
		connectRetry.OnRetry = resilience.LogRetries("cmd.publish", "connect")
		pool, err := resilience.DoVal(ctx, connectRetry, func(ctx context.Context) (*pgxpool.Pool, error) {
			if cfg.Publish.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Publish.ConnectTimeout)
				defer cancel()
			}
			return db.Connect(ctx, cfg.Publish.DatabaseURL)
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		target := postgis.Target{
			Schema:    cfg.Publish.Schema,
			Table:     cfg.Publish.Table,
			BatchSize: cfg.Publish.BatchSize,
			Retry:     retry,
		}
		if err := postgis.EnsureTable(ctx, pool, target); err != nil {
			return err
		}
		res, err := postgis.Publish(ctx, pool, target, county, recs)
		if err != nil {
			return err
		}
		fmt.Printf("%s: replaced %d rows with %d in %s (%d unlabelled skipped)\n",
			county, res.Deleted, res.Inserted, target.QualifiedName(), res.Skipped)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("county", "", "county key (default: parent directory name)")
	publishCmd.Flags().String("layer", "", "layer name (default: run.output_layer)")
	rootCmd.AddCommand(publishCmd)
}
