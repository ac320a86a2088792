package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chesapeake-lu/landuse/internal/output"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/raster"
	"github.com/chesapeake-lu/landuse/internal/spatial"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

var burnCmd = &cobra.Command{
	Use:   "burn <gpkg> <tif>",
	Short: "Rasterize final lucodes to a GeoTIFF",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		layer, _ := cmd.Flags().GetString("layer")
		if layer == "" {
			layer = cfg.Run.OutputLayer
		}
		pixel, _ := cmd.Flags().GetFloat64("pixel")

		recs, err := output.ReadLayer(ctx, args[0], layer)
		if err != nil {
			return eris.Wrap(err, "burn")
		}
		fs := burnFeatures(recs)
		env := spatial.Envelope{}
		for _, f := range fs {
			env = env.Union(spatial.EnvelopeOf(f.Geom))
		}
		g, err := raster.NewGridCovering(env, pixel, 0)
		if err != nil {
			return eris.Wrap(err, "burn")
		}

		pool, err := workpool.New(cfg.Run.Workers)
		if err != nil {
			return err
		}
		defer pool.Close(30 * time.Second) //nolint:errcheck

		if err := raster.Rasterize(ctx, pool, fs, g); err != nil {
			return eris.Wrap(err, "burn")
		}
		if err := raster.WriteGeoTIFF(args[1], g); err != nil {
			return eris.Wrap(err, "burn")
		}
		fmt.Printf("burned %d features into %dx%d grid at %s\n", len(fs), g.Width, g.Height, args[1])
		return nil
	},
}

// burnFeatures keeps records with geometry and a code.
func burnFeatures(recs []pseg.Record) []raster.Valued {
	out := make([]raster.Valued, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.Geom == nil || r.LUCode == 0 {
			continue
		}
		out = append(out, raster.Valued{
			Feature: spatial.Feature{ID: r.PSID, Geom: r.Geom},
			Value:   int32(r.LUCode),
		})
	}
	return out
}

func init() {
	burnCmd.Flags().String("layer", "", "layer name (default: run.output_layer)")
	burnCmd.Flags().Float64("pixel", 1, "pixel size in metres")
	rootCmd.AddCommand(burnCmd)
}
