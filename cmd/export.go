package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chesapeake-lu/landuse/internal/output"
)

var exportCmd = &cobra.Command{
	Use:   "export-shp <gpkg> <shp>",
	Short: "Export a classified layer as a polygon shapefile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, _ := cmd.Flags().GetString("layer")
		if layer == "" {
			layer = cfg.Run.OutputLayer
		}
		recs, err := output.ReadLayer(cmd.Context(), args[0], layer)
		if err != nil {
			return eris.Wrap(err, "export-shp")
		}
		if err := output.ExportShapefile(args[1], recs); err != nil {
			return eris.Wrap(err, "export-shp")
		}
		fmt.Printf("exported %d features to %s\n", len(recs), args[1])
		return nil
	},
}

func init() {
	exportCmd.Flags().String("layer", "", "layer name (default: run.output_layer)")
	rootCmd.AddCommand(exportCmd)
}
