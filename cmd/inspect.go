package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chesapeake-lu/landuse/internal/pipeline"
	"github.com/chesapeake-lu/landuse/internal/pseg"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <gpkg>",
	Short: "Validate a pseg layer without classifying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, _ := cmd.Flags().GetString("layer")
		if layer == "" {
			layer = cfg.Run.InputLayer
		}
		tax, err := loadTaxonomy()
		if err != nil {
			return err
		}

		src, err := pipeline.ReadSource(cmd.Context(), args[0], layer)
		if err != nil {
			return eris.Wrap(err, "inspect")
		}
		prep, err := pseg.Prepare(src, tax)
		if err != nil {
			return eris.Wrap(err, "inspect")
		}

		fmt.Printf("layer:            %s (%d rows read)\n", layer, len(src.Rows))
		fmt.Printf("records:          %d\n", len(prep.Records))
		fmt.Printf("regenerated PSID: %t\n", prep.RegeneratedIDs)
		fmt.Printf("computed ps_area: %t\n", prep.ComputedArea)
		fmt.Printf("tc-over reclass:  %d\n", prep.TCReclassed)
		fmt.Printf("coerced luz:      %d\n", prep.CoercedLUZ)
		fmt.Printf("null geometry:    %d\n", prep.NullGeometry)
		for _, fc := range prep.Flexible {
			fmt.Printf("defaulted:        %s\n", fc.Column)
		}

		dropped := make([]string, 0, len(prep.Dropped))
		for class := range prep.Dropped {
			dropped = append(dropped, class)
		}
		sort.Strings(dropped)
		for _, class := range dropped {
			fmt.Printf("dropped:          %-30s %d\n", class, prep.Dropped[class])
		}

		classes := map[pseg.Class]int{}
		for i := range prep.Records {
			classes[prep.Records[i].ClassName]++
		}
		names := make([]string, 0, len(classes))
		for c := range classes {
			names = append(names, string(c))
		}
		sort.Strings(names)
		for _, c := range names {
			fmt.Printf("class:            %-30s %d\n", c, classes[pseg.Class(c)])
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("layer", "", "layer name (default: run.input_layer)")
	rootCmd.AddCommand(inspectCmd)
}
