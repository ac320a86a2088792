package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chesapeake-lu/landuse/internal/cascade"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the ordered rule cascade",
	RunE: func(cmd *cobra.Command, _ []string) error {
		printRules(os.Stdout, cascade.DefaultRules())
		return nil
	},
}

func printRules(w io.Writer, rules []cascade.Rule) {
	fmt.Fprintf(w, "%-4s %-4s %-14s %s\n", "STEP", "#", "KIND", "RULE")
	for i, r := range rules {
		fmt.Fprintf(w, "%-4d %-4d %-14s %s\n", r.Step(), i+1, r.Kind(), r.Name())
	}
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
