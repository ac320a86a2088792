// Package report writes the xlsx run report: one summary row per county,
// one row per executed rule, and the final label distribution.
package report

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/chesapeake-lu/landuse/internal/cascade"
	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/pseg"
)

// Sheet names.
const (
	SheetSummary = "Summary"
	SheetRules   = "Rules"
	SheetLabels  = "Labels"
)

// CountyRun is everything the report shows for one county.
type CountyRun struct {
	County  string
	RunID   string
	Elapsed time.Duration
	Err     error

	Cascade  *cascade.Report
	Prepared *pseg.Prepared
	// Counts is rows per final label.
	Counts       map[string]int
	MissingCodes []string
	Output       string
}

var summaryHeader = []string{
	"county", "run_id", "status", "rows", "unclassified_before_catch_all",
	"unclassified_fraction", "failed_rules", "dropped_rows", "defaulted_columns",
	"missing_lucodes", "elapsed_s", "output", "error",
}

var rulesHeader = []string{"county", "step", "rule", "kind", "status", "selected", "assigned", "elapsed_s", "error"}

var labelsHeader = []string{"county", "lu", "lucode", "rows"}

// Write saves a workbook for runs at path. The file is written next to
// path and renamed into place.
func Write(path string, runs []CountyRun, codes ledger.CodeLookup) error {
	f := xlsx.NewFile()
	summary, err := addSheet(f, SheetSummary, summaryHeader)
	if err != nil {
		return err
	}
	rules, err := addSheet(f, SheetRules, rulesHeader)
	if err != nil {
		return err
	}
	labels, err := addSheet(f, SheetLabels, labelsHeader)
	if err != nil {
		return err
	}

	for _, run := range runs {
		writeSummary(summary.AddRow(), run)
		if run.Cascade != nil {
			for _, res := range run.Cascade.Results {
				writeRule(rules.AddRow(), run.County, res)
			}
		}
		writeLabels(labels, run, codes)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := f.Save(tmp); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrapf(err, "report: save %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrapf(err, "report: rename %s", path)
	}
	return nil
}

func addSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "report: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func writeSummary(row *xlsx.Row, run CountyRun) {
	status := "success"
	errText := ""
	if run.Err != nil {
		status = "error"
		errText = run.Err.Error()
	}
	row.AddCell().SetString(run.County)
	row.AddCell().SetString(run.RunID)
	row.AddCell().SetString(status)

	var rows, before int
	var fraction float64
	var failed []string
	if run.Cascade != nil {
		rows = run.Cascade.Rows
		before = run.Cascade.UnclassifiedBeforeCatchAll
		fraction = run.Cascade.UnclassifiedFraction()
		failed = run.Cascade.Failed()
	}
	row.AddCell().SetInt(rows)
	row.AddCell().SetInt(before)
	row.AddCell().SetFloatWithFormat(fraction, "0.00%")
	row.AddCell().SetString(strings.Join(failed, "; "))

	var dropped int
	var defaulted []string
	if run.Prepared != nil {
		for _, n := range run.Prepared.Dropped {
			dropped += n
		}
		for _, fc := range run.Prepared.Flexible {
			defaulted = append(defaulted, fc.Column)
		}
	}
	row.AddCell().SetInt(dropped)
	row.AddCell().SetString(strings.Join(defaulted, ", "))
	row.AddCell().SetString(strings.Join(run.MissingCodes, "; "))
	row.AddCell().SetFloatWithFormat(run.Elapsed.Seconds(), "0.0")
	row.AddCell().SetString(run.Output)
	row.AddCell().SetString(errText)
}

func writeRule(row *xlsx.Row, county string, res cascade.RuleResult) {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	row.AddCell().SetString(county)
	row.AddCell().SetInt(res.Step)
	row.AddCell().SetString(res.Name)
	row.AddCell().SetString(res.Kind.String())
	row.AddCell().SetString(string(res.Status))
	row.AddCell().SetInt(res.Selected)
	row.AddCell().SetInt(res.Assigned)
	row.AddCell().SetFloatWithFormat(res.Duration.Seconds(), "0.000")
	row.AddCell().SetString(errText)
}

func writeLabels(sheet *xlsx.Sheet, run CountyRun, codes ledger.CodeLookup) {
	labels := make([]string, 0, len(run.Counts))
	for lu := range run.Counts {
		labels = append(labels, lu)
	}
	sort.Strings(labels)
	for _, lu := range labels {
		row := sheet.AddRow()
		row.AddCell().SetString(run.County)
		row.AddCell().SetString(lu)
		if code, ok := codes.Code(lu); ok {
			row.AddCell().SetInt(code)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt(run.Counts[lu])
	}
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", path)
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("report: sheet %q not found", name)
	}
	out := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.Value
		}
		out = append(out, cells)
	}
	return out, nil
}
