package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesapeake-lu/landuse/internal/cascade"
	"github.com/chesapeake-lu/landuse/internal/failure"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/taxonomy"
)

func runs() []CountyRun {
	return []CountyRun{
		{
			County:  "24001",
			RunID:   "run-1",
			Elapsed: 1500 * time.Millisecond,
			Cascade: &cascade.Report{
				Rows:                       20,
				UnclassifiedBeforeCatchAll: 5,
				Results: []cascade.RuleResult{
					{Name: "landcover", Step: 1, Kind: cascade.Direct, Status: cascade.StatusOK, Selected: 12, Assigned: 12},
					{Name: "solar sjoin", Step: 5, Kind: cascade.Overlay, Status: cascade.StatusFailed, Err: errors.New("boom")},
				},
			},
			Prepared: &pseg.Prepared{
				Dropped:  map[string]int{"Aberdeen Proving Ground": 3},
				Flexible: []*failure.FlexibleColumnMissing{{Column: "p_lc_2", Default: 0}},
			},
			Counts: map[string]int{"Water": 12, "Turf Herbaceous": 8},
			Output: "/out/24001.gpkg",
		},
		{County: "24003", RunID: "run-1", Err: errors.New("schema: missing SID")},
	}
}

func TestWriteAndRead(t *testing.T) {
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "report.xlsx")

	require.NoError(t, Write(path, runs(), tax))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	summary, err := ReadSheet(path, SheetSummary)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, summaryHeader, summary[0])
	ok := summary[1]
	assert.Equal(t, "24001", ok[0])
	assert.Equal(t, "success", ok[2])
	assert.Equal(t, "20", ok[3])
	assert.Equal(t, "5", ok[4])
	assert.Equal(t, "0.25", ok[5])
	assert.Equal(t, "solar sjoin", ok[6])
	assert.Equal(t, "3", ok[7])
	assert.Equal(t, "p_lc_2", ok[8])
	assert.Equal(t, "error", summary[2][2])
	assert.Equal(t, "schema: missing SID", summary[2][12])

	rules, err := ReadSheet(path, SheetRules)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []string{"24001", "5", "solar sjoin", "overlay", "failed", "0", "0"}, rules[2][:7])
	assert.Equal(t, "boom", rules[2][8])

	labels, err := ReadSheet(path, SheetLabels)
	require.NoError(t, err)
	require.Len(t, labels, 3)
	assert.Equal(t, []string{"24001", "Turf Herbaceous", "2210", "8"}, labels[1])
	assert.Equal(t, []string{"24001", "Water", "1000", "12"}, labels[2])
}

func TestReadSheet_Missing(t *testing.T) {
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, Write(path, nil, tax))

	_, err = ReadSheet(path, "Nope")
	assert.Error(t, err)
	_, err = ReadSheet(filepath.Join(t.TempDir(), "absent.xlsx"), SheetSummary)
	assert.Error(t, err)
}

func TestWrite_BadDir(t *testing.T) {
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	err = Write(filepath.Join(t.TempDir(), "missing", "report.xlsx"), runs(), tax)
	assert.Error(t, err)
}
