package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesapeake-lu/landuse/internal/ancillary"
	"github.com/chesapeake-lu/landuse/internal/cascade"
)

func TestObserveRule(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	results := []cascade.RuleResult{
		{Name: "landcover", Step: 1, Kind: cascade.Direct, Status: cascade.StatusOK, Assigned: 12, Duration: 30 * time.Millisecond},
		{Name: "landcover", Step: 1, Kind: cascade.Direct, Status: cascade.StatusOK, Assigned: 3},
		{Name: "solar sjoin", Step: 5, Kind: cascade.Overlay, Status: cascade.StatusSkipped},
	}
	for _, r := range results {
		m.ObserveRule("24001", r)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleOutcomes.WithLabelValues("landcover", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ruleOutcomes.WithLabelValues("solar sjoin", "skipped")))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.ruleAssigned.WithLabelValues("landcover")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ruleDuration))
}

func TestObserveCounty(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	rep := &cascade.Report{Rows: 200, UnclassifiedBeforeCatchAll: 10}
	m.ObserveCounty("24001", rep, 3*time.Second, nil)
	m.ObserveCounty("24003", nil, time.Second, errors.New("schema"))

	assert.Equal(t, float64(200), testutil.ToFloat64(m.countyRows.WithLabelValues("24001")))
	assert.InDelta(t, 0.05, testutil.ToFloat64(m.countyUnclassified.WithLabelValues("24001")), 1e-9)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.countyOutcomes.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.countyOutcomes.WithLabelValues("error")))
}

func TestObserveAncillaryAndPool(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveAncillary(ancillary.Stats{Hits: 4, Misses: 2, Loads: 1})
	m.ObservePool(3)
	m.SampleProcess()

	assert.Equal(t, float64(4), testutil.ToFloat64(m.ancillaryCache.WithLabelValues("hits")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ancillaryCache.WithLabelValues("loads")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.poolRunning))
	assert.Positive(t, testutil.ToFloat64(m.processRSS))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWithRegistry(reg)
	require.NoError(t, err)
	_, err = NewWithRegistry(reg)
	assert.Error(t, err)
}

func TestWriteTextfileAndHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.ObserveRule("24001", cascade.RuleResult{Name: "landcover", Step: 1, Status: cascade.StatusOK, Assigned: 1})

	path := filepath.Join(t.TempDir(), "landuse.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `landuse_rule_outcomes_total{rule="landcover",status="ok"} 1`)

	require.NoError(t, m.WriteTextfile(""))

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "landuse_rule_assigned_total")
}
