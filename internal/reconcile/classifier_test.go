package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circflow/internal/store"
)

func TestClassifier_CanonicalCode(t *testing.T) {
	c := NewClassifier(store.NewMemoryStore(), DefaultPolicy(), nil, nil)

	tests := []struct {
		label string
		want  string
	}{
		{"Commonwealth", "CW"},
		{"NSW State", "NSW"},
		{"Total", "ALL"},
		{"Local Government", "LG"},
		{"Northern Territory", "NT"},
		// Unmapped labels get a deterministic derived code.
		{"Municipal Boroughs", "MUN"},
		{"Iwi Authorities", "IWI"},
		{"ZZ", "ZZX"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CanonicalCode(tt.label))
		})
	}
}

func TestClassifier_ConfigOverridesExtendMapping(t *testing.T) {
	overrides := map[string]string{"Commonwealth": "CTH", "Crown Entities": "CE"}
	c := NewClassifier(store.NewMemoryStore(), DefaultPolicy(), overrides, nil)

	assert.Equal(t, "CTH", c.CanonicalCode("Commonwealth"))
	assert.Equal(t, "CE", c.CanonicalCode("Crown Entities"))
	assert.Equal(t, "NSW", c.CanonicalCode("NSW State"))
}

func TestClassifier_UpdatesDimensionInPlace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddGovernmentLevel(store.GovernmentLevel{Name: "Commonwealth"})
	s.AddGovernmentLevel(store.GovernmentLevel{Name: "NSW State", Code: "NSW"})
	s.AddGovernmentLevel(store.GovernmentLevel{Name: "Shire Councils"})

	report := NewClassifier(s, DefaultPolicy(), nil, nil).Run(ctx)

	// Commonwealth gained CW, Shire Councils gained a derived code;
	// NSW State already carried the canonical code.
	assert.Equal(t, 2, report.RowsWritten)
	assert.Equal(t, StatusWarnings, report.Status, "derived code is a finding for human review")

	levels, err := s.GovernmentLevels(ctx)
	require.NoError(t, err)
	byName := make(map[string]string)
	for _, l := range levels {
		byName[l.Name] = l.Code
	}
	assert.Equal(t, "CW", byName["Commonwealth"])
	assert.Equal(t, "NSW", byName["NSW State"])
	assert.Equal(t, "SHI", byName["Shire Councils"])

	// A second pass changes nothing.
	report = NewClassifier(s, DefaultPolicy(), nil, nil).Run(ctx)
	assert.Equal(t, 0, report.RowsWritten)
}

func TestClassifier_FlagsTotalMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := quarterEnd(2021, 2)

	// Reported total disagrees with summed detail rows by 10%.
	putDetail(t, s, date, store.ComponentGovernment, "G.CW", 600)
	putDetail(t, s, date, store.ComponentGovernment, "G.STATE", 300)
	putTotal(t, s, date, store.ComponentGovernment, "G.TOTAL", 1000)

	report := NewClassifier(s, DefaultPolicy(), nil, nil).Run(ctx)
	require.Equal(t, StatusWarnings, report.Status)

	metrics, ok := report.Metrics.(ClassifierMetrics)
	require.True(t, ok)
	assert.Equal(t, 1, metrics.TotalMismatches)

	var found bool
	for _, f := range report.Findings {
		if f.Severity == SeverityWarning && f.Metrics["difference_pct"] > 5 {
			found = true
			assert.Equal(t, 1000.0, f.Metrics["reported_total"])
			assert.Equal(t, 900.0, f.Metrics["calculated_total"])
		}
	}
	assert.True(t, found, "expected a total-mismatch finding with metrics")
}

func TestClassifier_DerivedEstimatesExcludedFromTotals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := quarterEnd(2021, 2)

	// Detail rows and the reported total agree exactly.
	putDetail(t, s, date, store.ComponentTaxation, "T.CW", 600)
	putDetail(t, s, date, store.ComponentTaxation, "T.STATE", 300)
	putTotal(t, s, date, store.ComponentTaxation, "T.TOTAL", 900)

	// An identity-derived estimate for the same period is built from
	// the same observations and must not count into the detail sum
	// when the stage is re-run after a solve.
	_, err := s.UpsertFact(ctx, store.FactRecord{
		PeriodDate:    date,
		ComponentCode: store.ComponentTaxation,
		SourceCode:    SolvedTSourceCode,
		MeasurementID: testMeasurement,
		SeriesID:      SolvedTSeriesID,
		Value:         decimal.NewFromInt(905),
		Frequency:     store.GranularityQuarterly,
		IsPrimary:     false,
		Quality:       store.QualityCalculated,
		IsQuarterEnd:  true,
		Method:        store.AggregationIdentity,
	})
	require.NoError(t, err)

	report := NewClassifier(s, DefaultPolicy(), nil, nil).Run(ctx)
	assert.Equal(t, StatusOK, report.Status)

	metrics, ok := report.Metrics.(ClassifierMetrics)
	require.True(t, ok)
	assert.Equal(t, 0, metrics.TotalMismatches)
}

func TestClassifier_WithinThresholdNotFlagged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := quarterEnd(2021, 2)

	// 2% difference stays under the 5% policy threshold.
	putDetail(t, s, date, store.ComponentTaxation, "T.CW", 490)
	putDetail(t, s, date, store.ComponentTaxation, "T.STATE", 490)
	putTotal(t, s, date, store.ComponentTaxation, "T.TOTAL", 1000)

	report := NewClassifier(s, DefaultPolicy(), nil, nil).Run(ctx)
	assert.Equal(t, StatusOK, report.Status)

	metrics, ok := report.Metrics.(ClassifierMetrics)
	require.True(t, ok)
	assert.Equal(t, 0, metrics.TotalMismatches)
}
