package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circflow/internal/store"
)

// putSix inserts primary observations for all six identity components.
func putSix(t *testing.T, s store.FactStore, date time.Time, sv, tx, m, i, g, x float64) {
	t.Helper()
	putPrimary(t, s, date, store.ComponentSavings, sv)
	putPrimary(t, s, date, store.ComponentTaxation, tx)
	putPrimary(t, s, date, store.ComponentImports, m)
	putPrimary(t, s, date, store.ComponentInvestment, i)
	putPrimary(t, s, date, store.ComponentGovernment, g)
	putPrimary(t, s, date, store.ComponentExports, x)
}

func equilibriumMetrics(t *testing.T, report StageReport) EquilibriumMetrics {
	t.Helper()
	require.Empty(t, report.Error)
	metrics, ok := report.Metrics.(EquilibriumMetrics)
	require.True(t, ok)
	return metrics
}

func TestValidator_WellBalancedPeriod(t *testing.T) {
	s := newTestStore(t)
	// Left 100 vs right 102: just under 2% apart.
	putSix(t, s, quarterEnd(2005, 1), 50, 30, 20, 40, 35, 27)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 1, metrics.PeriodsAnalyzed)
	assert.Equal(t, 1, metrics.PeriodsBalanced)
	assert.InDelta(t, 1.96, metrics.MeanImbalancePct, 0.01)
	assert.Equal(t, 100.0, metrics.BalanceRatePct)
	assert.Equal(t, EquilibriumExcellent, metrics.Status)
}

func TestValidator_JustAboveCutoffNotBalanced(t *testing.T) {
	s := newTestStore(t)
	// Left 200 vs right 190: 5.26%, above the 5% well-balanced cutoff.
	putSix(t, s, quarterEnd(2005, 1), 80, 60, 60, 70, 60, 60)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 1, metrics.PeriodsAnalyzed)
	assert.Equal(t, 0, metrics.PeriodsBalanced)
	assert.InDelta(t, 5.26, metrics.MeanImbalancePct, 0.01)
	assert.Equal(t, 0.0, metrics.BalanceRatePct)
	assert.Equal(t, EquilibriumGood, metrics.Status)
}

func TestValidator_NonPositiveRightSideExcluded(t *testing.T) {
	s := newTestStore(t)
	// All six present, but injections sum to -5: the percentage is
	// undefined, so the period is excluded, not scored as zero.
	putSix(t, s, quarterEnd(2005, 1), 50, 30, 20, -10, 5, 0)

	report := NewValidator(s, DefaultPolicy(), nil).Run(context.Background())
	metrics := equilibriumMetrics(t, report)

	assert.Equal(t, 0, metrics.PeriodsAnalyzed)
	assert.Equal(t, 1, metrics.PeriodsExcluded)
	assert.Equal(t, StatusWarnings, report.Status)
}

func TestValidator_FewerThanFiveComponentsSkipped(t *testing.T) {
	s := newTestStore(t)
	date := quarterEnd(2005, 1)
	putPrimary(t, s, date, store.ComponentSavings, 50)
	putPrimary(t, s, date, store.ComponentTaxation, 30)
	putPrimary(t, s, date, store.ComponentImports, 20)
	putPrimary(t, s, date, store.ComponentInvestment, 40)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 0, metrics.PeriodsAnalyzed)
	assert.Equal(t, 0, metrics.PeriodsExcluded)
	assert.Equal(t, EquilibriumHigh, metrics.Status)
}

func putSolvedEstimate(t *testing.T, s store.FactStore, date time.Time, value float64) {
	t.Helper()
	ctx := context.Background()
	_, err := s.EnsureSource(ctx, store.DataSource{
		Code:      SolvedTSourceCode,
		Provider:  "circflow",
		Category:  store.SourceDerived,
		Frequency: store.GranularityQuarterly,
	})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, store.FactRecord{
		PeriodDate:    date,
		ComponentCode: store.ComponentTaxation,
		SourceCode:    SolvedTSourceCode,
		MeasurementID: testMeasurement,
		SeriesID:      SolvedTSeriesID,
		Value:         decimal.NewFromFloat(value),
		Frequency:     store.GranularityQuarterly,
		Quality:       store.QualityCalculated,
		IsQuarterEnd:  true,
		Method:        store.AggregationIdentity,
	})
	require.NoError(t, err)
}

func TestValidator_FallsBackToCalculatedTaxation(t *testing.T) {
	s := newTestStore(t)
	date := quarterEnd(2000, 1)

	// No observed T; the identity-derived estimate fills the gap.
	putFive(t, s, date, 50, 20, 40, 35, 27)
	putSolvedEstimate(t, s, date, 30)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 1, metrics.PeriodsAnalyzed)
	assert.InDelta(t, 1.96, metrics.MeanImbalancePct, 0.01)
}

func TestValidator_ObservedTaxationBeatsEstimate(t *testing.T) {
	s := newTestStore(t)
	date := quarterEnd(2000, 1)

	putSix(t, s, date, 50, 30, 20, 40, 35, 27)
	putSolvedEstimate(t, s, date, 999)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	require.Equal(t, 1, metrics.PeriodsAnalyzed)
	assert.InDelta(t, 1.96, metrics.MeanImbalancePct, 0.01, "the observed value carries the period")
}

func TestValidator_StatusBands(t *testing.T) {
	tests := []struct {
		name string
		left float64 // S value, with T and M fixed at 30 and 20
		want EquilibriumStatus
	}{
		{"under five percent", 54, EquilibriumExcellent},
		{"under ten percent", 57, EquilibriumGood},
		{"under twenty percent", 65, EquilibriumModerate},
		{"twenty percent and up", 75, EquilibriumHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			// Right side fixed at 100.
			putSix(t, s, quarterEnd(2005, 1), tt.left, 30, 20, 40, 35, 25)

			metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))
			assert.Equal(t, tt.want, metrics.Status)
		})
	}
}

func TestValidator_CoverageNamesWeakestComponent(t *testing.T) {
	s := newTestStore(t)

	// Five components span 1995 and 1996; exports only 1996.
	for _, q := range []struct{ year, quarter int }{
		{1995, 1}, {1995, 3}, {1996, 2},
	} {
		date := quarterEnd(q.year, q.quarter)
		putPrimary(t, s, date, store.ComponentSavings, 50)
		putPrimary(t, s, date, store.ComponentTaxation, 30)
		putPrimary(t, s, date, store.ComponentImports, 20)
		putPrimary(t, s, date, store.ComponentInvestment, 40)
		putPrimary(t, s, date, store.ComponentGovernment, 35)
	}
	putPrimary(t, s, quarterEnd(1996, 2), store.ComponentExports, 27)

	metrics := equilibriumMetrics(t, NewValidator(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, "X", metrics.WeakestComponent)

	byComponent := make(map[string]ComponentCoverage)
	for _, c := range metrics.Coverage {
		byComponent[c.Component] = c
	}
	require.Len(t, byComponent, 6)
	assert.Equal(t, 2, byComponent["S"].Years)
	assert.Equal(t, 3, byComponent["S"].Records)
	assert.Equal(t, "1995-03-31", byComponent["S"].Earliest)
	assert.Equal(t, "1996-06-30", byComponent["S"].Latest)
	assert.Equal(t, 1, byComponent["X"].Years)
}
