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

// putFive inserts primary observations for the five components the
// solver needs, leaving taxation unobserved.
func putFive(t *testing.T, s store.FactStore, date time.Time, sv, m, i, g, x float64) {
	t.Helper()
	putPrimary(t, s, date, store.ComponentSavings, sv)
	putPrimary(t, s, date, store.ComponentImports, m)
	putPrimary(t, s, date, store.ComponentInvestment, i)
	putPrimary(t, s, date, store.ComponentGovernment, g)
	putPrimary(t, s, date, store.ComponentExports, x)
}

func solverMetrics(t *testing.T, report StageReport) SolverMetrics {
	t.Helper()
	require.Empty(t, report.Error)
	metrics, ok := report.Metrics.(SolverMetrics)
	require.True(t, ok)
	return metrics
}

func solvedEstimates(t *testing.T, s store.FactStore) []store.FactRecord {
	t.Helper()
	facts, err := s.Facts(context.Background(), store.FactFilter{
		ComponentCode: store.ComponentTaxation,
		SourceCode:    SolvedTSourceCode,
	})
	require.NoError(t, err)
	return facts
}

func TestSolver_AcceptsPlausibleImpliedTaxation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := quarterEnd(2000, 1)

	// (I + G + X) - (S + M) = 180 - 150 = 30, well under half of S + M.
	putFive(t, s, date, 100, 50, 80, 60, 40)

	report := NewSolver(s, DefaultPolicy(), nil).Run(ctx)
	metrics := solverMetrics(t, report)

	assert.Equal(t, 1, metrics.Candidates)
	assert.Equal(t, 1, metrics.Accepted)
	assert.Equal(t, 1, report.RowsWritten)
	assert.InDelta(t, 20.0, metrics.MeanShareOfSMPct, 1e-9)

	estimates := solvedEstimates(t, s)
	require.Len(t, estimates, 1)
	est := estimates[0]
	assert.True(t, est.Value.Equal(decimal.NewFromInt(30)))
	assert.False(t, est.IsPrimary, "identity estimates never rank as primary")
	assert.Equal(t, store.QualityCalculated, est.Quality)
	assert.Equal(t, store.AggregationIdentity, est.Method)
	assert.Equal(t, SolvedTSeriesID, est.SeriesID)
	assert.Equal(t, testMeasurement, est.MeasurementID)

	src, err := s.Source(ctx, SolvedTSourceCode)
	require.NoError(t, err)
	assert.Equal(t, store.SourceDerived, src.Category)
}

func TestSolver_RejectsNonPositiveImplied(t *testing.T) {
	s := newTestStore(t)

	// Injections below leakages imply negative taxes.
	putFive(t, s, quarterEnd(2000, 1), 100, 100, 50, 50, 50)
	// Exact balance implies zero, also rejected.
	putFive(t, s, quarterEnd(2000, 2), 100, 100, 80, 70, 50)

	metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 2, metrics.Candidates)
	assert.Equal(t, 0, metrics.Accepted)
	assert.Equal(t, 2, metrics.RejectedNonPositive)
	assert.Empty(t, solvedEstimates(t, s))
}

func TestSolver_RejectsImplausibleShare(t *testing.T) {
	s := newTestStore(t)

	// Implied T of 100 equals exactly half of S + M = 200; the bound is
	// strict, so the estimate is excluded.
	putFive(t, s, quarterEnd(2000, 1), 100, 100, 120, 100, 80)
	// Just under the bound is accepted.
	putFive(t, s, quarterEnd(2000, 2), 100, 100, 120, 100, 79)

	metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 2, metrics.Candidates)
	assert.Equal(t, 1, metrics.RejectedShare)
	assert.Equal(t, 1, metrics.Accepted)
	require.Len(t, solvedEstimates(t, s), 1)
}

func TestSolver_SkipsPeriodsWithObservedTaxation(t *testing.T) {
	s := newTestStore(t)
	date := quarterEnd(2000, 1)

	putFive(t, s, date, 100, 50, 80, 60, 40)
	putPrimary(t, s, date, store.ComponentTaxation, 28)

	metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 1, metrics.SkippedObservedT)
	assert.Equal(t, 0, metrics.Candidates)
	assert.Empty(t, solvedEstimates(t, s))
}

func TestSolver_HonorsHistoricalWindow(t *testing.T) {
	s := newTestStore(t)

	// Outside the trusted window on both sides.
	putFive(t, s, quarterEnd(1994, 4), 100, 50, 80, 60, 40)
	putFive(t, s, quarterEnd(2015, 1), 100, 50, 80, 60, 40)
	// Inside, including the last quarter before the exclusive end.
	putFive(t, s, quarterEnd(1995, 1), 100, 50, 80, 60, 40)
	putFive(t, s, quarterEnd(2014, 4), 100, 50, 80, 60, 40)

	metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 2, metrics.Candidates)
	assert.Equal(t, 2, metrics.Accepted)

	estimates := solvedEstimates(t, s)
	require.Len(t, estimates, 2)
	for _, est := range estimates {
		assert.True(t, est.PeriodDate.Before(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)))
	}
}

func TestSolver_IncompletePeriodIsNotACandidate(t *testing.T) {
	s := newTestStore(t)
	date := quarterEnd(2000, 1)

	// No exports observation for the period.
	putPrimary(t, s, date, store.ComponentSavings, 100)
	putPrimary(t, s, date, store.ComponentImports, 50)
	putPrimary(t, s, date, store.ComponentInvestment, 80)
	putPrimary(t, s, date, store.ComponentGovernment, 60)

	metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))

	assert.Equal(t, 0, metrics.Candidates)
	assert.Empty(t, solvedEstimates(t, s))
}

func TestSolver_Idempotent(t *testing.T) {
	s := newTestStore(t)
	putFive(t, s, quarterEnd(2000, 1), 100, 50, 80, 60, 40)

	solver := NewSolver(s, DefaultPolicy(), nil)
	first := solver.Run(context.Background())
	require.Equal(t, 1, first.RowsWritten)
	count := s.FactCount()

	second := solver.Run(context.Background())
	assert.Equal(t, 0, second.RowsWritten)
	assert.Equal(t, 1, second.RowsSkipped)
	assert.Equal(t, count, s.FactCount())
}

func TestSolver_QualityBands(t *testing.T) {
	tests := []struct {
		name   string
		second float64 // exports for the second period, varying the spread
		want   EstimateQuality
	}{
		// Estimates 30 and 32: CV about 4.6%.
		{"tight spread is excellent", 42, EstimateExcellent},
		// Estimates 30 and 45: CV about 28%.
		{"wider spread is good", 55, EstimateGood},
		// Estimates 30 and 70: CV about 57%.
		{"loose spread is moderate", 80, EstimateModerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			putFive(t, s, quarterEnd(2000, 1), 100, 50, 80, 60, 40)
			putFive(t, s, quarterEnd(2000, 2), 100, 50, 80, 60, tt.second)

			metrics := solverMetrics(t, NewSolver(s, DefaultPolicy(), nil).Run(context.Background()))
			assert.Equal(t, 2, metrics.Accepted)
			assert.Equal(t, tt.want, metrics.Quality)
		})
	}
}
