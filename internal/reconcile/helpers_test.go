package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"circflow/internal/store"
)

const testMeasurement = "AUD_M_CP_SA"

// newTestStore returns a memory store with quarter-end periods
// registered across the engine's working range.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	s.AddQuarterlyPeriods(1990, 2025)
	return s
}

func quarterEnd(year, quarter int) time.Time {
	return store.QuarterEnd(time.Date(year, time.Month(quarter*3), 1, 0, 0, 0, 0, time.UTC))
}

// putPrimary inserts a primary quarterly observation.
func putPrimary(t *testing.T, s store.FactStore, date time.Time, component string, value float64) {
	t.Helper()
	_, err := s.UpsertFact(context.Background(), store.FactRecord{
		PeriodDate:    date,
		ComponentCode: component,
		SourceCode:    "ABS_GFS",
		MeasurementID: testMeasurement,
		SeriesID:      component + ".PRIMARY",
		Value:         decimal.NewFromFloat(value),
		Frequency:     store.GranularityQuarterly,
		IsPrimary:     true,
		Quality:       store.QualityFinal,
		IsQuarterEnd:  true,
		Method:        store.AggregationNone,
	})
	require.NoError(t, err)
}

// putMonthly inserts a monthly observation dated the last day of the
// given month.
func putMonthly(t *testing.T, s store.FactStore, year int, month time.Month, component, series string, value float64) {
	t.Helper()
	lastDay := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	_, err := s.UpsertFact(context.Background(), store.FactRecord{
		PeriodDate:    lastDay,
		ComponentCode: component,
		SourceCode:    "ABS_BOP",
		MeasurementID: testMeasurement,
		SeriesID:      series,
		Value:         decimal.NewFromFloat(value),
		Frequency:     store.GranularityMonthly,
		IsPrimary:     true,
		Quality:       store.QualityFinal,
		Method:        store.AggregationNone,
	})
	require.NoError(t, err)
}

// putDetail inserts a non-total quarterly detail row, and putTotal the
// independently reported total row for the same component.
func putDetail(t *testing.T, s store.FactStore, date time.Time, component, series string, value float64) {
	t.Helper()
	putRow(t, s, date, component, series, value, false)
}

func putTotal(t *testing.T, s store.FactStore, date time.Time, component, series string, value float64) {
	t.Helper()
	putRow(t, s, date, component, series, value, true)
}

func putRow(t *testing.T, s store.FactStore, date time.Time, component, series string, value float64, isTotal bool) {
	t.Helper()
	_, err := s.UpsertFact(context.Background(), store.FactRecord{
		PeriodDate:    date,
		ComponentCode: component,
		SourceCode:    "ABS_GFS",
		MeasurementID: testMeasurement,
		SeriesID:      series,
		Value:         decimal.NewFromFloat(value),
		Frequency:     store.GranularityQuarterly,
		IsPrimary:     true,
		Quality:       store.QualityFinal,
		IsQuarterEnd:  true,
		IsTotal:       isTotal,
		Method:        store.AggregationNone,
	})
	require.NoError(t, err)
}
