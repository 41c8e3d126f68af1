package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quarterlyFact(date time.Time, component, source, series string, value float64) FactRecord {
	return FactRecord{
		PeriodDate:    date,
		ComponentCode: component,
		SourceCode:    source,
		MeasurementID: "AUD_M_CP_SA",
		SeriesID:      series,
		Value:         decimal.NewFromFloat(value),
		Frequency:     GranularityQuarterly,
		IsPrimary:     true,
		Quality:       QualityFinal,
		IsQuarterEnd:  true,
		Method:        AggregationNone,
	}
}

func TestQuarterEnd(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want time.Time
	}{
		{"mid Q1", time.Date(2020, 2, 14, 0, 0, 0, 0, time.UTC), time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"Q2 boundary", time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC), time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC)},
		{"start of Q3", time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 9, 30, 0, 0, 0, 0, time.UTC)},
		{"December", time.Date(1999, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuarterEnd(tt.date))
		})
	}
}

func TestIsQuarterEnd(t *testing.T) {
	assert.True(t, IsQuarterEnd(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsQuarterEnd(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsQuarterEnd(time.Date(2020, 3, 30, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsQuarterEnd(time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)))
}

func TestMemoryStore_UpsertFact_NaturalKeyIdempotence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	date := time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)

	fact := quarterlyFact(date, ComponentSavings, "ABS_GFS", "A2302796K", 100)

	outcome, err := s.UpsertFact(ctx, fact)
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, outcome)

	// Re-processing the identical observation must not duplicate it.
	outcome, err = s.UpsertFact(ctx, fact)
	require.NoError(t, err)
	assert.Equal(t, UpsertUnchanged, outcome)
	assert.Equal(t, 1, s.FactCount())

	// A revision updates in place.
	fact.Value = decimal.NewFromFloat(105)
	fact.Quality = QualityRevised
	outcome, err = s.UpsertFact(ctx, fact)
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, outcome)
	assert.Equal(t, 1, s.FactCount())

	facts, err := s.Facts(ctx, FactFilter{ComponentCode: ComponentSavings})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.True(t, facts[0].Value.Equal(decimal.NewFromFloat(105)))
	assert.Equal(t, QualityRevised, facts[0].Quality)
}

func TestMemoryStore_UpsertFact_PrimaryNeverOverwrittenByDerived(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	date := time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)

	primary := quarterlyFact(date, ComponentTaxation, "ABS_GFS", "A2302794C", 200)
	_, err := s.UpsertFact(ctx, primary)
	require.NoError(t, err)

	derived := primary
	derived.IsPrimary = false
	derived.Quality = QualityCalculated
	derived.Value = decimal.NewFromFloat(150)

	outcome, err := s.UpsertFact(ctx, derived)
	require.NoError(t, err)
	assert.Equal(t, UpsertSkipped, outcome)

	facts, err := s.Facts(ctx, FactFilter{ComponentCode: ComponentTaxation})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.True(t, facts[0].IsPrimary)
	assert.True(t, facts[0].Value.Equal(decimal.NewFromFloat(200)))
}

func TestMemoryStore_UpsertFact_Invariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t.Run("calculated fact must not be primary", func(t *testing.T) {
		fact := quarterlyFact(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), ComponentTaxation, "SOLVED_T", "T.IDENTITY", 50)
		fact.Quality = QualityCalculated
		_, err := s.UpsertFact(ctx, fact)
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("quarterly non-aggregate must be quarter-end", func(t *testing.T) {
		fact := quarterlyFact(time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC), ComponentSavings, "ABS_GFS", "A1", 10)
		_, err := s.UpsertFact(ctx, fact)
		assert.ErrorIs(t, err, ErrInvariant)
	})
}

func TestMemoryStore_Facts_Filtering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	q1 := time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)
	q2 := time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC)

	_, err := s.UpsertFact(ctx, quarterlyFact(q1, ComponentSavings, "RBA_D3", "S1", 10))
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, quarterlyFact(q2, ComponentSavings, "RBA_D3", "S1", 11))
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, quarterlyFact(q1, ComponentExports, "ABS_BOP", "X1", 20))
	require.NoError(t, err)

	monthly := quarterlyFact(time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC), ComponentImports, "ABS_BOP", "M1", 5)
	monthly.Frequency = GranularityMonthly
	monthly.IsQuarterEnd = false
	_, err = s.UpsertFact(ctx, monthly)
	require.NoError(t, err)

	facts, err := s.Facts(ctx, FactFilter{ComponentCode: ComponentSavings})
	require.NoError(t, err)
	assert.Len(t, facts, 2)
	// Ordered by period date.
	assert.Equal(t, q1, facts[0].PeriodDate)
	assert.Equal(t, q2, facts[1].PeriodDate)

	facts, err = s.Facts(ctx, FactFilter{Frequency: GranularityMonthly})
	require.NoError(t, err)
	assert.Len(t, facts, 1)

	facts, err = s.Facts(ctx, FactFilter{From: q2})
	require.NoError(t, err)
	assert.Len(t, facts, 1)

	facts, err = s.Facts(ctx, FactFilter{To: q2})
	require.NoError(t, err)
	assert.Len(t, facts, 3)
}

func TestMemoryStore_PeriodByDate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddQuarterlyPeriods(2020, 2020)

	p, err := s.PeriodByDate(ctx, time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC), GranularityQuarterly)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quarter)
	assert.Equal(t, 2020, p.Year)
	assert.True(t, p.IsQuarterEnd())

	_, err = s.PeriodByDate(ctx, time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC), GranularityQuarterly)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_EnsureSource(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	src := DataSource{
		Code:        "SOLVED_T",
		Provider:    "circflow",
		Description: "Taxation derived via circular-flow identity",
		Category:    SourceDerived,
		Frequency:   GranularityQuarterly,
	}

	created, err := s.EnsureSource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, src, created)

	// Second ensure returns the existing row untouched.
	changed := src
	changed.Description = "different"
	again, err := s.EnsureSource(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, src.Description, again.Description)
}

func TestMemoryStore_InTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sentinel := errors.New("stage failed")
	err := s.InTx(ctx, func(tx FactStore) error {
		_, upErr := tx.UpsertFact(ctx, quarterlyFact(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), ComponentSavings, "RBA_D3", "S1", 10))
		require.NoError(t, upErr)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, s.FactCount())

	err = s.InTx(ctx, func(tx FactStore) error {
		_, upErr := tx.UpsertFact(ctx, quarterlyFact(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), ComponentSavings, "RBA_D3", "S1", 10))
		return upErr
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.FactCount())
}

func TestMemoryStore_InTx_PanicLeavesNoPartialWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.PanicsWithValue(t, "stage blew up", func() {
		_ = s.InTx(ctx, func(tx FactStore) error {
			_, upErr := tx.UpsertFact(ctx, quarterlyFact(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), ComponentSavings, "RBA_D3", "S1", 10))
			require.NoError(t, upErr)
			panic("stage blew up")
		})
	})
	assert.Equal(t, 0, s.FactCount())

	// The store stays usable after the unwind.
	err := s.InTx(ctx, func(tx FactStore) error {
		_, upErr := tx.UpsertFact(ctx, quarterlyFact(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), ComponentSavings, "RBA_D3", "S1", 10))
		return upErr
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.FactCount())
}

func TestMemoryStore_SetGovernmentLevelCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddGovernmentLevel(GovernmentLevel{Name: "Commonwealth", Code: ""})

	changed, err := s.SetGovernmentLevelCode(ctx, "Commonwealth", "CW")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetGovernmentLevelCode(ctx, "Commonwealth", "CW")
	require.NoError(t, err)
	assert.False(t, changed)

	levels, err := s.GovernmentLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "CW", levels[0].Code)
}
