package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"circflow/internal/store"
)

// Aligner normalizes monthly observations onto the common quarterly
// timeline. For every (component, source, measurement, series) group
// with exactly three monthly observations inside a quarter it emits one
// derived quarterly fact whose value is the mean of the three months.
type Aligner struct {
	store  store.FactStore
	policy Policy
	logger *slog.Logger
}

// NewAligner creates the temporal alignment stage.
func NewAligner(s store.FactStore, policy Policy, logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{
		store:  s,
		policy: policy,
		logger: logger.With(slog.String("component", "reconcile.aligner")),
	}
}

// ID returns the stage identifier.
func (a *Aligner) ID() string { return StageIDAlign }

// Name returns the human-readable stage name.
func (a *Aligner) Name() string { return StageNameAlign }

// seriesKey identifies one monthly series family.
type seriesKey struct {
	component   string
	source      string
	measurement string
	series      string
}

// Run executes one alignment pass. All upserts commit as a unit.
func (a *Aligner) Run(ctx context.Context) StageReport {
	report := newStageReport(a.ID(), a.Name())

	err := a.store.InTx(ctx, func(tx store.FactStore) error {
		return a.align(ctx, tx, report)
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "stage_failed",
			slog.String("stage", a.ID()),
			slog.String("error", err.Error()))
		report.Fail(err)
	}
	return report.finish()
}

func (a *Aligner) align(ctx context.Context, tx store.FactStore, report *StageReport) error {
	notAggregate := false
	monthly, err := tx.Facts(ctx, store.FactFilter{
		Frequency:          store.GranularityMonthly,
		IsMonthlyAggregate: &notAggregate,
	})
	if err != nil {
		return fmt.Errorf("load monthly facts: %w", err)
	}
	report.RowsRead = len(monthly)

	// Partition by series family, then by quarter within the family.
	groups := make(map[seriesKey]map[time.Time][]store.FactRecord)
	for _, f := range monthly {
		key := seriesKey{f.ComponentCode, f.SourceCode, f.MeasurementID, f.SeriesID}
		if groups[key] == nil {
			groups[key] = make(map[time.Time][]store.FactRecord)
		}
		qEnd := store.QuarterEnd(f.PeriodDate)
		groups[key][qEnd] = append(groups[key][qEnd], f)
	}

	keys := make([]seriesKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.component != b.component {
			return a.component < b.component
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return a.series < b.series
	})

	var groupsTotal, partialSkipped int
	for _, key := range keys {
		quarters := make([]time.Time, 0, len(groups[key]))
		for q := range groups[key] {
			quarters = append(quarters, q)
		}
		sort.Slice(quarters, func(i, j int) bool { return quarters[i].Before(quarters[j]) })

		for _, qEnd := range quarters {
			members := groups[key][qEnd]
			groupsTotal++

			// Exactly three contributing months; a partial quarter is never
			// aggregated and stays queued for the next pass.
			if !hasThreeDistinctMonths(members) {
				partialSkipped++
				continue
			}

			period, err := tx.PeriodByDate(ctx, qEnd, store.GranularityQuarterly)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					report.Warn(fmt.Sprintf("time dimension has no quarter-end entry for %s; series %s skipped",
						qEnd.Format(store.DateKeyFormat), key.series), nil)
					continue
				}
				return fmt.Errorf("period lookup %s: %w", qEnd.Format(store.DateKeyFormat), err)
			}

			outcome, err := tx.UpsertFact(ctx, store.FactRecord{
				PeriodDate:         period.Date,
				ComponentCode:      key.component,
				SourceCode:         key.source,
				MeasurementID:      key.measurement,
				SeriesID:           key.series + ".Q",
				Value:              meanValue(members),
				Frequency:          store.GranularityQuarterly,
				IsPrimary:          false,
				Quality:            store.QualityAggregated,
				IsQuarterEnd:       true,
				IsMonthlyAggregate: true,
				Method:             store.AggregationAverage,
			})
			if err != nil {
				return fmt.Errorf("upsert quarterly aggregate for %s: %w", key.series, err)
			}
			switch outcome {
			case store.UpsertCreated, store.UpsertUpdated:
				report.RowsWritten++
			default:
				report.RowsSkipped++
			}
		}
	}

	a.logger.InfoContext(ctx, "alignment_complete",
		slog.Int("monthly_rows", len(monthly)),
		slog.Int("groups", groupsTotal),
		slog.Int("partial_skipped", partialSkipped),
		slog.Int("aggregates_written", report.RowsWritten))

	report.Metrics = AlignerMetrics{
		MonthlyRows:       len(monthly),
		QuarterGroups:     groupsTotal,
		PartialSkipped:    partialSkipped,
		AggregatesWritten: report.RowsWritten,
	}
	return nil
}

// AlignerMetrics is the machine-readable payload of an alignment pass.
type AlignerMetrics struct {
	MonthlyRows       int `json:"monthly_rows"`
	QuarterGroups     int `json:"quarter_groups"`
	PartialSkipped    int `json:"partial_skipped"`
	AggregatesWritten int `json:"aggregates_written"`
}

// hasThreeDistinctMonths reports whether the group holds observations
// for exactly the three distinct months of its quarter.
func hasThreeDistinctMonths(members []store.FactRecord) bool {
	if len(members) != 3 {
		return false
	}
	months := make(map[time.Month]bool, 3)
	for _, m := range members {
		months[m.PeriodDate.Month()] = true
	}
	return len(months) == 3
}

func meanValue(members []store.FactRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range members {
		sum = sum.Add(m.Value)
	}
	return sum.Div(decimal.NewFromInt(int64(len(members))))
}
