package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"circflow/internal/store"
)

// SolvedTSourceCode is the synthetic data source holding taxation
// estimates derived from the circular-flow identity. It is created on
// first use.
const SolvedTSourceCode = "SOLVED_T"

// SolvedTSeriesID is the series identifier for identity-derived
// taxation estimates.
const SolvedTSeriesID = "T.IDENTITY"

// EstimateQuality bands the solver's overall estimate quality by
// coefficient of variation.
type EstimateQuality string

const (
	EstimateExcellent EstimateQuality = "EXCELLENT"
	EstimateGood      EstimateQuality = "GOOD"
	EstimateModerate  EstimateQuality = "MODERATE"
)

// Solver recovers taxation estimates for historical periods where T was
// never published directly, using the accounting identity
// T = (I + G + X) - (S + M). Estimates are restricted to the trusted
// historical window and rejected when implausible.
type Solver struct {
	store  store.FactStore
	policy Policy
	logger *slog.Logger
}

// NewSolver creates the missing-value solver stage.
func NewSolver(s store.FactStore, policy Policy, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		store:  s,
		policy: policy,
		logger: logger.With(slog.String("component", "reconcile.solver")),
	}
}

// ID returns the stage identifier.
func (s *Solver) ID() string { return StageIDSolve }

// Name returns the human-readable stage name.
func (s *Solver) Name() string { return StageNameSolve }

// SolverMetrics is the machine-readable payload of a solve pass.
type SolverMetrics struct {
	Candidates          int             `json:"candidates"`
	Accepted            int             `json:"accepted"`
	RejectedNonPositive int             `json:"rejected_non_positive"`
	RejectedShare       int             `json:"rejected_share"`
	SkippedObservedT    int             `json:"skipped_observed_t"`
	MeanEstimate        float64         `json:"mean_estimate"`
	StdDevEstimate      float64         `json:"std_dev_estimate"`
	CVPct               float64         `json:"cv_pct"`
	MeanShareOfSMPct    float64         `json:"mean_share_of_sm_pct"`
	Quality             EstimateQuality `json:"quality"`
}

// Run executes one solve pass. All accepted estimates commit as a unit.
func (s *Solver) Run(ctx context.Context) StageReport {
	report := newStageReport(s.ID(), s.Name())

	err := s.store.InTx(ctx, func(tx store.FactStore) error {
		return s.solve(ctx, tx, report)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "stage_failed",
			slog.String("stage", s.ID()),
			slog.String("error", err.Error()))
		report.Fail(err)
	}
	return report.finish()
}

// periodComponents holds the primary component sums of one period plus
// the measurement carried over to derived records.
type periodComponents struct {
	date        time.Time
	sums        map[string]decimal.Decimal
	measurement string
}

func (s *Solver) solve(ctx context.Context, tx store.FactStore, report *StageReport) error {
	// The target component must exist as reference data; its absence is a
	// configuration error fatal to the pass.
	if _, err := tx.Component(ctx, store.ComponentTaxation); err != nil {
		return fmt.Errorf("taxation component lookup: %w", err)
	}

	periods, err := s.loadWindow(ctx, tx, report)
	if err != nil {
		return err
	}

	source, err := tx.EnsureSource(ctx, store.DataSource{
		Code:        SolvedTSourceCode,
		Provider:    "circflow",
		Description: "Taxation derived via circular-flow identity",
		Category:    store.SourceDerived,
		Frequency:   store.GranularityQuarterly,
	})
	if err != nil {
		return fmt.Errorf("ensure solver source: %w", err)
	}

	metrics := SolverMetrics{}
	dates := make([]time.Time, 0, len(periods))
	for d := range periods {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var shareSum float64
	for _, date := range dates {
		pc := periods[date]

		if _, ok := pc.sums[store.ComponentTaxation]; ok {
			metrics.SkippedObservedT++
			continue
		}

		required := []string{
			store.ComponentSavings, store.ComponentImports,
			store.ComponentInvestment, store.ComponentGovernment, store.ComponentExports,
		}
		complete := true
		for _, code := range required {
			if _, ok := pc.sums[code]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		metrics.Candidates++

		injections := pc.sums[store.ComponentInvestment].
			Add(pc.sums[store.ComponentGovernment]).
			Add(pc.sums[store.ComponentExports])
		leakagesSM := pc.sums[store.ComponentSavings].Add(pc.sums[store.ComponentImports])
		implied := injections.Sub(leakagesSM)

		// Sanity guards: taxes cannot be negative, and an implied burden at
		// or above half of (S + M) is implausible. Failing candidates are
		// excluded, not inserted with a warning.
		if !implied.IsPositive() {
			metrics.RejectedNonPositive++
			continue
		}
		maxShare := decimal.NewFromFloat(s.policy.SolveMaxShareOfSM)
		if !leakagesSM.IsPositive() || implied.GreaterThanOrEqual(leakagesSM.Mul(maxShare)) {
			metrics.RejectedShare++
			continue
		}

		outcome, err := tx.UpsertFact(ctx, store.FactRecord{
			PeriodDate:    date,
			ComponentCode: store.ComponentTaxation,
			SourceCode:    source.Code,
			MeasurementID: pc.measurement,
			SeriesID:      SolvedTSeriesID,
			Value:         implied,
			Frequency:     store.GranularityQuarterly,
			IsPrimary:     false,
			Quality:       store.QualityCalculated,
			IsQuarterEnd:  true,
			Method:        store.AggregationIdentity,
		})
		if err != nil {
			return fmt.Errorf("upsert implied T for %s: %w", date.Format(store.DateKeyFormat), err)
		}
		switch outcome {
		case store.UpsertCreated, store.UpsertUpdated:
			report.RowsWritten++
		default:
			report.RowsSkipped++
		}
		metrics.Accepted++

		share, _ := implied.Div(leakagesSM).Float64()
		shareSum += share * 100
	}

	if metrics.Accepted > 0 {
		metrics.MeanShareOfSMPct = shareSum / float64(metrics.Accepted)
	}
	if err := s.assessEstimates(ctx, tx, &metrics, report); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "solve_complete",
		slog.Int("candidates", metrics.Candidates),
		slog.Int("accepted", metrics.Accepted),
		slog.Int("rejected_non_positive", metrics.RejectedNonPositive),
		slog.Int("rejected_share", metrics.RejectedShare),
		slog.String("quality", string(metrics.Quality)))

	report.Metrics = metrics
	return nil
}

// loadWindow gathers per-period primary component sums inside the
// trusted historical window.
func (s *Solver) loadWindow(ctx context.Context, tx store.FactStore, report *StageReport) (map[time.Time]*periodComponents, error) {
	primary := true
	facts, err := tx.Facts(ctx, store.FactFilter{
		Frequency: store.GranularityQuarterly,
		IsPrimary: &primary,
		From:      s.policy.SolveWindowStart,
		To:        s.policy.SolveWindowEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("load solve window facts: %w", err)
	}
	report.RowsRead = len(facts)

	periods := make(map[time.Time]*periodComponents)
	for _, f := range facts {
		pc := periods[f.PeriodDate]
		if pc == nil {
			pc = &periodComponents{date: f.PeriodDate, sums: make(map[string]decimal.Decimal)}
			periods[f.PeriodDate] = pc
		}
		pc.sums[f.ComponentCode] = pc.sums[f.ComponentCode].Add(f.Value)
		// A derived record keeps the measurement of the observed government
		// spending series so dimension joins stay intact.
		if f.ComponentCode == store.ComponentGovernment && pc.measurement == "" {
			pc.measurement = f.MeasurementID
		}
	}
	return periods, nil
}

// assessEstimates computes descriptive summary statistics across all
// calculated estimates and bands the overall quality. Purely
// descriptive: it never gates insertion.
func (s *Solver) assessEstimates(ctx context.Context, tx store.FactStore, metrics *SolverMetrics, report *StageReport) error {
	estimates, err := tx.Facts(ctx, store.FactFilter{
		ComponentCode: store.ComponentTaxation,
		SourceCode:    SolvedTSourceCode,
		Quality:       store.QualityCalculated,
	})
	if err != nil {
		return fmt.Errorf("load calculated estimates: %w", err)
	}
	if len(estimates) == 0 {
		return nil
	}

	values := make([]float64, len(estimates))
	var sum float64
	for i, e := range estimates {
		values[i], _ = e.Value.Float64()
		sum += values[i]
	}
	mean := sum / float64(len(values))

	var stddev float64
	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			diff := v - mean
			sq += diff * diff
		}
		stddev = math.Sqrt(sq / float64(len(values)-1))
	}

	metrics.MeanEstimate = mean
	metrics.StdDevEstimate = stddev
	if mean > 0 {
		metrics.CVPct = stddev / mean * 100
	}
	switch {
	case metrics.CVPct < s.policy.CVExcellentPct:
		metrics.Quality = EstimateExcellent
	case metrics.CVPct < s.policy.CVGoodPct:
		metrics.Quality = EstimateGood
	default:
		metrics.Quality = EstimateModerate
	}

	report.Info(fmt.Sprintf("%d calculated taxation estimates on record: mean %.0f, CV %.1f%% (%s)",
		len(estimates), mean, metrics.CVPct, metrics.Quality),
		map[string]float64{
			"estimates": float64(len(estimates)),
			"mean":      mean,
			"std_dev":   stddev,
			"cv_pct":    metrics.CVPct,
		})
	return nil
}
