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

// EquilibriumStatus bands the dataset's overall balance health.
type EquilibriumStatus string

const (
	EquilibriumExcellent EquilibriumStatus = "EXCELLENT"
	EquilibriumGood      EquilibriumStatus = "GOOD"
	EquilibriumModerate  EquilibriumStatus = "MODERATE"
	EquilibriumHigh      EquilibriumStatus = "HIGH"
)

// Validator scores, per period, how closely the two sides of the
// circular-flow identity S + T + M = I + G + X balance, and summarizes
// the dataset's overall health for dashboards and alerting.
type Validator struct {
	store  store.FactStore
	policy Policy
	logger *slog.Logger
}

// NewValidator creates the equilibrium validation stage.
func NewValidator(s store.FactStore, policy Policy, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		store:  s,
		policy: policy,
		logger: logger.With(slog.String("component", "reconcile.equilibrium")),
	}
}

// ID returns the stage identifier.
func (v *Validator) ID() string { return StageIDEquilibrium }

// Name returns the human-readable stage name.
func (v *Validator) Name() string { return StageNameEquilibrium }

// PeriodBalance is the per-period scoring detail.
type PeriodBalance struct {
	Date         time.Time `json:"date"`
	Components   int       `json:"components"`
	Left         float64   `json:"left"`
	Right        float64   `json:"right"`
	AbsImbalance float64   `json:"abs_imbalance"`
	ImbalancePct float64   `json:"imbalance_pct"`
	Scored       bool      `json:"scored"`
}

// ComponentCoverage reports the historical depth of one component's
// observations.
type ComponentCoverage struct {
	Component string `json:"component"`
	Years     int    `json:"years"`
	Earliest  string `json:"earliest,omitempty"`
	Latest    string `json:"latest,omitempty"`
	Records   int    `json:"records"`
}

// EquilibriumMetrics is the machine-readable payload of a validation
// pass.
type EquilibriumMetrics struct {
	PeriodsAnalyzed  int                 `json:"periods_analyzed"`
	PeriodsBalanced  int                 `json:"periods_balanced"`
	PeriodsExcluded  int                 `json:"periods_excluded"`
	MeanImbalancePct float64             `json:"mean_imbalance_pct"`
	MinImbalancePct  float64             `json:"min_imbalance_pct"`
	MaxImbalancePct  float64             `json:"max_imbalance_pct"`
	StdImbalancePct  float64             `json:"std_imbalance_pct"`
	BalanceRatePct   float64             `json:"balance_rate_pct"`
	Status           EquilibriumStatus   `json:"status"`
	WeakestComponent string              `json:"weakest_component,omitempty"`
	Coverage         []ComponentCoverage `json:"coverage"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// Run executes one validation pass. The validator only reads the fact
// store.
func (v *Validator) Run(ctx context.Context) StageReport {
	report := newStageReport(v.ID(), v.Name())

	balances, err := v.scorePeriods(ctx, report)
	if err != nil {
		report.Fail(err)
		return report.finish()
	}

	metrics := v.aggregate(balances)
	metrics.Coverage, metrics.WeakestComponent, err = v.coverage(ctx)
	if err != nil {
		report.Fail(err)
		return report.finish()
	}

	if metrics.Status == EquilibriumModerate || metrics.Status == EquilibriumHigh {
		report.Warn(fmt.Sprintf("mean identity imbalance %.1f%% across %d periods (%s)",
			metrics.MeanImbalancePct, metrics.PeriodsAnalyzed, metrics.Status),
			map[string]float64{
				"mean_imbalance_pct": metrics.MeanImbalancePct,
				"balance_rate_pct":   metrics.BalanceRatePct,
			})
	} else {
		report.Info(fmt.Sprintf("identity balances within %.1f%% on average across %d periods (%s)",
			metrics.MeanImbalancePct, metrics.PeriodsAnalyzed, metrics.Status), nil)
	}

	v.logger.InfoContext(ctx, "equilibrium_complete",
		slog.Int("periods_analyzed", metrics.PeriodsAnalyzed),
		slog.Int("periods_balanced", metrics.PeriodsBalanced),
		slog.Float64("mean_imbalance_pct", metrics.MeanImbalancePct),
		slog.String("status", string(metrics.Status)))

	report.Metrics = metrics
	return report.finish()
}

// scorePeriods computes per-period component sums and the identity
// imbalance for every period with enough components present.
//
// Primary observations carry each component; taxation falls back to
// identity-derived estimates for historical periods with no observed T.
func (v *Validator) scorePeriods(ctx context.Context, report *StageReport) ([]PeriodBalance, error) {
	primary := true
	facts, err := v.store.Facts(ctx, store.FactFilter{
		Frequency: store.GranularityQuarterly,
		IsPrimary: &primary,
	})
	if err != nil {
		return nil, fmt.Errorf("load primary facts: %w", err)
	}
	report.RowsRead = len(facts)

	type sums = map[string]decimal.Decimal
	byPeriod := make(map[time.Time]sums)
	add := func(date time.Time, component string, value decimal.Decimal) {
		if byPeriod[date] == nil {
			byPeriod[date] = make(sums)
		}
		byPeriod[date][component] = byPeriod[date][component].Add(value)
	}
	for _, f := range facts {
		add(f.PeriodDate, f.ComponentCode, f.Value)
	}

	estimates, err := v.store.Facts(ctx, store.FactFilter{
		ComponentCode: store.ComponentTaxation,
		SourceCode:    SolvedTSourceCode,
		Quality:       store.QualityCalculated,
	})
	if err != nil {
		return nil, fmt.Errorf("load taxation estimates: %w", err)
	}
	for _, f := range estimates {
		if byPeriod[f.PeriodDate] == nil {
			continue
		}
		if _, observed := byPeriod[f.PeriodDate][store.ComponentTaxation]; !observed {
			add(f.PeriodDate, store.ComponentTaxation, f.Value)
		}
	}

	dates := make([]time.Time, 0, len(byPeriod))
	for d := range byPeriod {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var balances []PeriodBalance
	for _, date := range dates {
		componentSums := byPeriod[date]
		if len(componentSums) < v.policy.MinComponentsForBalance {
			continue
		}

		left := componentSums[store.ComponentSavings].
			Add(componentSums[store.ComponentTaxation]).
			Add(componentSums[store.ComponentImports])
		right := componentSums[store.ComponentInvestment].
			Add(componentSums[store.ComponentGovernment]).
			Add(componentSums[store.ComponentExports])
		abs := left.Sub(right).Abs()

		balance := PeriodBalance{
			Date:       date,
			Components: len(componentSums),
		}
		balance.Left, _ = left.Float64()
		balance.Right, _ = right.Float64()
		balance.AbsImbalance, _ = abs.Float64()

		// A non-positive right side makes the percentage undefined; the
		// period is excluded from percentage aggregates rather than scored
		// as a silent zero.
		if right.IsPositive() {
			pct, _ := abs.Div(right).Float64()
			balance.ImbalancePct = pct * 100
			balance.Scored = true
		} else {
			report.Warn(fmt.Sprintf("period %s has non-positive injections total; excluded from imbalance aggregates",
				date.Format(store.DateKeyFormat)), nil)
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func (v *Validator) aggregate(balances []PeriodBalance) EquilibriumMetrics {
	metrics := EquilibriumMetrics{GeneratedAt: time.Now().UTC()}

	var pcts []float64
	for _, b := range balances {
		if !b.Scored {
			metrics.PeriodsExcluded++
			continue
		}
		metrics.PeriodsAnalyzed++
		pcts = append(pcts, b.ImbalancePct)
		if b.ImbalancePct < v.policy.BalancedPct {
			metrics.PeriodsBalanced++
		}
	}
	if len(pcts) == 0 {
		metrics.Status = EquilibriumHigh
		return metrics
	}

	metrics.MinImbalancePct = pcts[0]
	metrics.MaxImbalancePct = pcts[0]
	var sum float64
	for _, p := range pcts {
		sum += p
		metrics.MinImbalancePct = math.Min(metrics.MinImbalancePct, p)
		metrics.MaxImbalancePct = math.Max(metrics.MaxImbalancePct, p)
	}
	metrics.MeanImbalancePct = sum / float64(len(pcts))

	if len(pcts) > 1 {
		var sq float64
		for _, p := range pcts {
			diff := p - metrics.MeanImbalancePct
			sq += diff * diff
		}
		metrics.StdImbalancePct = math.Sqrt(sq / float64(len(pcts)-1))
	}
	metrics.BalanceRatePct = float64(metrics.PeriodsBalanced) / float64(metrics.PeriodsAnalyzed) * 100

	switch {
	case metrics.MeanImbalancePct < v.policy.EquilibriumExcellentPct:
		metrics.Status = EquilibriumExcellent
	case metrics.MeanImbalancePct < v.policy.EquilibriumGoodPct:
		metrics.Status = EquilibriumGood
	case metrics.MeanImbalancePct < v.policy.EquilibriumModeratePct:
		metrics.Status = EquilibriumModerate
	default:
		metrics.Status = EquilibriumHigh
	}
	return metrics
}

// coverage reports each component's historical depth and names the
// weakest component, the usual suspect behind a persistent imbalance.
func (v *Validator) coverage(ctx context.Context) ([]ComponentCoverage, string, error) {
	components, err := v.store.Components(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load components: %w", err)
	}

	var (
		out     []ComponentCoverage
		weakest string
		minYear = math.MaxInt32
	)
	for _, component := range components {
		facts, err := v.store.Facts(ctx, store.FactFilter{ComponentCode: component.Code})
		if err != nil {
			return nil, "", fmt.Errorf("load %s coverage: %w", component.Code, err)
		}

		cov := ComponentCoverage{Component: component.Code, Records: len(facts)}
		years := make(map[int]bool)
		for i, f := range facts {
			years[f.PeriodDate.Year()] = true
			if i == 0 {
				cov.Earliest = f.PeriodDate.Format(store.DateKeyFormat)
			}
			cov.Latest = f.PeriodDate.Format(store.DateKeyFormat)
		}
		cov.Years = len(years)
		out = append(out, cov)

		if cov.Years < minYear {
			minYear = cov.Years
			weakest = component.Code
		}
	}
	return out, weakest, nil
}
