package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"circflow/internal/store"
)

// OutlierClass is the anomaly classification of one observation.
type OutlierClass string

const (
	OutlierNormal      OutlierClass = "NORMAL"
	OutlierStatistical OutlierClass = "STATISTICAL_OUTLIER"
	OutlierLargeChange OutlierClass = "LARGE_CHANGE"
	OutlierAnnual      OutlierClass = "ANNUAL_ANOMALY"
)

// OutlierDetector computes rolling statistics over each component's
// primary series and classifies every observation with a full trailing
// window as normal or anomalous. It flags but never removes or corrects
// data; correction is a manual decision.
type OutlierDetector struct {
	store  store.FactStore
	policy Policy
	logger *slog.Logger
}

// NewOutlierDetector creates the outlier detection stage.
func NewOutlierDetector(s store.FactStore, policy Policy, logger *slog.Logger) *OutlierDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutlierDetector{
		store:  s,
		policy: policy,
		logger: logger.With(slog.String("component", "reconcile.outliers")),
	}
}

// ID returns the stage identifier.
func (d *OutlierDetector) ID() string { return StageIDOutliers }

// Name returns the human-readable stage name.
func (d *OutlierDetector) Name() string { return StageNameOutliers }

// observation is one point of a component's primary series after
// summing primary facts per period.
type observation struct {
	date  time.Time
	value float64
}

// ComponentOutlierSummary is the per-component output of a detection
// pass.
type ComponentOutlierSummary struct {
	Component    string  `json:"component"`
	Evaluated    int     `json:"evaluated"`
	Statistical  int     `json:"statistical_outliers"`
	LargeChanges int     `json:"large_changes"`
	Annual       int     `json:"annual_anomalies"`
	AvgAbsZScore float64 `json:"avg_abs_z_score"`
}

// OutlierMetrics is the machine-readable payload of a detection pass.
type OutlierMetrics struct {
	Components []ComponentOutlierSummary `json:"components"`
}

// Run executes one detection pass. The detector only reads the fact
// store, so no transaction is needed.
func (d *OutlierDetector) Run(ctx context.Context) StageReport {
	report := newStageReport(d.ID(), d.Name())

	components, err := d.store.Components(ctx)
	if err != nil {
		report.Fail(fmt.Errorf("load components: %w", err))
		return report.finish()
	}

	var summaries []ComponentOutlierSummary
	for _, component := range components {
		series, err := d.primarySeries(ctx, component.Code)
		if err != nil {
			report.Fail(err)
			return report.finish()
		}
		report.RowsRead += len(series)

		summary := d.classifySeries(component.Code, series)
		summaries = append(summaries, summary)

		anomalies := summary.Statistical + summary.LargeChanges + summary.Annual
		if anomalies > 0 {
			report.Warn(fmt.Sprintf("%s primary series has %d anomalous observations (%d statistical, %d large-change, %d annual)",
				component.Code, anomalies, summary.Statistical, summary.LargeChanges, summary.Annual),
				map[string]float64{
					"statistical":     float64(summary.Statistical),
					"large_changes":   float64(summary.LargeChanges),
					"annual":          float64(summary.Annual),
					"avg_abs_z_score": summary.AvgAbsZScore,
				})
		}

		d.logger.InfoContext(ctx, "component_classified",
			slog.String("code", component.Code),
			slog.Int("observations", len(series)),
			slog.Int("evaluated", summary.Evaluated),
			slog.Int("anomalies", anomalies))
	}

	report.Metrics = OutlierMetrics{Components: summaries}
	return report.finish()
}

// primarySeries sums each period's primary quarterly facts into one
// observation per period, ordered by date.
func (d *OutlierDetector) primarySeries(ctx context.Context, component string) ([]observation, error) {
	primary := true
	facts, err := d.store.Facts(ctx, store.FactFilter{
		ComponentCode: component,
		Frequency:     store.GranularityQuarterly,
		IsPrimary:     &primary,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s primary series: %w", component, err)
	}

	byDate := make(map[time.Time]float64)
	for _, f := range facts {
		v, _ := f.Value.Float64()
		byDate[f.PeriodDate] += v
	}

	series := make([]observation, 0, len(byDate))
	for date, value := range byDate {
		series = append(series, observation{date: date, value: value})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].date.Before(series[j].date) })
	return series, nil
}

// classifySeries applies the rolling-window classification to every
// observation with a full trailing window. The warm-up prefix is
// excluded.
func (d *OutlierDetector) classifySeries(component string, series []observation) ComponentOutlierSummary {
	summary := ComponentOutlierSummary{Component: component}
	window := d.policy.RollingWindow

	var zSum float64
	var zCount int
	for i := window - 1; i < len(series); i++ {
		value := series[i].value
		mean, stddev := rollingStats(series[i-window+1 : i+1])

		if stddev > 0 {
			zSum += math.Abs(value-mean) / stddev
			zCount++
		}

		switch d.classify(series, i, mean, stddev) {
		case OutlierStatistical:
			summary.Statistical++
		case OutlierLargeChange:
			summary.LargeChanges++
		case OutlierAnnual:
			summary.Annual++
		}
		summary.Evaluated++
	}
	if zCount > 0 {
		summary.AvgAbsZScore = zSum / float64(zCount)
	}
	return summary
}

// classify evaluates the anomaly rules in strict priority order:
// statistical outlier, then large period-on-period change, then annual
// anomaly.
func (d *OutlierDetector) classify(series []observation, i int, mean, stddev float64) OutlierClass {
	value := series[i].value

	if stddev > 0 && math.Abs(value-mean) > d.policy.ZScoreThreshold*stddev {
		return OutlierStatistical
	}
	if i >= 1 {
		if prev := series[i-1].value; prev > 0 && math.Abs(value-prev)/prev > d.policy.LargeChangeRatio {
			return OutlierLargeChange
		}
	}
	if i >= 4 {
		if yearAgo := series[i-4].value; yearAgo > 0 && math.Abs(value-yearAgo)/yearAgo > d.policy.AnnualChangeRatio {
			return OutlierAnnual
		}
	}
	return OutlierNormal
}

// rollingStats returns the mean and sample standard deviation of the
// window.
func rollingStats(window []observation) (mean, stddev float64) {
	n := float64(len(window))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, o := range window {
		sum += o.value
	}
	mean = sum / n

	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, o := range window {
		diff := o.value - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / (n - 1))
}
