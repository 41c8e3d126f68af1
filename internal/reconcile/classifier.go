package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"circflow/internal/store"
)

// defaultLevelCodes is the static mapping from agency-specific
// government-level labels to canonical short codes. Labels absent from
// the table fall back to a deterministic derived code so nothing is
// silently dropped.
var defaultLevelCodes = map[string]string{
	"Commonwealth":                 "CW",
	"Total":                        "ALL",
	"All Levels of Government":     "ALL",
	"Local Government":             "LG",
	"State":                        "STE",
	"NSW State":                    "NSW",
	"New South Wales":              "NSW",
	"VIC State":                    "VIC",
	"Victoria":                     "VIC",
	"QLD State":                    "QLD",
	"Queensland":                   "QLD",
	"WA State":                     "WA",
	"Western Australia":            "WA",
	"SA State":                     "SA",
	"South Australia":              "SA",
	"TAS State":                    "TAS",
	"Tasmania":                     "TAS",
	"NT Territory":                 "NT",
	"Northern Territory":           "NT",
	"ACT Territory":                "ACT",
	"Australian Capital Territory": "ACT",
}

// Classifier aligns agency-specific government-level labels onto the
// canonical vocabulary and surfaces disagreements between independently
// reported totals and summed detail rows.
type Classifier struct {
	store   store.FactStore
	policy  Policy
	mapping map[string]string
	logger  *slog.Logger
}

// NewClassifier creates the classification normalization stage.
// Overrides extend or replace entries of the built-in mapping table and
// come from deployment configuration.
func NewClassifier(s store.FactStore, policy Policy, overrides map[string]string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	mapping := make(map[string]string, len(defaultLevelCodes)+len(overrides))
	for label, code := range defaultLevelCodes {
		mapping[label] = code
	}
	for label, code := range overrides {
		mapping[label] = code
	}
	return &Classifier{
		store:   s,
		policy:  policy,
		mapping: mapping,
		logger:  logger.With(slog.String("component", "reconcile.classifier")),
	}
}

// ID returns the stage identifier.
func (c *Classifier) ID() string { return StageIDClassify }

// Name returns the human-readable stage name.
func (c *Classifier) Name() string { return StageNameClassify }

// CanonicalCode resolves a government-level label to its canonical
// short code, deriving a three-letter fallback for unmapped labels.
func (c *Classifier) CanonicalCode(label string) string {
	if code, ok := c.mapping[label]; ok {
		return code
	}
	return deriveCode(label)
}

// deriveCode builds a deterministic three-letter code from a label's
// leading letters, padding short labels with 'X'.
func deriveCode(label string) string {
	var b strings.Builder
	for _, r := range label {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() >= 3 {
				break
			}
		}
	}
	code := b.String()
	for len(code) < 3 {
		code += "X"
	}
	return code
}

// Run executes one normalization pass. Mapping updates commit as a
// unit; total-mismatch findings are reported, never auto-corrected.
func (c *Classifier) Run(ctx context.Context) StageReport {
	report := newStageReport(c.ID(), c.Name())

	err := c.store.InTx(ctx, func(tx store.FactStore) error {
		return c.classify(ctx, tx, report)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "stage_failed",
			slog.String("stage", c.ID()),
			slog.String("error", err.Error()))
		report.Fail(err)
	}
	return report.finish()
}

func (c *Classifier) classify(ctx context.Context, tx store.FactStore, report *StageReport) error {
	levels, err := tx.GovernmentLevels(ctx)
	if err != nil {
		return fmt.Errorf("load government levels: %w", err)
	}
	report.RowsRead = len(levels)

	var changed, derived int
	for _, level := range levels {
		code, mapped := c.mapping[level.Name]
		if !mapped {
			code = deriveCode(level.Name)
			derived++
			report.Warn(fmt.Sprintf("government level %q has no mapping; derived code %s assigned", level.Name, code), nil)
		}
		didChange, err := tx.SetGovernmentLevelCode(ctx, level.Name, code)
		if err != nil {
			return fmt.Errorf("set level code for %q: %w", level.Name, err)
		}
		if didChange {
			changed++
			report.RowsWritten++
		}
	}

	flagged, err := c.checkTotals(ctx, tx, report)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "classification_complete",
		slog.Int("levels", len(levels)),
		slog.Int("changed", changed),
		slog.Int("derived_codes", derived),
		slog.Int("total_mismatches", flagged))

	report.Metrics = ClassifierMetrics{
		Levels:          len(levels),
		LevelsChanged:   changed,
		DerivedCodes:    derived,
		TotalMismatches: flagged,
	}
	return nil
}

// ClassifierMetrics is the machine-readable payload of a
// classification pass.
type ClassifierMetrics struct {
	Levels          int `json:"levels"`
	LevelsChanged   int `json:"levels_changed"`
	DerivedCodes    int `json:"derived_codes"`
	TotalMismatches int `json:"total_mismatches"`
}

// checkTotals compares, per period, the independently reported total
// rows of G and T against the sum of their detail rows and flags
// relative differences above the policy threshold. Resolving such a
// disagreement requires human judgement, so flagged periods are
// reported, not corrected. Only primary rows participate: solver
// estimates and quarterly aggregates are derived from the same detail
// rows and would double-count them on a re-run.
func (c *Classifier) checkTotals(ctx context.Context, tx store.FactStore, report *StageReport) (int, error) {
	var flagged int
	primary := true
	for _, component := range []string{store.ComponentGovernment, store.ComponentTaxation} {
		facts, err := tx.Facts(ctx, store.FactFilter{
			ComponentCode: component,
			Frequency:     store.GranularityQuarterly,
			IsPrimary:     &primary,
		})
		if err != nil {
			return flagged, fmt.Errorf("load %s facts: %w", component, err)
		}

		type totals struct {
			reported   decimal.Decimal
			calculated decimal.Decimal
			hasTotal   bool
		}
		byPeriod := make(map[string]*totals)
		for _, f := range facts {
			key := f.PeriodDate.Format(store.DateKeyFormat)
			t := byPeriod[key]
			if t == nil {
				t = &totals{}
				byPeriod[key] = t
			}
			if f.IsTotal {
				t.reported = t.reported.Add(f.Value)
				t.hasTotal = true
			} else {
				t.calculated = t.calculated.Add(f.Value)
			}
		}

		periods := make([]string, 0, len(byPeriod))
		for p := range byPeriod {
			periods = append(periods, p)
		}
		sort.Strings(periods)

		for _, period := range periods {
			t := byPeriod[period]
			if !t.hasTotal || t.reported.IsZero() {
				continue
			}
			diff, _ := t.reported.Sub(t.calculated).Abs().Div(t.reported.Abs()).Float64()
			diffPct := diff * 100
			if diffPct > c.policy.TotalMismatchPct {
				flagged++
				reported, _ := t.reported.Float64()
				calculated, _ := t.calculated.Float64()
				report.Warn(fmt.Sprintf("%s totals disagree for %s: reported vs calculated differ by %.1f%%",
					component, period, diffPct),
					map[string]float64{
						"reported_total":   reported,
						"calculated_total": calculated,
						"difference_pct":   diffPct,
					})
			}
		}
	}
	return flagged, nil
}
