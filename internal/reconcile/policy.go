package reconcile

import (
	"fmt"
	"time"

	"circflow/internal/config"
)

// Policy carries the engine's numeric policy parameters with the
// trusted solve window already parsed. Build one with NewPolicy.
type Policy struct {
	TotalMismatchPct  float64
	RollingWindow     int
	ZScoreThreshold   float64
	LargeChangeRatio  float64
	AnnualChangeRatio float64

	SolveWindowStart  time.Time // inclusive
	SolveWindowEnd    time.Time // exclusive
	SolveMaxShareOfSM float64
	CVExcellentPct    float64
	CVGoodPct         float64

	BalancedPct             float64
	EquilibriumExcellentPct float64
	EquilibriumGoodPct      float64
	EquilibriumModeratePct  float64
	MinComponentsForBalance int
}

// NewPolicy converts validated configuration into an engine policy.
func NewPolicy(cfg config.PolicyConfig) (Policy, error) {
	start, end, err := cfg.SolveWindow()
	if err != nil {
		return Policy{}, fmt.Errorf("policy solve window: %w", err)
	}
	return Policy{
		TotalMismatchPct:        cfg.TotalMismatchPct,
		RollingWindow:           cfg.RollingWindow,
		ZScoreThreshold:         cfg.ZScoreThreshold,
		LargeChangeRatio:        cfg.LargeChangeRatio,
		AnnualChangeRatio:       cfg.AnnualChangeRatio,
		SolveWindowStart:        start,
		SolveWindowEnd:          end,
		SolveMaxShareOfSM:       cfg.SolveMaxShareOfSM,
		CVExcellentPct:          cfg.CVExcellentPct,
		CVGoodPct:               cfg.CVGoodPct,
		BalancedPct:             cfg.BalancedPct,
		EquilibriumExcellentPct: cfg.EquilibriumExcellentPct,
		EquilibriumGoodPct:      cfg.EquilibriumGoodPct,
		EquilibriumModeratePct:  cfg.EquilibriumModeratePct,
		MinComponentsForBalance: cfg.MinComponentsForBalance,
	}, nil
}

// DefaultPolicy returns the policy with the warehouse's long-standing
// default thresholds, used by tests and dry runs.
func DefaultPolicy() Policy {
	return Policy{
		TotalMismatchPct:        5,
		RollingWindow:           13,
		ZScoreThreshold:         3,
		LargeChangeRatio:        0.5,
		AnnualChangeRatio:       0.8,
		SolveWindowStart:        time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC),
		SolveWindowEnd:          time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		SolveMaxShareOfSM:       0.5,
		CVExcellentPct:          20,
		CVGoodPct:               40,
		BalancedPct:             5,
		EquilibriumExcellentPct: 5,
		EquilibriumGoodPct:      10,
		EquilibriumModeratePct:  20,
		MinComponentsForBalance: 5,
	}
}
