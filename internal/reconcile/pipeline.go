package reconcile

import (
	"log/slog"

	"circflow/internal/store"
)

// Pipeline builds the five engine stages in dependency order: temporal
// alignment, classification normalization, outlier detection, taxation
// solving, equilibrium validation. The overrides map extends the
// built-in classification table.
func Pipeline(s store.FactStore, policy Policy, overrides map[string]string, logger *slog.Logger) []Stage {
	return []Stage{
		NewAligner(s, policy, logger),
		NewClassifier(s, policy, overrides, logger),
		NewOutlierDetector(s, policy, logger),
		NewSolver(s, policy, logger),
		NewValidator(s, policy, logger),
	}
}
