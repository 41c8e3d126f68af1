// Package reconcile implements the reconciliation and validation
// engine for the circular-flow warehouse: the five batch stages that
// turn raw multi-agency observations into a coherent quarterly fact
// store honouring the accounting identity S + T + M = I + G + X.
//
// The stages, in dependency order:
//
//   - Aligner: aggregates monthly observations onto the quarterly
//     timeline (exactly three months per quarter, mean value).
//   - Classifier: maps agency-specific government-level labels onto
//     canonical codes and flags disagreeing totals.
//   - OutlierDetector: rolling-window statistical classification of
//     every primary observation.
//   - Solver: derives historical taxation estimates from the identity
//     where the other five components are present and sane.
//   - Validator: scores per-period identity balance and the dataset's
//     overall health.
//
// Every stage is idempotent and re-runnable: writes go through
// natural-key upserts, each pass runs as one transaction, and a stage
// always returns a StageReport whether it ran cleanly, ran with
// warnings, or aborted.
package reconcile
