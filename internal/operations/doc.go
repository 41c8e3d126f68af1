// Package operations orchestrates reconciliation passes over the fact
// store. A pass runs the engine stages in dependency order, tracks
// per-stage state, broadcasts progress snapshots to connected clients
// and returns one aggregated PassReport.
//
// Stages come from the reconcile package; this package owns ordering,
// cancellation, panic containment and reporting, not domain logic.
package operations
