package operations

import (
	"time"

	"circflow/internal/reconcile"
)

// PassStatus is the lifecycle state of a reconciliation pass.
type PassStatus string

const (
	PassStatusPending   PassStatus = "pending"
	PassStatusRunning   PassStatus = "running"
	PassStatusCompleted PassStatus = "completed"
	// PassStatusCompletedWithErrors means every stage ran to the end
	// under continue-on-error but at least one of them failed.
	PassStatusCompletedWithErrors PassStatus = "completed_with_errors"
	PassStatusFailed              PassStatus = "failed"
	PassStatusCancelled           PassStatus = "cancelled"
)

// WebSocket event types, in the shape the dashboard consumes.
const (
	EventTypePassSnapshot = "pass:snapshot"
)

// PassRequest asks the manager to run a reconciliation pass. An empty
// Stages slice means the full pipeline in dependency order; naming a
// stage runs it together with the stages it depends on.
type PassRequest struct {
	ID     string   `json:"id,omitempty"`
	Stages []string `json:"stages,omitempty"`
}

// PassResponse is the aggregated outcome of one pass.
type PassResponse struct {
	ID          string                  `json:"id"`
	Status      PassStatus              `json:"status"`
	StartedAt   time.Time               `json:"started_at"`
	Duration    time.Duration           `json:"duration"`
	Stages      []reconcile.StageReport `json:"stages"`
	RowsRead    int                     `json:"rows_read"`
	RowsWritten int                     `json:"rows_written"`
	Findings    []reconcile.Finding     `json:"findings"`
	Error       string                  `json:"error,omitempty"`
}

// Hub broadcasts pass snapshots to connected clients. The websocket
// hub satisfies it; a nil hub disables broadcasting.
type Hub interface {
	BroadcastUpdate(eventType, subtype, action string, data any)
}
