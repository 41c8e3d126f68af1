package operations

import (
	"log/slog"
	"sync"
	"time"
)

// PassSnapshot is the complete pass state pushed to the dashboard on
// every change. Clients never assemble state from partial events.
type PassSnapshot struct {
	PassID       string          `json:"pass_id"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStage string          `json:"current_stage,omitempty"`
	Stages       []StageSnapshot `json:"stages"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// StageSnapshot is one stage's state inside a pass snapshot.
type StageSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	Findings int    `json:"findings"`
	Error    string `json:"error,omitempty"`
}

// StatusBroadcaster pushes pass snapshots to the hub and retains the
// latest snapshot per pass for clients that connect mid-run.
type StatusBroadcaster struct {
	mu        sync.RWMutex
	snapshots map[string]PassSnapshot
	hub       Hub
	logger    *slog.Logger
}

// NewStatusBroadcaster creates a broadcaster over the given hub. A nil
// hub keeps snapshots queryable without pushing anywhere.
func NewStatusBroadcaster(hub Hub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		snapshots: make(map[string]PassSnapshot),
		hub:       hub,
		logger:    logger.With(slog.String("component", "operations.broadcaster")),
	}
}

// Publish stores and broadcasts a snapshot.
func (sb *StatusBroadcaster) Publish(snapshot PassSnapshot) {
	sb.mu.Lock()
	sb.snapshots[snapshot.PassID] = snapshot
	sb.mu.Unlock()

	if sb.hub == nil {
		return
	}
	sb.logger.Debug("broadcasting_pass_snapshot",
		slog.String("pass_id", snapshot.PassID),
		slog.String("status", snapshot.Status),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_stage", snapshot.CurrentStage))
	sb.hub.BroadcastUpdate(EventTypePassSnapshot, snapshot.PassID, "update", snapshot)
}

// Snapshot returns the latest snapshot for a pass.
func (sb *StatusBroadcaster) Snapshot(passID string) (PassSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	snap, ok := sb.snapshots[passID]
	return snap, ok
}

// Snapshots returns the latest snapshot of every known pass.
func (sb *StatusBroadcaster) Snapshots() []PassSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make([]PassSnapshot, 0, len(sb.snapshots))
	for _, snap := range sb.snapshots {
		out = append(out, snap)
	}
	return out
}

// Cleanup drops snapshots of terminal passes older than maxAge.
func (sb *StatusBroadcaster) Cleanup(maxAge time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now().UTC()
	for id, snap := range sb.snapshots {
		if snap.CompletedAt == nil {
			continue
		}
		if now.Sub(*snap.CompletedAt) > maxAge {
			delete(sb.snapshots, id)
			sb.logger.Debug("snapshot_expired", slog.String("pass_id", id))
		}
	}
}
