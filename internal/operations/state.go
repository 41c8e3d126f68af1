package operations

import (
	"sync"
	"time"

	"circflow/internal/reconcile"
)

// PassState is the live state of one reconciliation pass. It is safe
// for concurrent use; API handlers read it while the pass runs.
type PassState struct {
	mu sync.RWMutex

	ID        string
	Status    PassStatus
	StartedAt time.Time
	EndedAt   *time.Time

	// Completed stage reports in execution order.
	Reports []reconcile.StageReport

	// Planned stage IDs, fixed at creation.
	Planned []string

	Err error
}

// NewPassState creates a pending pass over the planned stage IDs.
func NewPassState(id string, planned []string) *PassState {
	return &PassState{
		ID:        id,
		Status:    PassStatusPending,
		StartedAt: time.Now().UTC(),
		Planned:   planned,
	}
}

// Start marks the pass running.
func (p *PassState) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = PassStatusRunning
	p.StartedAt = time.Now().UTC()
}

// EndedTime returns the completion time of a finished pass.
func (p *PassState) EndedTime() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.EndedAt == nil {
		return time.Time{}, false
	}
	return *p.EndedAt, true
}

// AddReport records a completed stage report.
func (p *PassState) AddReport(report reconcile.StageReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reports = append(p.Reports, report)
}

// Complete marks the pass finished.
func (p *PassState) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.EndedAt = &now
	p.Status = PassStatusCompleted
}

// CompleteWithErrors marks a continue-on-error pass that reached the
// end with failed stages along the way.
func (p *PassState) CompleteWithErrors(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.EndedAt = &now
	p.Status = PassStatusCompletedWithErrors
	p.Err = err
}

// Fail marks the pass failed.
func (p *PassState) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.EndedAt = &now
	p.Status = PassStatusFailed
	p.Err = err
}

// Cancel marks the pass cancelled.
func (p *PassState) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.EndedAt = &now
	p.Status = PassStatusCancelled
}

// CurrentStatus returns the pass status.
func (p *PassState) CurrentStatus() PassStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

// Duration returns how long the pass has run, or ran.
func (p *PassState) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.EndedAt != nil {
		return p.EndedAt.Sub(p.StartedAt)
	}
	return time.Since(p.StartedAt)
}

// Response builds the aggregated pass response from the current state.
func (p *PassState) Response() *PassResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resp := &PassResponse{
		ID:        p.ID,
		Status:    p.Status,
		StartedAt: p.StartedAt,
		Stages:    append([]reconcile.StageReport(nil), p.Reports...),
	}
	if p.EndedAt != nil {
		resp.Duration = p.EndedAt.Sub(p.StartedAt)
	} else {
		resp.Duration = time.Since(p.StartedAt)
	}
	for _, report := range p.Reports {
		resp.RowsRead += report.RowsRead
		resp.RowsWritten += report.RowsWritten
		resp.Findings = append(resp.Findings, report.Findings...)
	}
	if p.Err != nil {
		resp.Error = p.Err.Error()
	}
	return resp
}

// Snapshot builds the broadcast snapshot for connected clients.
func (p *PassState) Snapshot() PassSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := PassSnapshot{
		PassID:    p.ID,
		Status:    string(p.Status),
		StartedAt: p.StartedAt,
		UpdatedAt: time.Now().UTC(),
		Stages:    make([]StageSnapshot, 0, len(p.Planned)),
	}
	done := make(map[string]reconcile.StageReport, len(p.Reports))
	for _, report := range p.Reports {
		done[report.StageID] = report
	}
	for _, id := range p.Planned {
		stage := StageSnapshot{ID: id, Status: "pending"}
		if report, ok := done[id]; ok {
			stage.Name = report.StageName
			stage.Status = string(report.Status)
			stage.Findings = len(report.Findings)
			stage.Error = report.Error
		} else if p.Status == PassStatusRunning && len(snap.Stages) == len(p.Reports) {
			stage.Status = "running"
			snap.CurrentStage = id
		}
		snap.Stages = append(snap.Stages, stage)
	}
	if len(p.Planned) > 0 {
		snap.Progress = len(p.Reports) * 100 / len(p.Planned)
	}
	if p.EndedAt != nil {
		ended := *p.EndedAt
		snap.CompletedAt = &ended
	}
	if p.Err != nil {
		snap.Error = p.Err.Error()
	}
	return snap
}
