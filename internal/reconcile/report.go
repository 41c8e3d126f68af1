package reconcile

import (
	"context"
	"time"
)

// Severity ranks a finding for downstream filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one ordered entry in a stage's findings list. Findings are
// typed rather than free-form strings so dashboards and alerting can
// filter by severity and read named metrics programmatically.
type Finding struct {
	Stage    string             `json:"stage"`
	Severity Severity           `json:"severity"`
	Message  string             `json:"message"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// StageStatus summarizes how a stage invocation ended.
type StageStatus string

const (
	// StatusOK means the stage ran cleanly.
	StatusOK StageStatus = "ok"
	// StatusWarnings means the stage completed but recorded data-quality
	// findings for human review.
	StatusWarnings StageStatus = "warnings"
	// StatusFailed means the stage aborted; its writes were rolled back.
	StatusFailed StageStatus = "failed"
)

// StageReport is the result object every stage returns, on success and
// on failure alike, so a caller can always distinguish "ran cleanly",
// "ran with warnings" and "aborted".
type StageReport struct {
	StageID     string        `json:"stage_id"`
	StageName   string        `json:"stage_name"`
	Status      StageStatus   `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	RowsRead    int           `json:"rows_read"`
	RowsWritten int           `json:"rows_written"`
	RowsSkipped int           `json:"rows_skipped"`
	Findings    []Finding     `json:"findings"`
	Metrics     any           `json:"metrics,omitempty"`
	Error       string        `json:"error,omitempty"`
}

func newStageReport(id, name string) *StageReport {
	return &StageReport{
		StageID:   id,
		StageName: name,
		Status:    StatusOK,
		StartedAt: time.Now().UTC(),
	}
}

// Info appends an informational finding.
func (r *StageReport) Info(message string, metrics map[string]float64) {
	r.Findings = append(r.Findings, Finding{Stage: r.StageID, Severity: SeverityInfo, Message: message, Metrics: metrics})
}

// Warn appends a data-quality finding and downgrades a clean status.
func (r *StageReport) Warn(message string, metrics map[string]float64) {
	r.Findings = append(r.Findings, Finding{Stage: r.StageID, Severity: SeverityWarning, Message: message, Metrics: metrics})
	if r.Status == StatusOK {
		r.Status = StatusWarnings
	}
}

// Fail marks the stage aborted and records the error both as the
// report's error and as an ordered finding.
func (r *StageReport) Fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.Findings = append(r.Findings, Finding{Stage: r.StageID, Severity: SeverityError, Message: err.Error()})
}

func (r *StageReport) finish() StageReport {
	r.Duration = time.Since(r.StartedAt)
	return *r
}

// Stage is one reconciliation engine stage. Run always returns a
// StageReport; a failed stage reports StatusFailed rather than
// panicking or returning a bare error, and its writes roll back as a
// unit.
type Stage interface {
	ID() string
	Name() string
	Run(ctx context.Context) StageReport
}

// Stage identifiers, in pipeline dependency order.
const (
	StageIDAlign       = "align"
	StageIDClassify    = "classify"
	StageIDOutliers    = "outliers"
	StageIDSolve       = "solve"
	StageIDEquilibrium = "equilibrium"
)

// Human-readable stage names.
const (
	StageNameAlign       = "Temporal Alignment"
	StageNameClassify    = "Classification Normalization"
	StageNameOutliers    = "Outlier Detection"
	StageNameSolve       = "Missing-Value Solver"
	StageNameEquilibrium = "Equilibrium Validation"
)
