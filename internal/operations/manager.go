package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"circflow/internal/reconcile"
)

// PassMetrics receives pass and stage outcomes for export. The
// infrastructure package provides the Prometheus-backed implementation.
type PassMetrics interface {
	PassStarted()
	PassFinished(status string, duration time.Duration)
	StageFinished(stageID, status string, duration time.Duration)
}

// Manager runs reconciliation passes. Stages mutate the shared fact
// store, so at most one pass runs at a time; concurrent requests get
// ErrPassInProgress instead of queueing.
type Manager struct {
	registry    *Registry
	broadcaster *StatusBroadcaster
	tracer      *PassTracer
	metrics     PassMetrics
	logger      *slog.Logger

	running *semaphore.Weighted

	mu      sync.RWMutex
	passes  map[string]*PassState
	cancels map[string]context.CancelFunc

	continueOnError bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics wires pass metrics export.
func WithMetrics(metrics PassMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithContinueOnError lets a pass keep running after a stage fails.
// Each stage's writes are transactional on their own, so later stages
// see a consistent store either way.
func WithContinueOnError() ManagerOption {
	return func(m *Manager) { m.continueOnError = true }
}

// NewManager creates a pass manager over the registered stages. A nil
// hub disables progress broadcasting.
func NewManager(registry *Registry, hub Hub, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		registry:    registry,
		broadcaster: NewStatusBroadcaster(hub, logger),
		tracer:      NewPassTracer(),
		logger:      logger.With(slog.String("component", "operations.manager")),
		running:     semaphore.NewWeighted(1),
		passes:      make(map[string]*PassState),
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the stage registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Broadcaster returns the snapshot broadcaster.
func (m *Manager) Broadcaster() *StatusBroadcaster { return m.broadcaster }

// prepare resolves the requested stages and builds tracked pass state.
// The caller owns the single-flight slot when prepare succeeds.
func (m *Manager) prepare(req PassRequest) ([]reconcile.Stage, *PassState, error) {
	stages, err := m.registry.Resolve(req.Stages)
	if err != nil {
		return nil, nil, err
	}
	if len(stages) == 0 {
		return nil, nil, NewValidationError("no stages registered")
	}

	if !m.running.TryAcquire(1) {
		return nil, nil, ErrPassInProgress
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	ids := make([]string, len(stages))
	for i, stage := range stages {
		ids[i] = stage.ID()
	}
	return stages, NewPassState(id, ids), nil
}

// Execute runs one reconciliation pass and blocks until it finishes.
func (m *Manager) Execute(ctx context.Context, req PassRequest) (*PassResponse, error) {
	stages, state, err := m.prepare(req)
	if err != nil {
		return nil, err
	}
	defer m.running.Release(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(state, cancel)
	defer m.untrack(state.ID)

	passErr := m.run(ctx, state, stages)
	return state.Response(), passErr
}

// Start launches a pass in the background and returns its ID once the
// single-flight slot is held. The run is detached from the caller's
// cancellation, so an aborted HTTP request does not abort the pass;
// context values such as the trace ID carry over.
func (m *Manager) Start(ctx context.Context, req PassRequest) (string, error) {
	stages, state, err := m.prepare(req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.track(state, cancel)

	go func() {
		defer m.running.Release(1)
		defer cancel()
		defer m.untrack(state.ID)
		m.run(runCtx, state, stages)
	}()

	return state.ID, nil
}

// run drives the stage loop for one pass. Returns the error that ended
// the pass early, or nil when every stage ran.
func (m *Manager) run(ctx context.Context, state *PassState, stages []reconcile.Stage) error {
	id := state.ID

	ctx, span := m.tracer.TracePass(ctx, id, len(stages))
	defer span.End()

	m.logger.InfoContext(ctx, "pass_started",
		slog.String("pass_id", id),
		slog.Int("stages", len(stages)))
	if m.metrics != nil {
		m.metrics.PassStarted()
	}
	state.Start()
	m.broadcaster.Publish(state.Snapshot())

	var passErr error
	var failedStages []string
	for _, stage := range stages {
		if ctx.Err() != nil {
			passErr = NewCancellationError(stage.ID())
			state.Cancel()
			break
		}

		report := m.runStage(ctx, id, stage)
		state.AddReport(report)
		m.broadcaster.Publish(state.Snapshot())
		if m.metrics != nil {
			m.metrics.StageFinished(report.StageID, string(report.Status), report.Duration)
		}

		if report.Status == reconcile.StatusFailed {
			err := NewStageError(stage.ID(), fmt.Errorf("%s", report.Error))
			if !m.continueOnError {
				passErr = err
				state.Fail(err)
				break
			}
			failedStages = append(failedStages, stage.ID())
			m.logger.WarnContext(ctx, "stage_failed_continuing",
				slog.String("pass_id", id),
				slog.String("stage", stage.ID()),
				slog.String("error", report.Error))
		}
	}
	if passErr == nil && state.CurrentStatus() == PassStatusRunning {
		if len(failedStages) > 0 {
			passErr = &PassError{
				Type:    ErrorTypeExecution,
				Stage:   strings.Join(failedStages, ","),
				Message: fmt.Sprintf("%d of %d stages failed", len(failedStages), len(stages)),
			}
			state.CompleteWithErrors(passErr)
		} else {
			state.Complete()
		}
	}
	m.broadcaster.Publish(state.Snapshot())

	status := state.CurrentStatus()
	duration := state.Duration()
	if m.metrics != nil {
		m.metrics.PassFinished(string(status), duration)
	}
	m.logger.InfoContext(ctx, "pass_finished",
		slog.String("pass_id", id),
		slog.String("status", string(status)),
		slog.Duration("duration", duration))

	return passErr
}

// runStage executes one stage with panic containment. A panicking
// stage yields a failed report; the pass itself survives.
func (m *Manager) runStage(ctx context.Context, passID string, stage reconcile.Stage) (report reconcile.StageReport) {
	ctx, span := m.tracer.TraceStage(ctx, passID, stage.ID())
	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			err := NewPanicError(stage.ID(), r)
			m.logger.ErrorContext(ctx, "stage_panicked",
				slog.String("pass_id", passID),
				slog.String("stage", stage.ID()),
				slog.String("error", err.Error()))
			report = reconcile.StageReport{
				StageID:   stage.ID(),
				StageName: stage.Name(),
				Status:    reconcile.StatusFailed,
				StartedAt: started,
				Duration:  time.Since(started),
				Error:     err.Error(),
				Findings: []reconcile.Finding{{
					Stage:    stage.ID(),
					Severity: reconcile.SeverityError,
					Message:  err.Error(),
				}},
			}
		}
		m.tracer.RecordStageResult(span, report)
		span.End()
	}()

	m.logger.InfoContext(ctx, "stage_started",
		slog.String("pass_id", passID),
		slog.String("stage", stage.ID()))
	return stage.Run(ctx)
}

// Pass returns the aggregated response of a known pass, running or
// finished.
func (m *Manager) Pass(id string) (*PassResponse, error) {
	m.mu.RLock()
	state, ok := m.passes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPassNotFound, id)
	}
	return state.Response(), nil
}

// Passes returns every known pass, newest first.
func (m *Manager) Passes() []*PassResponse {
	m.mu.RLock()
	out := make([]*PassResponse, 0, len(m.passes))
	for _, state := range m.passes {
		out = append(out, state.Response())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cancel interrupts a running pass before its next stage boundary.
// In-flight stage transactions roll back through their own contexts.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPassNotFound, id)
	}
	cancel()
	return nil
}

// PruneHistory drops finished passes that ended before maxAge ago and
// returns how many were removed. Running passes are never pruned.
func (m *Manager) PruneHistory(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int
	for id, state := range m.passes {
		ended, ok := state.EndedTime()
		if !ok || ended.After(cutoff) {
			continue
		}
		delete(m.passes, id)
		pruned++
	}
	return pruned
}

func (m *Manager) track(state *PassState, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[state.ID] = state
	m.cancels[state.ID] = cancel
}

// untrack drops the cancel handle once a pass finishes. The state
// itself is retained so the API can serve pass history.
func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}
