package operations

import (
	"fmt"

	"circflow/internal/reconcile"
)

// Registry holds the engine stages in dependency order. The pipeline
// is linear: each stage depends on every stage registered before it.
type Registry struct {
	order []reconcile.Stage
	byID  map[string]int
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register appends a stage to the pipeline. Stage IDs must be unique.
func (r *Registry) Register(stage reconcile.Stage) error {
	if _, exists := r.byID[stage.ID()]; exists {
		return fmt.Errorf("stage %s already registered", stage.ID())
	}
	r.byID[stage.ID()] = len(r.order)
	r.order = append(r.order, stage)
	return nil
}

// Get returns the stage with the given ID.
func (r *Registry) Get(id string) (reconcile.Stage, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, id)
	}
	return r.order[idx], nil
}

// Pipeline returns all stages in dependency order.
func (r *Registry) Pipeline() []reconcile.Stage {
	out := make([]reconcile.Stage, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve expands the requested stage IDs into an execution plan. Empty
// input means the full pipeline. A named stage pulls in everything
// registered before it, so a single-stage request still sees the state
// its predecessors produce.
func (r *Registry) Resolve(ids []string) ([]reconcile.Stage, error) {
	if len(ids) == 0 {
		return r.Pipeline(), nil
	}

	last := -1
	for _, id := range ids {
		idx, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, id)
		}
		if idx > last {
			last = idx
		}
	}
	out := make([]reconcile.Stage, last+1)
	copy(out, r.order[:last+1])
	return out, nil
}

// IDs returns the registered stage IDs in dependency order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	for i, s := range r.order {
		out[i] = s.ID()
	}
	return out
}
