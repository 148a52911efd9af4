package aggregator

import "sync"

// Factory returns a new Aggregator instance of the correct kind for the given
// name, or nil when the name has not been declared by the algorithm.
// Algorithms must declare every aggregator name their vertex hooks read or
// write; touching an undeclared name is a programmer error.
type Factory func(name string) Aggregator

// Handler is a registry of named aggregators. Workers use a Handler to buffer
// local per-superstep contributions; the master uses its own Handler to hold
// the authoritative merged values. Aggregator instances are created lazily via
// the configured factory on first use.
type Handler struct {
	mu      sync.RWMutex
	factory Factory
	aggrs   map[string]Aggregator
}

// NewHandler creates an aggregator registry backed by the provided factory.
func NewHandler(factory Factory) *Handler {
	return &Handler{
		factory: factory,
		aggrs:   make(map[string]Aggregator),
	}
}

// get returns the aggregator registered under name, creating it via the
// factory on first access. It returns nil for undeclared names.
func (h *Handler) get(name string) Aggregator {
	h.mu.RLock()
	aggr := h.aggrs[name]
	h.mu.RUnlock()
	if aggr != nil {
		return aggr
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if aggr = h.aggrs[name]; aggr != nil {
		return aggr
	}
	if aggr = h.factory(name); aggr != nil {
		h.aggrs[name] = aggr
	}
	return aggr
}

// Aggregate merges a contribution into the named aggregator.
func (h *Handler) Aggregate(name string, val interface{}) {
	h.get(name).Aggregate(val)
}

// Value returns the current value of the named aggregator. Reading a declared
// aggregator before its first contribution yields the merge rule's identity
// value, never an error.
func (h *Handler) Value(name string) interface{} {
	aggr := h.get(name)
	if aggr == nil {
		return nil
	}
	return aggr.Get()
}

// DeltaValues returns the per-name change in every registered aggregator since
// the last delta extraction. Workers report these to the master at the end of
// each superstep.
func (h *Handler) DeltaValues() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	deltas := make(map[string]interface{}, len(h.aggrs))
	for name, aggr := range h.aggrs {
		deltas[name] = aggr.Delta()
	}
	return deltas
}

// MergeValues folds a set of worker-reported deltas into the registered
// aggregators using each aggregator's merge rule.
func (h *Handler) MergeValues(values map[string]interface{}) {
	for name, val := range values {
		h.get(name).Aggregate(val)
	}
}

// SetValues overwrites the registered aggregators with the provided values.
func (h *Handler) SetValues(values map[string]interface{}) {
	for name, val := range values {
		h.get(name).Set(val)
	}
}

// ResetAll restores every registered aggregator to its identity value.
func (h *Handler) ResetAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, aggr := range h.aggrs {
		aggr.Reset()
	}
}

// Snapshot captures the current value of every registered aggregator as an
// immutable map. The snapshot taken after a superstep's merge is the read-only
// view handed to every vertex computation in the following superstep.
func (h *Handler) Snapshot() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(h.aggrs))
	for name, aggr := range h.aggrs {
		snapshot[name] = aggr.Get()
	}
	return snapshot
}
