package aggregator

import "sync"

// Overwrite implements a last-writer-wins aggregator: each contribution
// replaces the current value outright. Its identity is an algorithm-defined
// default supplied at construction time.
type Overwrite struct {
	mu  sync.Mutex
	def interface{}
	cur interface{}
}

// NewOverwrite returns an overwrite aggregator initialized to the provided
// default value.
func NewOverwrite(def interface{}) *Overwrite {
	return &Overwrite{def: def, cur: def}
}

// Type implements Aggregator.
func (a *Overwrite) Type() string { return "Overwrite" }

// Get returns the most recently written value.
func (a *Overwrite) Get() interface{} {
	a.mu.Lock()
	cur := a.cur
	a.mu.Unlock()
	return cur
}

// Set the current value.
func (a *Overwrite) Set(v interface{}) {
	a.mu.Lock()
	a.cur = v
	a.mu.Unlock()
}

// Aggregate replaces the current value with the contribution.
func (a *Overwrite) Aggregate(v interface{}) { a.Set(v) }

// Delta returns the current value. Overwrites carry no increment semantics so
// the full value is reported every superstep.
func (a *Overwrite) Delta() interface{} { return a.Get() }

// Reset implements Aggregator.
func (a *Overwrite) Reset() { a.Set(a.def) }
