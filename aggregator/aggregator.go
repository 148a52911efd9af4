// Package aggregator provides named, globally-merged values that are computed
// across all workers at the end of each superstep and become visible to every
// vertex at the start of the following superstep.
package aggregator

// Aggregator is implemented by types that provide concurrent-safe aggregation
// primitives with one of the supported merge semantics: running sums, running
// maxima or last-writer-wins overwrites.
type Aggregator interface {
	// Type returns the type of this aggregator.
	Type() string

	// Set the aggregator to the specified value.
	Set(val interface{})

	// Get the current aggregator value.
	Get() interface{}

	// Aggregate merges the provided contribution into the aggregator's
	// value using the aggregator's merge rule.
	Aggregate(val interface{})

	// Delta returns the change in the aggregator's value since the last
	// call to Delta. Workers use deltas to report their local,
	// partially-aggregated contributions to the master, which folds them
	// into the authoritative value via Aggregate.
	Delta() interface{}

	// Reset restores the aggregator to its identity value. Workers reset
	// their local aggregators at the start of every superstep so that the
	// reported delta covers exactly one superstep's contributions.
	Reset()
}
