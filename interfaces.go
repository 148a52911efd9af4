// Package pregel implements the message-exchange and superstep-coordination
// core of a distributed, fault-tolerant graph-processing engine following the
// Bulk Synchronous Parallel model. Workers execute a user-supplied per-vertex
// computation over supersteps, exchanging messages through per-shard caches,
// while a master merges aggregator contributions, decides convergence and
// drives a two-round compensation protocol after a partition loss.
package pregel

import (
	"github.com/helixdata/pregel/aggregator"
	"github.com/helixdata/pregel/message"
)

// RecoveryStepAggregator is the name of the aggregator through which the
// recovery protocol publishes the active compensation round to all workers.
// It is an ordinary overwrite aggregator that compensating algorithms must
// declare via their aggregator factory; only its use by the protocol is
// special.
const RecoveryStepAggregator = "step"

// VertexComputation is implemented by the per-vertex hook that a graph
// algorithm supplies for normal supersteps. Compute is invoked once per
// superstep for every vertex that is active or has pending messages.
type VertexComputation interface {
	// Compute processes the messages addressed to the vertex during the
	// previous superstep and may mutate the vertex value, emit messages
	// for the next superstep and contribute to aggregators.
	Compute(ctx *VertexContext, msgs message.Iterator) error
}

// VertexCompensation is implemented by the per-vertex hook that a graph
// algorithm supplies for the recovery protocol. Compensate is invoked once
// per compensation round for every vertex, with inLostPartition indicating
// whether the vertex's shard was lost.
type VertexCompensation interface {
	// Compensate restores the algorithm's global invariant after a
	// partition loss, typically by contributing residual quantities in
	// round 0 and rescaling or reinitializing values in round 1.
	Compensate(ctx *VertexContext, inLostPartition bool) error
}

// MasterHooks is implemented by the algorithm-specific master-side state that
// seeds aggregators, evaluates convergence and steers the compensation
// protocol.
type MasterHooks interface {
	// PreSuperstep is invoked before every global superstep.
	PreSuperstep(m *Master) error

	// PostSuperstep is invoked after the aggregator contributions of all
	// workers have been merged. It returns whether the computation should
	// continue with another superstep.
	PostSuperstep(m *Master) (keepRunning bool, err error)

	// PreCompensation is invoked before each compensation round. Returning
	// false short-circuits the recovery protocol, e.g. when there is no
	// residual global quantity to redistribute.
	PreCompensation(m *Master) bool

	// PostCompensation is invoked after a compensation round's aggregator
	// contributions have been merged. It returns whether another round is
	// required.
	PostCompensation(m *Master) bool
}

// Algorithm is the plugin contract a graph algorithm implements to run on the
// engine.
type Algorithm interface {
	// Name returns a human-readable algorithm name used for logging.
	Name() string

	// MessageFormat returns the serializer for the algorithm's message and
	// aggregator values.
	MessageFormat() message.Format

	// MessageCombiner returns the reduction applied to messages addressed
	// to the same vertex, or nil if all individual messages must be
	// retained. Algorithms that declare a combiner run on combining
	// caches; the rest run on array caches.
	MessageCombiner() message.Combiner

	// AggregatorFactory returns a new aggregator of the correct kind for
	// the given name. The factory must declare every name the algorithm's
	// hooks read or write and return nil for unknown names.
	AggregatorFactory(name string) aggregator.Aggregator

	// CreateComputation returns the per-vertex hook for normal supersteps.
	CreateComputation() VertexComputation

	// CreateCompensation returns the per-vertex hook for the recovery
	// protocol, or nil if the algorithm cannot compensate for partition
	// loss.
	CreateCompensation() VertexCompensation

	// CreateMasterHooks returns the algorithm's master-side state, or nil
	// to use the engine defaults (run until quiescence, never compensate).
	CreateMasterHooks() MasterHooks
}
