// Package message provides the per-shard message caches used to exchange
// values between vertices across supersteps, together with the value-level
// contracts (Format, Combiner) that graph algorithms must supply.
package message

import (
	"github.com/golang/protobuf/ptypes/any"
)

// Shard identifies one local graph partition. Shard identifiers are assigned
// externally, remain stable for the lifetime of a computation and act as the
// primary key into all per-shard cache maps.
type Shard uint16

// Format is implemented by types that can serialize message and aggregator
// values from and to an any.Any payload. Implementations must be safe for
// concurrent use.
type Format interface {
	// Serialize encodes the given value into an any.Any payload.
	Serialize(interface{}) (*any.Any, error)

	// Unserialize decodes the given any.Any payload.
	Unserialize(*any.Any) (interface{}, error)
}

// Combiner is implemented by types that can reduce two messages addressed to
// the same vertex into a single message. Combine must be commutative and
// associative so that the reduced value is independent of message arrival
// order.
type Combiner interface {
	// Combine reduces two messages into one.
	Combine(a, b interface{}) interface{}
}

// The CombinerFunc type is an adapter to allow the use of ordinary functions
// as Combiners. If f is a function with the appropriate signature,
// CombinerFunc(f) is a Combiner that calls f.
type CombinerFunc func(a, b interface{}) interface{}

// Combine calls f(a, b).
func (f CombinerFunc) Combine(a, b interface{}) interface{} {
	return f(a, b)
}
