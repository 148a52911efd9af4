package aggregator

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Float64Max implements a lock-free running-maximum aggregator for float64
// values. Its identity is a caller-supplied sentinel that must sort below any
// valid contribution.
type Float64Max struct {
	sentinel float64
	curMax   float64
}

// NewFloat64Max returns a maximum aggregator whose identity is the provided
// sentinel value.
func NewFloat64Max(sentinel float64) *Float64Max {
	m := &Float64Max{sentinel: sentinel}
	m.Set(sentinel)
	return m
}

// Type implements Aggregator.
func (a *Float64Max) Type() string { return "Float64Max" }

// Get returns the current maximum.
func (a *Float64Max) Get() interface{} {
	return loadFloat64(&a.curMax)
}

// Set the current maximum to the specified value.
func (a *Float64Max) Set(v interface{}) {
	atomic.StoreUint64(
		(*uint64)(unsafe.Pointer(&a.curMax)),
		math.Float64bits(v.(float64)),
	)
}

// Aggregate raises the current maximum if the contribution exceeds it.
func (a *Float64Max) Aggregate(v interface{}) {
	for v64 := v.(float64); ; {
		oldV := loadFloat64(&a.curMax)
		if v64 <= oldV {
			return
		}
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(&a.curMax)),
			math.Float64bits(oldV),
			math.Float64bits(v64),
		) {
			return
		}
	}
}

// Delta returns the current maximum. Maxima are idempotent under merging so
// re-reporting the full value is always safe.
func (a *Float64Max) Delta() interface{} {
	return loadFloat64(&a.curMax)
}

// Reset implements Aggregator.
func (a *Float64Max) Reset() { a.Set(a.sentinel) }
