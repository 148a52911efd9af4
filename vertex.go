package pregel

import (
	"github.com/helixdata/pregel/message"
)

// Shard identifies one local graph partition. The mapping from shard
// identifiers to partitions is supplied externally and remains stable for the
// lifetime of a computation.
type Shard = message.Shard

// Edge represents a directed edge owned by its source vertex. Destinations
// are addressed by (shard, vertex key) and may be local or remote.
type Edge struct {
	dstShard Shard
	dstKey   string
	value    interface{}
}

// DstShard returns the shard that owns this edge's target endpoint.
func (e *Edge) DstShard() Shard { return e.dstShard }

// DstKey returns the vertex key of this edge's target endpoint.
func (e *Edge) DstKey() string { return e.dstKey }

// Value returns the value associated with this edge.
func (e *Edge) Value() interface{} { return e.value }

// SetValue sets the value associated with this edge.
func (e *Edge) SetValue(val interface{}) { e.value = val }

// Vertex represents a vertex in one of the worker's local partitions. Vertex
// keys are unique within a shard but not across shards.
type Vertex struct {
	key    string
	shard  Shard
	value  interface{}
	active bool
	edges  []*Edge
}

// Key returns the vertex key.
func (v *Vertex) Key() string { return v.key }

// Shard returns the shard that owns this vertex.
func (v *Vertex) Shard() Shard { return v.shard }

// Value returns the value associated with this vertex.
func (v *Vertex) Value() interface{} { return v.value }

// SetValue sets the value associated with this vertex.
func (v *Vertex) SetValue(val interface{}) { v.value = val }

// Edges returns the list of outgoing edges from this vertex.
func (v *Vertex) Edges() []*Edge { return v.edges }

// Active reports whether the vertex voted to take part in the next superstep.
func (v *Vertex) Active() bool { return v.active }

// VertexContext is the view of the engine that vertex hooks operate through.
// A fresh context wrapping the vertex is handed to every Compute and
// Compensate invocation.
type VertexContext struct {
	vertex *Vertex
	worker *Worker
}

// Key returns the vertex key.
func (c *VertexContext) Key() string { return c.vertex.key }

// Shard returns the shard that owns the vertex.
func (c *VertexContext) Shard() Shard { return c.vertex.shard }

// Value returns the vertex's mutable value.
func (c *VertexContext) Value() interface{} { return c.vertex.value }

// SetValue sets the vertex's mutable value.
func (c *VertexContext) SetValue(val interface{}) { c.vertex.value = val }

// EdgeCount returns the vertex's out-degree.
func (c *VertexContext) EdgeCount() int { return len(c.vertex.edges) }

// SendMessageToAllNeighbours queues a copy of value for delivery to every
// neighbour of the vertex. Messages become visible to their recipients at the
// start of the next superstep, never within the superstep that produced them.
func (c *VertexContext) SendMessageToAllNeighbours(value interface{}) error {
	for _, e := range c.vertex.edges {
		if err := c.worker.outCache.AppendMessage(e.dstShard, e.dstKey, value); err != nil {
			return err
		}
	}
	return nil
}

// VoteActive opts the vertex into the next superstep. A vertex that does not
// vote active during Compute goes inactive and is skipped until an incoming
// message reactivates it.
func (c *VertexContext) VoteActive() { c.vertex.active = true }

// VoteHalt opts the vertex out of further computation until a message
// reactivates it.
func (c *VertexContext) VoteHalt() { c.vertex.active = false }

// Aggregate buffers a local contribution to the named aggregator. The
// contribution is folded into the global value at the end of the superstep.
func (c *VertexContext) Aggregate(name string, val interface{}) {
	c.worker.aggr.Aggregate(name, val)
}

// AggregatedValue returns the globally merged value of the named aggregator
// as of the end of the previous superstep. Before an aggregator's first
// global merge this yields the merge rule's identity value.
func (c *VertexContext) AggregatedValue(name string) interface{} {
	if val, exists := c.worker.globals[name]; exists {
		return val
	}
	// Not merged globally yet. A fresh instance carries the identity;
	// reading the live local handler instead would leak contributions made
	// earlier in the same superstep.
	if aggr := c.worker.cfg.Algorithm.AggregatorFactory(name); aggr != nil {
		return aggr.Get()
	}
	return nil
}

// GlobalSuperstep returns the current global superstep number.
func (c *VertexContext) GlobalSuperstep() int { return c.worker.superstep }

// VertexCount returns the total number of vertices across all workers.
func (c *VertexContext) VertexCount() int64 { return c.worker.totalVertexCount }

// TotalEdgeCount returns the total number of edges across all workers.
func (c *VertexContext) TotalEdgeCount() int64 { return c.worker.totalEdgeCount }
