package message

import (
	"sync/atomic"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

// OutCache buffers the messages produced by the local worker during the
// current superstep. Messages addressed to one of the worker's own shards are
// drained straight into the configured local InCache so they become visible at
// the next superstep; messages for remote shards are accumulated per shard and
// handed to the transport layer as flattened wire batches.
//
// AppendMessage is safe for concurrent use by the compute workers; Batches and
// Clear may only be invoked once the superstep's compute phase has completed.
type OutCache interface {
	// SetLocalCache configures the InCache that receives locally addressed
	// messages. Workers point this at the cache that will serve reads for
	// the next superstep.
	SetLocalCache(local InCache)

	// AppendMessage buffers (or reduces) a message for the given
	// destination vertex. It returns ErrUnknownShard when the destination
	// shard is not part of the configured shard universe.
	AppendMessage(shard Shard, key string, value interface{}) error

	// Batches serializes the buffered remote messages into per-shard wire
	// batches of alternating key/value entries, in the shape accepted by
	// InCache.ParseMessages.
	Batches() (map[Shard][]interface{}, error)

	// Clear drops all buffered remote messages and resets the send
	// counters while retaining the shard-to-lock structure.
	Clear()

	// SentCount returns the number of message units sent this superstep,
	// counting both local deliveries and buffered remote units.
	SentCount() int64

	// LocalDeliveredCount returns the number of messages delivered into
	// the local InCache this superstep.
	LocalDeliveredCount() int64
}

// ArrayOutCache buffers every produced message individually.
type ArrayOutCache struct {
	format      Format
	localShards map[Shard]bool
	buckets     map[Shard]*arrayBucket

	local InCache

	sentCount      int64
	localDelivered int64
}

// NewArrayOutCache creates an array out-cache able to address every shard in
// globalShards. Messages for any shard listed in localShards bypass the remote
// buffers and are stored directly into the local InCache.
func NewArrayOutCache(globalShards, localShards []Shard, format Format) *ArrayOutCache {
	local := make(map[Shard]bool, len(localShards))
	for _, shard := range localShards {
		local[shard] = true
	}
	buckets := make(map[Shard]*arrayBucket, len(globalShards))
	for _, shard := range globalShards {
		if !local[shard] {
			buckets[shard] = &arrayBucket{byKey: make(map[string][]interface{})}
		}
	}
	return &ArrayOutCache{
		format:      format,
		localShards: local,
		buckets:     buckets,
	}
}

// SetLocalCache implements OutCache.
func (c *ArrayOutCache) SetLocalCache(local InCache) { c.local = local }

// AppendMessage implements OutCache.
func (c *ArrayOutCache) AppendMessage(shard Shard, key string, value interface{}) error {
	if c.localShards[shard] {
		c.local.StoreMessage(shard, key, value)
		atomic.AddInt64(&c.localDelivered, 1)
		atomic.AddInt64(&c.sentCount, 1)
		return nil
	}

	bucket := c.buckets[shard]
	if bucket == nil {
		return xerrors.Errorf("append message for vertex %q: %w", key, ErrUnknownShard)
	}
	bucket.mu.Lock()
	bucket.byKey[key] = append(bucket.byKey[key], value)
	bucket.mu.Unlock()
	atomic.AddInt64(&c.sentCount, 1)
	return nil
}

// Batches implements OutCache.
func (c *ArrayOutCache) Batches() (map[Shard][]interface{}, error) {
	batches := make(map[Shard][]interface{})
	for shard, bucket := range c.buckets {
		if len(bucket.byKey) == 0 {
			continue
		}
		entries := make([]interface{}, 0, len(bucket.byKey)*2)
		for key, msgs := range bucket.byKey {
			payload, err := serializeValues(c.format, msgs)
			if err != nil {
				return nil, xerrors.Errorf("unable to serialize outgoing messages for vertex %q: %w", key, err)
			}
			entries = append(entries, key, payload)
		}
		batches[shard] = entries
	}
	return batches, nil
}

// Clear implements OutCache.
func (c *ArrayOutCache) Clear() {
	for _, bucket := range c.buckets {
		bucket.mu.Lock()
		bucket.byKey = make(map[string][]interface{})
		bucket.mu.Unlock()
	}
	atomic.StoreInt64(&c.sentCount, 0)
	atomic.StoreInt64(&c.localDelivered, 0)
}

// SentCount implements OutCache.
func (c *ArrayOutCache) SentCount() int64 { return atomic.LoadInt64(&c.sentCount) }

// LocalDeliveredCount implements OutCache.
func (c *ArrayOutCache) LocalDeliveredCount() int64 { return atomic.LoadInt64(&c.localDelivered) }

// CombiningOutCache reduces buffered remote messages per destination vertex
// before they are shipped, bounding the amount of data crossing the wire.
// Locally addressed messages are reduced by the local combining InCache
// instead.
type CombiningOutCache struct {
	format      Format
	combiner    Combiner
	localShards map[Shard]bool
	buckets     map[Shard]*combiningBucket

	local InCache

	sentCount      int64
	localDelivered int64
}

// NewCombiningOutCache creates a combining out-cache able to address every
// shard in globalShards.
func NewCombiningOutCache(globalShards, localShards []Shard, format Format, combiner Combiner) *CombiningOutCache {
	local := make(map[Shard]bool, len(localShards))
	for _, shard := range localShards {
		local[shard] = true
	}
	buckets := make(map[Shard]*combiningBucket, len(globalShards))
	for _, shard := range globalShards {
		if !local[shard] {
			buckets[shard] = &combiningBucket{byKey: make(map[string]interface{})}
		}
	}
	return &CombiningOutCache{
		format:      format,
		combiner:    combiner,
		localShards: local,
		buckets:     buckets,
	}
}

// SetLocalCache implements OutCache.
func (c *CombiningOutCache) SetLocalCache(local InCache) { c.local = local }

// AppendMessage implements OutCache. For remote destinations the send counter
// tracks the number of combined units that will eventually cross the wire, so
// that the receiver's parse count balances against it.
func (c *CombiningOutCache) AppendMessage(shard Shard, key string, value interface{}) error {
	if c.localShards[shard] {
		c.local.StoreMessage(shard, key, value)
		atomic.AddInt64(&c.localDelivered, 1)
		atomic.AddInt64(&c.sentCount, 1)
		return nil
	}

	bucket := c.buckets[shard]
	if bucket == nil {
		return xerrors.Errorf("append message for vertex %q: %w", key, ErrUnknownShard)
	}
	bucket.mu.Lock()
	if current, exists := bucket.byKey[key]; exists {
		bucket.byKey[key] = c.combiner.Combine(current, value)
	} else {
		bucket.byKey[key] = value
		atomic.AddInt64(&c.sentCount, 1)
	}
	bucket.mu.Unlock()
	return nil
}

// Batches implements OutCache.
func (c *CombiningOutCache) Batches() (map[Shard][]interface{}, error) {
	batches := make(map[Shard][]interface{})
	for shard, bucket := range c.buckets {
		if len(bucket.byKey) == 0 {
			continue
		}
		entries := make([]interface{}, 0, len(bucket.byKey)*2)
		for key, msg := range bucket.byKey {
			payload, err := c.format.Serialize(msg)
			if err != nil {
				return nil, xerrors.Errorf("unable to serialize outgoing message for vertex %q: %w", key, err)
			}
			entries = append(entries, key, payload)
		}
		batches[shard] = entries
	}
	return batches, nil
}

// Clear implements OutCache.
func (c *CombiningOutCache) Clear() {
	for _, bucket := range c.buckets {
		bucket.mu.Lock()
		bucket.byKey = make(map[string]interface{})
		bucket.mu.Unlock()
	}
	atomic.StoreInt64(&c.sentCount, 0)
	atomic.StoreInt64(&c.localDelivered, 0)
}

// SentCount implements OutCache.
func (c *CombiningOutCache) SentCount() int64 { return atomic.LoadInt64(&c.sentCount) }

// LocalDeliveredCount implements OutCache.
func (c *CombiningOutCache) LocalDeliveredCount() int64 { return atomic.LoadInt64(&c.localDelivered) }

// serializeValues encodes a message buffer as a single *any.Any when it holds
// one value or as a []*any.Any list otherwise, matching the alternating batch
// shape ParseMessages expects.
func serializeValues(format Format, msgs []interface{}) (interface{}, error) {
	if len(msgs) == 1 {
		return format.Serialize(msgs[0])
	}
	payload := make([]*any.Any, len(msgs))
	for i, msg := range msgs {
		serialized, err := format.Serialize(msg)
		if err != nil {
			return nil, err
		}
		payload[i] = serialized
	}
	return payload, nil
}
