package message

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

var (
	// ErrMalformedBatch is returned by ParseMessages when a wire batch does
	// not consist of an even number of alternating key/value entries.
	ErrMalformedBatch = xerrors.New("message batch is malformed")

	// ErrUnknownShard is returned when a message refers to a shard that is
	// not part of the cache's shard universe.
	ErrUnknownShard = xerrors.New("shard is not known to this cache")
)

// mergeBackoff is the amount of time a merge pauses after completing a full
// pass over its remaining shards without acquiring a single lock.
const mergeBackoff = 50 * time.Microsecond

// InCache accumulates the messages addressed to the local worker's vertices
// for the current superstep. Implementations maintain one mutex per shard so
// that concurrent senders targeting different shards never block each other.
//
// StoreMessageNoLock, Erase and ForEach do not acquire the shard locks; they
// may only be invoked while the caller guarantees that no concurrent mutator
// is active.
type InCache interface {
	// StoreMessage inserts (or reduces) value under the given vertex key.
	// It acquires the destination shard's lock and is safe to call
	// concurrently.
	StoreMessage(shard Shard, key string, value interface{})

	// StoreMessageNoLock behaves like StoreMessage without acquiring the
	// shard lock.
	StoreMessageNoLock(shard Shard, key string, value interface{})

	// ParseMessages deserializes a wire batch addressed to one shard and
	// stores every value it contains via the locked path. The batch must
	// hold an even number of alternating entries: a vertex key (string)
	// followed by either a single *any.Any value or a []*any.Any value
	// list. Malformed batches fail with ErrMalformedBatch and store
	// nothing. ParseMessages returns the number of message values stored.
	ParseMessages(shard Shard, entries []interface{}) (int, error)

	// MessagesFor returns a fresh iterator over the messages stored for
	// the given vertex, or an empty iterator if there are none.
	MessagesFor(shard Shard, key string) Iterator

	// Erase removes the entry for the given vertex without locking.
	Erase(shard Shard, key string)

	// Clear empties all shard sub-maps while retaining the shard-to-lock
	// structure, and resets the contained message count to zero.
	Clear()

	// ForEach invokes fn for every stored message without locking.
	ForEach(fn func(shard Shard, key string, value interface{}))

	// MergeCache merges the entire contents of another cache of the same
	// variant into this one. The other cache must be quiescent for the
	// duration of the merge.
	MergeCache(other InCache)

	// MessageCount returns the number of stored message units: individual
	// values for the array variant, distinct keys holding a combined value
	// for the combining variant.
	MessageCount() int64
}

// ArrayInCache stores every message addressed to a vertex as an element of a
// per-vertex buffer.
type ArrayInCache struct {
	format  Format
	shards  []Shard
	buckets map[Shard]*arrayBucket

	containedMessageCount int64
}

type arrayBucket struct {
	mu    sync.Mutex
	byKey map[string][]interface{}
}

// NewArrayInCache creates an array cache over the given stable set of local
// shards. The per-shard mutex map is allocated once and survives Clear calls.
func NewArrayInCache(localShards []Shard, format Format) *ArrayInCache {
	buckets := make(map[Shard]*arrayBucket, len(localShards))
	for _, shard := range localShards {
		buckets[shard] = &arrayBucket{byKey: make(map[string][]interface{})}
	}
	return &ArrayInCache{
		format:  format,
		shards:  append([]Shard(nil), localShards...),
		buckets: buckets,
	}
}

// StoreMessage implements InCache.
func (c *ArrayInCache) StoreMessage(shard Shard, key string, value interface{}) {
	bucket := c.buckets[shard]
	bucket.mu.Lock()
	bucket.byKey[key] = append(bucket.byKey[key], value)
	atomic.AddInt64(&c.containedMessageCount, 1)
	bucket.mu.Unlock()
}

// StoreMessageNoLock implements InCache.
func (c *ArrayInCache) StoreMessageNoLock(shard Shard, key string, value interface{}) {
	bucket := c.buckets[shard]
	bucket.byKey[key] = append(bucket.byKey[key], value)
	atomic.AddInt64(&c.containedMessageCount, 1)
}

// ParseMessages implements InCache.
func (c *ArrayInCache) ParseMessages(shard Shard, entries []interface{}) (int, error) {
	if c.buckets[shard] == nil {
		return 0, xerrors.Errorf("parse messages for shard %d: %w", shard, ErrUnknownShard)
	}

	staged, err := parseBatch(c.format, entries)
	if err != nil {
		return 0, err
	}

	var stored int
	for _, entry := range staged {
		for _, value := range entry.values {
			c.StoreMessage(shard, entry.key, value)
			stored++
		}
	}
	return stored, nil
}

// MessagesFor implements InCache.
func (c *ArrayInCache) MessagesFor(shard Shard, key string) Iterator {
	bucket := c.buckets[shard]
	bucket.mu.Lock()
	msgs := bucket.byKey[key]
	bucket.mu.Unlock()
	if len(msgs) == 0 {
		return emptyIterator{}
	}
	return newSliceIterator(msgs)
}

// Erase implements InCache.
func (c *ArrayInCache) Erase(shard Shard, key string) {
	bucket := c.buckets[shard]
	if msgs, exists := bucket.byKey[key]; exists {
		delete(bucket.byKey, key)
		atomic.AddInt64(&c.containedMessageCount, -int64(len(msgs)))
	}
}

// Clear implements InCache.
func (c *ArrayInCache) Clear() {
	for _, bucket := range c.buckets {
		bucket.mu.Lock()
		bucket.byKey = make(map[string][]interface{})
		bucket.mu.Unlock()
	}
	atomic.StoreInt64(&c.containedMessageCount, 0)
}

// ForEach implements InCache.
func (c *ArrayInCache) ForEach(fn func(shard Shard, key string, value interface{})) {
	for _, shard := range c.shards {
		for key, msgs := range c.buckets[shard].byKey {
			for _, msg := range msgs {
				fn(shard, key, msg)
			}
		}
	}
}

// MergeCache implements InCache. The other cache must be an *ArrayInCache
// built over the same shard universe.
func (c *ArrayInCache) MergeCache(other InCache) {
	o := other.(*ArrayInCache)
	atomic.AddInt64(&c.containedMessageCount, atomic.LoadInt64(&o.containedMessageCount))

	forEachShardTryLocked(c.shards, func(shard Shard) *sync.Mutex {
		src := o.buckets[shard]
		if len(src.byKey) == 0 {
			return nil
		}
		return &c.buckets[shard].mu
	}, func(shard Shard) {
		dst, src := c.buckets[shard], o.buckets[shard]
		for key, msgs := range src.byKey {
			dst.byKey[key] = append(dst.byKey[key], msgs...)
		}
	})
}

// MessageCount implements InCache.
func (c *ArrayInCache) MessageCount() int64 {
	return atomic.LoadInt64(&c.containedMessageCount)
}

// CombiningInCache reduces all messages addressed to a vertex into a single
// value via the configured combiner as they arrive.
type CombiningInCache struct {
	format   Format
	combiner Combiner
	shards   []Shard
	buckets  map[Shard]*combiningBucket

	containedMessageCount int64
}

type combiningBucket struct {
	mu    sync.Mutex
	byKey map[string]interface{}
}

// NewCombiningInCache creates a combining cache over the given stable set of
// local shards.
func NewCombiningInCache(localShards []Shard, format Format, combiner Combiner) *CombiningInCache {
	buckets := make(map[Shard]*combiningBucket, len(localShards))
	for _, shard := range localShards {
		buckets[shard] = &combiningBucket{byKey: make(map[string]interface{})}
	}
	return &CombiningInCache{
		format:   format,
		combiner: combiner,
		shards:   append([]Shard(nil), localShards...),
		buckets:  buckets,
	}
}

// StoreMessage implements InCache.
func (c *CombiningInCache) StoreMessage(shard Shard, key string, value interface{}) {
	bucket := c.buckets[shard]
	bucket.mu.Lock()
	if current, exists := bucket.byKey[key]; exists {
		bucket.byKey[key] = c.combiner.Combine(current, value)
	} else {
		bucket.byKey[key] = value
		atomic.AddInt64(&c.containedMessageCount, 1)
	}
	bucket.mu.Unlock()
}

// StoreMessageNoLock implements InCache.
func (c *CombiningInCache) StoreMessageNoLock(shard Shard, key string, value interface{}) {
	bucket := c.buckets[shard]
	if current, exists := bucket.byKey[key]; exists {
		bucket.byKey[key] = c.combiner.Combine(current, value)
	} else {
		bucket.byKey[key] = value
		atomic.AddInt64(&c.containedMessageCount, 1)
	}
}

// ParseMessages implements InCache.
func (c *CombiningInCache) ParseMessages(shard Shard, entries []interface{}) (int, error) {
	if c.buckets[shard] == nil {
		return 0, xerrors.Errorf("parse messages for shard %d: %w", shard, ErrUnknownShard)
	}

	staged, err := parseBatch(c.format, entries)
	if err != nil {
		return 0, err
	}

	var stored int
	for _, entry := range staged {
		for _, value := range entry.values {
			c.StoreMessage(shard, entry.key, value)
			stored++
		}
	}
	return stored, nil
}

// MessagesFor implements InCache.
func (c *CombiningInCache) MessagesFor(shard Shard, key string) Iterator {
	bucket := c.buckets[shard]
	bucket.mu.Lock()
	msg, exists := bucket.byKey[key]
	bucket.mu.Unlock()
	if !exists {
		return emptyIterator{}
	}
	return newSingleIterator(msg)
}

// Erase implements InCache.
func (c *CombiningInCache) Erase(shard Shard, key string) {
	bucket := c.buckets[shard]
	if _, exists := bucket.byKey[key]; exists {
		delete(bucket.byKey, key)
		atomic.AddInt64(&c.containedMessageCount, -1)
	}
}

// Clear implements InCache.
func (c *CombiningInCache) Clear() {
	for _, bucket := range c.buckets {
		bucket.mu.Lock()
		bucket.byKey = make(map[string]interface{})
		bucket.mu.Unlock()
	}
	atomic.StoreInt64(&c.containedMessageCount, 0)
}

// ForEach implements InCache.
func (c *CombiningInCache) ForEach(fn func(shard Shard, key string, value interface{})) {
	for _, shard := range c.shards {
		for key, msg := range c.buckets[shard].byKey {
			fn(shard, key, msg)
		}
	}
}

// MergeCache implements InCache. The other cache must be a *CombiningInCache
// built over the same shard universe and configured with the same combiner.
//
// The other cache's message count is added eagerly before the key-wise
// reduction runs; every key collision is tallied while the merge progresses
// and subtracted once it completes so that the count is exact again for any
// reader observing the cache after MergeCache returns.
func (c *CombiningInCache) MergeCache(other InCache) {
	o := other.(*CombiningInCache)
	atomic.AddInt64(&c.containedMessageCount, atomic.LoadInt64(&o.containedMessageCount))

	var collisions int64
	forEachShardTryLocked(c.shards, func(shard Shard) *sync.Mutex {
		src := o.buckets[shard]
		if len(src.byKey) == 0 {
			return nil
		}
		return &c.buckets[shard].mu
	}, func(shard Shard) {
		dst, src := c.buckets[shard], o.buckets[shard]
		for key, msg := range src.byKey {
			if current, exists := dst.byKey[key]; exists {
				dst.byKey[key] = c.combiner.Combine(current, msg)
				collisions++
			} else {
				dst.byKey[key] = msg
			}
		}
	})

	if collisions != 0 {
		atomic.AddInt64(&c.containedMessageCount, -collisions)
	}
}

// MessageCount implements InCache.
func (c *CombiningInCache) MessageCount() int64 {
	return atomic.LoadInt64(&c.containedMessageCount)
}

// forEachShardTryLocked visits every shard in randomized order, acquiring the
// mutex selected by lockFor via a non-blocking TryLock before invoking mergeFn
// with the lock held. Shards whose lock cannot be acquired are pushed to the
// back of the work list; after a full pass without progress the merge backs
// off briefly before retrying.
//
// The randomized visit order spreads lock contention across shards when many
// merges run concurrently and, combined with the try-lock acquisition, rules
// out lock-ordering deadlocks between caches.
func forEachShardTryLocked(shards []Shard, lockFor func(Shard) *sync.Mutex, mergeFn func(Shard)) {
	pending := make([]Shard, len(shards))
	copy(pending, shards)
	rand.Shuffle(len(pending), func(i, j int) {
		pending[i], pending[j] = pending[j], pending[i]
	})

	for len(pending) > 0 {
		var (
			progress bool
			retry    []Shard
		)
		for _, shard := range pending {
			mu := lockFor(shard)
			if mu == nil {
				// Nothing to merge for this shard.
				progress = true
				continue
			}
			if !mu.TryLock() {
				retry = append(retry, shard)
				continue
			}
			mergeFn(shard)
			mu.Unlock()
			progress = true
		}
		if !progress {
			time.Sleep(mergeBackoff)
		}
		pending = retry
	}
}

// stagedEntry is a decoded key/value(s) pair from a wire batch.
type stagedEntry struct {
	key    string
	values []interface{}
}

// parseBatch validates and decodes a flattened wire batch. It either returns
// the fully decoded entries or an error, so that callers never store a
// partially parsed batch.
func parseBatch(format Format, entries []interface{}) ([]stagedEntry, error) {
	if len(entries)%2 != 0 {
		return nil, xerrors.Errorf("expected an even number of key/value entries, got %d: %w", len(entries), ErrMalformedBatch)
	}

	staged := make([]stagedEntry, 0, len(entries)/2)
	for i := 0; i < len(entries); i += 2 {
		key, ok := entries[i].(string)
		if !ok {
			return nil, xerrors.Errorf("entry %d is not a vertex key: %w", i, ErrMalformedBatch)
		}

		switch payload := entries[i+1].(type) {
		case *any.Any:
			value, err := format.Unserialize(payload)
			if err != nil {
				return nil, xerrors.Errorf("unable to unserialize message for vertex %q: %w", key, err)
			}
			staged = append(staged, stagedEntry{key: key, values: []interface{}{value}})
		case []*any.Any:
			values := make([]interface{}, len(payload))
			for j, raw := range payload {
				value, err := format.Unserialize(raw)
				if err != nil {
					return nil, xerrors.Errorf("unable to unserialize message %d for vertex %q: %w", j, key, err)
				}
				values[j] = value
			}
			staged = append(staged, stagedEntry{key: key, values: values})
		default:
			return nil, xerrors.Errorf("entry %d for vertex %q is not a message payload: %w", i+1, key, ErrMalformedBatch)
		}
	}

	return staged, nil
}
