package message

import (
	"sort"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

type OutCacheTestSuite struct {
}

func (s *OutCacheTestSuite) TestArrayLocalDelivery(c *gc.C) {
	local := NewArrayInCache([]Shard{0}, intFormat{})
	out := NewArrayOutCache([]Shard{0, 1}, []Shard{0}, intFormat{})
	out.SetLocalCache(local)

	c.Assert(out.AppendMessage(0, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(0, "a", 2), gc.IsNil)

	// Local deliveries bypass the remote buffers entirely.
	c.Assert(drainInts(local.MessagesFor(0, "a")), gc.DeepEquals, []int{1, 2})
	c.Assert(out.SentCount(), gc.Equals, int64(2))
	c.Assert(out.LocalDeliveredCount(), gc.Equals, int64(2))

	batches, err := out.Batches()
	c.Assert(err, gc.IsNil)
	c.Assert(batches, gc.HasLen, 0)
}

func (s *OutCacheTestSuite) TestArrayRemoteBatchRoundTrip(c *gc.C) {
	out := NewArrayOutCache([]Shard{0, 1}, []Shard{0}, intFormat{})
	out.SetLocalCache(NewArrayInCache([]Shard{0}, intFormat{}))

	c.Assert(out.AppendMessage(1, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(1, "a", 2), gc.IsNil)
	c.Assert(out.AppendMessage(1, "b", 3), gc.IsNil)
	c.Assert(out.SentCount(), gc.Equals, int64(3))

	batches, err := out.Batches()
	c.Assert(err, gc.IsNil)
	c.Assert(batches, gc.HasLen, 1)

	// Delivering the batch to the receiving shard's cache must store
	// exactly as many units as the sender counted.
	in := NewArrayInCache([]Shard{1}, intFormat{})
	stored, err := in.ParseMessages(1, batches[1])
	c.Assert(err, gc.IsNil)
	c.Assert(int64(stored), gc.Equals, out.SentCount())
	c.Assert(drainInts(in.MessagesFor(1, "a")), gc.DeepEquals, []int{1, 2})
	c.Assert(drainInts(in.MessagesFor(1, "b")), gc.DeepEquals, []int{3})
}

func (s *OutCacheTestSuite) TestArrayBatchShape(c *gc.C) {
	out := NewArrayOutCache([]Shard{0, 1}, []Shard{0}, intFormat{})

	c.Assert(out.AppendMessage(1, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(1, "a", 2), gc.IsNil)
	c.Assert(out.AppendMessage(1, "b", 3), gc.IsNil)

	batches, err := out.Batches()
	c.Assert(err, gc.IsNil)
	entries := batches[1]
	c.Assert(len(entries)%2, gc.Equals, 0)

	var keys []string
	for i := 0; i < len(entries); i += 2 {
		key, ok := entries[i].(string)
		c.Assert(ok, gc.Equals, true, gc.Commentf("entry %d is not a key", i))
		keys = append(keys, key)
		switch key {
		case "a":
			// Multi-value buffers serialize as a payload list.
			_, ok = entries[i+1].([]*any.Any)
			c.Assert(ok, gc.Equals, true)
		case "b":
			_, ok = entries[i+1].(*any.Any)
			c.Assert(ok, gc.Equals, true)
		}
	}
	sort.Strings(keys)
	c.Assert(keys, gc.DeepEquals, []string{"a", "b"})
}

func (s *OutCacheTestSuite) TestCombiningRemoteSendCount(c *gc.C) {
	out := NewCombiningOutCache([]Shard{0, 1}, []Shard{0}, intFormat{}, sumCombiner)
	out.SetLocalCache(NewCombiningInCache([]Shard{0}, intFormat{}, sumCombiner))

	c.Assert(out.AppendMessage(1, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(1, "a", 2), gc.IsNil)
	c.Assert(out.AppendMessage(1, "b", 3), gc.IsNil)

	// Only units that actually cross the wire are counted, so the
	// receiver's parse count balances against the sender's.
	c.Assert(out.SentCount(), gc.Equals, int64(2))

	batches, err := out.Batches()
	c.Assert(err, gc.IsNil)
	in := NewCombiningInCache([]Shard{1}, intFormat{}, sumCombiner)
	stored, err := in.ParseMessages(1, batches[1])
	c.Assert(err, gc.IsNil)
	c.Assert(int64(stored), gc.Equals, out.SentCount())
	c.Assert(drainInts(in.MessagesFor(1, "a")), gc.DeepEquals, []int{3})
	c.Assert(drainInts(in.MessagesFor(1, "b")), gc.DeepEquals, []int{3})
}

func (s *OutCacheTestSuite) TestCombiningLocalDelivery(c *gc.C) {
	local := NewCombiningInCache([]Shard{0}, intFormat{}, sumCombiner)
	out := NewCombiningOutCache([]Shard{0, 1}, []Shard{0}, intFormat{}, sumCombiner)
	out.SetLocalCache(local)

	c.Assert(out.AppendMessage(0, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(0, "a", 2), gc.IsNil)

	// Local deliveries count on both sides of the ledger, keeping the
	// global sent/received balance intact.
	c.Assert(out.SentCount(), gc.Equals, int64(2))
	c.Assert(out.LocalDeliveredCount(), gc.Equals, int64(2))
	c.Assert(drainInts(local.MessagesFor(0, "a")), gc.DeepEquals, []int{3})
}

func (s *OutCacheTestSuite) TestUnknownShard(c *gc.C) {
	out := NewArrayOutCache([]Shard{0, 1}, []Shard{0}, intFormat{})
	err := out.AppendMessage(9, "a", 1)
	c.Assert(xerrors.Is(err, ErrUnknownShard), gc.Equals, true, gc.Commentf("got %v", err))
}

func (s *OutCacheTestSuite) TestClearResetsCounters(c *gc.C) {
	out := NewArrayOutCache([]Shard{0, 1}, []Shard{0}, intFormat{})
	out.SetLocalCache(NewArrayInCache([]Shard{0}, intFormat{}))

	c.Assert(out.AppendMessage(0, "a", 1), gc.IsNil)
	c.Assert(out.AppendMessage(1, "b", 2), gc.IsNil)

	out.Clear()
	c.Assert(out.SentCount(), gc.Equals, int64(0))
	c.Assert(out.LocalDeliveredCount(), gc.Equals, int64(0))

	batches, err := out.Batches()
	c.Assert(err, gc.IsNil)
	c.Assert(batches, gc.HasLen, 0)
}
