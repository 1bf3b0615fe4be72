package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/chaincast/pkg/types"
)

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func entry(publisher string, clock uint64, heads map[uint32]types.Hash) Entry {
	if heads == nil {
		heads = map[uint32]types.Hash{}
	}
	return Entry{
		Publisher:    types.PublisherID(publisher),
		Clock:        clock,
		Stream:       hashOf(0xee),
		VariantHeads: heads,
	}
}

func TestPublishIncrementsClock(t *testing.T) {
	s := NewState("alice")

	e1 := s.Publish(hashOf(1), map[uint32]types.Hash{0: hashOf(2)})
	e2 := s.Publish(hashOf(1), map[uint32]types.Hash{0: hashOf(3)})

	assert.Equal(t, uint64(1), e1.Clock)
	assert.Equal(t, uint64(2), e2.Clock)
	assert.Equal(t, types.PublisherID("alice"), e1.Publisher)

	stored, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, e2, stored)
}

func TestPublishedEntryIsImmutable(t *testing.T) {
	s := NewState("alice")

	heads := map[uint32]types.Hash{0: hashOf(1)}
	s.Publish(hashOf(9), heads)

	// mutating the caller's map must not leak into the state
	heads[0] = hashOf(0xff)

	stored, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, hashOf(1), stored.VariantHeads[0])
}

func TestMergeInsertsUnseenPublisher(t *testing.T) {
	s := NewState("alice")

	updated := s.Merge([]Entry{entry("bob", 1, map[uint32]types.Hash{0: hashOf(1)})})
	assert.Equal(t, []types.PublisherID{"bob"}, updated)

	stored, ok := s.Get("bob")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stored.Clock)
}

func TestMergeLastWriterWins(t *testing.T) {
	newer := entry("bob", 3, map[uint32]types.Hash{0: hashOf(3)})
	older := entry("bob", 1, map[uint32]types.Hash{0: hashOf(1)})

	// arrival order [3,1]
	a := NewState("alice")
	a.Merge([]Entry{newer})
	updated := a.Merge([]Entry{older})
	assert.Empty(t, updated)

	// arrival order [1,3] on a second replica
	b := NewState("carol")
	b.Merge([]Entry{older})
	b.Merge([]Entry{newer})

	// both replicas converge to clock 3
	ea, ok := a.Get("bob")
	require.True(t, ok)
	eb, ok := b.Get("bob")
	require.True(t, ok)
	assert.Equal(t, uint64(3), ea.Clock)
	assert.Equal(t, ea, eb)
	assert.Equal(t, hashOf(3), ea.VariantHeads[0])
}

func TestMergeEqualClockIgnored(t *testing.T) {
	s := NewState("alice")

	first := entry("bob", 2, map[uint32]types.Hash{0: hashOf(1)})
	second := entry("bob", 2, map[uint32]types.Hash{0: hashOf(2)})

	s.Merge([]Entry{first})
	updated := s.Merge([]Entry{second})
	assert.Empty(t, updated)

	stored, _ := s.Get("bob")
	assert.Equal(t, hashOf(1), stored.VariantHeads[0])
}

func TestMergeCommutative(t *testing.T) {
	setA := []Entry{
		entry("bob", 2, map[uint32]types.Hash{0: hashOf(1)}),
		entry("carol", 5, map[uint32]types.Hash{1: hashOf(2)}),
	}
	setB := []Entry{
		entry("bob", 4, map[uint32]types.Hash{0: hashOf(3)}),
		entry("dave", 1, nil),
	}

	ab := NewState("x")
	ab.Merge(setA)
	ab.Merge(setB)

	ba := NewState("y")
	ba.Merge(setB)
	ba.Merge(setA)

	assert.Equal(t, ab.Snapshot(), ba.Snapshot())
}

func TestMergeAssociative(t *testing.T) {
	setA := []Entry{entry("bob", 1, nil)}
	setB := []Entry{entry("bob", 3, nil), entry("carol", 1, nil)}
	setC := []Entry{entry("carol", 2, nil)}

	// (A then B) then C
	s1 := NewState("x")
	s1.Merge(setA)
	s1.Merge(setB)
	s1.Merge(setC)

	// A then (B then C merged as one batch)
	s2 := NewState("y")
	s2.Merge(setA)
	s2.Merge(append(append([]Entry{}, setB...), setC...))

	assert.Equal(t, s1.Snapshot(), s2.Snapshot())
}

func TestMergeIdempotent(t *testing.T) {
	set := []Entry{
		entry("bob", 2, map[uint32]types.Hash{0: hashOf(1)}),
		entry("carol", 7, map[uint32]types.Hash{0: hashOf(2), 1: hashOf(3)}),
	}

	s := NewState("x")
	s.Merge(set)
	once := s.Snapshot()

	updated := s.Merge(set)
	assert.Empty(t, updated)
	assert.Equal(t, once, s.Snapshot())
}

func TestMergeAdvancesLocalClock(t *testing.T) {
	s := NewState("alice")

	// our own identity announced with a higher clock, e.g. restored
	// via gossip after a restart
	s.Merge([]Entry{entry("alice", 10, nil)})

	e := s.Publish(hashOf(1), nil)
	assert.Equal(t, uint64(11), e.Clock)
}

func TestSnapshotOrdered(t *testing.T) {
	s := NewState("x")
	s.Merge([]Entry{
		entry("zed", 1, nil),
		entry("amy", 1, nil),
		entry("mel", 1, nil),
	})

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, types.PublisherID("amy"), snapshot[0].Publisher)
	assert.Equal(t, types.PublisherID("mel"), snapshot[1].Publisher)
	assert.Equal(t, types.PublisherID("zed"), snapshot[2].Publisher)
}
