// Package beacon implements the convergent announcement state used for
// decentralized stream discovery. Each publisher owns exactly one
// entry, stamped with a per-publisher logical clock; replicas merge
// entries with a last-writer-wins rule keyed by that clock. The state
// forms a join-semilattice: merge is commutative, associative, and
// idempotent, so replicas converge under any delivery order and any
// amount of duplication.
package beacon

import (
	"sort"
	"sync"

	"github.com/chaincast/chaincast/pkg/types"
)

// Entry is one publisher's latest announcement: the stream it is
// publishing (setup-node address) and the current head of every variant
// chain. Clock is a logical counter owned by the publisher; wall clocks
// never participate in merge decisions.
type Entry struct {
	Publisher    types.PublisherID
	Clock        uint64
	Stream       types.Hash
	VariantHeads map[uint32]types.Hash
}

// clone returns a deep copy so stored entries stay immutable when
// callers mutate their maps afterwards.
func (e Entry) clone() Entry {
	heads := make(map[uint32]types.Hash, len(e.VariantHeads))
	for v, h := range e.VariantHeads {
		heads[v] = h
	}
	e.VariantHeads = heads
	return e
}

// State is one replica's view of all publishers. The zero value is not
// usable; call NewState.
type State struct {
	mu      sync.Mutex
	local   types.PublisherID
	clock   uint64
	entries map[types.PublisherID]Entry
}

// NewState creates an empty replica. local is the publisher identity
// used by Publish; replicas that only listen can pass an empty id and
// never call Publish.
func NewState(local types.PublisherID) *State {
	return &State{
		local:   local,
		entries: make(map[types.PublisherID]Entry),
	}
}

// Publish increments the local logical clock, installs a new entry for
// the local publisher, and returns it for broadcast.
func (s *State) Publish(stream types.Hash, variantHeads map[uint32]types.Hash) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock++
	entry := Entry{
		Publisher:    s.local,
		Clock:        s.clock,
		Stream:       stream,
		VariantHeads: variantHeads,
	}.clone()
	s.entries[s.local] = entry
	return entry
}

// Merge folds remote entries into the replica. For each entry, the
// stored entry for that publisher is replaced only when the incoming
// clock is strictly greater; unseen publishers are inserted outright.
// Stale or duplicate entries are ignored, never an error. Returns the
// publishers whose entries changed.
func (s *State) Merge(remote []Entry) []types.PublisherID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated []types.PublisherID
	for _, incoming := range remote {
		current, seen := s.entries[incoming.Publisher]
		if seen && incoming.Clock <= current.Clock {
			continue
		}
		s.entries[incoming.Publisher] = incoming.clone()
		updated = append(updated, incoming.Publisher)

		// keep the local clock ahead of anything already announced
		// under our own identity (e.g. state restored via gossip after
		// a restart)
		if incoming.Publisher == s.local && incoming.Clock > s.clock {
			s.clock = incoming.Clock
		}
	}
	return updated
}

// Get returns the stored entry for a publisher.
func (s *State) Get(publisher types.PublisherID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[publisher]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Snapshot returns all entries ordered by publisher id. The ordering
// makes snapshots comparable and their encodings stable.
func (s *State) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e.clone())
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Publisher < entries[j].Publisher
	})
	return entries
}

// Publishers returns the known publisher ids, unordered.
func (s *State) Publishers() []types.PublisherID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]types.PublisherID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
