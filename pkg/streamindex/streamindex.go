// Package streamindex maps timecodes to content addresses, one
// append-only chain per variant. All variant chains share the same
// timecode axis and the same SetupNode root; the index is what lets a
// player switch quality without re-walking history.
package streamindex

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chaincast/chaincast/pkg/types"
)

var (
	// ErrOutOfOrder means an append would violate the strictly
	// increasing timecode invariant of a variant chain. The index is
	// left unchanged; the producer must fix its sequencing.
	ErrOutOfOrder = errors.New("streamindex: append out of order")

	// ErrNotCovered means no recorded segment covers the requested
	// timecode. Normal for content that is not yet produced or not yet
	// replicated.
	ErrNotCovered = errors.New("streamindex: timecode not covered")

	// ErrEmpty means the variant has no entries yet.
	ErrEmpty = errors.New("streamindex: variant chain is empty")
)

// Entry is one recorded segment of one variant chain.
type Entry struct {
	Start    types.Timecode
	Duration types.Timecode
	Address  types.Hash
}

func (e Entry) end() types.Timecode {
	return e.Start + e.Duration
}

// variantChain is the append-only entry sequence of a single variant.
// Each chain carries its own lock so distinct variants can be appended
// concurrently.
type variantChain struct {
	mu      sync.RWMutex
	entries []Entry
}

// Index is the stream index for one stream session. Safe for concurrent
// use; appends on the same variant must come from a single writer,
// which the append-only invariant enforces anyway.
type Index struct {
	mu       sync.RWMutex
	variants map[uint32]*variantChain
}

func New() *Index {
	return &Index{
		variants: make(map[uint32]*variantChain),
	}
}

func (idx *Index) chain(variant uint32, create bool) *variantChain {
	idx.mu.RLock()
	c := idx.variants[variant]
	idx.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c = idx.variants[variant]; c == nil {
		c = &variantChain{}
		idx.variants[variant] = c
	}
	return c
}

// Append records a segment for a variant. start must be strictly
// greater than the last recorded start and must not overlap the
// previous segment's interval.
func (idx *Index) Append(variant uint32, start, duration types.Timecode, addr types.Hash) error {
	c := idx.chain(variant, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.entries); n > 0 {
		last := c.entries[n-1]
		if start <= last.Start {
			return fmt.Errorf("%w: start %s not after %s (variant %d)",
				ErrOutOfOrder, start, last.Start, variant)
		}
		if start < last.end() {
			return fmt.Errorf("%w: start %s overlaps segment ending at %s (variant %d)",
				ErrOutOfOrder, start, last.end(), variant)
		}
	}

	c.entries = append(c.entries, Entry{Start: start, Duration: duration, Address: addr})
	return nil
}

// Lookup returns the address of the segment whose [start, start+duration)
// interval contains timecode.
func (idx *Index) Lookup(variant uint32, timecode types.Timecode) (types.Hash, error) {
	c := idx.chain(variant, false)
	if c == nil {
		return types.Hash{}, fmt.Errorf("%w: unknown variant %d", ErrNotCovered, variant)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// first entry starting after timecode; the candidate is its
	// predecessor
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Start > timecode
	})
	if i == 0 {
		return types.Hash{}, fmt.Errorf("%w: timecode %s precedes first entry (variant %d)",
			ErrNotCovered, timecode, variant)
	}

	e := c.entries[i-1]
	if timecode >= e.end() {
		return types.Hash{}, fmt.Errorf("%w: timecode %s past segment ending at %s (variant %d)",
			ErrNotCovered, timecode, e.end(), variant)
	}
	return e.Address, nil
}

// HeadOf returns the latest appended entry of a variant.
func (idx *Index) HeadOf(variant uint32) (types.Hash, error) {
	c := idx.chain(variant, false)
	if c == nil {
		return types.Hash{}, fmt.Errorf("%w: unknown variant %d", ErrEmpty, variant)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return types.Hash{}, fmt.Errorf("%w: variant %d", ErrEmpty, variant)
	}
	return c.entries[len(c.entries)-1].Address, nil
}

// Heads returns the current head of every variant that has entries,
// keyed by variant index. This is the shape a beacon entry announces.
func (idx *Index) Heads() map[uint32]types.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	heads := make(map[uint32]types.Hash, len(idx.variants))
	for variant, c := range idx.variants {
		c.mu.RLock()
		if n := len(c.entries); n > 0 {
			heads[variant] = c.entries[n-1].Address
		}
		c.mu.RUnlock()
	}
	return heads
}

// MaxVariant returns the highest variant index that has entries, and
// false when no variant has any.
func (idx *Index) MaxVariant() (uint32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var max uint32
	found := false
	for variant, c := range idx.variants {
		c.mu.RLock()
		n := len(c.entries)
		c.mu.RUnlock()
		if n == 0 {
			continue
		}
		if !found || variant > max {
			max = variant
			found = true
		}
	}
	return max, found
}

// Window returns up to the last n entries of a variant, oldest first.
// Used to render live playlists.
func (idx *Index) Window(variant uint32, n int) []Entry {
	c := idx.chain(variant, false)
	if c == nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if len(c.entries) > n {
		start = len(c.entries) - n
	}
	window := make([]Entry, len(c.entries)-start)
	copy(window, c.entries[start:])
	return window
}

// Len returns the number of entries recorded for a variant.
func (idx *Index) Len(variant uint32) int {
	c := idx.chain(variant, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
