// Package player resolves playback requests against the stream index
// and node store, and renders live HLS playlist views of a variant
// chain.
package player

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/livepeer/m3u8"

	"github.com/chaincast/chaincast/pkg/nodestore"
	"github.com/chaincast/chaincast/pkg/streamindex"
	"github.com/chaincast/chaincast/pkg/types"
)

// Player reads from one peer's local index and store. It never blocks
// on the network; content that is not yet replicated surfaces as
// streamindex.ErrNotCovered and the caller retries with backoff.
type Player struct {
	index *streamindex.Index
	store *nodestore.Store
	log   *slog.Logger
}

func New(index *streamindex.Index, store *nodestore.Store, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		index: index,
		store: store,
		log:   logger,
	}
}

// Play resolves a timecode to a segment address, preferring the given
// variant and falling back to lower variants (variants are ordered from
// lowest to highest quality) when the preferred chain does not cover
// the timecode yet. Returns the address and the variant actually
// chosen.
func (p *Player) Play(timecode types.Timecode, preferredVariant uint32) (types.Hash, uint32, error) {
	max, ok := p.index.MaxVariant()
	if !ok {
		return types.Hash{}, 0, fmt.Errorf("%w: timecode %s, no variant has entries",
			streamindex.ErrNotCovered, timecode)
	}

	// nothing exists above max, so the walk starts there
	start := preferredVariant
	if max < start {
		start = max
	}

	for variant := int(start); variant >= 0; variant-- {
		addr, err := p.index.Lookup(uint32(variant), timecode)
		if err == nil {
			if uint32(variant) != preferredVariant {
				p.log.Debug("variant fallback",
					"timecode", timecode.String(),
					"preferred", preferredVariant,
					"chosen", variant)
			}
			return addr, uint32(variant), nil
		}
		if !errors.Is(err, streamindex.ErrNotCovered) {
			return types.Hash{}, 0, err
		}
	}
	return types.Hash{}, 0, fmt.Errorf("%w: timecode %s on any variant up to %d",
		streamindex.ErrNotCovered, timecode, preferredVariant)
}

// Buffer walks previous links backward from a head address, returning
// up to maxSegments nodes for lookahead buffering. A broken link simply
// truncates the buffer; playback treats it as a gap.
func (p *Player) Buffer(head types.Hash, maxSegments int) ([]types.Node, error) {
	nodes, err := p.store.ResolveChain(head, maxSegments)
	if err != nil && !errors.Is(err, nodestore.ErrBrokenChain) {
		return nil, err
	}
	if errors.Is(err, nodestore.ErrBrokenChain) {
		p.log.Debug("buffer truncated by broken chain", "head", head.String(), "got", len(nodes))
	}
	return nodes, nil
}

// Playlist renders a live HLS media playlist of the last windowSize
// segments of a variant. Segment URIs are hex content addresses; the
// serving layer maps them back to payload bytes.
func (p *Player) Playlist(variant uint32, windowSize int) ([]byte, error) {
	window := p.index.Window(variant, windowSize)
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: variant %d", streamindex.ErrNotCovered, variant)
	}

	pl, err := m3u8.NewMediaPlaylist(uint(len(window)), uint(len(window)))
	if err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}

	var target float64
	for _, e := range window {
		seconds := float64(e.Duration) / 1000
		if seconds > target {
			target = seconds
		}
		if err := pl.Append(e.Address.String(), seconds, ""); err != nil {
			return nil, fmt.Errorf("append playlist segment: %w", err)
		}
	}
	pl.TargetDuration = target

	return pl.Encode().Bytes(), nil
}
