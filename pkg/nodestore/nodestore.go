// Package nodestore holds video nodes and their payload chunks, keyed
// by content address. It is the single source of truth for link
// traversal: a SegmentNode is only considered valid once its previous
// link resolves here.
package nodestore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ulikunitz/xz/lzma"

	"github.com/chaincast/chaincast/internal/keyValStore"
	"github.com/chaincast/chaincast/pkg/address"
	"github.com/chaincast/chaincast/pkg/chunker"
	"github.com/chaincast/chaincast/pkg/types"
)

var (
	// ErrNotFound means the address is unknown locally. Callers can
	// fetch the bytes remotely and retry Put.
	ErrNotFound = errors.New("nodestore: node not found")

	// ErrBrokenChain means a previous link could not be resolved, even
	// after a fallback fetch. Surfaced to playback as a gap.
	ErrBrokenChain = errors.New("nodestore: chain link cannot be resolved")
)

var (
	nodePrefix  = []byte("n:")
	chunkPrefix = []byte("c:")
)

// Fetcher retrieves canonical node or chunk bytes from a remote source
// when the local store misses. Implementations live outside the core;
// returning ErrNotFound (or any error) makes the miss permanent for the
// current operation.
type Fetcher interface {
	Fetch(addr types.Hash) ([]byte, error)
}

// Store is the Video Node Store. Safe for concurrent use: reads run on
// badger snapshots and writes are idempotent per content address.
type Store struct {
	kv      *keyValStore.KeyValStore
	fetcher Fetcher
	log     *slog.Logger
}

// New creates a Store on top of kv. fetcher may be nil, in which case a
// local miss is final.
func New(kv *keyValStore.KeyValStore, fetcher Fetcher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:      kv,
		fetcher: fetcher,
		log:     logger,
	}
}

func nodeKey(h types.Hash) []byte {
	return append(append([]byte{}, nodePrefix...), h.Bytes()...)
}

func chunkKey(h types.Hash) []byte {
	return append(append([]byte{}, chunkPrefix...), h.Bytes()...)
}

// Put encodes the node canonically, derives its address, and stores it.
// Idempotent: storing identical content again is a no-op that returns
// the same address.
func (s *Store) Put(node types.Node) (types.Hash, error) {
	encoded, err := EncodeNode(node)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode node: %w", err)
	}
	addr := address.Sum(encoded)

	if _, err := s.kv.WriteIfAbsent(nodeKey(addr), encoded); err != nil {
		return types.Hash{}, fmt.Errorf("store node %s: %w", addr, err)
	}
	return addr, nil
}

// PutEncoded stores already-canonical node bytes, verifying that they
// digest to the expected address. Used when ingesting fetched bytes.
func (s *Store) PutEncoded(addr types.Hash, encoded []byte) error {
	if address.Sum(encoded) != addr {
		return fmt.Errorf("node bytes do not match address %s", addr)
	}
	if _, err := DecodeNode(encoded); err != nil {
		return fmt.Errorf("ingest node %s: %w", addr, err)
	}
	if _, err := s.kv.WriteIfAbsent(nodeKey(addr), encoded); err != nil {
		return fmt.Errorf("store node %s: %w", addr, err)
	}
	return nil
}

// Get resolves an address to a node from local storage only.
func (s *Store) Get(addr types.Hash) (types.Node, error) {
	encoded, err := s.kv.Read(nodeKey(addr))
	if err != nil {
		if keyValStore.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read node %s: %w", addr, err)
	}
	node, err := DecodeNode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode node %s: %w", addr, err)
	}
	return node, nil
}

// getWithFetch is Get with a one-shot fallback to the external fetcher.
func (s *Store) getWithFetch(addr types.Hash) (types.Node, error) {
	node, err := s.Get(addr)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, ErrNotFound) || s.fetcher == nil {
		return nil, err
	}

	encoded, ferr := s.fetcher.Fetch(addr)
	if ferr != nil {
		s.log.Debug("remote fetch failed", "address", addr.String(), "error", ferr)
		return nil, ErrNotFound
	}
	if perr := s.PutEncoded(addr, encoded); perr != nil {
		return nil, fmt.Errorf("ingest fetched node: %w", perr)
	}
	return s.Get(addr)
}

// ResolveChain walks previous links backward from fromAddress, at most
// maxHops nodes, stopping early when a SetupNode is reached. The
// returned sequence starts at fromAddress. A link that cannot be
// resolved locally or via the fetcher fails the walk with
// ErrBrokenChain wrapped around the offending address.
func (s *Store) ResolveChain(fromAddress types.Hash, maxHops int) ([]types.Node, error) {
	var nodes []types.Node
	addr := fromAddress

	for hop := 0; hop < maxHops; hop++ {
		node, err := s.getWithFetch(addr)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nodes, fmt.Errorf("%w: %s", ErrBrokenChain, addr)
			}
			return nodes, err
		}
		nodes = append(nodes, node)

		segment, ok := node.(*types.SegmentNode)
		if !ok {
			// SetupNode, the root of every chain.
			return nodes, nil
		}
		addr = segment.Previous
	}

	return nodes, nil
}

// PutPayload splits payload into content-defined chunks, compresses and
// stores each chunk that is not already present, and returns the
// payload's own address, the ordered chunk addresses, and the number of
// chunks newly written. Chunks the store already holds count as zero
// writes.
func (s *Store) PutPayload(payload []byte) (types.Hash, []types.Hash, int, error) {
	payloadAddr := address.Sum(payload)

	chunks, err := chunker.ChunkBytes(payload)
	if err != nil {
		return types.Hash{}, nil, 0, fmt.Errorf("chunk payload: %w", err)
	}

	written := 0
	for _, c := range chunks {
		compressed, err := compressWithLzma(c.Data)
		if err != nil {
			return types.Hash{}, nil, written, fmt.Errorf("compress chunk %s: %w", c.Hash, err)
		}
		wrote, err := s.kv.WriteIfAbsent(chunkKey(c.Hash), compressed)
		if err != nil {
			return types.Hash{}, nil, written, fmt.Errorf("store chunk %s: %w", c.Hash, err)
		}
		if wrote {
			written++
		}
	}

	return payloadAddr, chunker.Hashes(chunks), written, nil
}

// GetPayload reassembles a payload from its ordered chunk addresses and
// verifies the result against the expected payload address.
func (s *Store) GetPayload(payloadAddr types.Hash, chunks []types.Hash) ([]byte, error) {
	var buf bytes.Buffer
	for _, h := range chunks {
		compressed, err := s.kv.Read(chunkKey(h))
		if err != nil {
			if keyValStore.IsNotFound(err) {
				return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, h)
			}
			return nil, fmt.Errorf("read chunk %s: %w", h, err)
		}
		data, err := decompressWithLzma(compressed)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %s: %w", h, err)
		}
		if address.Sum(data) != h {
			return nil, fmt.Errorf("chunk %s failed verification", h)
		}
		buf.Write(data)
	}

	payload := buf.Bytes()
	if address.Sum(payload) != payloadAddr {
		return nil, fmt.Errorf("payload %s failed verification", payloadAddr)
	}
	return payload, nil
}

// HasChunk reports whether a payload chunk is stored locally.
func (s *Store) HasChunk(h types.Hash) (bool, error) {
	return s.kv.Exists(chunkKey(h))
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err = buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
