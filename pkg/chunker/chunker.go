// Package chunker splits payloads into content-defined chunks. Chunk
// boundaries come from a buzhash rolling checksum, so identical runs of
// bytes produce identical chunks regardless of their position in the
// payload. That makes chunk storage dedup-friendly across retries,
// variants, and peers.
package chunker

import (
	"bytes"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"

	"github.com/chaincast/chaincast/pkg/address"
	"github.com/chaincast/chaincast/pkg/types"
)

// Chunk is one content-defined slice of a payload, addressed by the
// digest of its raw bytes.
type Chunk struct {
	Hash types.Hash
	Data []byte
}

// ChunkBytes splits data into chunks. The chunk size is bounded by the
// buzhash chunker defaults (128K minimum, 512K maximum).
func ChunkBytes(data []byte) ([]Chunk, error) {
	return ChunkReader(bytes.NewReader(data))
}

// ChunkReader consumes the reader to the end and returns the ordered
// chunk sequence.
func ChunkReader(reader io.Reader) ([]Chunk, error) {
	bz := chunker.NewBuzhash(reader)

	var chunks []Chunk
	for {
		data, err := bz.NextBytes()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading chunk: %w", err)
		}

		chunks = append(chunks, Chunk{
			Hash: address.Sum(data),
			Data: data,
		})
	}
}

// Hashes returns the ordered chunk addresses of a chunk sequence.
func Hashes(chunks []Chunk) []types.Hash {
	hashes := make([]types.Hash, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	return hashes
}
