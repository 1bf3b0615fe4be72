package chunker

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/chaincast/pkg/address"
)

func randomPayload(tb testing.TB, size int) []byte {
	tb.Helper()
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, size)
	if _, err := rng.Read(data); err != nil {
		tb.Fatalf("failed to generate payload: %v", err)
	}
	return data
}

func TestChunkBytesReassembles(t *testing.T) {
	data := randomPayload(t, 3*1024*1024)

	chunks, err := ChunkBytes(data)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var buf bytes.Buffer
	for _, c := range chunks {
		assert.Equal(t, address.Sum(c.Data), c.Hash)
		buf.Write(c.Data)
	}
	assert.Equal(t, data, buf.Bytes())
}

func TestChunkBytesDeterministic(t *testing.T) {
	data := randomPayload(t, 2*1024*1024)

	a, err := ChunkBytes(data)
	require.NoError(t, err)
	b, err := ChunkBytes(data)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	assert.Equal(t, Hashes(a), Hashes(b))
}

func TestChunkBytesEmpty(t *testing.T) {
	chunks, err := ChunkBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
