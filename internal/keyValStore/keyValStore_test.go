package keyValStore

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(tb testing.TB) *KeyValStore {
	tb.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	kv, err := NewKeyValStore(StoreConfig{
		Paths:            []string{tb.TempDir()},
		MinimumFreeSpace: 1,
		Logger:           logger,
	})
	if err != nil {
		tb.Fatalf("failed to create KeyValStore: %v", err)
	}
	tb.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestWriteRead(t *testing.T) {
	kv := newTestStore(t)

	require.NoError(t, kv.Write([]byte("k1"), []byte("v1")))

	got, err := kv.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestReadMissingKey(t *testing.T) {
	kv := newTestStore(t)

	_, err := kv.Read([]byte("nope"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestWriteIfAbsent(t *testing.T) {
	kv := newTestStore(t)

	written, err := kv.WriteIfAbsent([]byte("k"), []byte("v"))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = kv.WriteIfAbsent([]byte("k"), []byte("v"))
	require.NoError(t, err)
	assert.False(t, written)

	got, err := kv.Read([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestExists(t *testing.T) {
	kv := newTestStore(t)

	ok, err := kv.Exists([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Write([]byte("k"), []byte("v")))

	ok, err = kv.Exists([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGarbageCollectNothingToDo(t *testing.T) {
	kv := newTestStore(t)

	require.NoError(t, kv.Write([]byte("k"), []byte("v")))

	// a fresh store has no value log garbage; badger reports
	// ErrNoRewrite, which is success for callers
	assert.NoError(t, kv.GarbageCollect())
}

func TestFreeSpaceRequirementTooHigh(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	_, err := NewKeyValStore(StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1 << 20, // an exabyte, no test machine has this
		Logger:           logger,
	})
	assert.Error(t, err)
}
