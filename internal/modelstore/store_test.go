package modelstore

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	blob := []byte(`{"trained":true,"frequencies":[0.1,0.2]}`)

	hash, err := store.Put("strategy-a", blob)
	require.NoError(t, err)

	expected := sha256.Sum256(blob)
	assert.Equal(t, hex.EncodeToString(expected[:]), hash)

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestPutDeduplicatesIdenticalContent(t *testing.T) {
	store := openTestStore(t)
	blob := []byte("model bytes")

	first, err := store.Put("strategy-a", blob)
	require.NoError(t, err)
	second, err := store.Put("strategy-b", blob)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Both strategies resolve to the shared artifact
	hashA, blobA, err := store.LatestForStrategy("strategy-a")
	require.NoError(t, err)
	hashB, blobB, err := store.LatestForStrategy("strategy-b")
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
	assert.Equal(t, blobA, blobB)
}

func TestGetMissingArtifact(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrArtifactNotFound)
}

func TestGetDetectsCorruption(t *testing.T) {
	store := openTestStore(t)
	blob := []byte("original artifact")
	hash, err := store.Put("strategy-a", blob)
	require.NoError(t, err)

	// Overwrite the stored bytes behind the store's back
	err = store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(artifactPrefix+hash), []byte("tampered"))
	})
	require.NoError(t, err)

	_, err = store.Get(hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCorruptArtifact)
}

func TestLatestForStrategyTracksNewestArtifact(t *testing.T) {
	store := openTestStore(t)

	firstHash, err := store.Put("strategy-a", []byte("v1"))
	require.NoError(t, err)
	secondHash, err := store.Put("strategy-a", []byte("v2"))
	require.NoError(t, err)
	require.NotEqual(t, firstHash, secondHash)

	hash, blob, err := store.LatestForStrategy("strategy-a")
	require.NoError(t, err)
	assert.Equal(t, secondHash, hash)
	assert.Equal(t, []byte("v2"), blob)

	// The superseded artifact is still addressable by hash
	old, err := store.Get(firstHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), old)
}

func TestLatestForStrategyMissing(t *testing.T) {
	store := openTestStore(t)

	_, _, err := store.LatestForStrategy("unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrArtifactNotFound)
}

func TestDeleteRemovesIndexOnly(t *testing.T) {
	store := openTestStore(t)
	blob := []byte("shared artifact")
	hash, err := store.Put("strategy-a", blob)
	require.NoError(t, err)
	_, err = store.Put("strategy-b", blob)
	require.NoError(t, err)

	require.NoError(t, store.Delete("strategy-a"))

	_, _, err = store.LatestForStrategy("strategy-a")
	assert.ErrorIs(t, err, types.ErrArtifactNotFound)

	// The artifact itself and the other index survive
	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	_, _, err = store.LatestForStrategy("strategy-b")
	require.NoError(t, err)
}
