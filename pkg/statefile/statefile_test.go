package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRFox_Statefile_ReadAbsent(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), 7)
	require.NoError(t, err)

	_, err = store.Read("distribution")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRFox_Statefile_WriteThenRead(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), 7)
	require.NoError(t, err)

	require.NoError(t, store.Write("distribution", []byte(`{"phase":"signing"}`)))

	data, err := store.Read("distribution")
	require.NoError(t, err)
	require.JSONEq(t, `{"phase":"signing"}`, string(data))
}

func TestRFox_Statefile_WriteReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir, 3)
	require.NoError(t, err)

	require.NoError(t, store.Write("txs", []byte(`{"v":1}`)))
	require.NoError(t, store.Write("txs", []byte(`{"v":2}`)))

	data, err := store.Read("txs")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(data))

	// No temp files may survive a completed write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "txs_epoch-3.json", entries[0].Name())
}

func TestRFox_Statefile_EpochScoping(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	a, err := New(dir, 1)
	require.NoError(t, err)
	b, err := New(dir, 2)
	require.NoError(t, err)

	require.NoError(t, a.Write("txs", []byte(`{"epoch":1}`)))

	_, err = b.Read("txs")
	require.ErrorIs(t, err, ErrNotFound)

	started, err := a.DistributionStarted()
	require.NoError(t, err)
	require.True(t, started)

	started, err = b.DistributionStarted()
	require.NoError(t, err)
	require.False(t, started)
}

func TestRFox_Statefile_PathNaming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir, 42)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "unsignedTx_epoch-42.json"), store.Path("unsignedTx"))
}
