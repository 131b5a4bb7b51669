package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openWALEngine(t *testing.T, dir, snapshot string) *WALEngine {
	t.Helper()
	engine, err := RecoverFromWAL(dir, snapshot)
	require.NoError(t, err)
	wal, err := NewWAL(dir, &WALConfig{SyncMode: SyncImmediate})
	require.NoError(t, err)
	return NewWALEngine(engine, wal)
}

func TestWAL_RecoversBatches(t *testing.T) {
	dir := t.TempDir()
	engine := openWALEngine(t, dir, "")
	seed(t, engine)

	move := NewBatch()
	move.Touch(order("o1"), 1)
	move.SetLink(item("i1"), itemOrder, order("o2"))
	require.NoError(t, engine.Apply(move))

	stale := NewBatch()
	stale.Touch(order("o1"), 1)
	stale.Delete(item("i2"), 1)
	assert.ErrorIs(t, engine.Apply(stale), ErrVersionConflict)
	require.NoError(t, engine.Close())

	engine = openWALEngine(t, dir, "")
	defer engine.Close()
	assert.Equal(t, uint64(3), engine.WAL().Sequence())

	r, err := engine.GetRecord(order("o1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Version)
	_, err = engine.GetRecord(item("i2"))
	require.NoError(t, err, "the refused batch is not replayed")

	incoming, err := engine.GetIncomingLinks(order("o2"), itemOrder)
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i3"}, froms(incoming))
}

func TestWAL_SnapshotAndReplay(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "snapshot", "state.json")
	engine := openWALEngine(t, dir, snapshotPath)
	seed(t, engine)

	snapshot, err := engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Sequence)
	assert.Len(t, snapshot.Records, 5)
	assert.Len(t, snapshot.Links, 3)
	require.NoError(t, SaveSnapshot(snapshot, snapshotPath))

	b := NewBatch()
	b.Delete(item("i3"), 1)
	require.NoError(t, engine.Apply(b))
	require.NoError(t, engine.Close())

	engine = openWALEngine(t, dir, snapshotPath)
	defer engine.Close()
	n, err := engine.RecordCount()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	n, err = engine.LinkCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	r, err := engine.GetRecord(order("o1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Version)
	assert.Equal(t, "A-1", r.Fields["Number"])
}

func TestWAL_SkipsCorruptedEntries(t *testing.T) {
	dir := t.TempDir()
	engine := openWALEngine(t, dir, "")
	seed(t, engine)
	require.NoError(t, engine.Close())

	f, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"kind":"batch","data":"e30=","checksum":1}` + "\n{truncated")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadWALEntries(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	engine = openWALEngine(t, dir, "")
	defer engine.Close()
	n, err := engine.RecordCount()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestWAL_Closed(t *testing.T) {
	wal, err := NewWAL(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, wal.Append(walCheckpoint, nil))
	require.NoError(t, wal.Close())
	require.NoError(t, wal.Close())

	assert.ErrorIs(t, wal.Append(walCheckpoint, nil), ErrWALClosed)
	assert.ErrorIs(t, wal.Sync(), ErrWALClosed)
	stats := wal.Stats()
	assert.True(t, stats.Closed)
	assert.Equal(t, int64(1), stats.TotalWrites)

	_, err = NewWALEngine(NewMemoryEngine(), wal).Snapshot()
	assert.ErrorIs(t, err, ErrWALClosed)
}
