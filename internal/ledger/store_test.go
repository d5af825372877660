package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestFreshStoreIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	st, height, err := store.LoadState()
	require.NoError(t, err)
	require.Nil(t, st)
	require.Zero(t, height)

	last, err := store.LastBlock()
	require.NoError(t, err)
	require.Zero(t, last.Height)

	_, err = store.TxResult("ABCDEF")
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestSaveBlockRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	st := seeded(t, "Alice", "Bob")
	require.NoError(t, st.RegisterVoter(owner, voterA))
	require.NoError(t, st.VoteFor(owner, voterA, 1))
	st.IncrementNonce(owner)
	hash, err := st.Hash()
	require.NoError(t, err)

	block := Block{
		Height:  4,
		AppHash: hash,
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Txs: []TxRecord{
			{Hash: "AA01", Index: 0, Code: 0, GasUsed: 48300, Raw: []byte("tx0")},
			{Hash: "AA02", Index: 1, Code: 6, Log: ErrAlreadyVoted.Error(), GasUsed: BaseGas},
		},
	}
	require.NoError(t, store.SaveBlock(block, st))

	loaded, height, err := store.LoadState()
	require.NoError(t, err)
	require.Equal(t, int64(4), height)
	loadedHash, err := loaded.Hash()
	require.NoError(t, err)
	require.Equal(t, hash, loadedHash)
	require.True(t, loaded.HasVoted(voterA))
	require.Equal(t, uint64(1), loaded.Nonce(owner))

	last, err := store.LastBlock()
	require.NoError(t, err)
	require.Equal(t, int64(4), last.Height)
	require.Equal(t, hash, last.AppHash)
	require.True(t, block.Time.Equal(last.Time))

	rec, err := store.TxResult("aa02")
	require.NoError(t, err)
	require.Equal(t, int64(4), rec.Height)
	require.Equal(t, uint32(1), rec.Index)
	require.Equal(t, uint32(6), rec.Code)
	require.Equal(t, ErrAlreadyVoted.Error(), rec.Log)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	st := seeded(t, "Alice")
	hash, _ := st.Hash()
	require.NoError(t, store.SaveBlock(Block{Height: 1, AppHash: hash}, st))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, height, err := reopened.LoadState()
	require.NoError(t, err)
	require.Equal(t, int64(1), height)
	require.Len(t, loaded.AllCandidates(), 1)
}

func TestBackupCurrentCreatesAndPrunesBackups(t *testing.T) {
	store, dir := newTestStore(t)
	st := seeded(t)

	backupPath, err := store.BackupCurrent(10)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	require.Equal(t, ".db", filepath.Ext(backupPath))
	require.Equal(t, filepath.Join(dir, "backups"), filepath.Dir(backupPath))

	for i := 0; i < 12; i++ {
		_, err := st.AddCandidate(owner, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		require.NoError(t, store.SaveBlock(Block{Height: int64(i + 1), AppHash: []byte{byte(i)}}, st))
		_, err = store.BackupCurrent(10)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ledger-") && strings.HasSuffix(e.Name(), ".db") {
			count++
		}
	}
	require.Equal(t, 10, count)
}

func TestRecoverFromCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	st := seeded(t, "Alice", "Bob")
	require.NoError(t, store.SaveBlock(Block{Height: 2, AppHash: []byte{1}}, st))
	_, err = store.BackupCurrent(5)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	for _, p := range []string{path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o600))

	recovered, err := NewStore(path)
	require.NoError(t, err)
	defer recovered.Close()

	loaded, height, err := recovered.LoadState()
	require.NoError(t, err)
	require.Equal(t, int64(2), height)
	require.Len(t, loaded.AllCandidates(), 2)
}
