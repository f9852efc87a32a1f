package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

func TestDB_OpenModes(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		db, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		require.NotNil(t, db)
		assert.Equal(t, "sqlite", db.Dialect())

		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("file-based DB", func(t *testing.T) {
		dir := t.TempDir()
		dbName := "ledger.db"

		db, err := OpenFileDB(dir, dbName, true)
		require.NoError(t, err)
		require.NotNil(t, db)

		assert.FileExists(t, filepath.Join(dir, dbName))

		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "databases")

		db, err := OpenFileDB(dir, "ledger.db", true)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "ledger.db"))
		assert.NoError(t, db.Close())
	})
}

func TestDB_TxHashIsUnique(t *testing.T) {
	db, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer db.Close()

	row := store.Otx{Sender: "0xabc", Nonce: 1, TxHash: "0x01", SignedTx: "0xf8"}
	require.NoError(t, db.Client().Create(&row).Error)

	dup := store.Otx{Sender: "0xabc", Nonce: 2, TxHash: "0x01", SignedTx: "0xf9"}
	require.Error(t, db.Client().Create(&dup).Error)
}

func TestDB_ForeignKeysEnforced(t *testing.T) {
	db, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer db.Close()

	orphan := store.OtxStateLog{OtxID: 999, Status: status.Sent}
	require.Error(t, db.Client().Create(&orphan).Error)
}

func runSampleInsertSelectTest(t *testing.T, db *DB) {
	entry := store.Otx{
		Sender:   "0x00000000000000000000000000000000000000aa",
		Nonce:    42,
		TxHash:   "0xdeadbeef",
		SignedTx: "0xf86b",
		Status:   status.Sent,
	}
	require.NoError(t, db.Client().Create(&entry).Error)

	var result store.Otx
	require.NoError(t, db.Client().First(&result, "tx_hash = ?", "0xdeadbeef").Error)
	assert.Equal(t, uint64(42), result.Nonce)
	assert.Equal(t, status.Sent, result.Status)
	assert.Nil(t, result.Block)
}
