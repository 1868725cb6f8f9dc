package transaction

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/storage/badger_storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/oracle"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionsOnBadger(t *testing.T) {
	dir, err := ioutil.TempDir("", "haeinsa_txn")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	conf := config.NewTestConfig()
	conf.DBPath = dir
	store := badger_storage.NewBadgerStorage(conf)
	require.Nil(t, store.Start())
	defer store.Stop()

	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Unix(1, 0))
	mgr := NewManager(store, oracle.NewLocalOracle(clock), clock, conf)
	table := mgr.Table("t")

	early, err := mgr.Begin(ctx)
	require.Nil(t, err)

	txn, err := mgr.Begin(ctx)
	require.Nil(t, err)
	require.Nil(t, table.Put(txn, []byte("a"), "c", []byte("1")))
	require.Nil(t, table.Put(txn, []byte("b"), "c", []byte("2")))
	require.Nil(t, txn.Commit(ctx))

	// A write-write conflict with the committed transaction.
	require.Nil(t, table.Put(early, []byte("b"), "c", []byte("early")))
	assert.True(t, IsConflict(early.Commit(ctx)))

	// A client dies after its commit point; a later reader finishes its secondary.
	crashed, err := mgr.Begin(ctx)
	require.Nil(t, err)
	require.Nil(t, table.Put(crashed, []byte("a"), "c", []byte("3")))
	require.Nil(t, table.Put(crashed, []byte("b"), "c", []byte("4")))
	rows, locks, err := crashed.prewrite(ctx)
	require.Nil(t, err)
	commitTS, err := mgr.oracle.GetTimestamp(ctx)
	require.Nil(t, err)
	ok, err := stabilizeRow(ctx, store, rows[0], locks[0], commitTS, crashed.buffered(rows[0]).Kind())
	require.Nil(t, err)
	require.True(t, ok)
	clock.Advance(3 * time.Second)

	reader, err := mgr.Begin(ctx)
	require.Nil(t, err)
	results, err := table.Scan(ctx, reader, nil, nil, 0, "c")
	require.Nil(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []byte("3"), results[0].Value("c"))
	assert.Equal(t, []byte("4"), results[1].Value("c"))
	assert.Equal(t, uint64(1), mgr.Stats().RecoveredStable)
}
