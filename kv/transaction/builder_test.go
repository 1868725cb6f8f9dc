package transaction

// This file contains utility code for testing transactions.

import (
	"context"
	"testing"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/haeinsa-go/haeinsa/kv/transaction/oracle"
	"github.com/haeinsa-go/haeinsa/kv/util/codec"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBuilder is a helper type for running transaction tests against a MemStorage.
type testBuilder struct {
	t     *testing.T
	ctx   context.Context
	mem   *storage.MemStorage
	clock clockwork.FakeClock
	conf  *config.Config
	mgr   *Manager
	table *Table
}

// newBuilder creates a manager whose clock starts at 1000ms. With a nil oracle timestamps come from the clock, so
// the first transaction starts at 1000 and its locks expire at 4000.
func newBuilder(t *testing.T, o oracle.Oracle) *testBuilder {
	return newBuilderWithConfig(t, o, config.NewTestConfig())
}

func newBuilderWithConfig(t *testing.T, o oracle.Oracle, conf *config.Config) *testBuilder {
	require.Nil(t, conf.Validate())
	mem := storage.NewMemStorage()
	clock := clockwork.NewFakeClockAt(time.Unix(1, 0))
	if o == nil {
		o = oracle.NewLocalOracle(clock)
	}
	mgr := NewManager(mem, o, clock, conf)
	return &testBuilder{
		t:     t,
		ctx:   context.Background(),
		mem:   mem,
		clock: clock,
		conf:  conf,
		mgr:   mgr,
		table: mgr.Table("t"),
	}
}

func rowKey(row string) mvcc.RowKey {
	return mvcc.NewRowKey([]byte("t"), []byte(row))
}

func (builder *testBuilder) begin() *Txn {
	txn, err := builder.mgr.Begin(builder.ctx)
	require.Nil(builder.t, err)
	return txn
}

func (builder *testBuilder) put(txn *Txn, row, column, value string) {
	require.Nil(builder.t, builder.table.Put(txn, []byte(row), column, []byte(value)))
}

// write commits a transaction setting column of each row to value.
func (builder *testBuilder) write(column, value string, rows ...string) *Txn {
	txn := builder.begin()
	for _, row := range rows {
		builder.put(txn, row, column, value)
	}
	require.Nil(builder.t, txn.Commit(builder.ctx))
	return txn
}

func (builder *testBuilder) get(txn *Txn, row, column string) []byte {
	result, err := builder.table.Get(builder.ctx, txn, []byte(row), column)
	require.Nil(builder.t, err)
	return result.Value(column)
}

// read reads column of row in a fresh transaction.
func (builder *testBuilder) read(row, column string) []byte {
	return builder.get(builder.begin(), row, column)
}

// crashAfterPrewrite prewrites txn and stops, as a client dying before the commit point would.
func (builder *testBuilder) crashAfterPrewrite(txn *Txn) []*mvcc.RowLock {
	_, locks, err := txn.prewrite(builder.ctx)
	require.Nil(builder.t, err)
	return locks
}

// crashAfterCommitPoint prewrites txn and stabilizes its primary only.
func (builder *testBuilder) crashAfterCommitPoint(txn *Txn, commitTS uint64) []*mvcc.RowLock {
	rows, locks, err := txn.prewrite(builder.ctx)
	require.Nil(builder.t, err)
	ok, err := stabilizeRow(builder.ctx, builder.mem, rows[0], locks[0], commitTS, txn.buffered(rows[0]).Kind())
	require.Nil(builder.t, err)
	require.True(builder.t, ok)
	return locks
}

// lock returns the lock stored for row, or nil.
func (builder *testBuilder) lock(row string) *mvcc.RowLock {
	lock, err := mvcc.ParseLock(builder.mem.Get(engine_util.CfLock, rowKey(row).Encode()))
	require.Nil(builder.t, err)
	return lock
}

func (builder *testBuilder) plantLock(row string, lock *mvcc.RowLock) {
	builder.mem.Set(engine_util.CfLock, rowKey(row).Encode(), lock.ToBytes())
}

func (builder *testBuilder) plantDelta(row string, startTS uint64, m *mvcc.RowMutation) {
	builder.mem.Set(engine_util.CfDefault, codec.EncodeKey(rowKey(row).Encode(), startTS), m.ToBytes())
}

func (builder *testBuilder) plantWrite(row string, startTS, commitTS uint64) {
	write := &mvcc.Write{StartTS: startTS, Kind: mvcc.WriteKindPut}
	builder.mem.Set(engine_util.CfWrite, codec.EncodeKey(rowKey(row).Encode(), commitTS), write.ToBytes())
}

// commitTSOf returns the commit timestamp of the version of row written by startTS, or zero.
func (builder *testBuilder) commitTSOf(row string, startTS uint64) uint64 {
	reader, err := builder.mem.Reader(builder.ctx)
	require.Nil(builder.t, err)
	defer reader.Close()
	write, commitTS, err := (&mvcc.RoTxn{Reader: reader, StartTS: startTS}).CurrentWrite(rowKey(row))
	require.Nil(builder.t, err)
	if write == nil {
		return 0
	}
	return commitTS
}

func (builder *testBuilder) assertStable(row string, txTS, commitTS uint64) {
	lock := builder.lock(row)
	if assert.NotNil(builder.t, lock, row) {
		assert.Equal(builder.t, mvcc.LockStateStable, lock.State, row)
		assert.Equal(builder.t, txTS, lock.TxTS, row)
		assert.Equal(builder.t, commitTS, lock.CommitTS, row)
	}
	assert.Equal(builder.t, commitTS, builder.commitTSOf(row, txTS), row)
}

func (builder *testBuilder) assertAbsent(row string) {
	assert.Nil(builder.t, builder.lock(row), row)
}

func putMutation(column, value string) *mvcc.RowMutation {
	m := mvcc.NewRowMutation()
	m.Put(column, []byte(value))
	return m
}
