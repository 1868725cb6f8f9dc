package transaction

import (
	"testing"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnce(t *testing.T) {
	builder := newBuilder(t, nil)
	aborted := builder.begin()
	builder.put(aborted, "a", "c", "1")
	builder.put(aborted, "b", "c", "1")
	builder.crashAfterPrewrite(aborted)
	committed := builder.begin()
	builder.put(committed, "c", "c", "2")
	builder.put(committed, "d", "c", "2")
	commitTS := committed.StartTS() + 1
	builder.crashAfterCommitPoint(committed, commitTS)

	builder.clock.Advance(3 * time.Second)
	live := builder.begin()
	builder.put(live, "e", "c", "3")
	builder.crashAfterPrewrite(live)
	builder.mem.Set(engine_util.CfLock, rowKey("z").Encode(), []byte{0x08, 0x02})

	resolved, err := builder.mgr.NewSweeper().SweepOnce(builder.ctx)
	require.Nil(t, err)
	assert.Equal(t, 3, resolved)
	builder.assertAbsent("a")
	builder.assertAbsent("b")
	builder.assertStable("c", committed.StartTS(), commitTS)
	builder.assertStable("d", committed.StartTS(), commitTS)
	assert.Equal(t, mvcc.LockStatePrewritten, builder.lock("e").State)
	assert.NotNil(t, builder.mem.Get(engine_util.CfLock, rowKey("z").Encode()))
}

func TestSweepResumes(t *testing.T) {
	conf := config.NewTestConfig()
	conf.SweepBatch = 1
	builder := newBuilderWithConfig(t, nil, conf)
	for _, row := range []string{"a", "b"} {
		txn := builder.begin()
		builder.put(txn, row, "c", "1")
		builder.crashAfterPrewrite(txn)
	}
	builder.clock.Advance(3 * time.Second)

	sweeper := builder.mgr.NewSweeper()
	resolved, err := sweeper.SweepOnce(builder.ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, resolved)
	builder.assertAbsent("a")
	assert.NotNil(t, builder.lock("b"))

	resolved, err = sweeper.SweepOnce(builder.ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, resolved)
	builder.assertAbsent("b")
}

func TestSweeperStartStop(t *testing.T) {
	conf := config.NewTestConfig()
	conf.SweepInterval = config.NewDuration(time.Millisecond)
	builder := newBuilderWithConfig(t, nil, conf)
	txn := builder.begin()
	builder.put(txn, "a", "c", "1")
	builder.crashAfterPrewrite(txn)
	builder.clock.Advance(3 * time.Second)

	sweeper := builder.mgr.NewSweeper()
	sweeper.Start()
	defer sweeper.Stop()
	for i := 0; builder.mem.Get(engine_util.CfLock, rowKey("a").Encode()) != nil; i++ {
		require.True(t, i < 5000, "sweeper did not resolve the lock")
		time.Sleep(time.Millisecond)
	}
}
