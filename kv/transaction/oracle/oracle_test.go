package oracle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOracleFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(100, 0))
	o := NewLocalOracle(clock)
	ts, err := o.GetTimestamp(context.Background())
	require.Nil(t, err)
	assert.Equal(t, uint64(100000), ts)

	clock.Advance(5 * time.Second)
	ts, err = o.GetTimestamp(context.Background())
	require.Nil(t, err)
	assert.Equal(t, uint64(105000), ts)
}

func TestLocalOracleStrictlyIncreasing(t *testing.T) {
	// A frozen clock still yields distinct, increasing timestamps.
	o := NewLocalOracle(clockwork.NewFakeClockAt(time.Unix(100, 0)))
	var mu sync.Mutex
	seen := make(map[uint64]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for j := 0; j < 100; j++ {
				ts, err := o.GetTimestamp(context.Background())
				assert.Nil(t, err)
				assert.True(t, ts > last)
				last = ts
				mu.Lock()
				seen[ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestLocalOracleClockStepsBack(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(100, 0))
	o := NewLocalOracle(clock)
	first, err := o.GetTimestamp(context.Background())
	require.Nil(t, err)
	o.clock = clockwork.NewFakeClockAt(time.Unix(50, 0))
	second, err := o.GetTimestamp(context.Background())
	require.Nil(t, err)
	assert.Equal(t, first+1, second)
}

func TestLocalOracleCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalOracle(clockwork.NewRealClock()).GetTimestamp(ctx)
	assert.NotNil(t, err)
}

func TestFixedOracle(t *testing.T) {
	o := NewFixedOracle(1000, 5000)
	ts, err := o.GetTimestamp(context.Background())
	require.Nil(t, err)
	assert.Equal(t, uint64(1000), ts)
	ts, err = o.GetTimestamp(context.Background())
	require.Nil(t, err)
	assert.Equal(t, uint64(5000), ts)
	_, err = o.GetTimestamp(context.Background())
	assert.NotNil(t, err)
}
