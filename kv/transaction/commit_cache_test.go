package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitCacheDisabled(t *testing.T) {
	c, err := newCommitCache(0)
	require.Nil(t, err)
	c.add(10, 20)
	_, ok := c.get(10)
	assert.False(t, ok)
	c.close()
}

func TestCommitCache(t *testing.T) {
	c, err := newCommitCache(128)
	require.Nil(t, err)
	defer c.close()

	_, ok := c.get(10)
	assert.False(t, ok)

	// Sets are applied asynchronously.
	c.add(10, 20)
	var commitTS uint64
	for i := 0; i < 100 && !ok; i++ {
		time.Sleep(10 * time.Millisecond)
		commitTS, ok = c.get(10)
	}
	require.True(t, ok)
	assert.Equal(t, uint64(20), commitTS)
}
