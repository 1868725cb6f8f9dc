package transaction

import (
	"github.com/dgraph-io/ristretto"
	"github.com/pingcap/errors"
)

// commitCache remembers the commit timestamps of transactions known to have committed, keyed by start timestamp. A
// commit is final so an entry never goes stale; a miss costs a read of the primary row's versions.
type commitCache struct {
	cache *ristretto.Cache
}

func newCommitCache(size int64) (*commitCache, error) {
	if size <= 0 {
		return &commitCache{}, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &commitCache{cache: cache}, nil
}

func (c *commitCache) add(txTS, commitTS uint64) {
	if c.cache == nil {
		return
	}
	c.cache.Set(txTS, commitTS, 1)
}

func (c *commitCache) get(txTS uint64) (uint64, bool) {
	if c.cache == nil {
		return 0, false
	}
	v, ok := c.cache.Get(txTS)
	if !ok {
		return 0, false
	}
	commitTS, ok := v.(uint64)
	return commitTS, ok
}

func (c *commitCache) close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
