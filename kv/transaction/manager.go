package transaction

import (
	"context"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/oracle"
	"github.com/haeinsa-go/haeinsa/kv/util/lockwaiter"
	"github.com/jonboulle/clockwork"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Manager begins and commits transactions against one store. It is safe for concurrent use; the transactions it
// hands out are not.
type Manager struct {
	store    storage.Storage
	oracle   oracle.Oracle
	clock    clockwork.Clock
	conf     *config.Config
	waiters  *lockwaiter.Manager
	recovery *Recovery
	commits  *commitCache
	stats    stats
}

// Stats counts what the transactions of a manager did since it was created.
type Stats struct {
	Commits           uint64
	Conflicts         uint64
	Aborts            uint64
	RecoveredStable   uint64
	RecoveredRollback uint64
	LockWaitTimeouts  uint64
	Inconsistencies   uint64
}

type stats struct {
	commits           atomic.Uint64
	conflicts         atomic.Uint64
	aborts            atomic.Uint64
	recoveredStable   atomic.Uint64
	recoveredRollback atomic.Uint64
	lockWaitTimeouts  atomic.Uint64
	inconsistencies   atomic.Uint64
}

func NewManager(store storage.Storage, o oracle.Oracle, clock clockwork.Clock, conf *config.Config) *Manager {
	commits, err := newCommitCache(conf.CommitCacheSize)
	if err != nil {
		log.Warnf("commit cache disabled: %v", err)
		commits = &commitCache{}
	}
	m := &Manager{
		store:   store,
		oracle:  o,
		clock:   clock,
		conf:    conf,
		waiters: lockwaiter.NewManager(),
		commits: commits,
	}
	m.recovery = &Recovery{
		store:   store,
		clock:   clock,
		conf:    conf,
		waiters: m.waiters,
		commits: commits,
		stats:   &m.stats,
	}
	return m
}

// Close releases the manager's caches. The store is owned by the caller and stays open.
func (m *Manager) Close() {
	m.commits.close()
}

// Begin starts a transaction reading the snapshot at a fresh timestamp.
func (m *Manager) Begin(ctx context.Context) (*Txn, error) {
	startTS, err := m.oracle.GetTimestamp(ctx)
	if err != nil {
		return nil, errors.Annotate(ErrTimestampUnavailable, err.Error())
	}
	return &Txn{
		mgr:       m,
		startTS:   startTS,
		lockTTL:   m.conf.LockTTL.Duration,
		mutations: make(map[string]*rowMutation),
	}, nil
}

// Commit commits txn. See Txn.Commit.
func (m *Manager) Commit(ctx context.Context, txn *Txn) error {
	return txn.Commit(ctx)
}

// Table returns a client for the named table.
func (m *Manager) Table(name string) *Table {
	return &Table{mgr: m, name: []byte(name)}
}

// Recovery returns the coordinator that resolves the locks this manager's transactions run into.
func (m *Manager) Recovery() *Recovery {
	return m.recovery
}

func (m *Manager) Stats() Stats {
	return Stats{
		Commits:           m.stats.commits.Load(),
		Conflicts:         m.stats.conflicts.Load(),
		Aborts:            m.stats.aborts.Load(),
		RecoveredStable:   m.stats.recoveredStable.Load(),
		RecoveredRollback: m.stats.recoveredRollback.Load(),
		LockWaitTimeouts:  m.stats.lockWaitTimeouts.Load(),
		Inconsistencies:   m.stats.inconsistencies.Load(),
	}
}

// now is the current time on the lock expiry scale.
func (m *Manager) now() uint64 {
	return oracle.ToTimestamp(m.clock.Now())
}

func expiryAfter(now uint64, ttl time.Duration) uint64 {
	return now + uint64(ttl/time.Millisecond)
}
