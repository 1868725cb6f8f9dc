package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/haeinsa-go/haeinsa/kv/transaction/oracle"
	"github.com/haeinsa-go/haeinsa/kv/util/lockwaiter"
	"github.com/jonboulle/clockwork"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// Recovery resolves the locks of transactions whose client stopped making progress. Any client may run it against
// any lock: every step is a guarded single-row write, so concurrent recoveries of the same transaction agree and
// repeating a recovery is harmless.
type Recovery struct {
	store   storage.Storage
	clock   clockwork.Clock
	conf    *config.Config
	waiters *lockwaiter.Manager
	commits *commitCache
	stats   *stats
}

// Resolve gets lock, observed on row by transaction requesterTS, out of the way. It returns nil once the lock has
// been resolved or has changed; callers re-read the row either way.
//
// A live lock is waited on until it expires, for at most the configured number of backoffs. An expired primary is
// rolled back. An expired secondary follows its primary: it is stabilized with the primary's exact commit timestamp
// if the primary committed, and rolled back otherwise.
func (r *Recovery) Resolve(ctx context.Context, requesterTS uint64, row mvcc.RowKey, lock *mvcc.RowLock) error {
	if lock == nil || lock.State != mvcc.LockStatePrewritten || lock.TxTS == requesterTS {
		return nil
	}
	changed, err := r.waitExpired(ctx, requesterTS, row, lock)
	if err != nil || changed {
		return err
	}
	if lock.IsPrimary() {
		return r.rollback(ctx, row, lock)
	}
	return r.resolveSecondary(ctx, requesterTS, row, lock)
}

func (r *Recovery) resolveSecondary(ctx context.Context, requesterTS uint64, row mvcc.RowKey, lock *mvcc.RowLock) error {
	primary := *lock.Primary
	if primary.Equal(row) {
		return r.inconsistent(row, "secondary lock names its own row as primary")
	}
	for {
		primaryLock, err := r.readLock(ctx, primary)
		if err != nil {
			return errors.Annotatef(err, "read primary %s of %s", primary, row)
		}
		if primaryLock == nil || primaryLock.TxTS != lock.TxTS {
			break
		}
		if primaryLock.Version != lock.Version {
			return r.inconsistent(row, fmt.Sprintf("primary lock version %d, secondary version %d", primaryLock.Version, lock.Version))
		}
		if primaryLock.State == mvcc.LockStateStable {
			r.commits.add(lock.TxTS, primaryLock.CommitTS)
			return r.stabilize(ctx, row, lock, primaryLock.CommitTS)
		}
		if !primaryLock.IsPrimary() {
			return r.inconsistent(row, fmt.Sprintf("primary row %s holds a secondary lock", primary))
		}
		if !primaryLock.HasSecondary(row) {
			return r.inconsistent(row, fmt.Sprintf("primary lock on %s does not list the row", primary))
		}
		changed, err := r.waitExpired(ctx, requesterTS, primary, primaryLock)
		if err != nil {
			return err
		}
		if !changed {
			// The primary decides: rolling it back aborts the whole transaction.
			if err := r.rollback(ctx, primary, primaryLock); err != nil {
				return err
			}
		}
	}

	// The primary lock is gone or belongs to a later transaction. The transaction committed iff the primary row has
	// a version written by it.
	if commitTS, ok := r.commits.get(lock.TxTS); ok {
		return r.stabilize(ctx, row, lock, commitTS)
	}
	reader, err := r.store.Reader(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	write, commitTS, err := (&mvcc.RoTxn{Reader: reader, StartTS: lock.TxTS}).CurrentWrite(primary)
	reader.Close()
	if err != nil {
		return errors.Annotatef(err, "find commit of txn %d on %s", lock.TxTS, primary)
	}
	if write != nil {
		r.commits.add(lock.TxTS, commitTS)
		return r.stabilize(ctx, row, lock, commitTS)
	}
	return r.rollback(ctx, row, lock)
}

// waitExpired waits for lock on row to expire. It reports whether the lock changed meanwhile.
func (r *Recovery) waitExpired(ctx context.Context, requesterTS uint64, row mvcc.RowKey, lock *mvcc.RowLock) (bool, error) {
	backoff := r.conf.LockWaitBackoff.Duration
	for attempt := 0; !lock.IsExpired(r.now()); attempt++ {
		if attempt >= r.conf.LockWaitRetries {
			recoveryCounterWaitTimeout.Inc()
			r.stats.lockWaitTimeouts.Inc()
			return false, &ErrLockWaitTimeout{Row: row, LockTS: lock.TxTS}
		}
		if err := r.wait(ctx, requesterTS, row, lock.TxTS, backoff); err != nil {
			return false, err
		}
		if backoff *= 2; backoff > r.conf.LockWaitMaxBackoff.Duration {
			backoff = r.conf.LockWaitMaxBackoff.Duration
		}
		current, err := r.readLock(ctx, row)
		if err != nil {
			return false, err
		}
		if current == nil || string(current.Raw()) != string(lock.Raw()) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Recovery) wait(ctx context.Context, requesterTS uint64, row mvcc.RowKey, lockTS uint64, backoff time.Duration) error {
	start := time.Now()
	w := r.waiters.NewWaiter(requesterTS, lockTS, lockwaiter.KeyHash(row.Encode()), backoff)
	result := w.Wait(ctx)
	lockWaitDuration.Observe(time.Since(start).Seconds())
	if result.Position < 0 {
		r.waiters.CleanUp(w)
	}
	if result.Position == lockwaiter.WaitCanceled {
		return errors.Trace(ctx.Err())
	}
	return nil
}

func (r *Recovery) stabilize(ctx context.Context, row mvcc.RowKey, lock *mvcc.RowLock, commitTS uint64) error {
	reader, err := r.store.Reader(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	delta, err := (&mvcc.RoTxn{Reader: reader, StartTS: lock.TxTS}).GetDelta(row)
	reader.Close()
	if err != nil {
		return errors.Annotatef(err, "read delta of txn %d on %s", lock.TxTS, row)
	}
	if delta == nil {
		return r.inconsistent(row, fmt.Sprintf("prewritten by txn %d without data", lock.TxTS))
	}
	ok, err := stabilizeRow(ctx, r.store, row, lock, commitTS, delta.Kind())
	if err != nil {
		return err
	}
	if ok {
		log.Infof("recovery: stabilized %s of txn %d at commitTS %d", row, lock.TxTS, commitTS)
		recoveryCounterStabilize.Inc()
		r.stats.recoveredStable.Inc()
		r.waiters.WakeUp(lock.TxTS, commitTS, keyHashes([]mvcc.RowKey{row}))
	}
	return nil
}

func (r *Recovery) rollback(ctx context.Context, row mvcc.RowKey, lock *mvcc.RowLock) error {
	ok, err := rollbackRow(ctx, r.store, row, lock)
	if err != nil {
		return err
	}
	if ok {
		log.Infof("recovery: rolled back %s of txn %d", row, lock.TxTS)
		recoveryCounterRollback.Inc()
		r.stats.recoveredRollback.Inc()
		r.waiters.WakeUp(lock.TxTS, 0, keyHashes([]mvcc.RowKey{row}))
	}
	return nil
}

func (r *Recovery) inconsistent(row mvcc.RowKey, reason string) error {
	log.Warnf("recovery: %s: %s", row, reason)
	recoveryCounterInconsistent.Inc()
	r.stats.inconsistencies.Inc()
	return &ErrRecoveryInconsistency{Row: row, Reason: reason}
}

func (r *Recovery) readLock(ctx context.Context, row mvcc.RowKey) (*mvcc.RowLock, error) {
	reader, err := r.store.Reader(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer reader.Close()
	return (&mvcc.RoTxn{Reader: reader}).GetLock(row)
}

func (r *Recovery) now() uint64 {
	return oracle.ToTimestamp(r.clock.Now())
}
