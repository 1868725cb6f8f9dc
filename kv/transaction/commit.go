package transaction

import (
	"context"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/haeinsa-go/haeinsa/kv/util/lockwaiter"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// Commit makes the buffered writes of txn visible atomically.
//
// Every row is prewritten first, the primary before the secondaries. Once all rows are locked a commit timestamp is
// drawn and the primary lock is made stable, which is the commit point. Secondaries are then stabilized on a best
// effort basis; any left behind are finished by whoever runs into them.
//
// On a conflict the rows prewritten so far are rolled back and an *ErrConflict is returned. Commit never retries.
func (txn *Txn) Commit(ctx context.Context) error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	m := txn.mgr
	if len(txn.order) == 0 {
		txn.state = TxnCommitted
		txnCounterEmpty.Inc()
		return nil
	}

	start := time.Now()
	rows, locks, err := txn.prewrite(ctx)
	if err != nil {
		return err
	}
	primary, secondaries := rows[0], rows[1:]

	commitTS, err := m.oracle.GetTimestamp(ctx)
	if err == nil && commitTS <= txn.startTS {
		err = errors.Errorf("commit ts %d is not after start ts %d", commitTS, txn.startTS)
	}
	if err != nil {
		txn.abort(ctx, rows, locks)
		return errors.Annotate(ErrTimestampUnavailable, err.Error())
	}

	ok, err := stabilizeRow(ctx, m.store, primary, locks[0], commitTS, txn.buffered(primary).Kind())
	if err != nil {
		// The outcome is unknown; recovery decides it from the primary lock.
		log.Warnf("txn %d: stabilize primary %s: %v", txn.startTS, primary, err)
		return errors.Trace(err)
	}
	if !ok {
		// Our primary expired and was rolled back by another client before we reached the commit point.
		log.Infof("txn %d: primary %s was recovered before commit", txn.startTS, primary)
		txn.abort(ctx, rows[1:], locks[1:])
		txnCounterConflict.Inc()
		m.stats.conflicts.Inc()
		return &ErrConflict{Row: primary, StartTS: txn.startTS}
	}
	txn.state = TxnCommitted
	txn.commitTS = commitTS
	m.commits.add(txn.startTS, commitTS)

	for i, row := range secondaries {
		ok, err := stabilizeRow(ctx, m.store, row, locks[i+1], commitTS, txn.buffered(row).Kind())
		if err != nil {
			log.Warnf("txn %d: stabilize secondary %s, left to recovery: %v", txn.startTS, row, err)
		} else if !ok {
			log.Debugf("txn %d: secondary %s already stabilized by recovery", txn.startTS, row)
		}
	}
	m.waiters.WakeUp(txn.startTS, commitTS, keyHashes(rows))

	txnCounterCommit.Inc()
	m.stats.commits.Inc()
	commitDuration.Observe(time.Since(start).Seconds())
	return nil
}

// prewrite locks every row of txn, primary first. On failure the rows locked so far are rolled back.
func (txn *Txn) prewrite(ctx context.Context) ([]mvcc.RowKey, []*mvcc.RowLock, error) {
	m := txn.mgr
	primary, secondaries := txn.commitOrder()
	expiry := expiryAfter(m.now(), txn.lockTTL)
	locks := make([]*mvcc.RowLock, 0, len(secondaries)+1)
	locks = append(locks, mvcc.NewPrimaryLock(txn.startTS, expiry, secondaries))
	for range secondaries {
		locks = append(locks, mvcc.NewSecondaryLock(txn.startTS, expiry, primary))
	}
	rows := append([]mvcc.RowKey{primary}, secondaries...)

	for i, row := range rows {
		if err := txn.prewriteRow(ctx, row, locks[i]); err != nil {
			txn.abort(ctx, rows[:i], locks[:i])
			if IsConflict(err) {
				txnCounterConflict.Inc()
				m.stats.conflicts.Inc()
			}
			return nil, nil, err
		}
	}
	txn.state = TxnPrewritten
	return rows, locks, nil
}

// prewriteRow moves row from ABSENT or STABLE to the PREWRITTEN lock, storing the row's delta in the same guarded
// write. An expired lock of another transaction is recovered once before giving up.
func (txn *Txn) prewriteRow(ctx context.Context, row mvcc.RowKey, lock *mvcc.RowLock) error {
	m := txn.mgr
	recovered := false
	for {
		current, write, commitTS, err := txn.readForPrewrite(ctx, row)
		if err != nil {
			return err
		}
		if current != nil {
			switch current.State {
			case mvcc.LockStatePrewritten:
				if !current.IsExpired(m.now()) || recovered {
					return &ErrConflict{Row: row, StartTS: txn.startTS, ConflictTS: current.TxTS}
				}
				if err := m.recovery.Resolve(ctx, txn.startTS, row, current); err != nil {
					return errors.Trace(err)
				}
				recovered = true
				continue
			case mvcc.LockStateStable:
				if current.CommitTS >= txn.startTS {
					return &ErrConflict{Row: row, StartTS: txn.startTS, ConflictTS: current.CommitTS}
				}
			}
		}
		if write != nil && commitTS >= txn.startTS {
			return &ErrConflict{Row: row, StartTS: txn.startTS, ConflictTS: commitTS}
		}

		mt := mvcc.NewTxn(nil, txn.startTS)
		mt.PutLock(row, lock)
		mt.PutDelta(row, txn.buffered(row))
		ok, err := m.store.CheckAndWrite(ctx, mvcc.LockGuard(row, current), mt.Writes())
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			return &ErrConflict{Row: row, StartTS: txn.startTS}
		}
		return nil
	}
}

func (txn *Txn) readForPrewrite(ctx context.Context, row mvcc.RowKey) (*mvcc.RowLock, *mvcc.Write, uint64, error) {
	reader, err := txn.mgr.store.Reader(ctx)
	if err != nil {
		return nil, nil, 0, errors.Trace(err)
	}
	defer reader.Close()
	rt := &mvcc.RoTxn{Reader: reader, StartTS: txn.startTS}
	lock, err := rt.GetLock(row)
	if err != nil {
		return nil, nil, 0, errors.Annotatef(err, "row %s", row)
	}
	write, commitTS, err := rt.MostRecentWrite(row)
	if err != nil {
		return nil, nil, 0, errors.Annotatef(err, "row %s", row)
	}
	return lock, write, commitTS, nil
}

// abort rolls back the rows txn prewrote, primary first, and marks txn aborted. Failures are left to recovery.
func (txn *Txn) abort(ctx context.Context, rows []mvcc.RowKey, locks []*mvcc.RowLock) {
	for i, row := range rows {
		if _, err := rollbackRow(ctx, txn.mgr.store, row, locks[i]); err != nil {
			log.Warnf("txn %d: roll back %s, left to recovery: %v", txn.startTS, row, err)
		}
	}
	txn.state = TxnAborted
	txnCounterAbort.Inc()
	txn.mgr.stats.aborts.Inc()
	if len(rows) > 0 {
		txn.mgr.waiters.WakeUp(txn.startTS, 0, keyHashes(rows))
	}
}

// stabilizeRow moves row from the observed PREWRITTEN lock to STABLE at commitTS, adding the committed version in
// the same guarded write. It reports false if the lock changed since it was observed.
func stabilizeRow(ctx context.Context, store storage.Storage, row mvcc.RowKey, observed *mvcc.RowLock, commitTS uint64, kind mvcc.WriteKind) (bool, error) {
	stable, err := observed.Stabilize(commitTS)
	if err != nil {
		return false, errors.Trace(err)
	}
	mt := mvcc.NewTxn(nil, observed.TxTS)
	mt.PutLock(row, stable)
	mt.PutWrite(row, commitTS, &mvcc.Write{StartTS: observed.TxTS, Kind: kind})
	ok, err := store.CheckAndWrite(ctx, mvcc.LockGuard(row, observed), mt.Writes())
	return ok, errors.Trace(err)
}

// rollbackRow moves row from the observed PREWRITTEN lock back to ABSENT, dropping the delta of its transaction. It
// reports false if the lock changed since it was observed.
func rollbackRow(ctx context.Context, store storage.Storage, row mvcc.RowKey, observed *mvcc.RowLock) (bool, error) {
	if !mvcc.CanTransition(observed.State, mvcc.LockStateAbsent) {
		return false, errors.Errorf("cannot roll back a %s lock", observed.State)
	}
	mt := mvcc.NewTxn(nil, observed.TxTS)
	mt.DeleteLock(row)
	mt.DeleteDelta(row)
	ok, err := store.CheckAndWrite(ctx, mvcc.LockGuard(row, observed), mt.Writes())
	return ok, errors.Trace(err)
}

func keyHashes(rows []mvcc.RowKey) []uint64 {
	hashes := make([]uint64, 0, len(rows))
	for _, row := range rows {
		hashes = append(hashes, lockwaiter.KeyHash(row.Encode()))
	}
	return hashes
}
