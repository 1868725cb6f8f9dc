package transaction

import (
	"fmt"

	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/pingcap/errors"
)

var (
	// ErrTimestampUnavailable is returned when the oracle cannot hand out a usable timestamp.
	ErrTimestampUnavailable = errors.New("timestamp unavailable")
	// ErrTxnNotActive is returned when a transaction is used after it committed, aborted or failed to commit.
	ErrTxnNotActive = errors.New("transaction is not active")
)

// ErrConflict is returned when a transaction cannot prewrite a row because another transaction holds or committed
// it concurrently. The transaction has been rolled back and may be retried from the start. ConflictTS is the
// timestamp of the conflicting transaction, zero when unknown.
type ErrConflict struct {
	Row        mvcc.RowKey
	StartTS    uint64
	ConflictTS uint64
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("write conflict on row %s, startTS %d, conflictTS %d", e.Row, e.StartTS, e.ConflictTS)
}

// ErrLockWaitTimeout is returned when a row stayed locked by a live transaction for the whole wait budget. The
// operation may be retried later.
type ErrLockWaitTimeout struct {
	Row    mvcc.RowKey
	LockTS uint64
}

func (e *ErrLockWaitTimeout) Error() string {
	return fmt.Sprintf("row %s is locked by txn %d", e.Row, e.LockTS)
}

// ErrRecoveryInconsistency is returned when the locks of a transaction contradict each other. Recovery leaves such
// rows alone.
type ErrRecoveryInconsistency struct {
	Row    mvcc.RowKey
	Reason string
}

func (e *ErrRecoveryInconsistency) Error() string {
	return fmt.Sprintf("cannot recover row %s: %s", e.Row, e.Reason)
}

// IsConflict reports whether err is caused by a write conflict.
func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ErrConflict)
	return ok
}

// IsRetryable reports whether the failed operation may succeed if the caller retries it.
func IsRetryable(err error) bool {
	switch errors.Cause(err).(type) {
	case *ErrConflict, *ErrLockWaitTimeout:
		return true
	}
	return false
}
