package transaction

import (
	"sort"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/pingcap/errors"
)

type TxnState int

const (
	TxnActive TxnState = iota
	// TxnPrewritten transactions failed after prewriting; their fate is left to recovery.
	TxnPrewritten
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnPrewritten:
		return "prewritten"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return "unknown"
}

// Txn is a multi-row transaction. Reads see the snapshot at its start timestamp plus its own writes, writes are
// buffered until Commit. A Txn must not be used from several goroutines at once.
type Txn struct {
	mgr      *Manager
	startTS  uint64
	commitTS uint64
	state    TxnState
	lockTTL  time.Duration

	primary *mvcc.RowKey
	// Rows in the order they were first written.
	order     []mvcc.RowKey
	mutations map[string]*rowMutation
}

type rowMutation struct {
	row      mvcc.RowKey
	mutation *mvcc.RowMutation
}

func (txn *Txn) StartTS() uint64 {
	return txn.startTS
}

// CommitTS is zero until the transaction committed.
func (txn *Txn) CommitTS() uint64 {
	return txn.commitTS
}

func (txn *Txn) State() TxnState {
	return txn.state
}

// SetPrimary picks the row whose lock decides the fate of the transaction. By default it is the first row written.
func (txn *Txn) SetPrimary(row mvcc.RowKey) error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	if _, ok := txn.mutations[string(row.Encode())]; !ok {
		return errors.Errorf("primary %s is not written by the transaction", row)
	}
	txn.primary = &row
	return nil
}

// SetLockTTL sets how long the locks of this transaction stay live once prewritten.
func (txn *Txn) SetLockTTL(ttl time.Duration) {
	txn.lockTTL = ttl
}

// Rollback abandons an active transaction. Nothing has reached the store yet, so this only drops the buffer.
func (txn *Txn) Rollback() error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	txn.state = TxnAborted
	txn.mutations = nil
	txn.order = nil
	txnCounterAbort.Inc()
	txn.mgr.stats.aborts.Inc()
	return nil
}

func (txn *Txn) checkActive() error {
	if txn.state != TxnActive {
		return errors.Trace(ErrTxnNotActive)
	}
	return nil
}

// mutation returns the buffered mutation of row, creating it on first use.
func (txn *Txn) mutation(row mvcc.RowKey) *mvcc.RowMutation {
	key := string(row.Encode())
	if rm, ok := txn.mutations[key]; ok {
		return rm.mutation
	}
	rm := &rowMutation{row: row, mutation: mvcc.NewRowMutation()}
	txn.mutations[key] = rm
	txn.order = append(txn.order, row)
	return rm.mutation
}

// buffered returns the buffered mutation of row, or nil.
func (txn *Txn) buffered(row mvcc.RowKey) *mvcc.RowMutation {
	if rm, ok := txn.mutations[string(row.Encode())]; ok {
		return rm.mutation
	}
	return nil
}

// commitOrder returns the primary followed by the secondaries ordered by encoded key.
func (txn *Txn) commitOrder() (mvcc.RowKey, []mvcc.RowKey) {
	primary := txn.order[0]
	if txn.primary != nil {
		primary = *txn.primary
	}
	secondaries := make([]mvcc.RowKey, 0, len(txn.order)-1)
	for _, row := range txn.order {
		if !row.Equal(primary) {
			secondaries = append(secondaries, row)
		}
	}
	sort.Slice(secondaries, func(i, j int) bool {
		return secondaries[i].Compare(secondaries[j]) < 0
	})
	return primary, secondaries
}
