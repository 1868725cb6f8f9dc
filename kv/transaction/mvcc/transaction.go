package mvcc

import (
	"bytes"

	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/util/codec"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// MvccTxn buffers the changes of one guarded row transition and provides an abstraction over low-level storage,
// lowering the concepts of timestamps, writes, deltas and locks into plain keys and values.
type MvccTxn struct {
	RoTxn
	writes []storage.Modify
}

// RoTxn is a 'transaction' which will only read from the DB, as of StartTS.
type RoTxn struct {
	Reader  storage.StorageReader
	StartTS uint64
}

func NewTxn(reader storage.StorageReader, startTs uint64) MvccTxn {
	return MvccTxn{
		RoTxn: RoTxn{Reader: reader, StartTS: startTs},
	}
}

func (txn *MvccTxn) Writes() []storage.Modify {
	return txn.writes
}

// GetLock returns the lock of rk. It will return (nil, nil) if the row is not locked, and (nil, err) if an error
// occurs during lookup or the stored record is malformed.
func (txn *RoTxn) GetLock(rk RowKey) (*RowLock, error) {
	value, err := txn.Reader.GetCF(engine_util.CfLock, rk.Encode())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseLock(value)
}

// MostRecentWrite finds the most recent write of rk. It returns a Write from the DB and that write's commit
// timestamp, or an error.
func (txn *RoTxn) MostRecentWrite(rk RowKey) (*Write, uint64, error) {
	return txn.mostRecentWriteBefore(rk.Encode(), TsMax)
}

// mostRecentWriteBefore finds the write with the given key and the most recent commit timestamp before or equal to ts.
// Postcondition: the returned ts is <= the ts arg.
func (txn *RoTxn) mostRecentWriteBefore(key []byte, ts uint64) (*Write, uint64, error) {
	iter := txn.Reader.IterCF(engine_util.CfWrite)
	defer iter.Close()
	iter.Seek(codec.EncodeKey(key, ts))
	if !iter.Valid() {
		return nil, 0, nil
	}
	item := iter.Item()
	userKey, commitTs, err := codec.DecodeKey(item.Key())
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	if !bytes.Equal(userKey, key) {
		return nil, 0, nil
	}
	value, err := item.Value()
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	write, err := ParseWrite(value)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return write, commitTs, nil
}

// CurrentWrite searches rk for a write with this transaction's start timestamp. It returns a Write from the DB and
// that write's commit timestamp, or an error. Recovery uses it to learn whether a transaction whose primary lock is
// gone committed.
func (txn *RoTxn) CurrentWrite(rk RowKey) (*Write, uint64, error) {
	key := rk.Encode()
	seekTs := TsMax
	for {
		write, commitTs, err := txn.mostRecentWriteBefore(key, seekTs)
		if err != nil {
			return nil, 0, err
		}
		if write == nil {
			return nil, 0, nil
		}
		if write.StartTS == txn.StartTS {
			return write, commitTs, nil
		}
		if commitTs <= txn.StartTS {
			return nil, 0, nil
		}
		seekTs = commitTs - 1
	}
}

// GetRow reads the columns of rk visible at the start timestamp of this transaction, merging the deltas of
// committed versions newest first. An empty columns list reads every column. Absent columns are not in the result.
func (txn *RoTxn) GetRow(rk RowKey, columns []string) (map[string][]byte, error) {
	key := rk.Encode()
	wanted := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		wanted[col] = struct{}{}
	}
	want := func(col string) bool {
		if len(wanted) == 0 {
			return true
		}
		_, ok := wanted[col]
		return ok
	}

	result := make(map[string][]byte)
	resolved := make(map[string]struct{})
	iter := txn.Reader.IterCF(engine_util.CfWrite)
	defer iter.Close()
	for iter.Seek(codec.EncodeKey(key, txn.StartTS)); iter.Valid(); iter.Next() {
		item := iter.Item()
		userKey, _, err := codec.DecodeKey(item.Key())
		if err != nil {
			return nil, errors.Trace(err)
		}
		// If the user key part of the combined key has changed, then we've seen every version of the row.
		if !bytes.Equal(userKey, key) {
			break
		}
		value, err := item.Value()
		if err != nil {
			return nil, errors.Trace(err)
		}
		write, err := ParseWrite(value)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if write.Kind == WriteKindDelete {
			break
		}
		delta, err := txn.getDelta(key, write.StartTS)
		if err != nil {
			return nil, err
		}
		if delta == nil {
			return nil, errors.Errorf("row %s: version %d has no data", rk, write.StartTS)
		}
		for col, val := range delta.Puts {
			if _, ok := resolved[col]; !ok && want(col) {
				result[col] = val
				resolved[col] = struct{}{}
			}
		}
		for col := range delta.Deletes {
			if want(col) {
				resolved[col] = struct{}{}
			}
		}
		if delta.DeleteRow || (len(wanted) > 0 && len(resolved) == len(wanted)) {
			break
		}
	}
	return result, nil
}

// GetDelta returns the mutation this transaction stored for rk, or nil if there is none.
func (txn *RoTxn) GetDelta(rk RowKey) (*RowMutation, error) {
	return txn.getDelta(rk.Encode(), txn.StartTS)
}

// getDelta gets the row mutation at precisely the given row key and ts, without searching.
func (txn *RoTxn) getDelta(key []byte, ts uint64) (*RowMutation, error) {
	value, err := txn.Reader.GetCF(engine_util.CfDefault, codec.EncodeKey(key, ts))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if value == nil {
		return nil, nil
	}
	return ParseRowMutation(value)
}

// PutWrite records write for rk at commit timestamp ts.
func (txn *MvccTxn) PutWrite(rk RowKey, ts uint64, write *Write) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   codec.EncodeKey(rk.Encode(), ts),
			Value: write.ToBytes(),
			Cf:    engine_util.CfWrite,
		},
	})
}

// PutLock adds a row/lock to this transaction.
func (txn *MvccTxn) PutLock(rk RowKey, lock *RowLock) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   rk.Encode(),
			Value: lock.ToBytes(),
			Cf:    engine_util.CfLock,
		},
	})
}

// DeleteLock adds a delete lock to this transaction.
func (txn *MvccTxn) DeleteLock(rk RowKey) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Delete{
			Key: rk.Encode(),
			Cf:  engine_util.CfLock,
		},
	})
}

// PutDelta stores the mutation of rk under this transaction's start timestamp.
func (txn *MvccTxn) PutDelta(rk RowKey, m *RowMutation) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   codec.EncodeKey(rk.Encode(), txn.StartTS),
			Value: m.ToBytes(),
			Cf:    engine_util.CfDefault,
		},
	})
}

// DeleteDelta removes the mutation of rk stored under this transaction's start timestamp.
func (txn *MvccTxn) DeleteDelta(rk RowKey) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Delete{
			Key: codec.EncodeKey(rk.Encode(), txn.StartTS),
			Cf:  engine_util.CfDefault,
		},
	})
}

// LockGuard is the precondition of a transition out of observed: the lock cell of rk must still hold exactly the
// bytes observed, or be absent if observed is nil.
func LockGuard(rk RowKey, observed *RowLock) storage.Guard {
	guard := storage.Guard{Cf: engine_util.CfLock, Key: rk.Encode()}
	if observed != nil {
		guard.Expected = observed.Raw()
	}
	return guard
}
