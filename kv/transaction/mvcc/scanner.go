package mvcc

import (
	"bytes"

	"github.com/haeinsa-go/haeinsa/kv/util/codec"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// Scanner yields, in key order, every row in a key range that has a committed version or a lock. It does not decide
// visibility: callers check each row's lock and read it at their snapshot.
// Invariant: either the scanner is finished and cannot be used, or both iterators sit on the next candidate rows.
type Scanner struct {
	writeIter engine_util.DBIterator
	lockIter  engine_util.DBIterator
	end       []byte
}

// NewScanner creates a scanner over the encoded rows in [start, end) of txn's snapshot. A nil end scans to the end
// of start's table.
func NewScanner(start RowKey, end []byte, txn *RoTxn) *Scanner {
	startKey := start.Encode()
	if end == nil {
		end = codec.PrefixNext(EncodeTablePrefix(start.Table))
	} else {
		end = RowKey{Table: start.Table, Row: end}.Encode()
	}
	writeIter := txn.Reader.IterCF(engine_util.CfWrite)
	writeIter.Seek(codec.EncodeKey(startKey, TsMax))
	lockIter := txn.Reader.IterCF(engine_util.CfLock)
	lockIter.Seek(startKey)
	return &Scanner{
		writeIter: writeIter,
		lockIter:  lockIter,
		end:       end,
	}
}

func (scan *Scanner) Close() {
	scan.writeIter.Close()
	scan.lockIter.Close()
}

// Next returns the next candidate row. If the scanner is exhausted, then it will return `false`.
func (scan *Scanner) Next() (RowKey, bool, error) {
	var writeKey, lockKey []byte
	if scan.writeIter.Valid() {
		userKey, _, err := codec.DecodeKey(scan.writeIter.Item().Key())
		if err != nil {
			return RowKey{}, false, errors.Trace(err)
		}
		writeKey = userKey
	}
	if scan.lockIter.Valid() {
		lockKey = scan.lockIter.Item().KeyCopy(nil)
	}

	var key []byte
	switch {
	case writeKey == nil && lockKey == nil:
		return RowKey{}, false, nil
	case writeKey == nil:
		key = lockKey
	case lockKey == nil:
		key = writeKey
	case bytes.Compare(writeKey, lockKey) <= 0:
		key = writeKey
	default:
		key = lockKey
	}
	if engine_util.ExceedEndKey(key, scan.end) {
		return RowKey{}, false, nil
	}

	if writeKey != nil && bytes.Equal(writeKey, key) {
		// Skip the remaining versions of this row.
		scan.writeIter.Seek(codec.EncodeKey(key, 0))
		if scan.writeIter.Valid() && bytes.Equal(codec.DecodeUserKey(scan.writeIter.Item().Key()), key) {
			scan.writeIter.Next()
		}
	}
	if lockKey != nil && bytes.Equal(lockKey, key) {
		scan.lockIter.Next()
	}

	rk, err := DecodeRowKey(key)
	if err != nil {
		return RowKey{}, false, errors.Trace(err)
	}
	return rk, true, nil
}

// KlPair is a row and its lock. Err is set, and Lock nil, when the stored record could not be decoded.
type KlPair struct {
	Key  RowKey
	Lock *RowLock
	Err  error
}

// ScanLocks returns at most limit locks whose encoded row key is at or after start, in key order, and the encoded
// key to resume from. A nil resume key means the lock CF was exhausted.
func ScanLocks(txn *RoTxn, start []byte, limit int) ([]KlPair, []byte, error) {
	iter := txn.Reader.IterCF(engine_util.CfLock)
	defer iter.Close()

	var result []KlPair
	for iter.Seek(start); iter.Valid(); iter.Next() {
		item := iter.Item()
		key := item.KeyCopy(nil)
		if len(result) >= limit {
			return result, key, nil
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		rk, err := DecodeRowKey(key)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		lock, err := ParseLock(value)
		result = append(result, KlPair{Key: rk, Lock: lock, Err: err})
	}
	return result, nil, nil
}
