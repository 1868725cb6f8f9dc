package mvcc

import (
	"fmt"

	"github.com/pingcap/errors"
)

// LockVersion is the lock record layout this client writes. Records carrying any other version are rejected rather
// than reinterpreted.
const LockVersion uint64 = 1

// LockState is the state of a row lock. LockStateAbsent is never stored: it stands for a row without a lock cell.
type LockState uint8

const (
	LockStateAbsent LockState = iota
	LockStatePrewritten
	LockStateStable
)

func (s LockState) String() string {
	switch s {
	case LockStateAbsent:
		return "ABSENT"
	case LockStatePrewritten:
		return "PREWRITTEN"
	case LockStateStable:
		return "STABLE"
	}
	return fmt.Sprintf("LockState(%d)", uint8(s))
}

// CanTransition reports whether a row lock may move from one state to another in a single guarded write.
func CanTransition(from, to LockState) bool {
	switch from {
	case LockStateAbsent, LockStateStable:
		return to == LockStatePrewritten
	case LockStatePrewritten:
		return to == LockStateStable || to == LockStateAbsent
	}
	return false
}

// RowLock is the per-row lock record. A prewritten lock is either a primary (Primary == nil, listing the other rows
// of its transaction in Secondaries) or a secondary (pointing at its primary). A stable lock only records which
// transaction last committed the row, and when.
type RowLock struct {
	Version     uint64
	State       LockState
	TxTS        uint64
	CommitTS    uint64
	Expiry      uint64
	Primary     *RowKey
	Secondaries []RowKey

	// raw holds the exact bytes the lock was parsed from; guarded writes compare against it.
	raw []byte
}

// NewPrimaryLock returns a prewritten primary lock.
func NewPrimaryLock(txTS, expiry uint64, secondaries []RowKey) *RowLock {
	return &RowLock{
		Version:     LockVersion,
		State:       LockStatePrewritten,
		TxTS:        txTS,
		Expiry:      expiry,
		Secondaries: secondaries,
	}
}

// NewSecondaryLock returns a prewritten secondary lock.
func NewSecondaryLock(txTS, expiry uint64, primary RowKey) *RowLock {
	return &RowLock{
		Version: LockVersion,
		State:   LockStatePrewritten,
		TxTS:    txTS,
		Expiry:  expiry,
		Primary: &primary,
	}
}

func (lock *RowLock) IsPrimary() bool {
	return lock.State == LockStatePrewritten && lock.Primary == nil
}

// IsExpired reports whether a prewritten lock's owner is presumed dead at time now. Stable locks never expire since
// they never block anyone.
func (lock *RowLock) IsExpired(now uint64) bool {
	return lock.State == LockStatePrewritten && now >= lock.Expiry
}

// PrimaryOf returns the primary row of lock's transaction, rk being the row lock was read from.
func (lock *RowLock) PrimaryOf(rk RowKey) RowKey {
	if lock.Primary != nil {
		return *lock.Primary
	}
	return rk
}

// HasSecondary reports whether a primary lock lists rk.
func (lock *RowLock) HasSecondary(rk RowKey) bool {
	for _, s := range lock.Secondaries {
		if s.Equal(rk) {
			return true
		}
	}
	return false
}

// Stabilize returns the stable lock a prewritten lock becomes once its transaction committed at commitTS.
func (lock *RowLock) Stabilize(commitTS uint64) (*RowLock, error) {
	if !CanTransition(lock.State, LockStateStable) {
		return nil, errors.Errorf("cannot stabilize a %s lock", lock.State)
	}
	if commitTS <= lock.TxTS {
		return nil, errors.Errorf("commit ts %d is not after start ts %d", commitTS, lock.TxTS)
	}
	return &RowLock{
		Version:  lock.Version,
		State:    LockStateStable,
		TxTS:     lock.TxTS,
		CommitTS: commitTS,
	}, nil
}

// ToBytes serializes the lock in the layout of its version.
func (lock *RowLock) ToBytes() []byte {
	b := appendVarintField(nil, 1, lock.Version)
	b = appendVarintField(b, 2, uint64(lock.State))
	b = appendVarintField(b, 3, lock.TxTS)
	switch lock.State {
	case LockStateStable:
		b = appendVarintField(b, 4, lock.CommitTS)
	case LockStatePrewritten:
		b = appendVarintField(b, 5, lock.Expiry)
		if lock.Primary != nil {
			b = appendBytesField(b, 6, encodeRowKeyMessage(*lock.Primary))
		}
		for _, s := range lock.Secondaries {
			b = appendBytesField(b, 7, encodeRowKeyMessage(s))
		}
	}
	return b
}

// Raw returns the stored bytes of a parsed lock, or its serialization if it was built in memory.
func (lock *RowLock) Raw() []byte {
	if lock.raw != nil {
		return lock.raw
	}
	return lock.ToBytes()
}

func (lock *RowLock) String() string {
	switch lock.State {
	case LockStateStable:
		return fmt.Sprintf("lock{v%d %s tx:%d commit:%d}", lock.Version, lock.State, lock.TxTS, lock.CommitTS)
	default:
		if lock.Primary != nil {
			return fmt.Sprintf("lock{v%d %s tx:%d expiry:%d primary:%s}", lock.Version, lock.State, lock.TxTS, lock.Expiry, lock.Primary)
		}
		return fmt.Sprintf("lock{v%d %s tx:%d expiry:%d secondaries:%d}", lock.Version, lock.State, lock.TxTS, lock.Expiry, len(lock.Secondaries))
	}
}

// ErrMalformedLock is returned when a lock record cannot be decoded. It is never healed automatically.
type ErrMalformedLock struct {
	Version uint64
	Reason  string
}

func (e *ErrMalformedLock) Error() string {
	return fmt.Sprintf("malformed lock record (version %d): %s", e.Version, e.Reason)
}

// ParseLock decodes a lock record. A nil value means the row has no lock and yields a nil lock.
func ParseLock(value []byte) (*RowLock, error) {
	if value == nil {
		return nil, nil
	}
	r := wireReader{buf: value}
	field, wireType, err := r.next()
	if err != nil {
		return nil, &ErrMalformedLock{Reason: err.Error()}
	}
	if field != 1 || wireType != wireVarint {
		return nil, &ErrMalformedLock{Reason: fmt.Sprintf("record starts with field %d, not the version", field)}
	}
	version, err := r.varint()
	if err != nil {
		return nil, &ErrMalformedLock{Reason: err.Error()}
	}

	var lock *RowLock
	switch version {
	case LockVersion:
		lock, err = parseLockV1(&r)
	default:
		return nil, &ErrMalformedLock{Version: version, Reason: "unsupported version"}
	}
	if err != nil {
		return nil, &ErrMalformedLock{Version: version, Reason: err.Error()}
	}
	lock.Version = version
	lock.raw = append([]byte(nil), value...)
	return lock, nil
}

func parseLockV1(r *wireReader) (*RowLock, error) {
	lock := new(RowLock)
	var hasState, hasTxTS, hasCommit, hasExpiry bool
	for !r.done() {
		field, wireType, err := r.next()
		if err != nil {
			return nil, err
		}
		switch field {
		case 2, 3, 4, 5:
			if err = expect(field, wireType, wireVarint); err != nil {
				return nil, err
			}
			v, err := r.varint()
			if err != nil {
				return nil, err
			}
			switch field {
			case 2:
				lock.State, hasState = LockState(v), true
			case 3:
				lock.TxTS, hasTxTS = v, true
			case 4:
				lock.CommitTS, hasCommit = v, true
			case 5:
				lock.Expiry, hasExpiry = v, true
			}
		case 6, 7:
			if err = expect(field, wireType, wireBytes); err != nil {
				return nil, err
			}
			data, err := r.bytes()
			if err != nil {
				return nil, err
			}
			rk, err := decodeRowKeyMessage(data)
			if err != nil {
				return nil, err
			}
			if field == 6 {
				if lock.Primary != nil {
					return nil, errors.New("primary given twice")
				}
				lock.Primary = &rk
			} else {
				lock.Secondaries = append(lock.Secondaries, rk)
			}
		default:
			return nil, errors.Errorf("unknown field %d", field)
		}
	}

	if !hasState || !hasTxTS {
		return nil, errors.New("missing state or tx timestamp")
	}
	switch lock.State {
	case LockStateStable:
		if !hasCommit || hasExpiry || lock.Primary != nil || len(lock.Secondaries) != 0 {
			return nil, errors.New("stable lock must carry exactly a commit timestamp")
		}
		if lock.CommitTS <= lock.TxTS {
			return nil, errors.Errorf("commit ts %d is not after tx ts %d", lock.CommitTS, lock.TxTS)
		}
	case LockStatePrewritten:
		if hasCommit || !hasExpiry {
			return nil, errors.New("prewritten lock must carry exactly an expiry")
		}
		if lock.Primary != nil && len(lock.Secondaries) != 0 {
			return nil, errors.New("lock is both primary and secondary")
		}
	default:
		return nil, errors.Errorf("invalid state %d", lock.State)
	}
	return lock, nil
}
