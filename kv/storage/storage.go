package storage

import (
	"context"

	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
)

// Storage is the sorted, multi-versioned key/value store the transaction layer runs on. Versions are explicit: the
// transaction layer encodes timestamps into keys. The only atomic multi-key primitive is CheckAndWrite, which must
// only be used with batches touching a single row.
type Storage interface {
	Start() error
	Stop() error
	// Write applies batch unconditionally.
	Write(ctx context.Context, batch []Modify) error
	// CheckAndWrite atomically applies batch iff the current value of guard's cell equals guard.Expected (nil
	// meaning the cell must be absent). It returns false, without error, when the guard does not hold.
	CheckAndWrite(ctx context.Context, guard Guard, batch []Modify) (bool, error)
	Reader(ctx context.Context) (StorageReader, error)
}

// Guard is the precondition of a CheckAndWrite.
type Guard struct {
	Cf       string
	Key      []byte
	Expected []byte
}

type StorageReader interface {
	// When the key doesn't exist, return nil for the value
	GetCF(cf string, key []byte) ([]byte, error)
	// IterCF returns an iterator over cf in ascending key order. It must be closed.
	IterCF(cf string) engine_util.DBIterator
	Close()
}
