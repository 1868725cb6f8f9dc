package engine_util

import (
	"os"

	"github.com/Connor1996/badger"
	"github.com/haeinsa-go/haeinsa/kv/util"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// CreateDB opens (creating if needed) a badger DB rooted at path. Writes are synced so a conditional write that
// reported success survives a crash of the process.
func CreateDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.SyncWrites = true
	fresh, err := util.IsEmptyDir(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", path)
	}
	if fresh {
		log.Infof("created badger db at %s", path)
	} else {
		log.Infof("reopened badger db at %s", path)
	}
	return db, nil
}

// DestroyDB closes db and removes everything under path.
func DestroyDB(db *badger.DB, path string) error {
	if err := db.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.RemoveAll(path))
}
