package badger_storage

import (
	"bytes"
	"context"

	"github.com/Connor1996/badger"
	"github.com/haeinsa-go/haeinsa/kv/config"
	"github.com/haeinsa-go/haeinsa/kv/storage"
	"github.com/haeinsa-go/haeinsa/kv/transaction/latches"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// maxConflictRetries bounds how often CheckAndWrite re-runs after badger reports a conflicting concurrent update.
// Same-process writers are serialised by latches, so conflicts come from other handles on the same directory.
const maxConflictRetries = 8

// BadgerStorage is a Storage for a single node, storing all column families in one badger DB with the CF name as key
// prefix.
type BadgerStorage struct {
	conf    config.Config
	db      *badger.DB
	latches *latches.Latches
}

func NewBadgerStorage(conf *config.Config) *BadgerStorage {
	return &BadgerStorage{
		conf:    *conf,
		latches: latches.NewLatches(),
	}
}

func (s *BadgerStorage) Start() error {
	db, err := engine_util.CreateDB(s.conf.DBPath)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *BadgerStorage) Stop() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.WithStack(err)
}

func (s *BadgerStorage) Reader(ctx context.Context) (storage.StorageReader, error) {
	return &badgerReader{txn: s.db.NewTransaction(false)}, nil
}

func (s *BadgerStorage) Write(ctx context.Context, batch []storage.Modify) error {
	return toWriteBatch(batch).WriteToDB(s.db)
}

func (s *BadgerStorage) CheckAndWrite(ctx context.Context, guard storage.Guard, batch []storage.Modify) (bool, error) {
	latchKeys := [][]byte{engine_util.KeyWithCF(guard.Cf, guard.Key)}
	s.latches.WaitForLatches(latchKeys)
	defer s.latches.ReleaseLatches(latchKeys)

	wb := toWriteBatch(batch)
	for i := 0; i < maxConflictRetries; i++ {
		applied := false
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := engine_util.GetCFFromTxn(txn, guard.Cf, guard.Key)
			if err != nil {
				return err
			}
			if !bytes.Equal(current, guard.Expected) || (current == nil) != (guard.Expected == nil) {
				return nil
			}
			applied = true
			return wb.WriteToTxn(txn)
		})
		if err == badger.ErrConflict {
			log.Debugf("check-and-write of %q conflicted, retry %d", guard.Key, i)
			continue
		}
		if err != nil {
			return false, errors.WithStack(err)
		}
		return applied, nil
	}
	return false, errors.Errorf("check-and-write of %q kept conflicting after %d attempts", guard.Key, maxConflictRetries)
}

func toWriteBatch(batch []storage.Modify) *engine_util.WriteBatch {
	wb := new(engine_util.WriteBatch)
	for _, m := range batch {
		switch data := m.Data.(type) {
		case storage.Put:
			wb.SetCF(data.Cf, data.Key, data.Value)
		case storage.Delete:
			wb.DeleteCF(data.Cf, data.Key)
		}
	}
	return wb
}

// badgerReader reads from a consistent badger snapshot taken when the reader was created.
type badgerReader struct {
	txn *badger.Txn
}

func (r *badgerReader) GetCF(cf string, key []byte) ([]byte, error) {
	val, err := engine_util.GetCFFromTxn(r.txn, cf, key)
	return val, errors.WithStack(err)
}

func (r *badgerReader) IterCF(cf string) engine_util.DBIterator {
	return engine_util.NewCFIterator(cf, r.txn)
}

func (r *badgerReader) Close() {
	r.txn.Discard()
}
