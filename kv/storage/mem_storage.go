package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/Connor1996/badger/y"
	"github.com/google/btree"
	"github.com/haeinsa-go/haeinsa/kv/util/engine_util"
)

const memBtreeDegree = 32

// MemStorage is a Storage backed by memory. Data is not written to disk, nor sent to other nodes. It is intended for
// testing and for single-process use; CheckAndWrite is atomic with respect to every other operation on the store.
type MemStorage struct {
	mu        sync.RWMutex
	CfDefault *btree.BTree
	CfLock    *btree.BTree
	CfWrite   *btree.BTree
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		CfDefault: btree.New(memBtreeDegree),
		CfLock:    btree.New(memBtreeDegree),
		CfWrite:   btree.New(memBtreeDegree),
	}
}

func (s *MemStorage) Start() error {
	return nil
}

func (s *MemStorage) Stop() error {
	return nil
}

func (s *MemStorage) Reader(ctx context.Context) (StorageReader, error) {
	return &memReader{s}, nil
}

func (s *MemStorage) Write(ctx context.Context, batch []Modify) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(batch)
}

func (s *MemStorage) CheckAndWrite(ctx context.Context, guard Guard, batch []Modify) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.tree(guard.Cf)
	if tree == nil {
		return false, fmt.Errorf("mem-storage: bad CF %s", guard.Cf)
	}
	var current []byte
	if result := tree.Get(memItem{key: guard.Key}); result != nil {
		current = result.(memItem).value
	}
	if !bytes.Equal(current, guard.Expected) || (current == nil) != (guard.Expected == nil) {
		return false, nil
	}
	return true, s.applyLocked(batch)
}

func (s *MemStorage) applyLocked(batch []Modify) error {
	for _, m := range batch {
		tree := s.tree(m.Cf())
		if tree == nil {
			return fmt.Errorf("mem-storage: bad CF %s", m.Cf())
		}
		switch data := m.Data.(type) {
		case Put:
			tree.ReplaceOrInsert(memItem{data.Key, data.Value, false})
		case Delete:
			tree.Delete(memItem{key: data.Key})
		}
	}
	return nil
}

func (s *MemStorage) tree(cf string) *btree.BTree {
	switch cf {
	case engine_util.CfDefault:
		return s.CfDefault
	case engine_util.CfLock:
		return s.CfLock
	case engine_util.CfWrite:
		return s.CfWrite
	}
	return nil
}

// Get returns the raw value stored at key in cf. It is meant for tests.
func (s *MemStorage) Get(cf string, key []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := s.tree(cf).Get(memItem{key: key})
	if result == nil {
		return nil
	}
	return result.(memItem).value
}

// Set stores a value bypassing the transaction layer, marking it fresh so HasChanged can detect later overwrites.
// It is meant for tests that need to plant arbitrary store state.
func (s *MemStorage) Set(cf string, key []byte, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree(cf).ReplaceOrInsert(memItem{key, value, true})
}

// HasChanged reports whether the value at key was overwritten or deleted since it was Set.
func (s *MemStorage) HasChanged(cf string, key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := s.tree(cf).Get(memItem{key: key})
	if result == nil {
		return true
	}
	return !result.(memItem).fresh
}

func (s *MemStorage) Len(cf string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tree := s.tree(cf); tree != nil {
		return tree.Len()
	}
	return -1
}

// memReader is a StorageReader which reads from a MemStorage. It observes the live store rather than a snapshot.
type memReader struct {
	inner *MemStorage
}

func (mr *memReader) GetCF(cf string, key []byte) ([]byte, error) {
	mr.inner.mu.RLock()
	defer mr.inner.mu.RUnlock()
	tree := mr.inner.tree(cf)
	if tree == nil {
		return nil, fmt.Errorf("mem-storage: bad CF %s", cf)
	}
	result := tree.Get(memItem{key: key})
	if result == nil {
		return nil, nil
	}
	return result.(memItem).value, nil
}

func (mr *memReader) IterCF(cf string) engine_util.DBIterator {
	tree := mr.inner.tree(cf)
	if tree == nil {
		return nil
	}
	it := &memIter{mu: &mr.inner.mu, data: tree}
	it.Seek(nil)
	return it
}

func (mr *memReader) Close() {}

type memIter struct {
	mu   *sync.RWMutex
	data *btree.BTree
	item memItem
}

func (it *memIter) Item() engine_util.DBItem {
	return it.item
}

func (it *memIter) Valid() bool {
	return it.item.key != nil
}

func (it *memIter) Next() {
	it.mu.RLock()
	defer it.mu.RUnlock()
	oldItem := it.item
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(oldItem, func(item btree.Item) bool {
		// Skip the item we are positioned on, it may have been deleted meanwhile.
		if !oldItem.Less(item) {
			return true
		}
		it.item = item.(memItem)
		return false
	})
}

func (it *memIter) Seek(key []byte) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item btree.Item) bool {
		it.item = item.(memItem)
		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
	fresh bool
}

func (it memItem) Key() []byte {
	return it.key
}
func (it memItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, it.key)
}
func (it memItem) Value() ([]byte, error) {
	return it.value, nil
}
func (it memItem) ValueSize() int {
	return len(it.value)
}
func (it memItem) ValueCopy(dst []byte) ([]byte, error) {
	return y.SafeCopy(dst, it.value), nil
}

func (it memItem) Less(than btree.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
