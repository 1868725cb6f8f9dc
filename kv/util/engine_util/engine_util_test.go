package engine_util

import (
	"bytes"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineUtil(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	db, err := CreateDB(dir)
	require.Nil(t, err)
	defer DestroyDB(db, dir)

	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("a1"))
	batch.SetCF(CfDefault, []byte("b"), []byte("b1"))
	batch.SetCF(CfDefault, []byte("c"), []byte("c1"))
	batch.SetCF(CfDefault, []byte("d"), []byte("d1"))
	batch.SetCF(CfWrite, []byte("a"), []byte("a2"))
	batch.SetCF(CfWrite, []byte("b"), []byte("b2"))
	batch.SetCF(CfWrite, []byte("d"), []byte("d2"))
	batch.SetCF(CfLock, []byte("a"), []byte("a3"))
	batch.SetCF(CfLock, []byte("c"), []byte("c3"))
	batch.SetCF(CfDefault, []byte("e"), []byte("e1"))
	batch.DeleteCF(CfDefault, []byte("e"))
	require.Equal(t, 11, batch.Len())
	err = batch.WriteToDB(db)
	require.Nil(t, err)

	val, err := GetCF(db, CfDefault, []byte("e"))
	require.Nil(t, err)
	require.Nil(t, val)

	err = PutCF(db, CfDefault, []byte("e"), []byte("e2"))
	require.Nil(t, err)
	val, _ = GetCF(db, CfDefault, []byte("e"))
	require.Equal(t, val, []byte("e2"))
	err = DeleteCF(db, CfDefault, []byte("e"))
	require.Nil(t, err)
	val, err = GetCF(db, CfDefault, []byte("e"))
	require.Nil(t, err)
	require.Nil(t, val)

	txn := db.NewTransaction(false)
	defer txn.Discard()
	defaultIter := NewCFIterator(CfDefault, txn)
	defaultIter.Seek([]byte("a"))
	for _, expected := range []string{"a", "b", "c", "d"} {
		require.True(t, defaultIter.Valid())
		item := defaultIter.Item()
		require.True(t, bytes.Equal(item.Key(), []byte(expected)))
		val, _ = item.Value()
		require.True(t, bytes.Equal(val, []byte(expected+"1")))
		defaultIter.Next()
	}
	// The lock CF follows, but the iterator stops at the CF boundary.
	require.False(t, defaultIter.Valid())
	defaultIter.Close()

	lockIter := NewCFIterator(CfLock, txn)
	lockIter.Seek([]byte("d"))
	require.False(t, lockIter.Valid())
	lockIter.Close()

	require.False(t, ExceedEndKey([]byte("z"), nil))
	require.True(t, ExceedEndKey([]byte("c"), []byte("c")))
	require.False(t, ExceedEndKey([]byte("b"), []byte("c")))
}
