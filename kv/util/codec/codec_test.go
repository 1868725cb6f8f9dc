package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBytes(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247}, EncodeBytes([]byte{}))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}, EncodeBytes([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 251}, EncodeBytes([]byte{1, 2, 3, 0}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247},
		EncodeBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}

func TestEncodeKeyOrder(t *testing.T) {
	// Same user key, newer timestamps first.
	assert.True(t, bytes.Compare(EncodeKey([]byte{42}, 238), EncodeKey([]byte{42}, 5)) < 0)
	// Different user keys order by user key regardless of timestamp.
	assert.True(t, bytes.Compare(EncodeKey([]byte{42}, 0), EncodeKey([]byte{200}, 100)) < 0)
	assert.True(t, bytes.Compare(EncodeKey([]byte{42}, 0), EncodeKey([]byte{42, 0}, 100)) < 0)
}

func TestDecodeKey(t *testing.T) {
	for _, key := range [][]byte{{}, {42}, {42, 0, 5}, []byte("a key longer than eight bytes")} {
		for _, ts := range []uint64{0, 1, 1380504157100, ^uint64(0)} {
			userKey, decodedTs, err := DecodeKey(EncodeKey(key, ts))
			require.Nil(t, err)
			assert.Equal(t, key, userKey)
			assert.Equal(t, ts, decodedTs)
			assert.Equal(t, ts, DecodeTs(EncodeKey(key, ts)))
			assert.Equal(t, key, DecodeUserKey(EncodeKey(key, ts)))
		}
	}

	_, _, err := DecodeKey(EncodeBytes([]byte{1}))
	assert.NotNil(t, err)
	_, _, err = DecodeKey([]byte{1, 2})
	assert.NotNil(t, err)
}

func TestAppendBytesComposite(t *testing.T) {
	a := AppendBytes(EncodeBytes([]byte("t1")), []byte("row"))
	b := AppendBytes(EncodeBytes([]byte("t1")), []byte("row2"))
	c := AppendBytes(EncodeBytes([]byte("t2")), []byte("a"))
	assert.True(t, bytes.Compare(a, b) < 0)
	assert.True(t, bytes.Compare(b, c) < 0)

	left, table, err := DecodeBytes(a)
	require.Nil(t, err)
	assert.Equal(t, []byte("t1"), table)
	left, row, err := DecodeBytes(left)
	require.Nil(t, err)
	assert.Equal(t, []byte("row"), row)
	assert.Empty(t, left)
}

func TestPrefixNext(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, PrefixNext([]byte{1, 2}))
	assert.Equal(t, []byte{2}, PrefixNext([]byte{1, 0xff}))
	assert.Nil(t, PrefixNext([]byte{0xff, 0xff}))
}
