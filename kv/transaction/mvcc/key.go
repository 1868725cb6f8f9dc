package mvcc

import (
	"bytes"
	"fmt"

	"github.com/haeinsa-go/haeinsa/kv/util/codec"
	"github.com/pingcap/errors"
)

// TsMax is the largest timestamp, used to seek to the newest version of a key.
const TsMax uint64 = ^uint64(0)

// RowKey addresses one row of one table. It is the unit of locking.
type RowKey struct {
	Table []byte
	Row   []byte
}

func NewRowKey(table, row []byte) RowKey {
	return RowKey{Table: table, Row: row}
}

// Encode returns the store key of the row. Encoded keys sort by table, then by row, and all rows of a table share the
// prefix EncodeTablePrefix(table).
func (rk RowKey) Encode() []byte {
	return codec.AppendBytes(codec.EncodeBytes(rk.Table), rk.Row)
}

// EncodeTablePrefix returns the common prefix of the encoded keys of every row in table.
func EncodeTablePrefix(table []byte) []byte {
	return codec.EncodeBytes(table)
}

// DecodeRowKey is the inverse of RowKey.Encode.
func DecodeRowKey(encoded []byte) (RowKey, error) {
	left, table, err := codec.DecodeBytes(encoded)
	if err != nil {
		return RowKey{}, errors.Trace(err)
	}
	left, row, err := codec.DecodeBytes(left)
	if err != nil {
		return RowKey{}, errors.Trace(err)
	}
	if len(left) != 0 {
		return RowKey{}, errors.Errorf("row key has %d trailing bytes", len(left))
	}
	return RowKey{Table: table, Row: row}, nil
}

func (rk RowKey) Equal(other RowKey) bool {
	return bytes.Equal(rk.Table, other.Table) && bytes.Equal(rk.Row, other.Row)
}

// Compare orders row keys by table, then row.
func (rk RowKey) Compare(other RowKey) int {
	if c := bytes.Compare(rk.Table, other.Table); c != 0 {
		return c
	}
	return bytes.Compare(rk.Row, other.Row)
}

func (rk RowKey) String() string {
	return fmt.Sprintf("%s/%q", rk.Table, rk.Row)
}
