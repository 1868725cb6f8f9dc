package mvcc

import (
	"encoding/binary"
	"fmt"
)

// Write is a representation of a committed row version. A serialized version is stored in the "write" CF at the
// commit timestamp of its transaction and points back at the delta stored under the start timestamp.
type Write struct {
	StartTS uint64
	Kind    WriteKind
}

func (wr *Write) ToBytes() []byte {
	buf := append([]byte{byte(wr.Kind)}, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.BigEndian.PutUint64(buf[1:], wr.StartTS)
	return buf
}

func ParseWrite(value []byte) (*Write, error) {
	if value == nil {
		return nil, nil
	}
	if len(value) != 9 {
		return nil, fmt.Errorf("mvcc/write/ParseWrite: value is incorrect length, expected 9, found %d", len(value))
	}
	kind := WriteKind(value[0])
	if kind != WriteKindPut && kind != WriteKindDelete {
		return nil, fmt.Errorf("mvcc/write/ParseWrite: unknown write kind %d", kind)
	}
	return &Write{binary.BigEndian.Uint64(value[1:]), kind}, nil
}

type WriteKind int

const (
	// WriteKindPut versions carry a delta that must be read from the default CF.
	WriteKindPut WriteKind = 1
	// WriteKindDelete versions remove the whole row; nothing older is visible through them.
	WriteKindDelete WriteKind = 2
)

func (wk WriteKind) String() string {
	switch wk {
	case WriteKindPut:
		return "put"
	case WriteKindDelete:
		return "delete"
	}
	return fmt.Sprintf("WriteKind(%d)", int(wk))
}
