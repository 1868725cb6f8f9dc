package mvcc

import (
	"github.com/golang/protobuf/proto"
	"github.com/pingcap/errors"
)

// Records are laid out in protobuf wire format so other clients can decode them with any protobuf library. Only
// the varint and length-delimited wire types are used.
const (
	wireVarint = 0
	wireBytes  = 2
)

func appendTag(b []byte, field int, wireType int) []byte {
	return append(b, proto.EncodeVarint(uint64(field)<<3|uint64(wireType))...)
}

func appendVarintField(b []byte, field int, v uint64) []byte {
	b = appendTag(b, field, wireVarint)
	return append(b, proto.EncodeVarint(v)...)
}

func appendBytesField(b []byte, field int, data []byte) []byte {
	b = appendTag(b, field, wireBytes)
	b = append(b, proto.EncodeVarint(uint64(len(data)))...)
	return append(b, data...)
}

type wireReader struct {
	buf []byte
}

func (r *wireReader) done() bool {
	return len(r.buf) == 0
}

func (r *wireReader) varint() (uint64, error) {
	x, n := proto.DecodeVarint(r.buf)
	if n == 0 {
		return 0, errors.New("truncated varint")
	}
	r.buf = r.buf[n:]
	return x, nil
}

// next reads a field tag.
func (r *wireReader) next() (field int, wireType int, err error) {
	tag, err := r.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(tag >> 3), int(tag & 7), nil
}

func (r *wireReader) bytes() ([]byte, error) {
	l, err := r.varint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.buf)) < l {
		return nil, errors.Errorf("length %d exceeds remaining %d bytes", l, len(r.buf))
	}
	data := make([]byte, l)
	copy(data, r.buf[:l])
	r.buf = r.buf[l:]
	return data, nil
}

// expect checks that the field just read has the wire type the record layout requires.
func expect(field, wireType, want int) error {
	if wireType != want {
		return errors.Errorf("field %d has wire type %d, want %d", field, wireType, want)
	}
	return nil
}

func encodeRowKeyMessage(rk RowKey) []byte {
	b := appendBytesField(nil, 1, rk.Table)
	return appendBytesField(b, 2, rk.Row)
}

func decodeRowKeyMessage(data []byte) (RowKey, error) {
	r := wireReader{buf: data}
	var rk RowKey
	for !r.done() {
		field, wireType, err := r.next()
		if err != nil {
			return rk, err
		}
		if err = expect(field, wireType, wireBytes); err != nil {
			return rk, err
		}
		value, err := r.bytes()
		if err != nil {
			return rk, err
		}
		switch field {
		case 1:
			rk.Table = value
		case 2:
			rk.Row = value
		default:
			return rk, errors.Errorf("unknown row key field %d", field)
		}
	}
	if rk.Table == nil || rk.Row == nil {
		return rk, errors.New("row key misses table or row")
	}
	return rk, nil
}
