package mvcc

import (
	"sort"

	"github.com/pingcap/errors"
)

// RowMutation is the set of changes one transaction makes to one row. Applying it means: drop every column if
// DeleteRow, then drop Deletes, then set Puts. Puts and Deletes never share a column.
type RowMutation struct {
	Puts      map[string][]byte
	Deletes   map[string]struct{}
	DeleteRow bool
}

func NewRowMutation() *RowMutation {
	return &RowMutation{Puts: make(map[string][]byte), Deletes: make(map[string]struct{})}
}

func (m *RowMutation) Put(column string, value []byte) {
	delete(m.Deletes, column)
	m.Puts[column] = value
}

func (m *RowMutation) Delete(column string) {
	delete(m.Puts, column)
	if !m.DeleteRow {
		m.Deletes[column] = struct{}{}
	}
}

func (m *RowMutation) DeleteAll() {
	m.Puts = make(map[string][]byte)
	m.Deletes = make(map[string]struct{})
	m.DeleteRow = true
}

// Kind is the kind of write record committing m produces.
func (m *RowMutation) Kind() WriteKind {
	if m.DeleteRow && len(m.Puts) == 0 {
		return WriteKindDelete
	}
	return WriteKindPut
}

// Apply overlays m onto a row image.
func (m *RowMutation) Apply(row map[string][]byte) map[string][]byte {
	if m.DeleteRow {
		row = make(map[string][]byte)
	} else if row == nil {
		row = make(map[string][]byte)
	}
	for col := range m.Deletes {
		delete(row, col)
	}
	for col, val := range m.Puts {
		row[col] = val
	}
	return row
}

// ToBytes serializes the mutation: field 1 repeated cells {1 column, 2 value}, field 2 repeated deleted columns,
// field 3 the delete-row flag. Columns are written in order so equal mutations serialize equally.
func (m *RowMutation) ToBytes() []byte {
	var b []byte
	for _, col := range sortedColumns(m.Puts) {
		cell := appendBytesField(nil, 1, []byte(col))
		cell = appendBytesField(cell, 2, m.Puts[col])
		b = appendBytesField(b, 1, cell)
	}
	deletes := make([]string, 0, len(m.Deletes))
	for col := range m.Deletes {
		deletes = append(deletes, col)
	}
	sort.Strings(deletes)
	for _, col := range deletes {
		b = appendBytesField(b, 2, []byte(col))
	}
	if m.DeleteRow {
		b = appendVarintField(b, 3, 1)
	}
	return b
}

func sortedColumns(puts map[string][]byte) []string {
	cols := make([]string, 0, len(puts))
	for col := range puts {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func ParseRowMutation(value []byte) (*RowMutation, error) {
	m := NewRowMutation()
	r := wireReader{buf: value}
	for !r.done() {
		field, wireType, err := r.next()
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch field {
		case 1:
			if err = expect(field, wireType, wireBytes); err != nil {
				return nil, errors.Trace(err)
			}
			data, err := r.bytes()
			if err != nil {
				return nil, errors.Trace(err)
			}
			col, val, err := parseCell(data)
			if err != nil {
				return nil, errors.Trace(err)
			}
			m.Puts[col] = val
		case 2:
			if err = expect(field, wireType, wireBytes); err != nil {
				return nil, errors.Trace(err)
			}
			col, err := r.bytes()
			if err != nil {
				return nil, errors.Trace(err)
			}
			m.Deletes[string(col)] = struct{}{}
		case 3:
			if err = expect(field, wireType, wireVarint); err != nil {
				return nil, errors.Trace(err)
			}
			v, err := r.varint()
			if err != nil {
				return nil, errors.Trace(err)
			}
			m.DeleteRow = v != 0
		default:
			return nil, errors.Errorf("unknown row mutation field %d", field)
		}
	}
	return m, nil
}

func parseCell(data []byte) (string, []byte, error) {
	r := wireReader{buf: data}
	var col, val []byte
	for !r.done() {
		field, wireType, err := r.next()
		if err != nil {
			return "", nil, err
		}
		if err = expect(field, wireType, wireBytes); err != nil {
			return "", nil, err
		}
		v, err := r.bytes()
		if err != nil {
			return "", nil, err
		}
		switch field {
		case 1:
			col = v
		case 2:
			val = v
		default:
			return "", nil, errors.Errorf("unknown cell field %d", field)
		}
	}
	if col == nil {
		return "", nil, errors.New("cell without column")
	}
	if val == nil {
		val = []byte{}
	}
	return string(col), val, nil
}
