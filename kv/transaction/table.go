package transaction

import (
	"bytes"
	"context"
	"sort"

	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/pingcap/errors"
)

// Table reads and writes the rows of one table inside transactions. Rows are maps from column names to values.
type Table struct {
	mgr  *Manager
	name []byte
}

// Result is a row as seen by a transaction.
type Result struct {
	Row     []byte
	Columns map[string][]byte
}

// IsEmpty reports whether the row has none of the requested columns.
func (r *Result) IsEmpty() bool {
	return len(r.Columns) == 0
}

// Value returns the value of column, or nil if the row does not have it.
func (r *Result) Value(column string) []byte {
	return r.Columns[column]
}

func (t *Table) Name() string {
	return string(t.name)
}

func (t *Table) rowKey(row []byte) mvcc.RowKey {
	return mvcc.NewRowKey(t.name, row)
}

// Get reads columns of row, or every column when none is given, as of txn's snapshot and including txn's own
// writes. Rows locked by transactions that started before txn are resolved first.
func (t *Table) Get(ctx context.Context, txn *Txn, row []byte, columns ...string) (*Result, error) {
	if err := txn.checkActive(); err != nil {
		return nil, err
	}
	rk := t.rowKey(row)
	values, err := t.read(ctx, txn, rk, columns)
	if err != nil {
		return nil, err
	}
	return &Result{Row: row, Columns: values}, nil
}

func (t *Table) read(ctx context.Context, txn *Txn, rk mvcc.RowKey, columns []string) (map[string][]byte, error) {
	values, err := t.readCommitted(ctx, txn, rk, columns)
	if err != nil {
		return nil, err
	}
	m := txn.buffered(rk)
	if m == nil {
		return values, nil
	}
	values = m.Apply(values)
	if len(columns) > 0 {
		filtered := make(map[string][]byte, len(columns))
		for _, col := range columns {
			if val, ok := values[col]; ok {
				filtered[col] = val
			}
		}
		values = filtered
	}
	return values, nil
}

func (t *Table) readCommitted(ctx context.Context, txn *Txn, rk mvcc.RowKey, columns []string) (map[string][]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		reader, err := t.mgr.store.Reader(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		rt := &mvcc.RoTxn{Reader: reader, StartTS: txn.startTS}
		lock, err := rt.GetLock(rk)
		if err != nil {
			reader.Close()
			return nil, errors.Annotatef(err, "row %s", rk)
		}
		// Locks of later transactions cannot hide anything from this snapshot.
		if lock != nil && lock.State == mvcc.LockStatePrewritten && lock.TxTS < txn.startTS {
			reader.Close()
			if err := t.mgr.recovery.Resolve(ctx, txn.startTS, rk, lock); err != nil {
				return nil, err
			}
			continue
		}
		values, err := rt.GetRow(rk, columns)
		reader.Close()
		if err != nil {
			return nil, errors.Annotatef(err, "row %s", rk)
		}
		return values, nil
	}
}

// Put buffers setting column of row to value.
func (t *Table) Put(txn *Txn, row []byte, column string, value []byte) error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	txn.mutation(t.rowKey(row)).Put(column, value)
	return nil
}

// Delete buffers removing column from row.
func (t *Table) Delete(txn *Txn, row []byte, column string) error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	txn.mutation(t.rowKey(row)).Delete(column)
	return nil
}

// DeleteRow buffers removing every column of row. Later puts in the same transaction still apply.
func (t *Table) DeleteRow(txn *Txn, row []byte) error {
	if err := txn.checkActive(); err != nil {
		return err
	}
	txn.mutation(t.rowKey(row)).DeleteAll()
	return nil
}

// Scan returns, in row order, at most limit non-empty rows in [start, end) as Get would read them. A nil end scans to
// the end of the table; a limit of zero or less means no limit.
func (t *Table) Scan(ctx context.Context, txn *Txn, start, end []byte, limit int, columns ...string) ([]*Result, error) {
	if err := txn.checkActive(); err != nil {
		return nil, err
	}
	reader, err := t.mgr.store.Reader(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer reader.Close()
	scanner := mvcc.NewScanner(t.rowKey(start), end, &mvcc.RoTxn{Reader: reader, StartTS: txn.startTS})
	defer scanner.Close()

	// Rows only this transaction wrote are not in the store yet.
	var pending [][]byte
	for _, rk := range txn.order {
		if bytes.Equal(rk.Table, t.name) && bytes.Compare(rk.Row, start) >= 0 && (end == nil || bytes.Compare(rk.Row, end) < 0) {
			pending = append(pending, rk.Row)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return bytes.Compare(pending[i], pending[j]) < 0
	})

	var results []*Result
	stored, ok, err := scanner.Next()
	for (ok || len(pending) > 0) && (limit <= 0 || len(results) < limit) {
		if err != nil {
			return nil, errors.Trace(err)
		}
		var row []byte
		switch {
		case !ok:
			row, pending = pending[0], pending[1:]
		case len(pending) == 0 || bytes.Compare(stored.Row, pending[0]) < 0:
			row = stored.Row
			stored, ok, err = scanner.Next()
		default:
			if bytes.Equal(stored.Row, pending[0]) {
				stored, ok, err = scanner.Next()
			}
			row, pending = pending[0], pending[1:]
		}
		values, rerr := t.read(ctx, txn, t.rowKey(row), columns)
		if rerr != nil {
			return nil, rerr
		}
		if len(values) > 0 {
			results = append(results, &Result{Row: row, Columns: values})
		}
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return results, nil
}
