package transaction

// The transaction package implements multi-row, multi-table transactions with snapshot isolation on top of a sorted,
// multi-versioned key/value store (Storage in kv/storage) whose only atomic primitive is a conditional write of a
// single row. There is no transaction server: clients coordinate among themselves through the locks they leave in
// the store.
//
// Every row has at most one lock, stored in the `lock` CF under the encoded row key. A lock is PREWRITTEN while its
// transaction commits and STABLE once the transaction committed; a row without a lock is ABSENT. Locks only change
// through guarded writes that compare the whole stored lock, so two clients can never both move a row out of the
// same state.
//
// ## Encoding rows
//
// The mvcc strategy is to store all data (committed and uncommitted) at every point in time. The changes a
// transaction makes to a row (a delta of put columns, deleted columns and possibly a whole-row delete) are stored in
// the `default` CF under the row key encoded with the transaction's start timestamp. The `write` CF maps the row key
// encoded with the commit timestamp to the start timestamp, so a reader at timestamp ts merges the deltas of the
// versions committed at or before ts, newest first.
//
// ## Committing
//
// Commit prewrites every row, the primary first: a PREWRITTEN lock naming the primary (or, on the primary, listing the
// secondaries) is written together with the delta. A prewrite conflicts with any live PREWRITTEN lock and with any
// version committed at or after the transaction's start. Then a commit timestamp is drawn and the primary is made
// STABLE together with its `write` record; that single-row write is the commit point. The secondaries follow.
//
// ## Recovery
//
// A client that runs into a PREWRITTEN lock of an earlier transaction waits for it to expire, then asks the primary.
// A STABLE primary of the same transaction means the transaction committed, and the secondary is made STABLE with
// exactly the primary's commit timestamp. A PREWRITTEN primary that expired is rolled back, aborting the transaction.
// A primary lock that is gone or belongs to a later transaction is decided by the primary's `write` CF. See
// recovery.go.
//
// Within this package, `mvcc` contains the lock, write and delta records and code for reading and writing them
// through Storage, `oracle` hands out timestamps, and `latches` serialises writes to one row inside a store.
