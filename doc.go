package haeinsa

/*
Haeinsa is a client-coordinated transaction library. It gives multi-row, multi-table ACID transactions on top of a
store that only offers single-row atomic check-and-write. There is no transaction server: every client runs the
two-phase protocol itself and any client can finish or roll back a transaction whose coordinator died.

The module is organized into the following packages:

* `kv/transaction`: the Manager, transactions, tables, recovery of abandoned locks and the background lock sweeper.
* `kv/transaction/mvcc`: row keys, the versioned lock record and its wire format, row deltas, write records and
  read-only snapshot access to the column families.
* `kv/transaction/oracle`: timestamp sources.
* `kv/transaction/latches`: per-key latches used by the badger store to make check-and-write atomic.
* `kv/storage`: the storage interface with an in-memory and a badger-backed implementation.
* `kv/config`: configuration loading and validation.
* `kv/util`: codec, engine helpers, lock waiters and a worker.

Each row has at most one lock in the lock column family. A lock is ABSENT, PREWRITTEN or STABLE. Commit prewrites the
primary row first and then the secondaries, takes a commit timestamp, and flips the primary to STABLE. That single
check-and-write is the commit point. Secondaries are then stabilized with exactly the primary's commit timestamp, either by
the committing client or by whichever reader finds them first.
*/
