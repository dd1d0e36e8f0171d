package calico

import (
	"calico/internal/calicoerr"
	"calico/internal/txn"
)

// Txn is an explicit, caller-controlled write transaction (spec.md §6's
// begin_txn/commit_txn/rollback_txn), surfaced as a handle with
// Commit/Rollback methods rather than an opaque id paired with separate
// calls -- the idiomatic shape for the same ABI, the way the teacher's
// turdb.Tx wraps its own transaction id.
type Txn struct {
	e    *Engine
	t    *txn.Txn
	done bool
}

func (tx *Txn) checkOpen() error {
	if tx.done {
		return calicoerr.New(calicoerr.LogicError, "transaction already finished")
	}
	return nil
}

// Get returns the value stored for key within this transaction's view.
func (tx *Txn) Get(key []byte) ([]byte, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return tx.e.tr.Get(tx.t, key)
}

// Put inserts or overwrites key with value within this transaction.
func (tx *Txn) Put(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	inserted, err := tx.e.tr.Put(tx.t, key, value)
	if err != nil {
		return err
	}
	return tx.e.bumpRecordCount(tx.t, inserted, 0)
}

// Erase removes key within this transaction.
func (tx *Txn) Erase(key []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := tx.e.tr.Erase(tx.t, key); err != nil {
		return err
	}
	return tx.e.bumpRecordCount(tx.t, false, -1)
}

// NewCursor opens a cursor sharing this transaction's view. The cursor
// must be closed before the transaction commits or rolls back.
func (tx *Txn) NewCursor() (*Cursor, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return &Cursor{e: tx.e, t: tx.t, c: tx.e.tr.NewCursor(tx.t)}, nil
}

// Vacuum compacts the database's on-disk layout within this transaction
// (the B-tree vacuum operation listed in SPEC_FULL.md).
func (tx *Txn) Vacuum() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	return tx.e.tr.Vacuum(tx.t)
}

// Commit durably commits every Put/Erase/Vacuum made through this Txn.
func (tx *Txn) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.done = true
	return tx.t.Commit()
}

// Rollback discards every Put/Erase/Vacuum made through this Txn.
// Idempotent: calling it after Commit, or twice, is a no-op.
func (tx *Txn) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.t.Abort()
}
