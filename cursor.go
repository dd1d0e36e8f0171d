package calico

import (
	"calico/internal/calicoerr"
	"calico/internal/tree"
	"calico/internal/txn"
)

// Cursor iterates an Engine's committed key space in order (spec.md
// §6's new_cursor/seek/next/prev/key/value). A Cursor from
// Engine.NewCursor owns its own read-only transaction and must be closed
// to release it.
type Cursor struct {
	e    *Engine
	t    *txn.Txn
	c    *tree.Cursor
	// ownsTxn is true for a Cursor opened via Engine.NewCursor, which
	// creates its own implicit transaction and must abort it on Close.
	// A Cursor opened via Txn.NewCursor shares the caller's transaction
	// and leaves committing/rolling it back to the caller.
	ownsTxn bool
	closed  bool
}

func (c *Cursor) checkOpen() error {
	if c.closed {
		return calicoerr.New(calicoerr.LogicError, "cursor is closed")
	}
	return nil
}

// Seek positions the cursor at the first key >= target.
func (c *Cursor) Seek(target []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.c.Seek(target)
}

// SeekFirst positions the cursor at the smallest key.
func (c *Cursor) SeekFirst() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.c.SeekFirst()
}

// SeekLast positions the cursor at the largest key.
func (c *Cursor) SeekLast() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.c.SeekLast()
}

// Next advances to the following key.
func (c *Cursor) Next() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.c.Next()
}

// Prev moves to the preceding key.
func (c *Cursor) Prev() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.c.Prev()
}

// Valid reports whether the cursor currently sits on a key.
func (c *Cursor) Valid() bool {
	return !c.closed && c.c.Status() == tree.StatusValid
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.c.Key()
}

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.c.Value()
}

// Close releases the cursor. If the cursor owns its backing transaction
// (one opened via Engine.NewCursor), Close aborts it; a cursor opened
// via Txn.NewCursor instead leaves that decision to the owning Txn's
// Commit/Rollback. Idempotent.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ownsTxn {
		return c.t.Abort()
	}
	return nil
}
