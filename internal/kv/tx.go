package kv

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
)

// Tx is a read transaction.
type Tx struct {
	r  pebble.Reader
	db *DB
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (tx *Tx) Get(t Table, key []byte) ([]byte, error) {
	val, closer, err := tx.r.Get(t.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%x: %w", t, key, err)
	}
	defer closer.Close()
	tx.db.reads.Add(1)
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Has reports whether key is present.
func (tx *Tx) Has(t Table, key []byte) (bool, error) {
	_, err := tx.Get(t, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Cursor opens a cursor over the whole table.
func (tx *Tx) Cursor(t Table) (*Cursor, error) {
	return tx.CursorRange(t, All)
}

// CursorRange opens a cursor restricted to r.
func (tx *Tx) CursorRange(t Table, r Range) (*Cursor, error) {
	lower, upper := t.bounds(r)
	it, err := tx.r.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("cursor %s: %w", t, err)
	}
	return &Cursor{it: it, t: t, db: tx.db}, nil
}

// RwTx is a write transaction. Reads observe the transaction's own writes.
type RwTx struct {
	Tx
	b   *pebble.Batch
	ops uint64
}

// Put stores value under key.
func (tx *RwTx) Put(t Table, key, value []byte) error {
	if err := tx.b.Set(t.key(key), value, nil); err != nil {
		return fmt.Errorf("put %s/%x: %w", t, key, err)
	}
	tx.ops++
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (tx *RwTx) Delete(t Table, key []byte) error {
	if err := tx.b.Delete(t.key(key), nil); err != nil {
		return fmt.Errorf("delete %s/%x: %w", t, key, err)
	}
	tx.ops++
	return nil
}

// ClearTable removes every record of t.
func (tx *RwTx) ClearTable(t Table) error {
	if err := tx.b.DeleteRange(t.lowerBound(), t.upperBound(), nil); err != nil {
		return fmt.Errorf("clear %s: %w", t, err)
	}
	tx.ops++
	return nil
}

// Cursor walks a table in key order. Keys and values returned by its methods
// are only valid until the cursor moves again.
type Cursor struct {
	it *pebble.Iterator
	t  Table
	db *DB
}

// First positions the cursor at the smallest key. A nil key means the range is empty.
func (c *Cursor) First() (key, value []byte, err error) {
	return c.at(c.it.First())
}

// Last positions the cursor at the largest key.
func (c *Cursor) Last() (key, value []byte, err error) {
	return c.at(c.it.Last())
}

// Seek positions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) ([]byte, []byte, error) {
	return c.at(c.it.SeekGE(c.t.key(key)))
}

// Next advances the cursor.
func (c *Cursor) Next() (key, value []byte, err error) {
	return c.at(c.it.Next())
}

// Prev moves the cursor back.
func (c *Cursor) Prev() (key, value []byte, err error) {
	return c.at(c.it.Prev())
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.it.Close()
}

func (c *Cursor) at(valid bool) ([]byte, []byte, error) {
	if !valid {
		if err := c.it.Error(); err != nil {
			return nil, nil, fmt.Errorf("cursor %s: %w", c.t, err)
		}
		return nil, nil, nil
	}
	value, err := c.it.ValueAndErr()
	if err != nil {
		return nil, nil, fmt.Errorf("cursor %s value: %w", c.t, err)
	}
	c.db.reads.Add(1)
	return c.it.Key()[1:], value, nil
}
