// Package kv is an ordered, transactional key-value store with named tables,
// built on a single pebble keyspace.
//
// Every table owns a one-byte key prefix. Read transactions are pebble
// snapshots; write transactions are indexed pebble batches that either commit
// as a whole or are discarded.
package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is not found in a table.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when a write transaction is requested on a
	// store opened read-only.
	ErrReadOnly = errors.New("store is read-only")

	// ErrStoreExists is returned by Create when the target path already holds data.
	ErrStoreExists = errors.New("store already exists")
)

// Table is a named collection of key-ordered records.
type Table struct {
	ID   byte
	Name string
}

func (t Table) String() string {
	return t.Name
}

func (t Table) key(k []byte) []byte {
	out := make([]byte, 1+len(k))
	out[0] = t.ID
	copy(out[1:], k)
	return out
}

func (t Table) lowerBound() []byte {
	return []byte{t.ID}
}

func (t Table) upperBound() []byte {
	if t.ID == 0xff {
		return nil
	}
	return []byte{t.ID + 1}
}

// Range is a half-open key interval [From, To) within a table. A nil bound is open.
type Range struct {
	From []byte
	To   []byte
}

// All is the range covering a whole table.
var All = Range{}

func (r Range) String() string {
	return fmt.Sprintf("[%x, %x)", r.From, r.To)
}

func (t Table) bounds(r Range) (lower, upper []byte) {
	lower = t.lowerBound()
	if r.From != nil {
		lower = t.key(r.From)
	}
	upper = t.upperBound()
	if r.To != nil {
		upper = t.key(r.To)
	}
	return lower, upper
}
