// Package stages implements the forward computations of the block-processing
// pipeline: transaction execution, account and storage hashing, and state
// root (merkle) construction. Every stage reads and writes one store through a
// single write transaction.
package stages

import (
	"errors"
	"fmt"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

var (
	// ErrMissingBody means a block in the input has no BlockBodyIndices record.
	ErrMissingBody = errors.New("missing block body indices")
	// ErrMissingHeader means a required Headers record is absent.
	ErrMissingHeader = errors.New("missing header")
	// ErrMissingTransaction means a body points at a transaction number with no record.
	ErrMissingTransaction = errors.New("missing transaction")
	// ErrMissingAccount means a transaction's sender has no plain state.
	ErrMissingAccount = errors.New("missing account")
	// ErrNonceMismatch means a transaction's nonce differs from its sender's.
	ErrNonceMismatch = errors.New("nonce mismatch")
	// ErrInsufficientBalance means a sender cannot cover a transaction's value.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStateRootMismatch means the computed root differs from the target header's.
	ErrStateRootMismatch = errors.New("state root mismatch")
	// ErrInvalidInput means Target is below Checkpoint.
	ErrInvalidInput = errors.New("target below checkpoint")
)

// Input bounds one forward run: blocks Checkpoint+1 through Target are processed.
type Input struct {
	Checkpoint uint64
	Target     uint64
}

// Blocks returns the number of blocks the run covers.
func (in Input) Blocks() uint64 {
	return in.Target - in.Checkpoint
}

func (in Input) validate() error {
	if in.Target < in.Checkpoint {
		return fmt.Errorf("%w: checkpoint %d, target %d", ErrInvalidInput, in.Checkpoint, in.Target)
	}
	return nil
}

// Stage is one unit of the pipeline.
type Stage interface {
	Name() string
	Execute(tx *kv.RwTx, in Input) error
}

// Checkpoint returns the last block the named stage completed, 0 if it never ran.
func Checkpoint(tx *kv.Tx, stage string) (uint64, error) {
	raw, err := tx.Get(tables.SyncStage, []byte(stage))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return chain.DecodeBlockKey(raw)
}

// SaveCheckpoint records block as the named stage's progress.
func SaveCheckpoint(tx *kv.RwTx, stage string, block uint64) error {
	return tx.Put(tables.SyncStage, []byte(stage), chain.BlockKey(block))
}

// forEachBlock calls fn for Checkpoint+1..Target without overflowing at MaxUint64.
func forEachBlock(in Input, fn func(block uint64) error) error {
	for b := in.Checkpoint; b < in.Target; {
		b++
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func readAccount(tx *kv.Tx, t kv.Table, key []byte) (*chain.Account, error) {
	raw, err := tx.Get(t, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chain.DecodeAccount(raw)
}
