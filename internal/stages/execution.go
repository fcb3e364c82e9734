package stages

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

// Execution applies each block's transactions to plain state and records the
// pre-images of every touched key in the change sets.
type Execution struct {
	Log zerolog.Logger
}

func (e *Execution) Name() string { return "Execution" }

func (e *Execution) Execute(tx *kv.RwTx, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	var txs uint64
	err := forEachBlock(in, func(block uint64) error {
		n, err := e.executeBlock(tx, block)
		if err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		txs += n
		return nil
	})
	if err != nil {
		return err
	}
	e.Log.Debug().
		Uint64("checkpoint", in.Checkpoint).
		Uint64("target", in.Target).
		Uint64("blocks", in.Blocks()).
		Uint64("txs", txs).
		Msg("execution done")
	return SaveCheckpoint(tx, e.Name(), in.Target)
}

func (e *Execution) executeBlock(tx *kv.RwTx, block uint64) (uint64, error) {
	raw, err := tx.Get(tables.BlockBodyIndices, chain.BlockKey(block))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, ErrMissingBody
	}
	if err != nil {
		return 0, err
	}
	body, err := chain.DecodeBodyIndices(raw)
	if err != nil {
		return 0, err
	}
	ok, err := tx.Has(tables.Headers, chain.BlockKey(block))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrMissingHeader
	}

	bs := &blockState{
		tx:             tx,
		block:          block,
		touchedAccount: make(map[chain.Address]bool),
		touchedStorage: make(map[string]bool),
	}
	for n := body.FirstTxNum; n < body.NextTxNum(); n++ {
		raw, err := tx.Get(tables.Transactions, tables.TxNumKey(n))
		if errors.Is(err, kv.ErrNotFound) {
			return 0, fmt.Errorf("%w: tx %d", ErrMissingTransaction, n)
		}
		if err != nil {
			return 0, err
		}
		t, err := chain.DecodeTransaction(raw)
		if err != nil {
			return 0, fmt.Errorf("tx %d: %w", n, err)
		}
		if err := bs.apply(t); err != nil {
			return 0, fmt.Errorf("tx %d: %w", n, err)
		}
	}
	return body.TxCount, nil
}

// blockState writes plain state for one block, saving each key's pre-image
// the first time the block touches it.
type blockState struct {
	tx             *kv.RwTx
	block          uint64
	touchedAccount map[chain.Address]bool
	touchedStorage map[string]bool
}

func (bs *blockState) apply(t *chain.Transaction) error {
	sender, err := readAccount(&bs.tx.Tx, tables.PlainAccountState, t.From[:])
	if err != nil {
		return err
	}
	if sender == nil {
		return fmt.Errorf("%w: sender %s", ErrMissingAccount, t.From)
	}
	if sender.Nonce != t.Nonce {
		return fmt.Errorf("%w: sender %s has nonce %d, tx has %d", ErrNonceMismatch, t.From, sender.Nonce, t.Nonce)
	}
	if sender.Balance.Lt(&t.Value) {
		return fmt.Errorf("%w: sender %s has %s, tx moves %s", ErrInsufficientBalance, t.From, sender.Balance.Dec(), t.Value.Dec())
	}
	sender.Balance.Sub(&sender.Balance, &t.Value)
	sender.Nonce++
	if err := bs.putAccount(t.From, sender); err != nil {
		return err
	}

	recipient, err := readAccount(&bs.tx.Tx, tables.PlainAccountState, t.To[:])
	if err != nil {
		return err
	}
	if recipient == nil {
		recipient = &chain.Account{}
	}
	recipient.Balance.Add(&recipient.Balance, &t.Value)
	if err := bs.putAccount(t.To, recipient); err != nil {
		return err
	}

	if t.HasStorage {
		return bs.putStorage(t.To, t.Slot, t.SlotValue)
	}
	return nil
}

func (bs *blockState) putAccount(addr chain.Address, acc *chain.Account) error {
	if !bs.touchedAccount[addr] {
		prev, err := bs.preimage(tables.PlainAccountState, addr[:])
		if err != nil {
			return err
		}
		if err := bs.tx.Put(tables.AccountChangeSet, tables.AccountChangeKey(bs.block, addr), prev); err != nil {
			return err
		}
		bs.touchedAccount[addr] = true
	}
	return bs.tx.Put(tables.PlainAccountState, addr[:], chain.EncodeAccount(acc))
}

func (bs *blockState) putStorage(addr chain.Address, slot, value chain.Hash) error {
	key := tables.StorageKey(addr, slot)
	if !bs.touchedStorage[string(key)] {
		prev, err := bs.preimage(tables.PlainStorageState, key)
		if err != nil {
			return err
		}
		if err := bs.tx.Put(tables.StorageChangeSet, tables.StorageChangeKey(bs.block, addr, slot), prev); err != nil {
			return err
		}
		bs.touchedStorage[string(key)] = true
	}
	if value.IsZero() {
		return bs.tx.Delete(tables.PlainStorageState, key)
	}
	return bs.tx.Put(tables.PlainStorageState, key, value[:])
}

func (bs *blockState) preimage(t kv.Table, key []byte) ([]byte, error) {
	prev, err := bs.tx.Get(t, key)
	if errors.Is(err, kv.ErrNotFound) {
		return []byte{}, nil
	}
	return prev, err
}
