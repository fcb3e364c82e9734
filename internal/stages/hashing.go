package stages

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

// AccountHashing mirrors PlainAccountState into HashedAccounts keyed by
// keccak(address). Starting from checkpoint 0 it rebuilds the whole table;
// otherwise it rehashes only the accounts the change sets say were touched.
type AccountHashing struct {
	Log zerolog.Logger
}

func (h *AccountHashing) Name() string { return "AccountHashing" }

func (h *AccountHashing) Execute(tx *kv.RwTx, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	var n int
	var err error
	if in.Checkpoint == 0 {
		n, err = rebuildHashed(tx, tables.PlainAccountState, tables.HashedAccounts, hashAccountKey)
	} else {
		n, err = h.rehashChanged(tx, in)
	}
	if err != nil {
		return fmt.Errorf("account hashing: %w", err)
	}
	h.Log.Debug().
		Uint64("checkpoint", in.Checkpoint).
		Uint64("target", in.Target).
		Int("accounts", n).
		Msg("account hashing done")
	return SaveCheckpoint(tx, h.Name(), in.Target)
}

func (h *AccountHashing) rehashChanged(tx *kv.RwTx, in Input) (int, error) {
	var changed []chain.Address
	seen := make(map[chain.Address]bool)
	err := walk(&tx.Tx, tables.AccountChangeSet, tables.BlockRange(in.Checkpoint+1, in.Target), func(k, _ []byte) error {
		_, addr, err := tables.SplitAccountChangeKey(k)
		if err != nil {
			return err
		}
		if !seen[addr] {
			seen[addr] = true
			changed = append(changed, addr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, addr := range changed {
		hashed := tables.HashedAddress(addr)
		if err := mirror(tx, tables.PlainAccountState, addr[:], tables.HashedAccounts, hashed[:]); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

// StorageHashing mirrors PlainStorageState into HashedStorages keyed by
// keccak(address) ‖ keccak(slot).
type StorageHashing struct {
	Log zerolog.Logger
}

func (h *StorageHashing) Name() string { return "StorageHashing" }

func (h *StorageHashing) Execute(tx *kv.RwTx, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	var n int
	var err error
	if in.Checkpoint == 0 {
		n, err = rebuildHashed(tx, tables.PlainStorageState, tables.HashedStorages, hashStorageKey)
	} else {
		n, err = h.rehashChanged(tx, in)
	}
	if err != nil {
		return fmt.Errorf("storage hashing: %w", err)
	}
	h.Log.Debug().
		Uint64("checkpoint", in.Checkpoint).
		Uint64("target", in.Target).
		Int("slots", n).
		Msg("storage hashing done")
	return SaveCheckpoint(tx, h.Name(), in.Target)
}

func (h *StorageHashing) rehashChanged(tx *kv.RwTx, in Input) (int, error) {
	var changed [][]byte
	seen := make(map[string]bool)
	err := walk(&tx.Tx, tables.StorageChangeSet, tables.BlockRange(in.Checkpoint+1, in.Target), func(k, _ []byte) error {
		_, addr, slot, err := tables.SplitStorageChangeKey(k)
		if err != nil {
			return err
		}
		key := tables.StorageKey(addr, slot)
		if !seen[string(key)] {
			seen[string(key)] = true
			changed = append(changed, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range changed {
		hashed, err := hashStorageKey(key)
		if err != nil {
			return 0, err
		}
		if err := mirror(tx, tables.PlainStorageState, key, tables.HashedStorages, hashed); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

func hashAccountKey(k []byte) ([]byte, error) {
	if len(k) != chain.AddressLength {
		return nil, fmt.Errorf("account key: got %d bytes, need %d", len(k), chain.AddressLength)
	}
	h := chain.Keccak256(k)
	return h[:], nil
}

func hashStorageKey(k []byte) ([]byte, error) {
	addr, slot, err := tables.SplitStorageKey(k)
	if err != nil {
		return nil, err
	}
	return tables.HashedStorageKey(addr, slot), nil
}

// rebuildHashed replaces the hashed table with a rehash of the whole plain table.
func rebuildHashed(tx *kv.RwTx, plain, hashed kv.Table, hashKey func([]byte) ([]byte, error)) (int, error) {
	if err := tx.ClearTable(hashed); err != nil {
		return 0, err
	}
	n := 0
	err := walk(&tx.Tx, plain, kv.All, func(k, v []byte) error {
		hk, err := hashKey(k)
		if err != nil {
			return err
		}
		n++
		return tx.Put(hashed, hk, v)
	})
	return n, err
}

// mirror copies plain[pk] to hashed[hk], deleting hashed[hk] when the plain key is gone.
func mirror(tx *kv.RwTx, plain kv.Table, pk []byte, hashed kv.Table, hk []byte) error {
	v, err := tx.Get(plain, pk)
	if errors.Is(err, kv.ErrNotFound) {
		return tx.Delete(hashed, hk)
	}
	if err != nil {
		return err
	}
	return tx.Put(hashed, hk, v)
}

// walk calls fn for every record of t in r, in key order.
func walk(tx *kv.Tx, t kv.Table, r kv.Range, fn func(k, v []byte) error) error {
	c, err := tx.CursorRange(t, r)
	if err != nil {
		return err
	}
	defer c.Close()
	k, v, err := c.First()
	for ; k != nil && err == nil; k, v, err = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return err
}
