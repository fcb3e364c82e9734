package dump

import (
	"math"
	"time"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

// stateTable pairs a state table with the change set that records its
// pre-images, and maps change-set keys onto state keys.
type stateTable struct {
	state   kv.Table
	changes kv.Table
	key     func(changeKey []byte) ([]byte, error)
}

var (
	plainAccounts = stateTable{
		state:   tables.PlainAccountState,
		changes: tables.AccountChangeSet,
		key: func(k []byte) ([]byte, error) {
			_, addr, err := tables.SplitAccountChangeKey(k)
			return addr[:], err
		},
	}
	plainStorage = stateTable{
		state:   tables.PlainStorageState,
		changes: tables.StorageChangeSet,
		key: func(k []byte) ([]byte, error) {
			_, addr, slot, err := tables.SplitStorageChangeKey(k)
			if err != nil {
				return nil, err
			}
			return tables.StorageKey(addr, slot), nil
		},
	}
	hashedAccounts = stateTable{
		state:   tables.HashedAccounts,
		changes: tables.AccountChangeSet,
		key: func(k []byte) ([]byte, error) {
			_, addr, err := tables.SplitAccountChangeKey(k)
			if err != nil {
				return nil, err
			}
			h := tables.HashedAddress(addr)
			return h[:], nil
		},
	}
	hashedStorage = stateTable{
		state:   tables.HashedStorages,
		changes: tables.StorageChangeSet,
		key: func(k []byte) ([]byte, error) {
			_, addr, slot, err := tables.SplitStorageChangeKey(k)
			if err != nil {
				return nil, err
			}
			return tables.HashedStorageKey(addr, slot), nil
		},
	}
)

// copyStateAt copies st.state from the source into dst as it was after
// block at: the source's current state is copied, then every change recorded
// for a later block is reverted, newest first.
func (d *Dumper) copyStateAt(dst *kv.DB, st stateTable, at uint64, res *Result) error {
	start := time.Now()
	var copied, reverted uint64
	err := d.src.View(func(src *kv.Tx) error {
		return dst.Update(func(tx *kv.RwTx) error {
			var err error
			if copied, err = importTableRange(src, tx, st.state, kv.All, d.cfg.BatchSize); err != nil {
				return err
			}
			reverted, err = unwindState(src, tx, st, at)
			return err
		})
	})
	if err != nil {
		return &Error{Kind: ErrCopyFailed, Table: st.state.Name, Err: err}
	}
	res.addTable(TableCopy{Table: st.state.Name, Records: copied, Reverted: reverted})
	d.log.Debug().
		Str("table", st.state.Name).
		Uint64("at", at).
		Uint64("records", copied).
		Uint64("reverted", reverted).
		Dur("took", time.Since(start)).
		Msg("state unwound")
	return nil
}

func unwindState(src *kv.Tx, dst *kv.RwTx, st stateTable, at uint64) (uint64, error) {
	if at == math.MaxUint64 {
		return 0, nil
	}
	c, err := src.CursorRange(st.changes, kv.Range{From: chain.BlockKey(at + 1)})
	if err != nil {
		return 0, err
	}
	defer c.Close()

	var n uint64
	for k, v, err := c.Last(); ; k, v, err = c.Prev() {
		if err != nil {
			return n, err
		}
		if k == nil {
			return n, nil
		}
		sk, err := st.key(k)
		if err != nil {
			return n, err
		}
		if len(v) == 0 {
			err = dst.Delete(st.state, sk)
		} else {
			err = dst.Put(st.state, sk, v)
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
