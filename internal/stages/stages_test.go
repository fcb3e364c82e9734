package stages

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

var (
	alice = chain.Address{0xa1}
	bob   = chain.Address{0xb0}
	carol = chain.Address{0xc0}
)

func newStore(t *testing.T) *kv.DB {
	t.Helper()
	db, err := kv.Create(filepath.Join(t.TempDir(), "db"), kv.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func update(t *testing.T, db *kv.DB, fn func(tx *kv.RwTx) error) {
	t.Helper()
	if err := db.Update(fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func fund(t *testing.T, db *kv.DB, addr chain.Address, balance uint64) {
	t.Helper()
	acc := &chain.Account{}
	acc.Balance.SetUint64(balance)
	update(t, db, func(tx *kv.RwTx) error {
		return tx.Put(tables.PlainAccountState, addr[:], chain.EncodeAccount(acc))
	})
}

func transfer(from, to chain.Address, nonce, value uint64) *chain.Transaction {
	tx := &chain.Transaction{From: from, To: to, Nonce: nonce}
	tx.Value.SetUint64(value)
	return tx
}

// writeBlock stores a header and body for block holding txs starting at firstTx.
func writeBlock(t *testing.T, db *kv.DB, block, firstTx uint64, txs ...*chain.Transaction) {
	t.Helper()
	update(t, db, func(tx *kv.RwTx) error {
		for i, x := range txs {
			if err := tx.Put(tables.Transactions, tables.TxNumKey(firstTx+uint64(i)), chain.EncodeTransaction(x)); err != nil {
				return err
			}
		}
		body := chain.BodyIndices{FirstTxNum: firstTx, TxCount: uint64(len(txs))}
		if err := tx.Put(tables.BlockBodyIndices, chain.BlockKey(block), chain.EncodeBodyIndices(body)); err != nil {
			return err
		}
		return tx.Put(tables.Headers, chain.BlockKey(block), chain.EncodeHeader(&chain.Header{Number: block}))
	})
}

func account(t *testing.T, db *kv.DB, addr chain.Address) *chain.Account {
	t.Helper()
	var acc *chain.Account
	err := db.View(func(tx *kv.Tx) error {
		var err error
		acc, err = readAccount(tx, tables.PlainAccountState, addr[:])
		return err
	})
	if err != nil {
		t.Fatalf("read account: %v", err)
	}
	return acc
}

func run(db *kv.DB, st Stage, in Input) error {
	return db.Update(func(tx *kv.RwTx) error { return st.Execute(tx, in) })
}

func TestExecutionAppliesTransfers(t *testing.T) {
	db := newStore(t)
	fund(t, db, alice, 100)
	writeBlock(t, db, 1, 0, transfer(alice, bob, 0, 30), transfer(alice, bob, 1, 20))
	storing := transfer(bob, carol, 0, 5)
	storing.HasStorage = true
	storing.Slot[31] = 1
	storing.SlotValue[31] = 9
	writeBlock(t, db, 2, 2, storing)

	if err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 2}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if a := account(t, db, alice); a.Nonce != 2 || a.Balance.Uint64() != 50 {
		t.Fatalf("alice = %+v", a)
	}
	if b := account(t, db, bob); b.Nonce != 1 || b.Balance.Uint64() != 45 {
		t.Fatalf("bob = %+v", b)
	}
	if c := account(t, db, carol); c == nil || c.Balance.Uint64() != 5 {
		t.Fatalf("carol = %+v", c)
	}

	err := db.View(func(tx *kv.Tx) error {
		// Alice is touched twice in block 1 but has one pre-image.
		prev, err := tx.Get(tables.AccountChangeSet, tables.AccountChangeKey(1, alice))
		if err != nil {
			return err
		}
		acc, err := chain.DecodeAccount(prev)
		if err != nil {
			return err
		}
		if acc.Balance.Uint64() != 100 || acc.Nonce != 0 {
			t.Fatalf("alice pre-image = %+v", acc)
		}
		prev, err = tx.Get(tables.AccountChangeSet, tables.AccountChangeKey(2, carol))
		if err != nil {
			return err
		}
		if len(prev) != 0 {
			t.Fatalf("carol pre-image = %x, want empty", prev)
		}
		v, err := tx.Get(tables.PlainStorageState, tables.StorageKey(carol, storing.Slot))
		if err != nil {
			return err
		}
		if v[31] != 9 {
			t.Fatalf("storage = %x", v)
		}
		cp, err := Checkpoint(tx, "Execution")
		if err != nil {
			return err
		}
		if cp != 2 {
			t.Fatalf("checkpoint = %d", cp)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecutionFailures(t *testing.T) {
	cases := []struct {
		name string
		tx   *chain.Transaction
		want error
	}{
		{"missing sender", transfer(carol, bob, 0, 1), ErrMissingAccount},
		{"nonce", transfer(alice, bob, 3, 1), ErrNonceMismatch},
		{"balance", transfer(alice, bob, 0, 101), ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newStore(t)
			fund(t, db, alice, 100)
			writeBlock(t, db, 1, 0, tc.tx)
			err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			// The failed run is discarded.
			if a := account(t, db, alice); a.Balance.Uint64() != 100 {
				t.Fatalf("alice = %+v after failed run", a)
			}
		})
	}
}

func TestExecutionMissingData(t *testing.T) {
	db := newStore(t)
	fund(t, db, alice, 100)
	if err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1}); !errors.Is(err, ErrMissingBody) {
		t.Fatalf("err = %v, want ErrMissingBody", err)
	}

	update(t, db, func(tx *kv.RwTx) error {
		body := chain.BodyIndices{FirstTxNum: 0, TxCount: 1}
		if err := tx.Put(tables.BlockBodyIndices, chain.BlockKey(1), chain.EncodeBodyIndices(body)); err != nil {
			return err
		}
		return tx.Put(tables.Headers, chain.BlockKey(1), chain.EncodeHeader(&chain.Header{Number: 1}))
	})
	if err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1}); !errors.Is(err, ErrMissingTransaction) {
		t.Fatalf("err = %v, want ErrMissingTransaction", err)
	}
}

func TestInputValidation(t *testing.T) {
	db := newStore(t)
	for _, st := range []Stage{&Execution{}, &AccountHashing{}, &StorageHashing{}, &Merkle{}} {
		if err := run(db, st, Input{Checkpoint: 5, Target: 4}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", st.Name(), err)
		}
	}
}

func hashedCount(t *testing.T, db *kv.DB, table kv.Table) int {
	t.Helper()
	n := 0
	err := db.View(func(tx *kv.Tx) error {
		return walk(tx, table, kv.All, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestHashingRebuildAndIncremental(t *testing.T) {
	db := newStore(t)
	fund(t, db, alice, 100)
	fund(t, db, bob, 100)
	if err := run(db, &AccountHashing{Log: zerolog.Nop()}, Input{}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n := hashedCount(t, db, tables.HashedAccounts); n != 2 {
		t.Fatalf("hashed accounts = %d, want 2", n)
	}

	st := transfer(alice, carol, 0, 10)
	st.HasStorage = true
	st.Slot[31] = 4
	st.SlotValue[31] = 1
	writeBlock(t, db, 1, 0, st)
	if err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Checkpoint 0 rebuilds.
	if err := run(db, &AccountHashing{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1}); err != nil {
		t.Fatalf("account hashing: %v", err)
	}
	if err := run(db, &StorageHashing{Log: zerolog.Nop()}, Input{Checkpoint: 0, Target: 1}); err != nil {
		t.Fatalf("storage hashing: %v", err)
	}
	if n := hashedCount(t, db, tables.HashedAccounts); n != 3 {
		t.Fatalf("hashed accounts = %d, want 3", n)
	}

	// Block 2 clears the slot; the incremental pass must drop it.
	wipe := transfer(alice, carol, 1, 1)
	wipe.HasStorage = true
	wipe.Slot[31] = 4
	writeBlock(t, db, 2, 1, wipe)
	if err := run(db, &Execution{Log: zerolog.Nop()}, Input{Checkpoint: 1, Target: 2}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := hashedCount(t, db, tables.HashedStorages); n != 1 {
		t.Fatalf("hashed storages before = %d, want 1", n)
	}
	if err := run(db, &StorageHashing{Log: zerolog.Nop()}, Input{Checkpoint: 1, Target: 2}); err != nil {
		t.Fatalf("storage hashing: %v", err)
	}
	if n := hashedCount(t, db, tables.HashedStorages); n != 0 {
		t.Fatalf("hashed storages after = %d, want 0", n)
	}
	if err := run(db, &AccountHashing{Log: zerolog.Nop()}, Input{Checkpoint: 1, Target: 2}); err != nil {
		t.Fatalf("account hashing: %v", err)
	}

	err := db.View(func(tx *kv.Tx) error {
		h := tables.HashedAddress(alice)
		raw, err := tx.Get(tables.HashedAccounts, h[:])
		if err != nil {
			return err
		}
		plain, err := tx.Get(tables.PlainAccountState, alice[:])
		if err != nil {
			return err
		}
		if string(raw) != string(plain) {
			t.Fatalf("hashed alice %x != plain %x", raw, plain)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMerkle(t *testing.T) {
	db := newStore(t)
	fund(t, db, alice, 100)
	if err := run(db, &AccountHashing{Log: zerolog.Nop()}, Input{}); err != nil {
		t.Fatal(err)
	}

	m := &Merkle{Log: zerolog.Nop()}
	if err := run(db, m, Input{Checkpoint: 0, Target: 1}); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("err = %v, want ErrMissingHeader", err)
	}

	var root chain.Hash
	if err := db.View(func(tx *kv.Tx) error {
		var err error
		root, _, err = StateRoot(tx)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if root == chain.EmptyRoot {
		t.Fatal("root of non-empty state is the empty root")
	}

	update(t, db, func(tx *kv.RwTx) error {
		return tx.Put(tables.Headers, chain.BlockKey(1), chain.EncodeHeader(&chain.Header{Number: 1, StateRoot: chain.Hash{1}}))
	})
	if err := run(db, m, Input{Checkpoint: 0, Target: 1}); !errors.Is(err, ErrStateRootMismatch) {
		t.Fatalf("err = %v, want ErrStateRootMismatch", err)
	}

	update(t, db, func(tx *kv.RwTx) error {
		return tx.Put(tables.Headers, chain.BlockKey(1), chain.EncodeHeader(&chain.Header{Number: 1, StateRoot: root}))
	})
	if err := run(db, m, Input{Checkpoint: 0, Target: 1}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	err := db.View(func(tx *kv.Tx) error {
		got, err := tx.Get(tables.AccountsTrie, tables.RootKey)
		if err != nil {
			return err
		}
		if chain.Hash(got) != root {
			t.Fatalf("stored root %x, want %s", got, root)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMerkleRoot(t *testing.T) {
	if merkleRoot(nil) != chain.EmptyRoot {
		t.Fatal("empty leaves must give the empty root")
	}
	a, b, c := chain.Hash{1}, chain.Hash{2}, chain.Hash{3}
	if merkleRoot([]chain.Hash{a}) != a {
		t.Fatal("single leaf is its own root")
	}
	if merkleRoot([]chain.Hash{a, b, c}) == merkleRoot([]chain.Hash{b, a, c}) {
		t.Fatal("root must depend on leaf order")
	}
}

func TestInputBlocks(t *testing.T) {
	if n := (Input{Checkpoint: 10, Target: 21}).Blocks(); n != 11 {
		t.Fatalf("Blocks = %d, want 11", n)
	}
	if n := (Input{}).Blocks(); n != 0 {
		t.Fatalf("Blocks = %d, want 0", n)
	}
}
