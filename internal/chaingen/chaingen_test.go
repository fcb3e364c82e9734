package chaingen

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
	"github.com/freeeve/stagedump/internal/tables"
)

func generate(t *testing.T, cfg Config) (*kv.DB, *Result) {
	t.Helper()
	db, err := kv.Create(filepath.Join(t.TempDir(), "chain"), kv.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cfg.Log = zerolog.Nop()
	res, err := Generate(db, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return db, res
}

func TestGenerate(t *testing.T) {
	db, res := generate(t, Config{Blocks: 20, Accounts: 6, TxPerBlock: 3, Seed: 1})
	if res.Head != 20 || res.Transactions != 60 {
		t.Fatalf("result = %+v", res)
	}

	err := db.View(func(tx *kv.Tx) error {
		for _, name := range []string{"Execution", "AccountHashing", "StorageHashing", "Merkle"} {
			cp, err := stages.Checkpoint(tx, name)
			if err != nil {
				return err
			}
			if cp != 20 {
				t.Fatalf("%s checkpoint = %d, want 20", name, cp)
			}
		}

		raw, err := tx.Get(tables.Headers, chain.BlockKey(20))
		if err != nil {
			return err
		}
		head, err := chain.DecodeHeader(raw)
		if err != nil {
			return err
		}
		if head.StateRoot != res.StateRoot {
			t.Fatalf("head root %s, want %s", head.StateRoot, res.StateRoot)
		}
		stored, err := tx.Get(tables.AccountsTrie, tables.RootKey)
		if err != nil {
			return err
		}
		if chain.Hash(stored) != res.StateRoot {
			t.Fatalf("trie root %x, want %s", stored, res.StateRoot)
		}

		// Each header links to its parent's canonical hash.
		for b := uint64(1); b <= 20; b++ {
			raw, err := tx.Get(tables.Headers, chain.BlockKey(b))
			if err != nil {
				return err
			}
			h, err := chain.DecodeHeader(raw)
			if err != nil {
				return err
			}
			parent, err := tx.Get(tables.CanonicalHeaders, chain.BlockKey(b-1))
			if err != nil {
				return err
			}
			if h.ParentHash != chain.Hash(parent) {
				t.Fatalf("block %d parent %s, want %x", b, h.ParentHash, parent)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	_, a := generate(t, Config{Blocks: 15, Seed: 42})
	_, b := generate(t, Config{Blocks: 15, Seed: 42})
	_, c := generate(t, Config{Blocks: 15, Seed: 43})
	if a.StateRoot != b.StateRoot {
		t.Fatalf("same seed gave roots %s and %s", a.StateRoot, b.StateRoot)
	}
	if a.StateRoot == c.StateRoot {
		t.Fatal("different seeds gave the same root")
	}
}

func TestAccountAddressDistinct(t *testing.T) {
	seen := make(map[chain.Address]bool)
	for i := 0; i < 64; i++ {
		addr := AccountAddress(i)
		if seen[addr] {
			t.Fatalf("address %d repeats", i)
		}
		seen[addr] = true
	}
}
