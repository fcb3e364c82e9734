// Package chaingen writes deterministic synthetic chains into a store by
// running the real pipeline stages block by block, so every header carries
// the state root the stages compute.
package chaingen

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
	"github.com/freeeve/stagedump/internal/tables"
)

// Config shapes a generated chain.
type Config struct {
	Blocks       uint64 // blocks after genesis, default 100
	Accounts     int    // funded genesis accounts, default 16
	TxPerBlock   int    // default 4
	StorageEvery int    // every Nth transaction also writes storage, default 3 (0 disables)
	Seed         uint64
	Log          zerolog.Logger
}

// Result summarises a generated chain.
type Result struct {
	Head         uint64
	Transactions uint64
	StateRoot    chain.Hash
}

// genesisBalance funds each genesis account.
var genesisBalance = uint256.NewInt(1_000_000_000)

// AccountAddress is the deterministic address of the i-th genesis account.
func AccountAddress(i int) chain.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	h := chain.Keccak256([]byte("chaingen-account"), buf[:])
	var addr chain.Address
	copy(addr[:], h[12:])
	return addr
}

// Generate writes genesis (block 0) and cfg.Blocks further blocks into db.
// db must be empty.
func Generate(db *kv.DB, cfg Config) (*Result, error) {
	if cfg.Blocks == 0 {
		cfg.Blocks = 100
	}
	if cfg.Accounts == 0 {
		cfg.Accounts = 16
	}
	if cfg.TxPerBlock == 0 {
		cfg.TxPerBlock = 4
	}
	if cfg.StorageEvery == 0 {
		cfg.StorageEvery = 3
	} else if cfg.StorageEvery < 0 {
		cfg.StorageEvery = 0
	}

	g := &generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		nonces: make([]uint64, cfg.Accounts),
		pipeline: []stages.Stage{
			&stages.Execution{Log: cfg.Log},
			&stages.AccountHashing{Log: cfg.Log},
			&stages.StorageHashing{Log: cfg.Log},
		},
	}

	var parent chain.Hash
	var err error
	if parent, err = g.genesis(db); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	for b := uint64(1); b <= cfg.Blocks; b++ {
		if parent, err = g.block(db, b, parent); err != nil {
			return nil, fmt.Errorf("block %d: %w", b, err)
		}
		if b%1000 == 0 {
			cfg.Log.Info().Uint64("block", b).Uint64("txs", g.txNum).Msg("generating")
		}
	}

	res := &Result{Head: cfg.Blocks, Transactions: g.txNum, StateRoot: g.root}
	cfg.Log.Info().
		Uint64("head", res.Head).
		Uint64("txs", res.Transactions).
		Str("root", res.StateRoot.String()).
		Msg("chain generated")
	return res, nil
}

type generator struct {
	cfg      Config
	rng      *rand.Rand
	nonces   []uint64
	txNum    uint64
	root     chain.Hash
	pipeline []stages.Stage
}

func (g *generator) genesis(db *kv.DB) (chain.Hash, error) {
	var hash chain.Hash
	err := db.Update(func(tx *kv.RwTx) error {
		acc := &chain.Account{}
		acc.Balance.Set(genesisBalance)
		for i := 0; i < g.cfg.Accounts; i++ {
			addr := AccountAddress(i)
			if err := tx.Put(tables.PlainAccountState, addr[:], chain.EncodeAccount(acc)); err != nil {
				return err
			}
			if err := tx.Put(tables.AccountChangeSet, tables.AccountChangeKey(0, addr), []byte{}); err != nil {
				return err
			}
		}
		if err := tx.Put(tables.BlockBodyIndices, chain.BlockKey(0), chain.EncodeBodyIndices(chain.BodyIndices{})); err != nil {
			return err
		}
		for _, st := range g.pipeline[1:] {
			if err := st.Execute(tx, stages.Input{}); err != nil {
				return fmt.Errorf("%s: %w", st.Name(), err)
			}
		}
		var err error
		hash, err = g.seal(tx, 0, chain.Hash{})
		return err
	})
	return hash, err
}

func (g *generator) block(db *kv.DB, number uint64, parent chain.Hash) (chain.Hash, error) {
	var hash chain.Hash
	err := db.Update(func(tx *kv.RwTx) error {
		body := chain.BodyIndices{FirstTxNum: g.txNum, TxCount: uint64(g.cfg.TxPerBlock)}
		for i := 0; i < g.cfg.TxPerBlock; i++ {
			t := g.transaction()
			if err := tx.Put(tables.Transactions, tables.TxNumKey(g.txNum), chain.EncodeTransaction(t)); err != nil {
				return err
			}
			g.txNum++
		}
		if err := tx.Put(tables.BlockBodyIndices, chain.BlockKey(number), chain.EncodeBodyIndices(body)); err != nil {
			return err
		}
		// Execution requires the header to exist; the root is filled in by seal.
		placeholder := &chain.Header{Number: number, ParentHash: parent, Time: number * 12}
		if err := tx.Put(tables.Headers, chain.BlockKey(number), chain.EncodeHeader(placeholder)); err != nil {
			return err
		}

		in := stages.Input{Checkpoint: number - 1, Target: number}
		for _, st := range g.pipeline {
			if err := st.Execute(tx, in); err != nil {
				return fmt.Errorf("%s: %w", st.Name(), err)
			}
		}
		var err error
		if hash, err = g.seal(tx, number, parent); err != nil {
			return err
		}
		// The merkle stage re-derives the root and checks it against the sealed header.
		return (&stages.Merkle{Log: g.cfg.Log}).Execute(tx, in)
	})
	return hash, err
}

// seal computes the state root and writes the final header and canonical hash.
func (g *generator) seal(tx *kv.RwTx, number uint64, parent chain.Hash) (chain.Hash, error) {
	root, _, err := stages.StateRoot(&tx.Tx)
	if err != nil {
		return chain.Hash{}, err
	}
	g.root = root
	h := &chain.Header{Number: number, ParentHash: parent, StateRoot: root, Time: number * 12}
	hash := h.Hash()
	if err := tx.Put(tables.Headers, chain.BlockKey(number), chain.EncodeHeader(h)); err != nil {
		return chain.Hash{}, err
	}
	if err := tx.Put(tables.CanonicalHeaders, chain.BlockKey(number), hash[:]); err != nil {
		return chain.Hash{}, err
	}
	return hash, nil
}

func (g *generator) transaction() *chain.Transaction {
	from := g.rng.IntN(g.cfg.Accounts)
	to := g.rng.IntN(g.cfg.Accounts + 4) // some transfers create new accounts
	t := &chain.Transaction{
		From:  AccountAddress(from),
		To:    AccountAddress(to),
		Nonce: g.nonces[from],
	}
	t.Value.SetUint64(1 + g.rng.Uint64N(1000))
	g.nonces[from]++
	if g.cfg.StorageEvery > 0 && g.txNum%uint64(g.cfg.StorageEvery) == 0 {
		t.HasStorage = true
		binary.BigEndian.PutUint64(t.Slot[24:], g.rng.Uint64N(8))
		binary.BigEndian.PutUint64(t.SlotValue[24:], g.txNum+1)
	}
	return t
}
