package stages

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

// Merkle recomputes the state root from hashed state, checks it against the
// target block's header and stores the trie roots.
type Merkle struct {
	Log zerolog.Logger
}

func (m *Merkle) Name() string { return "Merkle" }

func (m *Merkle) Execute(tx *kv.RwTx, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	raw, err := tx.Get(tables.Headers, chain.BlockKey(in.Target))
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: block %d", ErrMissingHeader, in.Target)
	}
	if err != nil {
		return err
	}
	header, err := chain.DecodeHeader(raw)
	if err != nil {
		return err
	}

	root, storageRoots, err := StateRoot(&tx.Tx)
	if err != nil {
		return fmt.Errorf("state root: %w", err)
	}
	if root != header.StateRoot {
		return fmt.Errorf("%w: block %d header has %s, computed %s", ErrStateRootMismatch, in.Target, header.StateRoot, root)
	}

	if err := tx.ClearTable(tables.StoragesTrie); err != nil {
		return err
	}
	for ha, sr := range storageRoots {
		if err := tx.Put(tables.StoragesTrie, ha[:], sr[:]); err != nil {
			return err
		}
	}
	if err := tx.Put(tables.AccountsTrie, tables.RootKey, root[:]); err != nil {
		return err
	}
	m.Log.Debug().
		Uint64("target", in.Target).
		Str("root", root.String()).
		Int("storage_tries", len(storageRoots)).
		Msg("merkle done")
	return SaveCheckpoint(tx, m.Name(), in.Target)
}

// StateRoot computes the state root over HashedAccounts and HashedStorages.
// Each account leaf is keccak(hashedAddress ‖ account ‖ storageRoot); each
// storage leaf is keccak(hashedSlot ‖ value). The returned map holds the
// storage root of every account with storage.
func StateRoot(tx *kv.Tx) (chain.Hash, map[chain.Hash]chain.Hash, error) {
	storageRoots := make(map[chain.Hash]chain.Hash)

	var current chain.Hash
	var leaves []chain.Hash
	started := false
	flush := func() {
		if started {
			storageRoots[current] = merkleRoot(leaves)
		}
		leaves = leaves[:0]
	}
	err := walk(tx, tables.HashedStorages, kv.All, func(k, v []byte) error {
		if len(k) != chain.HashLength*2 {
			return fmt.Errorf("hashed storage key: got %d bytes, need %d", len(k), chain.HashLength*2)
		}
		if !started || !bytes.Equal(current[:], k[:chain.HashLength]) {
			flush()
			copy(current[:], k[:chain.HashLength])
			started = true
		}
		leaves = append(leaves, chain.Keccak256(k[chain.HashLength:], v))
		return nil
	})
	if err != nil {
		return chain.Hash{}, nil, err
	}
	flush()

	var accountLeaves []chain.Hash
	err = walk(tx, tables.HashedAccounts, kv.All, func(k, v []byte) error {
		var ha chain.Hash
		copy(ha[:], k)
		sr, ok := storageRoots[ha]
		if !ok {
			sr = chain.EmptyRoot
		}
		accountLeaves = append(accountLeaves, chain.Keccak256(k, v, sr[:]))
		return nil
	})
	if err != nil {
		return chain.Hash{}, nil, err
	}
	return merkleRoot(accountLeaves), storageRoots, nil
}

// merkleRoot folds leaves pairwise; an odd node is carried up unchanged.
func merkleRoot(leaves []chain.Hash) chain.Hash {
	if len(leaves) == 0 {
		return chain.EmptyRoot
	}
	level := append([]chain.Hash(nil), leaves...)
	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, chain.Keccak256(level[i][:], level[i+1][:]))
		}
		level = next
	}
	return level[0]
}
