// Package tables defines the chain store schema: every table the pipeline
// stages read or write, and the key layouts of the composite-key tables.
package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
)

var (
	// BlockBodyIndices is the primary index: block number -> chain.BodyIndices.
	BlockBodyIndices = kv.Table{ID: 0x01, Name: "BlockBodyIndices"}
	Headers          = kv.Table{ID: 0x02, Name: "Headers"}
	CanonicalHeaders = kv.Table{ID: 0x03, Name: "CanonicalHeaders"}
	// Transactions is keyed by global transaction number.
	Transactions = kv.Table{ID: 0x04, Name: "Transactions"}

	PlainAccountState = kv.Table{ID: 0x10, Name: "PlainAccountState"}
	PlainStorageState = kv.Table{ID: 0x11, Name: "PlainStorageState"}
	// AccountChangeSet and StorageChangeSet hold the value a key had before
	// the block in the key prefix touched it. Empty means "did not exist".
	AccountChangeSet = kv.Table{ID: 0x12, Name: "AccountChangeSet"}
	StorageChangeSet = kv.Table{ID: 0x13, Name: "StorageChangeSet"}

	HashedAccounts = kv.Table{ID: 0x20, Name: "HashedAccounts"}
	HashedStorages = kv.Table{ID: 0x21, Name: "HashedStorages"}
	AccountsTrie   = kv.Table{ID: 0x22, Name: "AccountsTrie"}
	StoragesTrie   = kv.Table{ID: 0x23, Name: "StoragesTrie"}

	// SyncStage holds stage checkpoints: stage name -> block number.
	SyncStage = kv.Table{ID: 0x30, Name: "SyncStage"}
)

// All lists every table in key-prefix order.
var All = []kv.Table{
	BlockBodyIndices,
	Headers,
	CanonicalHeaders,
	Transactions,
	PlainAccountState,
	PlainStorageState,
	AccountChangeSet,
	StorageChangeSet,
	HashedAccounts,
	HashedStorages,
	AccountsTrie,
	StoragesTrie,
	SyncStage,
}

// ByID resolves a table from its key prefix.
func ByID(id byte) (kv.Table, bool) {
	for _, t := range All {
		if t.ID == id {
			return t, true
		}
	}
	return kv.Table{}, false
}

// ByName resolves a table from its name.
func ByName(name string) (kv.Table, bool) {
	for _, t := range All {
		if t.Name == name {
			return t, true
		}
	}
	return kv.Table{}, false
}

// RootKey is the AccountsTrie key holding the state root.
var RootKey = []byte("root")

// BlockRange returns the key range covering blocks first..last inclusive for
// tables whose keys start with an 8-byte block number.
func BlockRange(first, last uint64) kv.Range {
	r := kv.Range{From: chain.BlockKey(first)}
	if last < ^uint64(0) {
		r.To = chain.BlockKey(last + 1)
	}
	return r
}

// TxNumKey encodes a transaction number.
func TxNumKey(n uint64) []byte {
	return chain.BlockKey(n)
}

// StorageKey is address (20) ‖ slot (32).
func StorageKey(addr chain.Address, slot chain.Hash) []byte {
	k := make([]byte, chain.AddressLength+chain.HashLength)
	copy(k, addr[:])
	copy(k[chain.AddressLength:], slot[:])
	return k
}

// SplitStorageKey is the inverse of StorageKey.
func SplitStorageKey(k []byte) (chain.Address, chain.Hash, error) {
	var addr chain.Address
	var slot chain.Hash
	if len(k) != chain.AddressLength+chain.HashLength {
		return addr, slot, fmt.Errorf("storage key: got %d bytes, need %d", len(k), chain.AddressLength+chain.HashLength)
	}
	copy(addr[:], k)
	copy(slot[:], k[chain.AddressLength:])
	return addr, slot, nil
}

// AccountChangeKey is block (8) ‖ address (20).
func AccountChangeKey(block uint64, addr chain.Address) []byte {
	k := make([]byte, 8+chain.AddressLength)
	binary.BigEndian.PutUint64(k, block)
	copy(k[8:], addr[:])
	return k
}

// SplitAccountChangeKey is the inverse of AccountChangeKey.
func SplitAccountChangeKey(k []byte) (uint64, chain.Address, error) {
	var addr chain.Address
	if len(k) != 8+chain.AddressLength {
		return 0, addr, fmt.Errorf("account change key: got %d bytes, need %d", len(k), 8+chain.AddressLength)
	}
	copy(addr[:], k[8:])
	return binary.BigEndian.Uint64(k), addr, nil
}

// StorageChangeKey is block (8) ‖ address (20) ‖ slot (32).
func StorageChangeKey(block uint64, addr chain.Address, slot chain.Hash) []byte {
	k := make([]byte, 8, 8+chain.AddressLength+chain.HashLength)
	binary.BigEndian.PutUint64(k, block)
	return append(k, StorageKey(addr, slot)...)
}

// SplitStorageChangeKey is the inverse of StorageChangeKey.
func SplitStorageChangeKey(k []byte) (uint64, chain.Address, chain.Hash, error) {
	if len(k) != 8+chain.AddressLength+chain.HashLength {
		return 0, chain.Address{}, chain.Hash{}, fmt.Errorf("storage change key: got %d bytes, need %d", len(k), 8+chain.AddressLength+chain.HashLength)
	}
	addr, slot, err := SplitStorageKey(k[8:])
	return binary.BigEndian.Uint64(k), addr, slot, err
}

// HashedAddress is the HashedAccounts key of addr.
func HashedAddress(addr chain.Address) chain.Hash {
	return chain.Keccak256(addr[:])
}

// HashedStorageKey is keccak(address) ‖ keccak(slot).
func HashedStorageKey(addr chain.Address, slot chain.Hash) []byte {
	ha := HashedAddress(addr)
	hs := chain.Keccak256(slot[:])
	k := make([]byte, 0, chain.HashLength*2)
	k = append(k, ha[:]...)
	return append(k, hs[:]...)
}
