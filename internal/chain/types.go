package chain

import (
	"encoding/hex"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const (
	AddressLength = 20
	HashLength    = 32
)

// Address identifies an account.
type Address [AddressLength]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Hash is a keccak256 digest.
type Hash [HashLength]byte

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// EmptyRoot is the root of a trie with no leaves.
var EmptyRoot = Keccak256(nil)

// BodyIndices locates a block's transactions in the Transactions table.
type BodyIndices struct {
	FirstTxNum uint64
	TxCount    uint64
}

// NextTxNum is the first transaction number of the following block.
func (b BodyIndices) NextTxNum() uint64 {
	return b.FirstTxNum + b.TxCount
}

// LastTxNum is the number of the block's final transaction. Only meaningful
// when TxCount > 0.
func (b BodyIndices) LastTxNum() uint64 {
	return b.FirstTxNum + b.TxCount - 1
}

// Header is the part of a block header the pipeline stages consume.
type Header struct {
	Number     uint64
	ParentHash Hash
	StateRoot  Hash
	Time       uint64
}

// Hash returns the keccak256 of the encoded header.
func (h *Header) Hash() Hash {
	return Keccak256(EncodeHeader(h))
}

// Account is the plain state of an address.
type Account struct {
	Nonce   uint64
	Balance uint256.Int
}

// Transaction transfers Value from From to To. When HasStorage is set, it
// also writes SlotValue into storage slot Slot of the recipient.
type Transaction struct {
	From       Address
	To         Address
	Nonce      uint64
	Value      uint256.Int
	HasStorage bool
	Slot       Hash
	SlotValue  Hash
}
