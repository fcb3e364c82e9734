package chain

import (
	"encoding/binary"
	"fmt"
)

// BlockKey encodes a block number as an 8-byte big-endian key, so keys sort by number.
func BlockKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

// DecodeBlockKey is the inverse of BlockKey.
func DecodeBlockKey(k []byte) (uint64, error) {
	if len(k) < 8 {
		return 0, fmt.Errorf("block key too short: got %d bytes, need 8", len(k))
	}
	return binary.BigEndian.Uint64(k[:8]), nil
}

// BodyIndices encoding: FirstTxNum (8) + TxCount (8)
const bodyIndicesSize = 16

func EncodeBodyIndices(b BodyIndices) []byte {
	buf := make([]byte, bodyIndicesSize)
	binary.BigEndian.PutUint64(buf[0:8], b.FirstTxNum)
	binary.BigEndian.PutUint64(buf[8:16], b.TxCount)
	return buf
}

func DecodeBodyIndices(data []byte) (BodyIndices, error) {
	if len(data) < bodyIndicesSize {
		return BodyIndices{}, fmt.Errorf("body indices too short: got %d bytes, need %d", len(data), bodyIndicesSize)
	}
	return BodyIndices{
		FirstTxNum: binary.BigEndian.Uint64(data[0:8]),
		TxCount:    binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// Header encoding: Number (8) + ParentHash (32) + StateRoot (32) + Time (8)
const headerSize = 8 + HashLength + HashLength + 8

func EncodeHeader(h *Header) []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint64(buf[0:8], h.Number)
	copy(buf[8:40], h.ParentHash[:])
	copy(buf[40:72], h.StateRoot[:])
	binary.BigEndian.PutUint64(buf[72:80], h.Time)
	return buf
}

func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("header too short: got %d bytes, need %d", len(data), headerSize)
	}
	h := &Header{
		Number: binary.BigEndian.Uint64(data[0:8]),
		Time:   binary.BigEndian.Uint64(data[72:80]),
	}
	copy(h.ParentHash[:], data[8:40])
	copy(h.StateRoot[:], data[40:72])
	return h, nil
}

// Account encoding: Nonce (8) + Balance (32)
const accountSize = 8 + 32

func EncodeAccount(a *Account) []byte {
	buf := make([]byte, accountSize)
	binary.BigEndian.PutUint64(buf[0:8], a.Nonce)
	a.Balance.WriteToSlice(buf[8:40])
	return buf
}

func DecodeAccount(data []byte) (*Account, error) {
	if len(data) < accountSize {
		return nil, fmt.Errorf("account too short: got %d bytes, need %d", len(data), accountSize)
	}
	a := &Account{Nonce: binary.BigEndian.Uint64(data[0:8])}
	a.Balance.SetBytes32(data[8:40])
	return a, nil
}

// Transaction encoding:
// - From (20), To (20)
// - Nonce (8)
// - Value (32)
// - HasStorage flag (1)
// - Slot (32), SlotValue (32)
const transactionSize = AddressLength*2 + 8 + 32 + 1 + HashLength*2

func EncodeTransaction(tx *Transaction) []byte {
	buf := make([]byte, transactionSize)
	copy(buf[0:20], tx.From[:])
	copy(buf[20:40], tx.To[:])
	binary.BigEndian.PutUint64(buf[40:48], tx.Nonce)
	tx.Value.WriteToSlice(buf[48:80])
	if tx.HasStorage {
		buf[80] = 1
	}
	copy(buf[81:113], tx.Slot[:])
	copy(buf[113:145], tx.SlotValue[:])
	return buf
}

func DecodeTransaction(data []byte) (*Transaction, error) {
	if len(data) < transactionSize {
		return nil, fmt.Errorf("transaction too short: got %d bytes, need %d", len(data), transactionSize)
	}
	tx := &Transaction{
		Nonce:      binary.BigEndian.Uint64(data[40:48]),
		HasStorage: data[80] == 1,
	}
	copy(tx.From[:], data[0:20])
	copy(tx.To[:], data[20:40])
	tx.Value.SetBytes32(data[48:80])
	copy(tx.Slot[:], data[81:113])
	copy(tx.SlotValue[:], data[113:145])
	return tx, nil
}
