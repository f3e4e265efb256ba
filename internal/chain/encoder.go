// Package chain builds and settles the batched proxy calls that mirror trades
// on-chain.
package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CallType routes one elementary operation through the forwarding contract.
type CallType uint8

const (
	CallTypeInvalid CallType = iota
	CallTypeCall
	CallTypeDelegateCall
)

// ProxyCall is one elementary operation inside a settlement transaction:
// (typeCode, to, value, data). Value is the native-currency amount, normally
// zero for token calls.
type ProxyCall struct {
	Type  CallType
	To    string
	Value *big.Int
	Data  []byte
}

// proxySignature is the forwarding-contract entry point: one dynamic array of
// (uint8, address, uint256, bytes) tuples, returning bytes[].
const proxySignature = "proxy((uint8,address,uint256,bytes)[])"

var proxySelector = func() [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(proxySignature))[:4])
	return sel
}()

// tupleHeadSize is the fixed head of one call tuple: typeCode, to, value, and
// the offset word pointing at the tuple's own data tail.
const tupleHeadSize = 4 * wordSize

// EncodeProxyCalls produces the exact calldata for one batched proxy
// invocation. The encoding is deterministic: the same ordered call list
// always yields byte-identical output. An empty list encodes a valid
// zero-length array.
func EncodeProxyCalls(calls []ProxyCall) ([]byte, error) {
	// Validate every destination before writing a single byte.
	addrs := make([]common.Address, len(calls))
	for i, c := range calls {
		a, err := parseAddress(c.To)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		addrs[i] = a
	}

	// Tail: each tuple encoded on its own.
	tuples := make([][]byte, len(calls))
	for i, c := range calls {
		var tb wordBuffer
		tb.writeUint64(uint64(c.Type))
		tb.writeAddress(addrs[i])
		if err := tb.writeUint256(c.Value); err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		tb.writeUint64(tupleHeadSize) // offset to this tuple's data tail
		tb.writeDynamicBytes(c.Data)
		tuples[i] = tb.bytes()
	}

	var out wordBuffer
	out.writeRaw(proxySelector[:])
	out.writeUint64(wordSize) // offset to the single dynamic argument

	// Array region: length, per-element offsets (relative to the first byte
	// after the length word), then the tuple encodings in order.
	out.writeUint64(uint64(len(calls)))
	offset := uint64(len(calls) * wordSize)
	for _, t := range tuples {
		out.writeUint64(offset)
		offset += uint64(len(t))
	}
	for _, t := range tuples {
		out.writeRaw(t)
	}
	return out.bytes(), nil
}

// parseAddress requires exactly 20 raw bytes (40 hex characters, optional
// 0x prefix).
func parseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(trimmed) != 2*common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid address %q: want %d hex chars, got %d", s, 2*common.AddressLength, len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return common.BytesToAddress(raw), nil
}
