package chain

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"
)

// word reads the 32-byte word starting at off and returns its low 8 bytes as
// an integer. All offsets and lengths in these fixtures fit in 64 bits.
func word(t *testing.T, payload []byte, off int) uint64 {
	t.Helper()
	if off+32 > len(payload) {
		t.Fatalf("word at %d out of range (payload %d bytes)", off, len(payload))
	}
	w := payload[off : off+32]
	if !bytes.Equal(w[:24], make([]byte, 24)) {
		t.Fatalf("word at %d has high bytes set: %x", off, w)
	}
	return binary.BigEndian.Uint64(w[24:])
}

func TestEncodeEmptyBatch(t *testing.T) {
	payload, err := EncodeProxyCalls(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// selector + argument offset + zero length word
	if len(payload) != 4+32+32 {
		t.Fatalf("len=%d want=68", len(payload))
	}
	if got := word(t, payload, 4); got != 32 {
		t.Fatalf("argument offset=%d want=32", got)
	}
	if got := word(t, payload, 36); got != 0 {
		t.Fatalf("array length=%d want=0", got)
	}
}

func TestEncodeSingleCallLayout(t *testing.T) {
	payload, err := EncodeProxyCalls([]ProxyCall{{
		Type:  CallTypeCall,
		To:    "0x1111111111111111111111111111111111111111",
		Value: big.NewInt(0),
		Data:  []byte{0xde, 0xad, 0xbe, 0xef},
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// selector + arg offset + length + element offset + 6 tuple words
	if len(payload) != 4+32+32+32+6*32 {
		t.Fatalf("len=%d want=292", len(payload))
	}

	if !bytes.Equal(payload[:4], proxySelector[:]) {
		t.Fatalf("selector=%x want=%x", payload[:4], proxySelector)
	}
	if got := word(t, payload, 4); got != 32 {
		t.Fatalf("argument offset=%d want=32", got)
	}
	if got := word(t, payload, 36); got != 1 {
		t.Fatalf("array length=%d want=1", got)
	}
	// Element offset is relative to the first byte after the length word.
	if got := word(t, payload, 68); got != 32 {
		t.Fatalf("element offset=%d want=32", got)
	}

	tuple := payload[100:]
	if got := word(t, tuple, 0); got != uint64(CallTypeCall) {
		t.Fatalf("type code=%d want=%d", got, CallTypeCall)
	}
	wantAddr := make([]byte, 32)
	for i := 12; i < 32; i++ {
		wantAddr[i] = 0x11
	}
	if !bytes.Equal(tuple[32:64], wantAddr) {
		t.Fatalf("address word=%x", tuple[32:64])
	}
	if got := word(t, tuple, 64); got != 0 {
		t.Fatalf("value=%d want=0", got)
	}
	if got := word(t, tuple, 96); got != 128 {
		t.Fatalf("tuple data offset=%d want=128", got)
	}
	if got := word(t, tuple, 128); got != 4 {
		t.Fatalf("data length=%d want=4", got)
	}
	if !bytes.Equal(tuple[160:164], []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("data bytes=%x", tuple[160:164])
	}
	if !bytes.Equal(tuple[164:192], make([]byte, 28)) {
		t.Fatalf("data padding not zero: %x", tuple[164:192])
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	calls := []ProxyCall{
		{Type: CallTypeCall, To: "0x2222222222222222222222222222222222222222", Value: big.NewInt(7), Data: []byte{0x01}},
		{Type: CallTypeDelegateCall, To: "0x3333333333333333333333333333333333333333", Data: nil},
	}
	a, err := EncodeProxyCalls(calls)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := EncodeProxyCalls(calls)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding is not deterministic")
	}
}

func TestEncodeSecondElementOffset(t *testing.T) {
	payload, err := EncodeProxyCalls([]ProxyCall{
		{Type: CallTypeCall, To: "0x2222222222222222222222222222222222222222", Data: make([]byte, 33)},
		{Type: CallTypeCall, To: "0x3333333333333333333333333333333333333333", Data: nil},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// First tuple: 4 head words + length word + 64 padded data bytes = 224.
	// Second element offset = 2 offset words (64) + first tuple size.
	if got := word(t, payload, 68); got != 64 {
		t.Fatalf("first element offset=%d want=64", got)
	}
	if got := word(t, payload, 100); got != 64+224 {
		t.Fatalf("second element offset=%d want=%d", got, 64+224)
	}
}

func TestEncodeRejectsBadAddresses(t *testing.T) {
	bad := []string{
		"",
		"0x1234",
		"0x11111111111111111111111111111111111111",     // 19 bytes
		"0x111111111111111111111111111111111111111111", // 21 bytes
		"0xZZ11111111111111111111111111111111111111",
	}
	for _, addr := range bad {
		if _, err := EncodeProxyCalls([]ProxyCall{{Type: CallTypeCall, To: addr}}); err == nil {
			t.Fatalf("address %q must be rejected", addr)
		}
	}
}

func TestEncodeRejectsNegativeValue(t *testing.T) {
	_, err := EncodeProxyCalls([]ProxyCall{{
		Type:  CallTypeCall,
		To:    "0x1111111111111111111111111111111111111111",
		Value: big.NewInt(-1),
	}})
	if err == nil {
		t.Fatalf("negative value must be rejected")
	}
}
