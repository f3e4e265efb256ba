package chain

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// wordSize is the ABI slot width.
const wordSize = 32

// wordBuffer accumulates 32-byte-aligned ABI words. Isolating the raw writes
// here keeps the head/tail offset arithmetic in the encoder the only place a
// layout bug can live.
type wordBuffer struct {
	buf bytes.Buffer
}

func (w *wordBuffer) writeRaw(b []byte) {
	w.buf.Write(b)
}

// writeUint64 writes v left-padded to one word.
func (w *wordBuffer) writeUint64(v uint64) {
	var word [wordSize]byte
	big.NewInt(0).SetUint64(v).FillBytes(word[:])
	w.buf.Write(word[:])
}

// writeUint256 writes v left-padded to one word. Negative or >256-bit values
// are rejected.
func (w *wordBuffer) writeUint256(v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("uint256 value is negative: %s", v)
	}
	if v.BitLen() > 256 {
		return fmt.Errorf("uint256 value overflows 256 bits: %s", v)
	}
	var word [wordSize]byte
	v.FillBytes(word[:])
	w.buf.Write(word[:])
	return nil
}

// writeAddress writes a left-padded to one word.
func (w *wordBuffer) writeAddress(a common.Address) {
	var word [wordSize]byte
	copy(word[wordSize-common.AddressLength:], a.Bytes())
	w.buf.Write(word[:])
}

// writeDynamicBytes writes the length word, the payload, and zero padding up
// to the next word boundary.
func (w *wordBuffer) writeDynamicBytes(b []byte) {
	w.writeUint64(uint64(len(b)))
	w.buf.Write(b)
	if pad := len(b) % wordSize; pad != 0 {
		w.buf.Write(make([]byte, wordSize-pad))
	}
}

func (w *wordBuffer) bytes() []byte {
	return w.buf.Bytes()
}
