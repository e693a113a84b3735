// Package borsh implements the subset of the Borsh binary encoding NEAR
// transactions require: little-endian fixed-width integers, u32-length-
// prefixed strings and byte vectors, and fixed-size byte arrays written
// verbatim. Grounded on the hand-rolled borshWrite* helpers used to build
// NEAR transactions in the Privy SDK chain adapter.
package borsh

import (
	"encoding/binary"
	"math/big"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// Writer accumulates a Borsh-encoded byte stream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded stream so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU32 appends v as 4 little-endian bytes.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU64 appends v as 8 little-endian bytes.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU128 appends v as 16 little-endian bytes. v must be non-negative and
// fit in 128 bits.
func (w *Writer) WriteU128(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return errors.InputValidation("u128", "must be a non-negative integer")
	}
	be := v.Bytes()
	if len(be) > 16 {
		return errors.InputValidation("u128", "exceeds 128 bits")
	}
	var out [16]byte
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	w.buf = append(w.buf, out[:]...)
	return nil
}

// WriteFixedBytes appends b verbatim with no length prefix. Used for
// fixed-size array fields (public key bytes, block hashes, signatures).
func (w *Writer) WriteFixedBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteBytes appends a u32 length prefix followed by b (Borsh Vec<u8>).
func (w *Writer) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends s as a Vec<u8> of its UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteBool appends a single 0/1 byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteOption writes the presence byte and, if present, invokes encodeSome
// to write the wrapped value (Borsh Option<T>).
func (w *Writer) WriteOption(present bool, encodeSome func()) {
	w.WriteBool(present)
	if present {
		encodeSome()
	}
}
