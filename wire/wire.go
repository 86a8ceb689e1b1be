// Package wire provides low-level encode/decode primitives for the binary
// envelope that frames RPC requests, replies, and observations. It does not
// know about argument or result payloads, which are opaque blobs produced by
// a pluggable codec (see package codec); wire only frames the fields the
// server itself must read to route a message: identifiers, method names,
// and addresses.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A Builder is a buffer that accumulates data into an envelope. The zero
// value is ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Put appends the specified bytes to b in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// Bool appends a Boolean to b, encoded as a single 0/1 byte.
func (b *Builder) Bool(ok bool) {
	if ok {
		b.Put(1)
	} else {
		b.Put(0)
	}
}

// VPutString appends a length-prefixed string to b. The length is encoded as
// a Vint30.
func (b *Builder) VPutString(s string) {
	b.Grow(VLen(len(s)))
	b.Vint30(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// VPut appends a length-prefixed byte slice to b.
func (b *Builder) VPut(v []byte) {
	b.Grow(VLen(len(v)))
	b.Vint30(uint32(len(v)))
	b.buf = append(b.buf, v...)
}

// Uint64 appends v to b in big-endian order.
func (b *Builder) Uint64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

// Vint30 appends a Vint30 value to b.
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// Uvarint appends v using the standard LEB128 unsigned varint encoding. This
// is used for ObservationID (63-bit) and RequestID (64-bit); the standard
// library's varint covers the full uint64 range and needs no bespoke
// framing scheme.
func (b *Builder) Uvarint(v uint64) { b.buf = binary.AppendUvarint(b.buf, v) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice; the caller must not retain or modify its
// contents unless b will no longer be used.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow resizes the internal buffer of b if necessary to ensure that at least
// n more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads encoded values from the front of a fixed input buffer.
type Scanner struct {
	input  []byte
	rest   []byte
	offset int
}

// NewScanner constructs a Scanner that consumes data from input. The scanner
// retains slices into input and does not modify it, so the caller must not
// modify input's contents while the scanner is in use.
func NewScanner(input []byte) *Scanner { return &Scanner{input: input, rest: input} }

// Bool scans a single byte and converts it to a Boolean (0 means false,
// non-zero means true).
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	s.offset++
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// VLen reports the encoded size in bytes of a length-prefixed encoding of an
// n-byte string, where the length is encoded as a Vint30.
func VLen(n int) int { return Vint30(n).Size() + n }

// Vint30 parses a single Vint30 value from the head of the input.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	nb := int(s.rest[0]%4) + 1
	if len(s.rest) < nb {
		return 0, io.ErrUnexpectedEOF
	}
	var w uint32
	for i := nb - 1; i >= 0; i-- {
		w = (w * 256) + uint32(s.rest[i])
	}
	s.offset += nb
	s.rest = s.rest[nb:]
	return int(w >> 2), nil
}

// Uvarint parses a standard LEB128 unsigned varint from the head of the
// input. See Builder.Uvarint.
func (s *Scanner) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(s.rest)
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	s.offset += n
	s.rest = s.rest[n:]
	return v, nil
}

// Uint64 parses a big-endian uint64 value from the head of the input.
func (s *Scanner) Uint64() (uint64, error) {
	if len(s.rest) < 8 {
		return 0, fmt.Errorf("value truncated (%d < 8 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	s.offset += 8
	out := binary.BigEndian.Uint64(s.rest[:8])
	s.rest = s.rest[8:]
	return out, nil
}

// VString parses a single length-prefixed string from the head of s. The
// length must be encoded as a Vint30. The result aliases s's input, so the
// caller must not modify its contents.
func (s *Scanner) VString() (string, error) {
	n, err := s.Vint30()
	if err != nil {
		return "", err
	}
	if len(s.rest) < n {
		return "", fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	s.offset += n
	out := string(s.rest[:n])
	s.rest = s.rest[n:]
	return out, nil
}

// VBytes parses a single length-prefixed byte slice from the head of s, as
// VString but returning a []byte alias.
func (s *Scanner) VBytes() ([]byte, error) {
	n, err := s.Vint30()
	if err != nil {
		return nil, err
	}
	if len(s.rest) < n {
		return nil, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	s.offset += n
	out := s.rest[:n]
	s.rest = s.rest[n:]
	return out, nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Rest returns the remaining unconsumed input. The result is only valid
// until the next call to a method of s.
func (s *Scanner) Rest() []byte { return s.rest }

// Vint30 is an unsigned 30-bit integer that uses a variable-width encoding
// from 1 to 4 bytes.
//
//   - Values v < 64 are encoded as 1 byte.
//   - Values 64 ≤ v < 16384 are encoded as 2 bytes.
//   - Values 16384 ≤ v < 4194304 are encoded as 3 bytes.
//   - Values 4194304 ≤ v < 1073741824 are encoded as 4 bytes.
//
// A value is encoded as a 32-bit value in little-endian order, with the
// excess length packed into the lowest-order 2 bits of the first byte, which
// makes the encoding self-framing.
type Vint30 uint32

// MaxVint30 is the maximum value that can be encoded by a Vint30.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes required to encode v, or -1 if v is too
// large to be encoded.
func (v Vint30) Size() int {
	switch {
	case v < (1 << 6):
		return 1
	case v < (1 << 14):
		return 2
	case v < (1 << 22):
		return 3
	case v < (1 << 30):
		return 4
	default:
		return -1
	}
}

// Append appends the encoded value of v to buf and returns the updated
// slice. It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	s := v.Size()
	if s < 0 {
		panic("value out of range")
	}
	w := uint32(v)*4 + uint32(s-1)
	var tmp [4]byte
	for i := range s {
		tmp[i] = byte(w % 256)
		w /= 256
	}
	return append(buf, tmp[:s]...)
}

// Truncate returns a prefix of the UTF-8 string s having length no greater
// than n bytes, cut so the result does not end in a partial UTF-8 encoding.
func Truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && s[n-1]&0xc0 == 0x80 {
		n--
	}
	if n > 0 && s[n-1]&0xc0 == 0xc0 {
		n--
	}
	return s[:n]
}
