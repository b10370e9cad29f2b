// Package wire implements the small subset of the SSH binary packet
// protocol (RFC 4251 section 5) that the key exchange and user
// authentication state machines need: length-prefixed strings,
// name-lists, booleans, and fixed-width integers. It does not frame,
// encrypt, or MAC packets -- that remains the connection I/O layer's
// job (see SPEC_FULL.md section 1, out of scope).
package wire

import (
	"encoding/binary"
	"errors"
	"strings"
)

// Message type bytes, RFC 4253 section 12 and RFC 4252 section 6.
const (
	MsgKexInit        = 20
	MsgNewKeys        = 21
	MsgKexECDHInit     = 30
	MsgKexECDHReply    = 31
	MsgUserAuthRequest = 50
	MsgUserAuthFailure = 51
	MsgUserAuthSuccess = 52
)

// ErrShortBuffer is returned by the parse helpers when the input ends
// before a fully-formed field could be read.
var ErrShortBuffer = errors.New("wire: buffer too short")

// Builder appends fields to a growing packet buffer. The zero value is
// usable.
type Builder struct {
	buf []byte
}

// NewBuilder starts a packet with the given message type byte.
func NewBuilder(msgType byte) *Builder {
	return &Builder{buf: []byte{msgType}}
}

func (b *Builder) Bytes() []byte { return b.buf }

func (b *Builder) Byte(v byte) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *Builder) Uint32(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// String appends a length-prefixed byte string (RFC 4251 5).
func (b *Builder) String(s []byte) *Builder {
	b.Uint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// NameList appends a comma-joined name-list (RFC 4251 5).
func (b *Builder) NameList(names []string) *Builder {
	return b.String([]byte(strings.Join(names, ",")))
}

// MPInt appends an SSH mpint: a string-encoded big-endian integer with
// a leading zero byte inserted whenever the high bit of the first byte
// would otherwise be set, so the value always reads as non-negative.
func (b *Builder) MPInt(v []byte) *Builder {
	for len(v) > 0 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > 0 && v[0]&0x80 != 0 {
		padded := make([]byte, len(v)+1)
		copy(padded[1:], v)
		v = padded
	}
	return b.String(v)
}

func (b *Builder) Cookie(cookie [16]byte) *Builder {
	b.buf = append(b.buf, cookie[:]...)
	return b
}

// Reader consumes fields from a packet buffer in order.
type Reader struct {
	buf []byte
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Byte() byte {
	if r.err != nil || len(r.buf) < 1 {
		r.fail(ErrShortBuffer)
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

func (r *Reader) Uint32() uint32 {
	if r.err != nil || len(r.buf) < 4 {
		r.fail(ErrShortBuffer)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v
}

// String reads a length-prefixed byte string.
func (r *Reader) String() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)) {
		r.fail(ErrShortBuffer)
		return nil
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v
}

func (r *Reader) MPInt() []byte {
	v := r.String()
	for len(v) > 0 && v[0] == 0 {
		v = v[1:]
	}
	return v
}

func (r *Reader) NameList() []string {
	s := r.String()
	if len(s) == 0 {
		return nil
	}
	return strings.Split(string(s), ",")
}

func (r *Reader) Cookie() [16]byte {
	var c [16]byte
	if r.err != nil || len(r.buf) < 16 {
		r.fail(ErrShortBuffer)
		return c
	}
	copy(c[:], r.buf[:16])
	r.buf = r.buf[16:]
	return c
}

// Rest returns whatever bytes remain unconsumed.
func (r *Reader) Rest() []byte { return r.buf }

// EncodeString encodes a byte slice as a standalone RFC 4251 string,
// with no surrounding message. Used to feed V_C, V_S, and K_S into the
// exchange-bytes buffer (SPEC_FULL.md section 6), none of which are
// themselves part of a framed packet.
func EncodeString(raw []byte) []byte {
	buf := make([]byte, 0, 4+len(raw))
	buf = append(buf, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(buf, uint32(len(raw)))
	return append(buf, raw...)
}

// EncodeMPInt applies the same leading-zero-stripping and high-bit
// padding rule as Builder.MPInt, then wraps the result with
// EncodeString. Used to fold K (the ECDH shared secret) into the
// exchange hash, which is computed outside of any Builder packet.
func EncodeMPInt(v []byte) []byte {
	for len(v) > 0 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > 0 && v[0]&0x80 != 0 {
		padded := make([]byte, len(v)+1)
		copy(padded[1:], v)
		v = padded
	}
	return EncodeString(v)
}
