// Package wire implements the little-endian byte codec used for headers,
// transactions and blocks.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxBufferSize bounds a single decoded payload.
const MaxBufferSize = 10_000_000

var (
	// ErrBufferExhausted is returned when a read runs past the written data.
	ErrBufferExhausted = errors.New("buffer exhausted")

	// ErrInvalidLength is returned for a length prefix that cannot be honoured.
	ErrInvalidLength = errors.New("invalid length")
)

// Buffer is a growable byte buffer with independent read and write positions.
// Writes at a position inside the existing data overwrite in place, which the
// miner uses to patch the nonce without re-serializing the header.
type Buffer struct {
	data []byte
	rpos int
	wpos int
}

// NewBuffer returns an empty buffer with the given capacity reserved.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// NewReader wraps b for decoding. The slice is not copied.
func NewReader(b []byte) *Buffer {
	return &Buffer{data: b, wpos: len(b)}
}

// Bytes returns the written region of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:len(b.data)] }

// Len is the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining is the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.rpos }

func (b *Buffer) ReadPos() int  { return b.rpos }
func (b *Buffer) WritePos() int { return b.wpos }

// SetReadPos moves the read cursor.
func (b *Buffer) SetReadPos(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("read position %d of %d: %w", pos, len(b.data), ErrBufferExhausted)
	}
	b.rpos = pos
	return nil
}

// SetWritePos moves the write cursor. Positions past the end are rejected.
func (b *Buffer) SetWritePos(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("write position %d of %d: %w", pos, len(b.data), ErrBufferExhausted)
	}
	b.wpos = pos
	return nil
}

// Reset clears the buffer but keeps its storage.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.rpos, b.wpos = 0, 0
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.wpos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, len(b.data), 2*end)
			copy(grown, b.data)
			b.data = grown
		}
		b.data = b.data[:end]
	}
	copy(b.data[b.wpos:end], p)
	b.wpos = end
	return len(p), nil
}

func (b *Buffer) WriteUint8(v uint8) { b.Write([]byte{v}) }

func (b *Buffer) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
		return
	}
	b.WriteUint8(0)
}

// WriteCompactSize writes a Bitcoin style variable length integer.
func (b *Buffer) WriteCompactSize(n uint64) {
	switch {
	case n < 0xfd:
		b.WriteUint8(uint8(n))
	case n <= 0xffff:
		b.WriteUint8(0xfd)
		b.WriteUint16(uint16(n))
	case n <= 0xffffffff:
		b.WriteUint8(0xfe)
		b.WriteUint32(uint32(n))
	default:
		b.WriteUint8(0xff)
		b.WriteUint64(n)
	}
}

// WriteVarBytes writes a compact-size length followed by p.
func (b *Buffer) WriteVarBytes(p []byte) {
	b.WriteCompactSize(uint64(len(p)))
	b.Write(p)
}

func (b *Buffer) WriteString(s string) { b.WriteVarBytes([]byte(s)) }

func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidLength
	}
	if b.rpos+n > len(b.data) {
		return nil, fmt.Errorf("read %d bytes at %d of %d: %w", n, b.rpos, len(b.data), ErrBufferExhausted)
	}
	p := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

// Read copies the next len(p) bytes into p.
func (b *Buffer) Read(p []byte) (int, error) {
	src, err := b.next(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, src), nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bool byte %d: %w", v, ErrInvalidLength)
	}
}

// ReadCompactSize reads a variable length integer and rejects non-canonical
// encodings.
func (b *Buffer) ReadCompactSize() (uint64, error) {
	d, err := b.ReadUint8()
	if err != nil {
		return 0, err
	}
	var n, min uint64
	switch d {
	case 0xff:
		n, err = b.ReadUint64()
		min = 0x100000000
	case 0xfe:
		var v uint32
		v, err = b.ReadUint32()
		n, min = uint64(v), 0x10000
	case 0xfd:
		var v uint16
		v, err = b.ReadUint16()
		n, min = uint64(v), 0xfd
	default:
		return uint64(d), nil
	}
	if err != nil {
		return 0, err
	}
	if n < min {
		return 0, fmt.Errorf("non-canonical compact size %d: %w", n, ErrInvalidLength)
	}
	return n, nil
}

// ReadVarBytes reads a compact-size prefixed byte string of at most max bytes.
func (b *Buffer) ReadVarBytes(max int) ([]byte, error) {
	n, err := b.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	if n > uint64(max) || n > uint64(b.Remaining()) {
		return nil, fmt.Errorf("length %d (max %d, remaining %d): %w", n, max, b.Remaining(), ErrInvalidLength)
	}
	p, err := b.next(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (b *Buffer) ReadString(max int) (string, error) {
	p, err := b.ReadVarBytes(max)
	if err != nil {
		return "", err
	}
	return string(p), nil
}
