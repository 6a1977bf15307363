package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuffer_OverwriteAtWritePos(t *testing.T) {
	b := NewBuffer(16)
	b.WriteUint32(1)
	b.WriteUint32(0xdeadbeef)
	if b.Len() != 8 {
		t.Fatalf("expected 8 bytes, got %d", b.Len())
	}

	if err := b.SetWritePos(4); err != nil {
		t.Fatalf("SetWritePos: %v", err)
	}
	b.WriteUint32(7)

	if b.Len() != 8 {
		t.Fatalf("overwrite grew buffer to %d bytes", b.Len())
	}
	want := []byte{1, 0, 0, 0, 7, 0, 0, 0}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("got %x, want %x", b.Bytes(), want)
	}
}

func TestBuffer_SetWritePosPastEnd(t *testing.T) {
	b := NewBuffer(0)
	b.WriteUint8(1)
	if err := b.SetWritePos(2); !errors.Is(err, ErrBufferExhausted) {
		t.Fatalf("expected ErrBufferExhausted, got %v", err)
	}
}

func TestBuffer_ReadPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadUint32(); !errors.Is(err, ErrBufferExhausted) {
		t.Fatalf("expected ErrBufferExhausted, got %v", err)
	}
	// A failed read must not consume anything.
	if r.Remaining() != 3 {
		t.Fatalf("failed read consumed bytes, remaining %d", r.Remaining())
	}
}

func TestBuffer_CompactSizeBoundaries(t *testing.T) {
	for _, n := range []uint64{0, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000} {
		b := NewBuffer(9)
		b.WriteCompactSize(n)
		got, err := NewReader(b.Bytes()).ReadCompactSize()
		if err != nil {
			t.Fatalf("ReadCompactSize(%d): %v", n, err)
		}
		if got != n {
			t.Fatalf("compact size: got %d, want %d", got, n)
		}
	}
}

func TestBuffer_NonCanonicalCompactSize(t *testing.T) {
	// 0xfd prefix carrying a value that fits in one byte.
	r := NewReader([]byte{0xfd, 0x10, 0x00})
	if _, err := r.ReadCompactSize(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestBuffer_VarBytesLengthExceedsData(t *testing.T) {
	r := NewReader([]byte{0x05, 'a', 'b'})
	if _, err := r.ReadVarBytes(100); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}

	r = NewReader([]byte{0x02, 'a', 'b'})
	if _, err := r.ReadVarBytes(1); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for max, got %v", err)
	}
}

func TestBuffer_ReadBoolRejectsGarbage(t *testing.T) {
	if _, err := NewReader([]byte{2}).ReadBool(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
