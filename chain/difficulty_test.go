package chain

import (
	"math/big"
	"testing"
)

func TestCompactToBig(t *testing.T) {
	tests := []struct {
		bits     uint32
		want     string
		negative bool
		overflow bool
	}{
		{0x1d00ffff, "ffff0000000000000000000000000000000000000000000000000000", false, false},
		{0x207fffff, "7fffff0000000000000000000000000000000000000000000000000000000000", false, false},
		{0x01003456, "0", false, false},
		{0x01123456, "12", false, false},
		{0x04923456, "-12345600", true, false},
		{0x05009234, "92340000", false, false},
		{0xff123456, "", false, true},
	}
	for _, tt := range tests {
		got, negative, overflow := CompactToBig(tt.bits)
		if negative != tt.negative || overflow != tt.overflow {
			t.Fatalf("%08x: negative=%v overflow=%v", tt.bits, negative, overflow)
		}
		if tt.overflow {
			continue
		}
		want, _ := new(big.Int).SetString(tt.want, 16)
		if got.Cmp(want) != 0 {
			t.Fatalf("%08x: got %x, want %s", tt.bits, got, tt.want)
		}
	}
}

func TestBigToCompact(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x207fffff, 0x1b0404cb, 0x05009234} {
		n, _, _ := CompactToBig(bits)
		if got := BigToCompact(n); got != bits {
			t.Fatalf("round trip of %08x gave %08x", bits, got)
		}
	}
	if BigToCompact(big.NewInt(0)) != 0 {
		t.Fatal("zero must encode as 0")
	}
	// 0x80 needs the sign bit moved into a larger exponent.
	if got := BigToCompact(big.NewInt(0x80)); got != 0x02008000 {
		t.Fatalf("BigToCompact(0x80) = %08x", got)
	}
}

func TestCalcWork(t *testing.T) {
	if got := CalcWork(0x1d00ffff); got.Cmp(big.NewInt(0x100010001)) != 0 {
		t.Fatalf("CalcWork(0x1d00ffff) = %s", got)
	}
	if got := CalcWork(0x207fffff); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("CalcWork(0x207fffff) = %s", got)
	}
	for _, bits := range []uint32{0, 0x04923456, 0xff123456} {
		if CalcWork(bits).Sign() != 0 {
			t.Fatalf("CalcWork(%08x) must be zero", bits)
		}
	}
}

func TestHashToBig_LittleEndian(t *testing.T) {
	n := big.NewInt(0x0102)
	hash := BigToHash(n)
	if hash[0] != 0x02 || hash[1] != 0x01 {
		t.Fatalf("BigToHash not little endian: %x", hash[:2])
	}
	if HashToBig(&hash).Cmp(n) != 0 {
		t.Fatal("HashToBig(BigToHash(n)) != n")
	}
}
