package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

const testVersion = 0x6f

func TestHash160_KnownVector(t *testing.T) {
	// RIPEMD160(SHA256("")) is a well known constant.
	got := hex.EncodeToString(Hash160(nil))
	if got != "b472a266d0bd89c13706a4132ccfb16f7c3b9fcb" {
		t.Fatalf("Hash160(empty) = %s", got)
	}
}

func TestAddressFromPubKeyHex(t *testing.T) {
	pubHex := "02" + strings.Repeat("11", 32)
	addr, err := AddressFromPubKeyHex(pubHex, testVersion)
	if err != nil {
		t.Fatalf("AddressFromPubKeyHex: %v", err)
	}

	again, _ := AddressFromPubKeyHex(pubHex, testVersion)
	if again != addr {
		t.Fatalf("address not deterministic: %s vs %s", addr, again)
	}

	pub, _ := hex.DecodeString(pubHex)
	hash, err := DecodeAddress(addr, testVersion)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if !bytes.Equal(hash, Hash160(pub)) {
		t.Fatalf("decoded hash %x, want %x", hash, Hash160(pub))
	}
}

func TestDecodeAddress_Rejects(t *testing.T) {
	addr, err := AddressFromPubKeyHex("03"+strings.Repeat("22", 32), testVersion)
	if err != nil {
		t.Fatalf("AddressFromPubKeyHex: %v", err)
	}
	if _, err := DecodeAddress(addr, 0x00); err == nil {
		t.Fatal("expected error for another network's version")
	}
	corrupted := addr[:len(addr)-1] + "1"
	if corrupted == addr {
		corrupted = addr[:len(addr)-1] + "2"
	}
	if _, err := DecodeAddress(corrupted, testVersion); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestAddressFromPubKey_RejectsBadLength(t *testing.T) {
	if _, err := AddressFromPubKey(make([]byte, 20), testVersion); err == nil {
		t.Fatal("expected error for 20 byte key")
	}
	if _, err := AddressFromPubKeyHex("zz", testVersion); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}
