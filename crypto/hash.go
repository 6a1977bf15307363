// Package crypto holds the hash helpers that sit outside block hashing.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/ripemd160"
)

// Hash160Size is the length of a RIPEMD160(SHA256(x)) digest.
const Hash160Size = ripemd160.Size

// Hash160 returns RIPEMD160(SHA256(b)).
func Hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// AddressFromPubKey derives the reward address for a serialized public key:
// base58check of Hash160(pub) under the network's version byte.
func AddressFromPubKey(pub []byte, version byte) (string, error) {
	if len(pub) != 33 && len(pub) != 65 {
		return "", fmt.Errorf("public key must be 33 or 65 bytes, got %d", len(pub))
	}
	return base58.CheckEncode(Hash160(pub), version), nil
}

// AddressFromPubKeyHex is AddressFromPubKey for hex input.
func AddressFromPubKeyHex(s string, version byte) (string, error) {
	pub, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid public key hex: %w", err)
	}
	return AddressFromPubKey(pub, version)
}

// DecodeAddress returns the key hash of an address made by AddressFromPubKey
// after checking its checksum and version.
func DecodeAddress(addr string, version byte) ([]byte, error) {
	hash, ver, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if ver != version {
		return nil, fmt.Errorf("address version %#02x, want %#02x", ver, version)
	}
	if len(hash) != Hash160Size {
		return nil, fmt.Errorf("address payload is %d bytes, want %d", len(hash), Hash160Size)
	}
	return hash, nil
}
