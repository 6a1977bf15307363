package chain

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 2^256, one more than the largest possible hash value.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// HashToBig interprets a hash as a little-endian 256-bit unsigned integer.
func HashToBig(hash *chainhash.Hash) *big.Int {
	var buf chainhash.Hash
	for i := 0; i < chainhash.HashSize; i++ {
		buf[i] = hash[chainhash.HashSize-1-i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// BigToHash is the inverse of HashToBig. Values wider than 256 bits are
// truncated.
func BigToHash(n *big.Int) chainhash.Hash {
	var hash chainhash.Hash
	b := n.Bytes()
	if len(b) > chainhash.HashSize {
		b = b[len(b)-chainhash.HashSize:]
	}
	for i, v := range b {
		hash[len(b)-1-i] = v
	}
	return hash
}

// CompactToBig decodes the compact "bits" representation of a target.
//
// The encoding is a base-256 floating point number: the high byte is the
// length in bytes, bit 23 is a sign and the low 23 bits the mantissa. negative
// and overflow report the two malformed cases, which consensus rejects.
func CompactToBig(compact uint32) (target *big.Int, negative, overflow bool) {
	size := compact >> 24
	word := compact & 0x007fffff

	target = new(big.Int)
	if size <= 3 {
		word >>= 8 * (3 - size)
		target.SetUint64(uint64(word))
	} else {
		target.SetUint64(uint64(word))
		target.Lsh(target, uint(8*(size-3)))
	}

	negative = word != 0 && compact&0x00800000 != 0
	overflow = word != 0 && (size > 34 ||
		(word > 0xff && size > 33) ||
		(word > 0xffff && size > 32))
	if negative {
		target.Neg(target)
	}
	return target, negative, overflow
}

// BigToCompact encodes n in compact form, losing precision beyond the
// three byte mantissa.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(new(big.Int).Abs(n).Uint64())
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Abs(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Uint64())
	}

	// Keep the sign bit clear by moving to a larger exponent.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// CalcWork returns the expected number of hashes needed to meet bits, which
// is 2^256 / (target+1). Malformed or zero targets carry no work.
func CalcWork(bits uint32) *big.Int {
	target, negative, overflow := CompactToBig(bits)
	if negative || overflow || target.Sign() <= 0 {
		return new(big.Int)
	}
	denominator := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}
