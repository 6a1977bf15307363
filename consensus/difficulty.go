package consensus

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/protocol/params"
)

// checkProofOfWork validates bits against powLimit and hash against the
// target bits encode.
func checkProofOfWork(hash chainhash.Hash, bits uint32, powLimit *big.Int) error {
	target, negative, overflow := chain.CompactToBig(bits)
	switch {
	case negative:
		return chain.NewRuleError(chain.ErrBadBits, "target of bits %08x is negative", bits)
	case overflow:
		return chain.NewRuleError(chain.ErrBadBits, "target of bits %08x overflows", bits)
	case target.Sign() == 0:
		return chain.NewRuleError(chain.ErrBadBits, "target of bits %08x is zero", bits)
	case target.Cmp(powLimit) > 0:
		return chain.NewRuleError(chain.ErrBadBits, "target of bits %08x is above the limit %064x", bits, powLimit)
	}
	if chain.HashToBig(&hash).Cmp(target) > 0 {
		return chain.NewRuleError(chain.ErrHighHash, "block hash %s is above target %064x", hash, target)
	}
	return nil
}

// ValidProofOfWork reports whether hash satisfies bits under powLimit.
func ValidProofOfWork(hash chainhash.Hash, bits uint32, powLimit *big.Int) bool {
	return checkProofOfWork(hash, bits, powLimit) == nil
}

// CalcNextWorkRequired scales the target in bits by the time the last
// interval actually took, limited to a factor of four either way.
func CalcNextWorkRequired(lastTime, firstTime int64, bits uint32, p *params.Params) uint32 {
	timespan := int64(p.TargetTimespan / time.Second)
	actual := lastTime - firstTime
	if actual < timespan/4 {
		actual = timespan / 4
	}
	if actual > timespan*4 {
		actual = timespan * 4
	}

	target, _, _ := chain.CompactToBig(bits)
	target.Mul(target, big.NewInt(actual))
	target.Div(target, big.NewInt(timespan))
	if target.Cmp(p.PowLimit) > 0 {
		target.Set(p.PowLimit)
	}
	return chain.BigToCompact(target)
}

// NextWorkRequired returns the bits a block built on tip must carry.
func (p *PoW) NextWorkRequired(tip *chain.BlockIndex) uint32 {
	if tip == nil {
		return p.params.PowLimitBits
	}

	interval := p.params.RetargetInterval
	next := tip.Height() + 1
	if p.params.NoRetargeting || interval == 0 || next%interval != 0 {
		return tip.Bits()
	}

	// interval-1 blocks back from tip, so the first window starts at genesis.
	first := tip.Ancestor(next - interval)
	return CalcNextWorkRequired(int64(tip.Timestamp()), int64(first.Timestamp()), tip.Bits(), p.params)
}

// CalcSubsidy is the block reward at height: 50 coins halving every
// SubsidyHalvingInterval blocks, reaching zero after 64 halvings.
func CalcSubsidy(height uint32, p *params.Params) uint64 {
	if p.SubsidyHalvingInterval == 0 {
		return 50 * p.ValueUnit
	}
	halvings := height / p.SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return (50 * p.ValueUnit) >> halvings
}
