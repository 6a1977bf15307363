// Package params defines the immutable consensus parameters of each network.
package params

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Params is a read-only consensus configuration. A single value is built at
// startup and shared by every component; nothing may mutate it afterwards,
// including the big.Int it points to.
type Params struct {
	Name string
	Net  Network

	// AddressVersion prefixes base58check reward addresses.
	AddressVersion byte

	// PowLimit is the easiest allowed target, PowLimitBits its compact form.
	PowLimit     *big.Int
	PowLimitBits uint32

	BlockVersion     int32
	GenesisBits      uint32
	GenesisTimestamp uint32

	// Difficulty is recalculated every RetargetInterval blocks so that the
	// interval takes TargetTimespan.
	RetargetInterval uint32
	TargetTimespan   time.Duration
	NoRetargeting    bool

	SubsidyHalvingInterval uint32
	ValueUnit              uint64

	MaxBlockTransactions int
	MaxBlockSize         int

	MaxFutureBlockTime time.Duration
	MedianTimeSpan     int

	// ActiveChainMinHeight is the reorg depth at which a reorganization is
	// reported as deep.
	ActiveChainMinHeight uint32
}

// TargetTimePerBlock is the ideal spacing between blocks.
func (p *Params) TargetTimePerBlock() time.Duration {
	if p.RetargetInterval == 0 {
		return p.TargetTimespan
	}
	return p.TargetTimespan / time.Duration(p.RetargetInterval)
}

func hexToBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("params: invalid hex constant " + s)
	}
	return n
}

// MainNetParams is the production network.
var MainNetParams = Params{
	Name:                   "mainnet",
	Net:                    MainNet,
	AddressVersion:         0x00,
	PowLimit:               hexToBig("00000000ffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowLimitBits:           0x1d00ffff,
	BlockVersion:           1,
	GenesisBits:            0x1d00ffff,
	GenesisTimestamp:       1735689600, // 2025-01-01T00:00:00Z
	RetargetInterval:       2016,
	TargetTimespan:         14 * 24 * time.Hour,
	SubsidyHalvingInterval: 210_000,
	ValueUnit:              100_000_000,
	MaxBlockTransactions:   10_000,
	MaxBlockSize:           1 << 20,
	MaxFutureBlockTime:     2 * time.Hour,
	MedianTimeSpan:         11,
	ActiveChainMinHeight:   288,
}

// TestNetParams trades difficulty for faster cycles.
var TestNetParams = Params{
	Name:                   "testnet",
	Net:                    TestNet,
	AddressVersion:         0x6f,
	PowLimit:               hexToBig("000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowLimitBits:           0x1e0fffff,
	BlockVersion:           1,
	GenesisBits:            0x1e0fffff,
	GenesisTimestamp:       1735689600,
	RetargetInterval:       144,
	TargetTimespan:         24 * time.Hour,
	SubsidyHalvingInterval: 210_000,
	ValueUnit:              100_000_000,
	MaxBlockTransactions:   10_000,
	MaxBlockSize:           1 << 20,
	MaxFutureBlockTime:     2 * time.Hour,
	MedianTimeSpan:         11,
	ActiveChainMinHeight:   288,
}

// RegTestParams is for local testing: trivially minable, no retargeting and
// a short halving interval.
var RegTestParams = Params{
	Name:                   "regtest",
	Net:                    RegTest,
	AddressVersion:         0x6f,
	PowLimit:               hexToBig("7fffff0000000000000000000000000000000000000000000000000000000000"),
	PowLimitBits:           0x207fffff,
	BlockVersion:           1,
	GenesisBits:            0x207fffff,
	GenesisTimestamp:       1735689600,
	RetargetInterval:       2016,
	TargetTimespan:         14 * 24 * time.Hour,
	NoRetargeting:          true,
	SubsidyHalvingInterval: 150,
	ValueUnit:              100_000_000,
	MaxBlockTransactions:   10_000,
	MaxBlockSize:           1 << 20,
	MaxFutureBlockTime:     2 * time.Hour,
	MedianTimeSpan:         11,
	ActiveChainMinHeight:   288,
}

// ByName returns a private copy of the parameters for a network name.
func ByName(name string) (*Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet", "main", "":
		return MainNetParams.clone(), nil
	case "testnet", "test":
		return TestNetParams.clone(), nil
	case "regtest":
		return RegTestParams.clone(), nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func (p *Params) clone() *Params {
	c := *p
	c.PowLimit = new(big.Int).Set(p.PowLimit)
	return &c
}
