// Package consensus implements the proof-of-work policy: genesis, header and
// connect rules, difficulty retargeting, the subsidy schedule and the mining
// search.
package consensus

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/debug"
	"github.com/p2pclouds/powledger/protocol/params"
)

// Backend is the chain state mining works against.
type Backend interface {
	Tip() *chain.BlockIndex
	PendingTransactions(limit int) []*chain.Transaction
	SubmitBlock(block *chain.Block) (*chain.BlockIndex, error)
}

// Config configures a PoW policy.
type Config struct {
	Params        *params.Params
	Clock         chain.Clock
	Logger        *zap.Logger
	RewardAddress string
	Fee           uint64
}

// PoW is the proof-of-work consensus policy. It satisfies chain.Consensus.
type PoW struct {
	params *params.Params
	clock  chain.Clock
	log    *zap.Logger

	genesis     *chain.Block
	genesisHash chainhash.Hash

	backend Backend

	mu            debug.RWMutex
	rewardAddress string
	fee           uint64

	hashes     atomic.Uint64
	extraNonce atomic.Uint32
}

var _ chain.Consensus = (*PoW)(nil)

// New builds the policy. The genesis block and its hash are computed here
// once and never change afterwards.
func New(cfg Config) (*PoW, error) {
	if cfg.Params == nil {
		return nil, errors.New("consensus requires params")
	}
	if cfg.Clock == nil {
		cfg.Clock = chain.NewSystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	genesis := GenesisBlock(cfg.Params)
	return &PoW{
		params:        cfg.Params,
		mu:            debug.NewRWMutex("consensus"),
		clock:         cfg.Clock,
		log:           cfg.Logger,
		genesis:       genesis,
		genesisHash:   genesis.BlockHash(),
		rewardAddress: cfg.RewardAddress,
		fee:           cfg.Fee,
	}, nil
}

// Attach sets the chain state used by CreateGenesisBlock and Build. It must be
// called once before either.
func (p *PoW) Attach(b Backend) { p.backend = b }

func (p *PoW) Params() *params.Params { return p.params }

func (p *PoW) GenesisHash() chainhash.Hash { return p.genesisHash }

// Genesis returns the network's genesis block. Callers must not modify it.
func (p *PoW) Genesis() *chain.Block { return p.genesis }

func (p *PoW) RewardAddress() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rewardAddress
}

func (p *PoW) SetRewardAddress(addr string) {
	p.mu.Lock()
	p.rewardAddress = addr
	p.mu.Unlock()
}

// Fee is deducted from the subsidy paid by blocks this node builds.
func (p *PoW) Fee() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fee
}

func (p *PoW) SetFee(fee uint64) {
	p.mu.Lock()
	p.fee = fee
	p.mu.Unlock()
}

// HashCount is the number of header hashes computed by Build so far.
func (p *PoW) HashCount() uint64 { return p.hashes.Load() }

// Subsidy is CalcSubsidy for this policy's network.
func (p *PoW) Subsidy(height uint32) uint64 { return CalcSubsidy(height, p.params) }

// CheckHeader implements chain.Consensus. The genesis header is identified by
// its exact hash and is not held to a target.
func (p *PoW) CheckHeader(header *chain.BlockHeader, hash chainhash.Hash, parent *chain.BlockIndex) error {
	if parent == nil {
		if hash != p.genesisHash {
			return chain.NewRuleError(chain.ErrOrphanHeader, "block %s has no parent and is not genesis", hash)
		}
		return nil
	}

	if err := checkProofOfWork(hash, header.Bits, p.params.PowLimit); err != nil {
		return err
	}
	if want := p.NextWorkRequired(parent); header.Bits != want {
		return chain.NewRuleError(chain.ErrUnexpectedDifficulty,
			"block bits %08x at height %d, expected %08x", header.Bits, parent.Height()+1, want)
	}
	return nil
}

// CheckConnect implements chain.Consensus. The coinbase may not pay more than
// the subsidy of the block's height.
func (p *PoW) CheckConnect(block *chain.Block, node *chain.BlockIndex) error {
	subsidy := p.Subsidy(node.Height())
	if v := block.Transactions[0].Value; v > subsidy {
		return chain.NewRuleError(chain.ErrBadCoinbaseValue,
			"coinbase pays %d, subsidy at height %d is %d", v, node.Height(), subsidy)
	}
	return nil
}

// CreateGenesisBlock submits the genesis block unless the chain already has a
// tip, in which case the tip is returned unchanged.
func (p *PoW) CreateGenesisBlock() (*chain.BlockIndex, error) {
	if p.backend == nil {
		return nil, errors.New("consensus has no backend attached")
	}
	if tip := p.backend.Tip(); tip != nil {
		return tip, nil
	}
	node, err := p.backend.SubmitBlock(p.genesis)
	if err != nil {
		return nil, fmt.Errorf("submit genesis: %w", err)
	}
	return node, nil
}

// CreateNewBlock assembles a block template on tip. A zero bits selects the
// required difficulty. The timestamp is the adjusted time, raised to one
// second past the tip's median time past when the clock lags it. The coinbase
// pays the subsidy less the configured fee to the reward address and carries
// extraNonce as its magic.
func (p *PoW) CreateNewBlock(bits, nonce, extraNonce uint32, tip *chain.BlockIndex) (*chain.Block, error) {
	if tip == nil {
		return nil, errors.New("no tip to build on")
	}
	if bits == 0 {
		bits = p.NextWorkRequired(tip)
	}

	height := tip.Height() + 1
	timestamp := uint32(p.clock.AdjustedTime().Unix())
	if mtp := tip.MedianTimePast(); timestamp <= mtp {
		timestamp = mtp + 1
	}

	value := p.Subsidy(height)
	if fee := p.Fee(); fee < value {
		value -= fee
	} else {
		value = 0
	}

	block := &chain.Block{
		Header: chain.BlockHeader{
			Version:   p.params.BlockVersion,
			PrevBlock: tip.Hash(),
			Timestamp: timestamp,
			Bits:      bits,
			Nonce:     nonce,
		},
		Transactions: []*chain.Transaction{
			chain.NewCoinbase(p.params.Net.NetworkID(), p.RewardAddress(), value, extraNonce),
		},
	}

	if p.backend != nil {
		// Leave room for the transaction count prefix to grow.
		size := block.SerializeSize() + 8
		for _, tx := range p.backend.PendingTransactions(p.params.MaxBlockTransactions - 1) {
			txSize := tx.SerializeSize()
			if size+txSize > p.params.MaxBlockSize {
				break
			}
			block.Transactions = append(block.Transactions, tx)
			size += txSize
		}
	}

	block.Header.MerkleRoot, _ = chain.BlockMerkleRoot(block)
	return block, nil
}
