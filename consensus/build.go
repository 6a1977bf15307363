package consensus

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/wire"
)

const (
	// innerLoopCount is the number of nonces tried per template before the
	// tip is checked for staleness and the extra nonce is bumped.
	innerLoopCount = 0x10000

	// maxTries caps the hashes of a single Build call.
	maxTries = math.MaxUint32
)

// ErrNonceSpaceExhausted is returned when Build gives up without a block.
var ErrNonceSpaceExhausted = errors.New("nonce space exhausted")

// BuildResult describes a block found by Build.
type BuildResult struct {
	Block   *chain.Block
	Node    *chain.BlockIndex
	Hashes  uint64
	Elapsed time.Duration
}

// Build searches for a block on the current tip and submits it.
//
// No lock is held while hashing. The tip is re-read between templates and
// before submission; if it moved, Build returns chain.ErrStaleTip without
// submitting. Any error means no block was produced this round.
func (p *PoW) Build(ctx context.Context) (*BuildResult, error) {
	if p.backend == nil {
		return nil, errors.New("consensus has no backend attached")
	}
	tip := p.backend.Tip()
	if tip == nil {
		return nil, errors.New("no active chain to build on")
	}

	start := time.Now()
	var hashes uint64
	defer func() {
		p.hashes.Add(hashes)
		hashesTotal.Add(float64(hashes))
		elapsed := time.Since(start)
		var rate float64
		if s := elapsed.Seconds(); s > 0 {
			rate = float64(hashes) / s
		}
		p.log.Debug("mining round finished",
			zap.Uint32("height", tip.Height()+1),
			zap.Uint64("hashes", hashes),
			zap.Duration("elapsed", elapsed),
			zap.Float64("hash_rate", rate))
	}()

	buf := wire.NewBuffer(chain.BlockHeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			buildsTotal.WithLabelValues("cancelled").Inc()
			return nil, err
		}
		if err := p.checkStale(tip); err != nil {
			buildsTotal.WithLabelValues("stale").Inc()
			return nil, err
		}

		// Concurrent builders draw from one counter so no two of them hash
		// the same template.
		block, err := p.CreateNewBlock(0, 0, p.extraNonce.Add(1), tip)
		if err != nil {
			return nil, err
		}
		target, negative, overflow := chain.CompactToBig(block.Header.Bits)
		if negative || overflow || target.Sign() <= 0 || target.Cmp(p.params.PowLimit) > 0 {
			return nil, chain.NewRuleError(chain.ErrBadBits, "template bits %08x are invalid", block.Header.Bits)
		}

		buf.Reset()
		block.Header.Serialize(buf)
		for nonce := uint32(0); nonce < innerLoopCount; nonce++ {
			_ = buf.SetWritePos(chain.NonceOffset)
			buf.WriteUint32(nonce)
			hash := chainhash.DoubleHashH(buf.Bytes())
			hashes++

			if chain.HashToBig(&hash).Cmp(target) <= 0 {
				block.Header.Nonce = nonce
				return p.submit(block, tip, hashes, start)
			}
			if hashes >= maxTries {
				buildsTotal.WithLabelValues("exhausted").Inc()
				return nil, ErrNonceSpaceExhausted
			}
		}
	}
}

func (p *PoW) checkStale(tip *chain.BlockIndex) error {
	if cur := p.backend.Tip(); cur != tip {
		var height uint32
		if cur != nil {
			height = cur.Height()
		}
		return chain.NewRuleError(chain.ErrStaleTip,
			"tip moved from height %d to %d while mining", tip.Height(), height)
	}
	return nil
}

func (p *PoW) submit(block *chain.Block, tip *chain.BlockIndex, hashes uint64, start time.Time) (*BuildResult, error) {
	if err := p.checkStale(tip); err != nil {
		buildsTotal.WithLabelValues("stale").Inc()
		return nil, err
	}
	node, err := p.backend.SubmitBlock(block)
	if err != nil {
		buildsTotal.WithLabelValues("rejected").Inc()
		p.log.Warn("mined block rejected", zap.Object("block", block),
			zap.Array("txs", chain.Transactions(block.Transactions)), zap.Error(err))
		return nil, err
	}
	buildsTotal.WithLabelValues("found").Inc()
	p.log.Info("mined block",
		zap.Stringer("hash", node.Hash()),
		zap.Uint32("height", node.Height()),
		zap.Uint64("hashes", hashes),
		zap.Duration("elapsed", time.Since(start)))
	return &BuildResult{Block: block, Node: node, Hashes: hashes, Elapsed: time.Since(start)}, nil
}
