// Package ledger is the single entry point to the chain: it owns the block
// manager, the proof-of-work policy, the pending transaction pool and the
// orphan pool, and serializes all access to them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/consensus"
	"github.com/p2pclouds/powledger/debug"
	"github.com/p2pclouds/powledger/protocol/params"
)

const (
	DefaultMaxPending = 5000
	DefaultMaxOrphans = 100
)

// Config configures a Ledger.
type Config struct {
	Params        *params.Params
	Clock         chain.Clock
	Logger        *zap.Logger
	RewardAddress string
	Fee           uint64
	MaxPending    int
	MaxOrphans    int
}

// PendingHandle identifies a submitted transaction.
type PendingHandle struct {
	TxID chainhash.Hash

	// ExpectedHeight is the earliest height that can include the
	// transaction.
	ExpectedHeight uint32
}

// Ledger is safe for concurrent use.
//
// Every exported method takes mu. Methods ending in Locked expect it held and
// never take it, so they can call each other freely.
type Ledger struct {
	mu debug.Mutex

	params *params.Params
	log    *zap.Logger

	pow     *consensus.PoW
	chain   *chain.Manager
	pending *pendingPool
	orphans *orphanPool
	events  *eventFeed

	nextMagic uint32
}

var _ consensus.Backend = (*Ledger)(nil)

// New builds a ledger with the genesis block already connected.
func New(cfg Config) (*Ledger, error) {
	if cfg.Params == nil {
		return nil, errors.New("ledger requires params")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = chain.NewSystemClock()
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.MaxOrphans <= 0 {
		cfg.MaxOrphans = DefaultMaxOrphans
	}

	pow, err := consensus.New(consensus.Config{
		Params:        cfg.Params,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger.Named("consensus"),
		RewardAddress: cfg.RewardAddress,
		Fee:           cfg.Fee,
	})
	if err != nil {
		return nil, err
	}
	orphans, err := newOrphanPool(cfg.MaxOrphans)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		mu:      debug.NewMutex("ledger"),
		params:  cfg.Params,
		log:     cfg.Logger,
		pow:     pow,
		pending: newPendingPool(cfg.MaxPending),
		orphans: orphans,
		events:  newEventFeed(),
	}
	l.chain, err = chain.NewManager(chain.ManagerConfig{
		Params:    cfg.Params,
		Consensus: pow,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger.Named("chain"),
		Notify:    l.handleNotification,
	})
	if err != nil {
		return nil, err
	}

	pow.Attach(l)
	if _, err := pow.CreateGenesisBlock(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	l.log.Info("ledger ready",
		zap.String("network", cfg.Params.Name),
		zap.Stringer("genesis", pow.GenesisHash()))
	return l, nil
}

func (l *Ledger) Params() *params.Params { return l.params }

// Consensus returns the proof-of-work policy the ledger validates with.
func (l *Ledger) Consensus() *consensus.PoW { return l.pow }

// handleNotification runs under mu, called by the manager.
func (l *Ledger) handleNotification(n *chain.Notification) {
	switch n.Type {
	case chain.NTBlockConnected:
		l.pending.blockConnected(n.Block)
		chainHeight.Set(float64(n.Node.Height()))
	case chain.NTBlockDisconnected:
		restored := l.pending.blockDisconnected(n.Block, n.Node.Height())
		chainHeight.Set(float64(n.Node.Height() - 1))
		if restored > 0 {
			l.log.Debug("transactions returned to pending pool",
				zap.Stringer("block", n.Node.Hash()), zap.Int("count", restored))
		}
	case chain.NTReorganization:
		// The manager logs the switch itself.
		reorgsTotal.Inc()
	}
	if dropped := l.events.publish(eventFromNotification(n)); dropped > 0 {
		l.log.Debug("slow event subscribers skipped",
			zap.Stringer("type", n.Type), zap.Int("count", dropped))
	}
}

// SubmitTransaction adds a transfer to the pending pool. Each submission gets
// a fresh magic so repeated transfers between the same parties stay distinct.
func (l *Ledger) SubmitTransaction(sender, recipient string, value uint64) (PendingHandle, error) {
	if sender == "" || recipient == "" {
		return PendingHandle{}, errors.New("sender and recipient are required")
	}
	if len(sender) > chain.MaxAddressLength || len(recipient) > chain.MaxAddressLength {
		return PendingHandle{}, fmt.Errorf("address longer than %d bytes", chain.MaxAddressLength)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextMagic++
	tx := &chain.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Value:     value,
		Magic:     l.nextMagic,
	}
	height := l.expectedHeightLocked()
	entry, err := l.pending.add(tx, height)
	if err != nil {
		return PendingHandle{}, err
	}
	l.log.Debug("transaction pending", zap.Stringer("txid", entry.TxID), zap.Object("tx", tx))
	return PendingHandle{TxID: entry.TxID, ExpectedHeight: height}, nil
}

func (l *Ledger) expectedHeightLocked() uint32 {
	if tip := l.chain.Tip(); tip != nil {
		return tip.Height() + 1
	}
	return 0
}

// SubmitBlock validates block and adds it to the chain. A block whose parent
// is unknown is held in the orphan pool and retried when the parent arrives;
// the error still reports chain.ErrOrphanHeader.
func (l *Ledger) SubmitBlock(block *chain.Block) (*chain.BlockIndex, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitBlockLocked(block)
}

func (l *Ledger) submitBlockLocked(block *chain.Block) (*chain.BlockIndex, error) {
	if len(block.Transactions) == 0 {
		blocksRejected.WithLabelValues(chain.KindBody.String()).Inc()
		return nil, chain.NewRuleError(chain.ErrNoTransactions, "block has no transactions")
	}

	// A held orphan whose parent header has since arrived is retried.
	if hash := block.BlockHash(); l.orphans.has(hash) {
		if l.chain.LookupNode(block.Header.PrevBlock) == nil {
			return nil, chain.NewRuleError(chain.ErrOrphanHeader, "block %s is already held as an orphan", hash)
		}
		l.orphans.remove(hash)
	}

	node, err := l.chain.AcceptBlock(block)
	if err != nil {
		if errors.Is(err, chain.ErrOrphanHeader) {
			l.orphans.add(block)
			l.log.Debug("orphan block held",
				zap.Stringer("hash", block.BlockHash()),
				zap.Stringer("prev", block.Header.PrevBlock),
				zap.Int("orphans", l.orphans.len()))
			return nil, err
		}
		kind := "other"
		if re, ok := chain.AsRuleError(err); ok {
			kind = re.ErrorCode.Kind().String()
		}
		blocksRejected.WithLabelValues(kind).Inc()
		l.log.Debug("block rejected", zap.Stringer("hash", block.BlockHash()),
			zap.Array("txs", chain.Transactions(block.Transactions)), zap.Error(err))
		return nil, err
	}

	blocksAccepted.Inc()
	l.processOrphansLocked(node.Hash())
	return node, nil
}

// processOrphansLocked resubmits orphans that were waiting on hash, and then
// their own orphans.
func (l *Ledger) processOrphansLocked(hash chainhash.Hash) {
	queue := []chainhash.Hash{hash}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, orphan := range l.orphans.takeChildren(parent) {
			node, err := l.chain.AcceptBlock(orphan)
			if err != nil {
				l.log.Debug("orphan block rejected", zap.Stringer("hash", orphan.BlockHash()), zap.Error(err))
				continue
			}
			blocksAccepted.Inc()
			queue = append(queue, node.Hash())
		}
	}
}

// ProcessHeader adds a header to the index ahead of its body.
func (l *Ledger) ProcessHeader(header *chain.BlockHeader) (*chain.BlockIndex, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.AcceptHeader(header)
}

// Tip is the active chain's tip. The node's identity, hash, height, bits,
// timestamp and ancestry never change and may be read without the lock.
func (l *Ledger) Tip() *chain.BlockIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.Tip()
}

// PendingTransactions implements consensus.Backend.
func (l *Ledger) PendingTransactions(limit int) []*chain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.take(limit)
}

func (l *Ledger) ActiveTipHash() chainhash.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tip := l.chain.Tip(); tip != nil {
		return tip.Hash()
	}
	return chainhash.Hash{}
}

func (l *Ledger) ActiveHeight() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tip := l.chain.Tip(); tip != nil {
		return tip.Height()
	}
	return 0
}

// MedianTimePast is the median timestamp of the last rng active blocks.
func (l *Ledger) MedianTimePast(rng int) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.ActiveChain().MedianTimePast(rng)
}

// GetBlockIndex returns the node for hash or nil. Its status and counters
// may change afterwards; use DescribeBlock for a consistent view.
func (l *Ledger) GetBlockIndex(hash chainhash.Hash) *chain.BlockIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.LookupNode(hash)
}

// BlockInfo is a snapshot of a block index node.
type BlockInfo struct {
	Hash              chainhash.Hash
	PrevHash          chainhash.Hash
	Height            uint32
	Header            chain.BlockHeader
	Status            chain.BlockStatus
	ChainWork         *big.Int
	NumTransactions   uint32
	NumChainTxs       uint64
	MedianTimePast    uint32
	InActiveChain     bool
	Confirmations     uint32
	HaveData          bool
	NextHash          *chainhash.Hash
	ActiveTipDistance int64
}

// DescribeBlock returns a snapshot of the node for hash.
func (l *Ledger) DescribeBlock(hash chainhash.Hash) (*BlockInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	node := l.chain.LookupNode(hash)
	if node == nil {
		return nil, false
	}
	return l.describeLocked(node), true
}

// DescribeBlockAtHeight is DescribeBlock for the active block at height.
func (l *Ledger) DescribeBlockAtHeight(height uint32) (*BlockInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	node := l.chain.ActiveChain().At(height)
	if node == nil {
		return nil, false
	}
	return l.describeLocked(node), true
}

func (l *Ledger) describeLocked(node *chain.BlockIndex) *BlockInfo {
	active := l.chain.ActiveChain()
	header := node.Header()
	info := &BlockInfo{
		Hash:            node.Hash(),
		PrevHash:        header.PrevBlock,
		Height:          node.Height(),
		Header:          header,
		Status:          node.Status(),
		ChainWork:       node.ChainWork(),
		NumTransactions: node.NumBlockTransactions(),
		NumChainTxs:     node.NumChainTransactions(),
		MedianTimePast:  node.MedianTimePast(),
		InActiveChain:   active.Contains(node),
		HaveData:        node.Status().HaveData(),
	}
	if tip := active.Tip(); tip != nil {
		info.ActiveTipDistance = int64(tip.Height()) - int64(node.Height())
		if info.InActiveChain {
			info.Confirmations = tip.Height() - node.Height() + 1
		}
	}
	if next := active.Next(node); next != nil {
		h := next.Hash()
		info.NextHash = &h
	}
	return info
}

// BlockByHash returns a stored block or nil.
func (l *Ledger) BlockByHash(hash chainhash.Hash) *chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.BlockByHash(hash)
}

// BlockAtHeight returns the active chain's block at height or nil.
func (l *Ledger) BlockAtHeight(height uint32) *chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	node := l.chain.ActiveChain().At(height)
	if node == nil {
		return nil
	}
	return l.chain.BlockByHash(node.Hash())
}

// BlockRange describes up to count active blocks starting at height start.
func (l *Ledger) BlockRange(start uint32, count int) []*BlockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	nodes := l.chain.ActiveChain().Range(start, count)
	out := make([]*BlockInfo, len(nodes))
	for i, node := range nodes {
		out[i] = l.describeLocked(node)
	}
	return out
}

// Locator describes the active chain for a peer.
func (l *Ledger) Locator() []chainhash.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.ActiveChain().Locator()
}

// Stats summarizes the ledger.
type Stats struct {
	Network        string
	Height         uint32
	TipHash        chainhash.Hash
	ChainWork      *big.Int
	Bits           uint32
	NextBits       uint32
	MedianTimePast uint32
	ChainTxs       uint64
	KnownBlocks    int
	Candidates     int
	Unlinked       int
	Pending        int
	PendingBytes   int
	Orphans        int
	Subsidy        uint64
	RewardAddress  string
	Fee            uint64
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Network:       l.params.Name,
		KnownBlocks:   l.chain.NumNodes(),
		Candidates:    l.chain.NumCandidates(),
		Unlinked:      l.chain.NumUnlinked(),
		Pending:       l.pending.len(),
		PendingBytes:  l.pending.sizeBytes(),
		Orphans:       l.orphans.len(),
		RewardAddress: l.pow.RewardAddress(),
		Fee:           l.pow.Fee(),
	}
	if tip := l.chain.Tip(); tip != nil {
		s.Height = tip.Height()
		s.TipHash = tip.Hash()
		s.ChainWork = tip.ChainWork()
		s.Bits = tip.Bits()
		s.NextBits = l.pow.NextWorkRequired(tip)
		s.MedianTimePast = tip.MedianTimePast()
		s.ChainTxs = tip.NumChainTransactions()
		s.Subsidy = l.pow.Subsidy(tip.Height() + 1)
	}
	return s
}

// PendingCount is the number of transactions waiting to be mined.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.len()
}

// IsPending reports whether txid is still waiting to be mined.
func (l *Ledger) IsPending(txid chainhash.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.has(txid)
}

func (l *Ledger) RewardAddress() string           { return l.pow.RewardAddress() }
func (l *Ledger) SetRewardAddress(address string) { l.pow.SetRewardAddress(address) }
func (l *Ledger) Fee() uint64                     { return l.pow.Fee() }
func (l *Ledger) SetFee(fee uint64)               { l.pow.SetFee(fee) }

// Build mines one block on the current tip. The search runs without the
// ledger lock; see consensus.PoW.Build.
func (l *Ledger) Build(ctx context.Context) (*consensus.BuildResult, error) {
	return l.pow.Build(ctx)
}
