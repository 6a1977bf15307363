package chain

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/protocol/params"
)

// maxBlocksToConnect bounds how many blocks one activation step connects
// before re-selecting the best candidate.
const maxBlocksToConnect = 32

// Consensus supplies the policy specific rules the manager defers to.
type Consensus interface {
	// GenesisHash identifies the one block allowed to have no parent.
	GenesisHash() chainhash.Hash

	// CheckHeader validates proof of work and difficulty. parent is nil only
	// for genesis.
	CheckHeader(header *BlockHeader, hash chainhash.Hash, parent *BlockIndex) error

	// CheckConnect runs the contextual checks for attaching block at node to
	// the active chain.
	CheckConnect(block *Block, node *BlockIndex) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Params    *params.Params
	Consensus Consensus
	Clock     Clock
	Logger    *zap.Logger

	// Notify receives chain events. Optional.
	Notify func(*Notification)
}

// Manager maintains the block tree, the candidate tips and the active chain.
//
// Manager is not safe for concurrent use. Its owner must serialize every call,
// including reads of the nodes it returns.
type Manager struct {
	params    *params.Params
	consensus Consensus
	clock     Clock
	log       *zap.Logger
	notify    func(*Notification)

	arena  nodeArena
	index  map[chainhash.Hash]*BlockIndex
	blocks map[chainhash.Hash]*Block
	active ActiveChain

	candidates candidateSet

	// unlinked maps a node to children that have data while it does not.
	unlinked map[*BlockIndex][]*BlockIndex

	nextSequenceID uint32
}

// NewManager returns an empty manager. Genesis has to be submitted through
// AcceptBlock before anything else can be accepted.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Params == nil {
		return nil, errors.New("chain manager requires params")
	}
	if cfg.Consensus == nil {
		return nil, errors.New("chain manager requires a consensus policy")
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		params:         cfg.Params,
		consensus:      cfg.Consensus,
		clock:          cfg.Clock,
		log:            cfg.Logger,
		notify:         cfg.Notify,
		index:          make(map[chainhash.Hash]*BlockIndex),
		blocks:         make(map[chainhash.Hash]*Block),
		candidates:     newCandidateSet(),
		unlinked:       make(map[*BlockIndex][]*BlockIndex),
		nextSequenceID: 1,
	}, nil
}

// Params returns the consensus parameters the manager runs with.
func (m *Manager) Params() *params.Params { return m.params }

// ActiveChain exposes the active chain. Callers must not modify it.
func (m *Manager) ActiveChain() *ActiveChain { return &m.active }

func (m *Manager) Tip() *BlockIndex { return m.active.Tip() }

// LookupNode returns the node for hash, or nil.
func (m *Manager) LookupNode(hash chainhash.Hash) *BlockIndex { return m.index[hash] }

// BlockByHash returns the stored block for hash, or nil when only its header
// is known.
func (m *Manager) BlockByHash(hash chainhash.Hash) *Block { return m.blocks[hash] }

func (m *Manager) NumNodes() int      { return len(m.index) }
func (m *Manager) NumCandidates() int { return m.candidates.len() }

// NumUnlinked counts nodes waiting for an ancestor's data.
func (m *Manager) NumUnlinked() int {
	n := 0
	for _, children := range m.unlinked {
		n += len(children)
	}
	return n
}

// AcceptHeader validates a header and adds it to the index without a body.
// Bodies for such nodes can arrive later through AcceptBlock, in any order.
func (m *Manager) AcceptHeader(header *BlockHeader) (*BlockIndex, error) {
	hash := header.BlockHash()
	node, _, err := m.acceptHeader(header, hash, hash == m.consensus.GenesisHash())
	return node, err
}

// AcceptBlock validates block, stores it and activates the best chain.
//
// Submitting a block that is already stored is a no-op that returns its node,
// provided the body matches the stored header. When validation fails before the block is stored, a node created by this
// call is removed again; nodes that existed before are left untouched.
func (m *Manager) AcceptBlock(block *Block) (*BlockIndex, error) {
	hash := block.BlockHash()
	isGenesis := hash == m.consensus.GenesisHash()

	if node := m.index[hash]; node != nil {
		if node.status.KnownInvalid() {
			return nil, ruleError(ErrKnownInvalid, "block %s is known to be invalid", hash)
		}
		if node.status.HaveData() {
			if err := m.checkBlock(block); err != nil {
				return nil, err
			}
			return node, nil
		}
	}

	node, created, err := m.acceptHeader(&block.Header, hash, isGenesis)
	if err != nil {
		return nil, err
	}

	if !isGenesis {
		if err := m.checkBlock(block); err != nil {
			if created {
				m.discard(node)
			}
			return nil, err
		}
	}

	m.blocks[hash] = block
	m.receiveBlock(node, len(block.Transactions))

	if isGenesis {
		m.activateGenesis(node, block)
		return node, nil
	}

	failures := m.activateBestChain()
	for _, f := range failures {
		if f.node == node {
			return nil, f.err
		}
	}
	if node.status.KnownInvalid() {
		return nil, ruleError(ErrInvalidAncestor, "block %s descends from an invalid block", hash)
	}
	return node, nil
}

// acceptHeader runs the header checks and locates or creates the node.
// created reports whether the node is new.
func (m *Manager) acceptHeader(header *BlockHeader, hash chainhash.Hash, isGenesis bool) (*BlockIndex, bool, error) {
	if node := m.index[hash]; node != nil {
		if node.status.KnownInvalid() {
			return nil, false, ruleError(ErrKnownInvalid, "block %s is known to be invalid", hash)
		}
		return node, false, nil
	}

	if err := m.checkHeaderTime(header); err != nil {
		return nil, false, err
	}

	var parent *BlockIndex
	if !isGenesis {
		parent = m.index[header.PrevBlock]
		if parent == nil {
			return nil, false, ruleError(ErrOrphanHeader, "previous block %s is unknown", header.PrevBlock)
		}
		if parent.status.KnownInvalid() {
			return nil, false, ruleError(ErrInvalidAncestor, "previous block %s is invalid", header.PrevBlock)
		}
	}

	if err := m.consensus.CheckHeader(header, hash, parent); err != nil {
		return nil, false, err
	}

	node := m.addToIndex(header, hash, parent)
	return node, true, nil
}

func (m *Manager) addToIndex(header *BlockHeader, hash chainhash.Hash, parent *BlockIndex) *BlockIndex {
	if _, exists := m.index[hash]; exists {
		panicf("block %s indexed twice", hash)
	}
	if parent == nil && m.arena.len() != 0 {
		panicf("second parentless block %s", hash)
	}
	node := newBlockIndex(&m.arena, header, hash, parent)
	node.RaiseValidity(StatusValidTree)
	m.index[hash] = node
	return node
}

// discard removes a node created by the current call.
func (m *Manager) discard(node *BlockIndex) {
	delete(m.index, node.hash)
	m.arena.discard(node)
}

// receiveBlock records that node's data is present and links it, plus any
// descendants that were waiting on it, into the candidate set.
func (m *Manager) receiveBlock(node *BlockIndex, numTx int) {
	node.numBlockTransactions = uint32(numTx)
	node.numChainTransactions = 0
	node.status |= StatusHaveData
	node.RaiseValidity(StatusValidTransactions)

	parent := node.Parent()
	if parent != nil && parent.numChainTransactions == 0 {
		if parent.IsValid(StatusValidTree) {
			m.unlinked[parent] = append(m.unlinked[parent], node)
			m.log.Debug("block waiting for parent data",
				zap.Object("block", node), zap.Stringer("parent", parent.hash))
		}
		return
	}

	queue := []*BlockIndex{node}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		var base uint64
		if p := n.Parent(); p != nil {
			base = p.numChainTransactions
		}
		n.numChainTransactions = base + uint64(n.numBlockTransactions)
		n.sequenceID = m.nextSequenceID
		m.nextSequenceID++

		if tip := m.active.Tip(); tip == nil || !workLess(n, tip) {
			m.candidates.add(n)
		}

		if children, ok := m.unlinked[n]; ok {
			delete(m.unlinked, n)
			queue = append(queue, children...)
		}
	}
}

func (m *Manager) activateGenesis(node *BlockIndex, block *Block) {
	m.active.SetTip(nil)
	m.active.SetTip(node)
	node.RaiseValidity(StatusValidScripts)
	node.status |= StatusHaveUndo
	m.candidates.pruneWorseThan(node)
	m.log.Info("genesis block activated", zap.Object("block", node))
	m.send(&Notification{Type: NTBlockConnected, Node: node, Block: block})
}

type connectFailure struct {
	node *BlockIndex
	err  error
}

// activateBestChain moves the active chain to the best valid candidate. It
// returns the blocks that failed to connect along the way.
func (m *Manager) activateBestChain() []connectFailure {
	var failures []connectFailure
	for {
		best := m.findMostWorkChain()
		tip := m.active.Tip()
		if best == nil || best == tip {
			return failures
		}
		if tip != nil && !workLess(tip, best) {
			return failures
		}
		if f := m.activateBestChainStep(best); f != nil {
			failures = append(failures, *f)
		}
	}
}

// findMostWorkChain returns the best candidate whose whole branch down to the
// active chain has data and no failures. Candidates on broken branches are
// purged on the way, and descendants of failed blocks are marked failed.
func (m *Manager) findMostWorkChain() *BlockIndex {
	for {
		best := m.candidates.best()
		if best == nil {
			return nil
		}

		usable := true
		for test := best; test != nil && !m.active.Contains(test); test = test.Parent() {
			failed := test.status.KnownInvalid()
			missing := !test.status.HaveData()
			if !failed && !missing {
				continue
			}

			for bad := best; bad != test; bad = bad.Parent() {
				if failed {
					bad.status |= StatusFailedChild
				} else if p := bad.Parent(); p != nil {
					m.unlinked[p] = append(m.unlinked[p], bad)
				}
				m.candidates.remove(bad)
			}
			m.candidates.remove(test)
			usable = false
			break
		}
		if usable {
			return best
		}
	}
}

// activateBestChainStep switches the active chain to best. If a block on the
// way fails to connect, it is marked failed and the previous tip is restored.
func (m *Manager) activateBestChainStep(best *BlockIndex) *connectFailure {
	oldTip := m.active.Tip()
	fork := m.active.FindFork(best)

	var depth uint32
	for tip := m.active.Tip(); tip != nil && tip != fork; tip = m.active.Tip() {
		m.disconnectTip()
		depth++
	}

	height := int64(-1)
	if fork != nil {
		height = int64(fork.height)
	}
	for height < int64(best.height) {
		target := height + maxBlocksToConnect
		if target > int64(best.height) {
			target = int64(best.height)
		}

		var batch []*BlockIndex
		for n := best.Ancestor(uint32(target)); n != nil && int64(n.height) > height; n = n.Parent() {
			batch = append(batch, n)
		}
		for i := len(batch) - 1; i >= 0; i-- {
			n := batch[i]
			if err := m.connectTip(n); err != nil {
				m.invalidBlockFound(n, err)
				m.restoreTip(fork, oldTip)
				return &connectFailure{node: n, err: err}
			}
		}
		height = target
	}

	m.candidates.pruneWorseThan(m.active.Tip())

	if depth > 0 {
		fields := []zap.Field{
			zap.Object("old_tip", oldTip),
			zap.Object("new_tip", best),
			zap.Uint32("depth", depth),
		}
		if depth >= m.params.ActiveChainMinHeight {
			m.log.Warn("deep chain reorganization", fields...)
		} else {
			m.log.Info("chain reorganization", fields...)
		}
		m.send(&Notification{Type: NTReorganization, Node: best, OldTip: oldTip, Depth: depth})
	}
	return nil
}

// connectTip validates node against the current tip and attaches it.
func (m *Manager) connectTip(node *BlockIndex) error {
	block := m.blocks[node.hash]
	if block == nil {
		panicf("connecting block %s without data", node.hash)
	}
	if node.Parent() != m.active.Tip() {
		panicf("connecting block %s which does not extend the tip", node.hash)
	}
	if err := m.consensus.CheckConnect(block, node); err != nil {
		return err
	}
	m.applyConnect(node, block)
	return nil
}

func (m *Manager) applyConnect(node *BlockIndex, block *Block) {
	m.active.SetTip(node)
	node.RaiseValidity(StatusValidScripts)
	node.status |= StatusHaveUndo
	m.log.Debug("block connected", zap.Object("block", node))
	m.send(&Notification{Type: NTBlockConnected, Node: node, Block: block})
}

func (m *Manager) disconnectTip() {
	tip := m.active.Tip()
	if tip == nil {
		panicf("disconnect on empty chain")
	}
	m.active.SetTip(tip.Parent())
	m.log.Debug("block disconnected", zap.Object("block", tip))
	m.send(&Notification{Type: NTBlockDisconnected, Node: tip, Block: m.blocks[tip.hash]})
}

// restoreTip rewinds to fork and reconnects the branch ending at oldTip.
// Those blocks were connected before, so they are not validated again.
func (m *Manager) restoreTip(fork, oldTip *BlockIndex) {
	for tip := m.active.Tip(); tip != nil && tip != fork; tip = m.active.Tip() {
		m.disconnectTip()
	}
	if oldTip == nil || oldTip == fork {
		return
	}

	var path []*BlockIndex
	for n := oldTip; n != fork; n = n.Parent() {
		path = append(path, n)
	}
	for i := len(path) - 1; i >= 0; i-- {
		m.applyConnect(path[i], m.blocks[path[i].hash])
	}
	m.candidates.add(oldTip)
}

// invalidBlockFound marks node as failed. Its descendants are marked when
// findMostWorkChain next walks over them.
func (m *Manager) invalidBlockFound(node *BlockIndex, err error) {
	node.status |= StatusFailedValid
	m.candidates.remove(node)
	m.log.Warn("block failed to connect", zap.Object("block", node), zap.Error(err))
}

func (m *Manager) send(n *Notification) {
	if m.notify != nil {
		m.notify(n)
	}
}
