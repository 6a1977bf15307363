package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/protocol/params"
)

const (
	testBits      = 0x207fffff
	testBaseTime  = 1735689600
	testBlockTime = 600
)

// testConsensus accepts every header and lets a test reject selected blocks
// at connect time.
type testConsensus struct {
	genesis       chainhash.Hash
	rejectConnect map[chainhash.Hash]bool
}

func (c *testConsensus) GenesisHash() chainhash.Hash { return c.genesis }

func (c *testConsensus) CheckHeader(*BlockHeader, chainhash.Hash, *BlockIndex) error { return nil }

func (c *testConsensus) CheckConnect(_ *Block, node *BlockIndex) error {
	if c.rejectConnect[node.Hash()] {
		return NewRuleError(ErrBadCoinbaseValue, "coinbase of %s pays too much", node.Hash())
	}
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) AdjustedTime() time.Time { return c.now }

func testParams() *params.Params {
	p := params.RegTestParams
	return &p
}

// newTestBlock builds a block on parent (nil for genesis). tag goes into the
// coinbase so sibling blocks hash differently.
func newTestBlock(parent *Block, tag string, txs ...*Transaction) *Block {
	return newTestBlockStep(parent, tag, testBlockTime, txs...)
}

// newTestBlockStep is newTestBlock with a custom time gap to the parent.
// Side branches need larger gaps because the timestamp floor is the median
// time past of the active chain, not of the branch.
func newTestBlockStep(parent *Block, tag string, step uint32, txs ...*Transaction) *Block {
	b := &Block{
		Header: BlockHeader{
			Version:   1,
			Timestamp: testBaseTime,
			Bits:      testBits,
		},
	}
	if parent != nil {
		b.Header.PrevBlock = parent.BlockHash()
		b.Header.Timestamp = parent.Header.Timestamp + step
	}
	b.Transactions = append([]*Transaction{NewCoinbase("", tag, 50, 0)}, txs...)
	b.Header.MerkleRoot, _ = BlockMerkleRoot(b)
	return b
}

type testChain struct {
	m         *Manager
	consensus *testConsensus
	genesis   *Block
	events    []*Notification
}

func mustNewTestManager(t *testing.T) *testChain {
	t.Helper()
	return mustNewTestManagerWithParams(t, testParams())
}

func mustNewTestManagerWithParams(t *testing.T, p *params.Params) *testChain {
	t.Helper()

	genesis := newTestBlock(nil, "genesis")
	tc := &testChain{
		consensus: &testConsensus{
			genesis:       genesis.BlockHash(),
			rejectConnect: make(map[chainhash.Hash]bool),
		},
		genesis: genesis,
	}
	m, err := NewManager(ManagerConfig{
		Params:    p,
		Consensus: tc.consensus,
		Clock:     fixedClock{now: time.Unix(testBaseTime+1_000_000, 0)},
		Notify:    func(n *Notification) { tc.events = append(tc.events, n) },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tc.m = m
	mustAccept(t, m, genesis)
	return tc
}

func mustAccept(t *testing.T, m *Manager, b *Block) *BlockIndex {
	t.Helper()
	node, err := m.AcceptBlock(b)
	if err != nil {
		t.Fatalf("AcceptBlock(%s): %v", b.BlockHash(), err)
	}
	return node
}

// mustExtend accepts n blocks on top of parent and returns them.
func mustExtend(t *testing.T, m *Manager, parent *Block, n int, tag string) []*Block {
	t.Helper()
	return mustExtendStep(t, m, parent, n, tag, testBlockTime)
}

func mustExtendStep(t *testing.T, m *Manager, parent *Block, n int, tag string, step uint32) []*Block {
	t.Helper()
	blocks := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b := newTestBlockStep(parent, tag, step)
		mustAccept(t, m, b)
		blocks = append(blocks, b)
		parent = b
	}
	return blocks
}

func assertTip(t *testing.T, m *Manager, want *Block, wantHeight uint32) {
	t.Helper()
	tip := m.Tip()
	if tip == nil {
		t.Fatalf("no tip")
	}
	if tip.Hash() != want.BlockHash() {
		t.Fatalf("tip is %s, want %s", tip.Hash(), want.BlockHash())
	}
	if tip.Height() != wantHeight {
		t.Fatalf("tip height %d, want %d", tip.Height(), wantHeight)
	}
}
