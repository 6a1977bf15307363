package consensus

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/protocol/params"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) AdjustedTime() time.Time { return c.now }

// testBackend serves a chain.Manager to the miner the way the ledger does,
// behind a single mutex.
type testBackend struct {
	mu      sync.Mutex
	m       *chain.Manager
	pending []*chain.Transaction
}

func (b *testBackend) Tip() *chain.BlockIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.m.Tip()
}

func (b *testBackend) PendingTransactions(limit int) []*chain.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit < len(b.pending) {
		return append([]*chain.Transaction(nil), b.pending[:limit]...)
	}
	return append([]*chain.Transaction(nil), b.pending...)
}

func (b *testBackend) SubmitBlock(block *chain.Block) (*chain.BlockIndex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.m.AcceptBlock(block)
}

func regtestParams() *params.Params {
	p := params.RegTestParams
	return &p
}

func mustNewTestPoW(t *testing.T, p *params.Params, now time.Time) (*PoW, *testBackend) {
	t.Helper()
	clock := fixedClock{now: now}
	pow, err := New(Config{Params: p, Clock: clock, RewardAddress: "miner"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := chain.NewManager(chain.ManagerConfig{Params: p, Consensus: pow, Clock: clock})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	b := &testBackend{m: m}
	pow.Attach(b)
	if _, err := pow.CreateGenesisBlock(); err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	return pow, b
}

func mustBuild(t *testing.T, pow *PoW) *BuildResult {
	t.Helper()
	res, err := pow.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

// mineHeader searches nonces until the header meets its own bits.
func mineHeader(t *testing.T, h *chain.BlockHeader, powLimit *big.Int) {
	t.Helper()
	for nonce := uint32(0); nonce < 1<<20; nonce++ {
		h.Nonce = nonce
		if ValidProofOfWork(h.BlockHash(), h.Bits, powLimit) {
			return
		}
	}
	t.Fatalf("no nonce found for bits %08x", h.Bits)
}

func genesisTime(p *params.Params) time.Time {
	return time.Unix(int64(p.GenesisTimestamp), 0)
}

func TestValidProofOfWork(t *testing.T) {
	limit := params.MainNetParams.PowLimit
	target, _, _ := chain.CompactToBig(0x1d00ffff)
	atTarget := chain.BigToHash(target)
	above := chain.BigToHash(new(big.Int).Add(target, big.NewInt(1)))

	tests := []struct {
		name string
		hash chainhash.Hash
		bits uint32
		want bool
	}{
		{"hash equal to target", atTarget, 0x1d00ffff, true},
		{"hash above target", above, 0x1d00ffff, false},
		{"zero hash", chainhash.Hash{}, 0x1d00ffff, true},
		{"zero target", chainhash.Hash{}, 0, false},
		{"negative target", chainhash.Hash{}, 0x04923456, false},
		{"overflowing target", chainhash.Hash{}, 0xff123456, false},
		{"target above limit", chainhash.Hash{}, 0x2100ffff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidProofOfWork(tt.hash, tt.bits, limit); got != tt.want {
				t.Fatalf("ValidProofOfWork(bits %08x) = %v, want %v", tt.bits, got, tt.want)
			}
		})
	}
}

func TestCheckProofOfWork_ErrorCodes(t *testing.T) {
	limit := params.MainNetParams.PowLimit
	var high chainhash.Hash
	high[31] = 0xff

	if err := checkProofOfWork(chainhash.Hash{}, 0x2100ffff, limit); !errors.Is(err, chain.ErrBadBits) {
		t.Fatalf("expected ErrBadBits, got %v", err)
	}
	if err := checkProofOfWork(high, 0x1d00ffff, limit); !errors.Is(err, chain.ErrHighHash) {
		t.Fatalf("expected ErrHighHash, got %v", err)
	}
}

func TestCalcNextWorkRequired(t *testing.T) {
	p := params.MainNetParams
	span := int64(p.TargetTimespan / time.Second)

	tests := []struct {
		name   string
		actual int64
		bits   uint32
		want   uint32
	}{
		{"on schedule", span, 0x1b0404cb, 0x1b0404cb},
		{"four times slower", 4 * span, 0x1b0404cb, 0x1b10132c},
		{"clamped slow", 10 * span, 0x1b0404cb, 0x1b10132c},
		{"four times faster", span / 4, 0x1b0404cb, 0x1b010132},
		{"clamped fast", span / 10, 0x1b0404cb, 0x1b010132},
		{"capped at limit", 4 * span, 0x1d00ffff, 0x1d00ffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcNextWorkRequired(1_000_000+tt.actual, 1_000_000, tt.bits, &p)
			if got != tt.want {
				t.Fatalf("CalcNextWorkRequired = %08x, want %08x", got, tt.want)
			}
		})
	}
}

func TestCalcSubsidy(t *testing.T) {
	p := &params.MainNetParams
	coin := p.ValueUnit

	tests := []struct {
		height uint32
		want   uint64
	}{
		{0, 50 * coin},
		{209_999, 50 * coin},
		{210_000, 25 * coin},
		{420_000, 25 * coin / 2},
		{64 * 210_000, 0},
		{65 * 210_000, 0},
	}
	for _, tt := range tests {
		if got := CalcSubsidy(tt.height, p); got != tt.want {
			t.Fatalf("CalcSubsidy(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestGenesisBlock(t *testing.T) {
	a := GenesisBlock(&params.MainNetParams)
	b := GenesisBlock(&params.MainNetParams)
	if a.BlockHash() != b.BlockHash() {
		t.Fatalf("genesis hash is not deterministic")
	}
	if a.BlockHash() == GenesisBlock(&params.TestNetParams).BlockHash() {
		t.Fatalf("mainnet and testnet share a genesis hash")
	}
	if a.Header.PrevBlock != (chainhash.Hash{}) {
		t.Fatalf("genesis has a parent")
	}
	if len(a.Transactions) != 1 || !a.Transactions[0].IsCoinbase() || a.Transactions[0].Value != 0 {
		t.Fatalf("genesis must hold a single zero-value coinbase")
	}

	pow, err := New(Config{Params: &params.MainNetParams})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if pow.GenesisHash() != a.BlockHash() {
		t.Fatalf("policy genesis hash %s, want %s", pow.GenesisHash(), a.BlockHash())
	}
}

func TestCreateGenesisBlock_Idempotent(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	tip := b.Tip()
	if tip == nil || tip.Height() != 0 || tip.Hash() != pow.GenesisHash() {
		t.Fatalf("unexpected tip after genesis: %v", tip)
	}
	again, err := pow.CreateGenesisBlock()
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	if again != tip {
		t.Fatalf("second CreateGenesisBlock changed the tip")
	}
}

func TestCheckHeader_UnexpectedDifficulty(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	tip := b.Tip()
	block, err := pow.CreateNewBlock(0x1f7fffff, 0, 1, tip)
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	mineHeader(t, &block.Header, p.PowLimit)

	err = pow.CheckHeader(&block.Header, block.BlockHash(), tip)
	if !errors.Is(err, chain.ErrUnexpectedDifficulty) {
		t.Fatalf("expected ErrUnexpectedDifficulty, got %v", err)
	}
	if _, err := b.SubmitBlock(block); !errors.Is(err, chain.ErrUnexpectedDifficulty) {
		t.Fatalf("expected manager to reject with ErrUnexpectedDifficulty, got %v", err)
	}
}

func TestCheckHeader_ParentlessNonGenesis(t *testing.T) {
	pow, err := New(Config{Params: regtestParams()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := chain.BlockHeader{Version: 1, Bits: 0x207fffff, Timestamp: 1}
	if err := pow.CheckHeader(&h, h.BlockHash(), nil); !errors.Is(err, chain.ErrOrphanHeader) {
		t.Fatalf("expected ErrOrphanHeader, got %v", err)
	}
}

func TestCheckConnect_CoinbaseOverSubsidy(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	tip := b.Tip()
	block, err := pow.CreateNewBlock(0, 0, 1, tip)
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	block.Transactions[0].Value = pow.Subsidy(1) + 1
	block.Header.MerkleRoot, _ = chain.BlockMerkleRoot(block)
	mineHeader(t, &block.Header, p.PowLimit)

	if _, err := b.SubmitBlock(block); !errors.Is(err, chain.ErrBadCoinbaseValue) {
		t.Fatalf("expected ErrBadCoinbaseValue, got %v", err)
	}
	if b.Tip() != tip {
		t.Fatalf("tip moved after rejected block")
	}
}

func TestCreateNewBlock_PaysRewardLessFee(t *testing.T) {
	p := regtestParams()
	now := genesisTime(p).Add(time.Hour)
	pow, b := mustNewTestPoW(t, p, now)
	pow.SetFee(1000)
	pow.SetRewardAddress("alice")

	block, err := pow.CreateNewBlock(0, 0, 7, b.Tip())
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	cb := block.Transactions[0]
	if cb.Recipient != "alice" || cb.Value != pow.Subsidy(1)-1000 || cb.Magic != 7 {
		t.Fatalf("unexpected coinbase %+v", cb)
	}
	if cb.Sender != p.Net.NetworkID() {
		t.Fatalf("coinbase sender %q, want %q", cb.Sender, p.Net.NetworkID())
	}
	if block.Header.Timestamp != uint32(now.Unix()) {
		t.Fatalf("timestamp %d, want %d", block.Header.Timestamp, now.Unix())
	}

	pow.SetFee(pow.Subsidy(1) + 1)
	block, err = pow.CreateNewBlock(0, 0, 0, b.Tip())
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	if v := block.Transactions[0].Value; v != 0 {
		t.Fatalf("fee above subsidy should pay 0, got %d", v)
	}
}

func TestCreateNewBlock_TimestampAfterMedian(t *testing.T) {
	p := regtestParams()
	// A clock behind genesis.
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(-time.Hour))

	block, err := pow.CreateNewBlock(0, 0, 0, b.Tip())
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	if mtp := b.Tip().MedianTimePast(); block.Header.Timestamp != mtp+1 {
		t.Fatalf("timestamp %d, want one past median time past %d", block.Header.Timestamp, mtp)
	}
	// A clock that sits exactly on the median is also raised.
	pow, b = mustNewTestPoW(t, p, genesisTime(p))
	block, err = pow.CreateNewBlock(0, 0, 0, b.Tip())
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	if block.Header.Timestamp != p.GenesisTimestamp+1 {
		t.Fatalf("timestamp %d, want %d", block.Header.Timestamp, p.GenesisTimestamp+1)
	}
}

func TestBuild_ExtendsChain(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	for i := uint32(1); i <= 5; i++ {
		res := mustBuild(t, pow)
		if res.Node.Height() != i {
			t.Fatalf("built height %d, want %d", res.Node.Height(), i)
		}
		if b.Tip() != res.Node {
			t.Fatalf("built block is not the tip")
		}
		if cb := res.Block.Transactions[0]; cb.Recipient != "miner" || cb.Value != pow.Subsidy(i) {
			t.Fatalf("unexpected coinbase %+v", cb)
		}
	}
	if pow.HashCount() == 0 {
		t.Fatalf("hash counter not updated")
	}
}

func TestBuild_IncludesPendingTransactions(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))
	b.pending = []*chain.Transaction{
		{Sender: "a", Recipient: "b", Value: 1, Magic: 1},
		{Sender: "b", Recipient: "c", Value: 2, Magic: 2},
	}

	res := mustBuild(t, pow)
	if n := len(res.Block.Transactions); n != 3 {
		t.Fatalf("block has %d transactions, want 3", n)
	}
	if res.Node.NumChainTransactions() != 4 {
		t.Fatalf("chain transactions %d, want 4", res.Node.NumChainTransactions())
	}
}

func TestBuild_RespectsBlockLimits(t *testing.T) {
	p := regtestParams()
	p.MaxBlockTransactions = 2
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))
	b.pending = []*chain.Transaction{
		{Sender: "a", Recipient: "b", Value: 1, Magic: 1},
		{Sender: "b", Recipient: "c", Value: 2, Magic: 2},
	}

	res := mustBuild(t, pow)
	if n := len(res.Block.Transactions); n != 2 {
		t.Fatalf("block has %d transactions, want 2", n)
	}
}

// movingTipBackend reports a stale tip on the first call only.
type movingTipBackend struct {
	*testBackend
	first *chain.BlockIndex
	calls int
}

func (b *movingTipBackend) Tip() *chain.BlockIndex {
	b.calls++
	if b.calls == 1 {
		return b.first
	}
	return b.testBackend.Tip()
}

func TestBuild_StaleTip(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))
	genesis := b.Tip()
	mustBuild(t, pow)
	tip := b.Tip()

	pow.Attach(&movingTipBackend{testBackend: b, first: genesis})
	if _, err := pow.Build(context.Background()); !errors.Is(err, chain.ErrStaleTip) {
		t.Fatalf("expected ErrStaleTip, got %v", err)
	}
	if b.Tip() != tip {
		t.Fatalf("stale build changed the tip")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	p := regtestParams()
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pow.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.Tip().Height() != 0 {
		t.Fatalf("cancelled build produced a block")
	}
}

func TestBuild_Retargets(t *testing.T) {
	p := regtestParams()
	p.NoRetargeting = false
	p.RetargetInterval = 4
	p.TargetTimespan = 4 * 10 * time.Minute
	// Every block lands ten seconds after genesis, far faster than the
	// target, so the retarget hits the four times harder clamp.
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(10*time.Second))

	for i := 1; i <= 3; i++ {
		if res := mustBuild(t, pow); res.Node.Bits() != p.PowLimitBits {
			t.Fatalf("block %d bits %08x, want %08x", i, res.Node.Bits(), p.PowLimitBits)
		}
	}
	const want = 0x201fffff
	if got := pow.NextWorkRequired(b.Tip()); got != want {
		t.Fatalf("NextWorkRequired = %08x, want %08x", got, want)
	}
	res := mustBuild(t, pow)
	if res.Node.Height() != 4 || res.Node.Bits() != want {
		t.Fatalf("block at height %d has bits %08x, want height 4 bits %08x", res.Node.Height(), res.Node.Bits(), want)
	}
}

func TestNextWorkRequired_WindowStartsIntervalBlocksBeforeNext(t *testing.T) {
	p := regtestParams()
	p.NoRetargeting = false
	p.RetargetInterval = 4
	p.TargetTimespan = 4 * 1000 * time.Second
	pow, b := mustNewTestPoW(t, p, genesisTime(p).Add(time.Hour))

	var stamps []uint32
	for i, offset := range []uint32{1000, 1100, 1200} {
		block, err := pow.CreateNewBlock(0, 0, uint32(i), b.Tip())
		if err != nil {
			t.Fatalf("CreateNewBlock: %v", err)
		}
		block.Header.Timestamp = p.GenesisTimestamp + offset
		mineHeader(t, &block.Header, p.PowLimit)
		if _, err := b.SubmitBlock(block); err != nil {
			t.Fatalf("SubmitBlock %d: %v", i+1, err)
		}
		stamps = append(stamps, block.Header.Timestamp)
	}

	// The first retarget measures from genesis, the ancestor at height
	// next-interval, so it never reaches below height zero.
	tip := b.Tip()
	want := CalcNextWorkRequired(int64(stamps[2]), int64(p.GenesisTimestamp), tip.Bits(), p)
	if got := pow.NextWorkRequired(tip); got != want {
		t.Fatalf("NextWorkRequired = %08x, want %08x", got, want)
	}
	if shorter := CalcNextWorkRequired(int64(stamps[2]), int64(stamps[0]), tip.Bits(), p); shorter == want {
		t.Fatalf("window choice is not observable with these timestamps")
	}
}
