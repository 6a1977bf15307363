package chain

import (
	"math/big"
	"sort"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap/zapcore"
)

// medianTimeBlocks is the number of previous blocks used for the median time
// of a node.
const medianTimeBlocks = 11

// NodeID is a stable handle to a node inside its arena. Zero means none.
type NodeID uint32

const NoNode NodeID = 0

const arenaChunkSize = 1024

type arenaChunk [arenaChunkSize]*BlockIndex

// nodeArena owns every BlockIndex of a manager. Parent and skip links are
// handles into it. Only the newest node can be dropped, which is the only
// node a failed submission ever needs to roll back.
//
// Lookups are safe without the manager lock: chunks never move and the chunk
// list is replaced atomically when it grows, so a miner can walk ancestors of
// a tip it obtained earlier while new nodes are being added.
type nodeArena struct {
	chunks atomic.Pointer[[]*arenaChunk]
	count  int
}

func (a *nodeArena) get(id NodeID) *BlockIndex {
	if id == NoNode {
		return nil
	}
	i := int(id) - 1
	var n *BlockIndex
	if chunks := a.chunks.Load(); chunks != nil && i/arenaChunkSize < len(*chunks) {
		n = (*chunks)[i/arenaChunkSize][i%arenaChunkSize]
	}
	if n == nil {
		panicf("dangling node handle %d", id)
	}
	return n
}

func (a *nodeArena) add(n *BlockIndex) {
	i := a.count
	var chunks []*arenaChunk
	if cur := a.chunks.Load(); cur != nil {
		chunks = *cur
	}
	if i/arenaChunkSize == len(chunks) {
		grown := make([]*arenaChunk, len(chunks)+1)
		copy(grown, chunks)
		grown[len(chunks)] = new(arenaChunk)
		a.chunks.Store(&grown)
		chunks = grown
	}
	chunks[i/arenaChunkSize][i%arenaChunkSize] = n
	a.count++
	n.id = NodeID(a.count)
	n.arena = a
}

func (a *nodeArena) discard(n *BlockIndex) {
	if n.arena != a || int(n.id) != a.count {
		panicf("discard of node %d which is not the newest of %d", n.id, a.count)
	}
	i := a.count - 1
	(*a.chunks.Load())[i/arenaChunkSize][i%arenaChunkSize] = nil
	a.count--
	n.arena, n.id = nil, NoNode
}

func (a *nodeArena) len() int { return a.count }

// BlockIndex is one header in the block tree together with what is known
// about it.
//
// Identity fields never change after creation. Status, transaction counts and
// the sequence id are updated by the manager and must only be read under the
// same lock that serializes manager calls.
type BlockIndex struct {
	arena  *nodeArena
	id     NodeID
	parent NodeID
	skip   NodeID

	hash      chainhash.Hash
	height    uint32
	chainWork *big.Int

	version    int32
	merkleRoot chainhash.Hash
	timestamp  uint32
	bits       uint32
	nonce      uint32

	status               BlockStatus
	numBlockTransactions uint32
	numChainTransactions uint64
	sequenceID           uint32
}

// newBlockIndex builds a node for header on top of parent and registers it
// in arena. Height, cumulative work and the skip pointer derive from the
// parent.
func newBlockIndex(arena *nodeArena, header *BlockHeader, hash chainhash.Hash, parent *BlockIndex) *BlockIndex {
	n := &BlockIndex{
		hash:       hash,
		version:    header.Version,
		merkleRoot: header.MerkleRoot,
		timestamp:  header.Timestamp,
		bits:       header.Bits,
		nonce:      header.Nonce,
		chainWork:  CalcWork(header.Bits),
	}
	if parent != nil {
		n.parent = parent.id
		n.height = parent.height + 1
		n.chainWork.Add(n.chainWork, parent.chainWork)
	}
	arena.add(n)
	n.buildSkip()
	return n
}

func (n *BlockIndex) ID() NodeID                   { return n.id }
func (n *BlockIndex) Hash() chainhash.Hash         { return n.hash }
func (n *BlockIndex) Height() uint32               { return n.height }
func (n *BlockIndex) Bits() uint32                 { return n.bits }
func (n *BlockIndex) Timestamp() uint32            { return n.timestamp }
func (n *BlockIndex) Status() BlockStatus          { return n.status }
func (n *BlockIndex) NumBlockTransactions() uint32 { return n.numBlockTransactions }
func (n *BlockIndex) NumChainTransactions() uint64 { return n.numChainTransactions }
func (n *BlockIndex) SequenceID() uint32           { return n.sequenceID }

// ChainWork returns a copy of the cumulative work up to and including n.
func (n *BlockIndex) ChainWork() *big.Int { return new(big.Int).Set(n.chainWork) }

func (n *BlockIndex) Parent() *BlockIndex { return n.arena.get(n.parent) }
func (n *BlockIndex) Skip() *BlockIndex   { return n.arena.get(n.skip) }

// Header reconstructs the block header from the node.
func (n *BlockIndex) Header() BlockHeader {
	var prev chainhash.Hash
	if p := n.Parent(); p != nil {
		prev = p.hash
	}
	return BlockHeader{
		Version:    n.version,
		PrevBlock:  prev,
		MerkleRoot: n.merkleRoot,
		Timestamp:  n.timestamp,
		Bits:       n.bits,
		Nonce:      n.nonce,
	}
}

// IsValid reports whether n has reached level and is not marked failed.
func (n *BlockIndex) IsValid(level BlockStatus) bool {
	if n.status.KnownInvalid() {
		return false
	}
	return n.status.ValidityLevel() >= level
}

// RaiseValidity moves n up to level. It returns false if n is failed or was
// already at least at level.
func (n *BlockIndex) RaiseValidity(level BlockStatus) bool {
	if n.status.KnownInvalid() {
		return false
	}
	if n.status.ValidityLevel() >= level {
		return false
	}
	n.status = n.status&^StatusValidMask | level
	return true
}

func invertLowestOne(n int64) int64 { return n & (n - 1) }

// skipHeight returns the height the skip pointer of a node at height points
// to. Any number strictly lower than height works; this choice keeps lookups
// logarithmic.
func skipHeight(height int64) int64 {
	if height < 2 {
		return 0
	}
	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

func (n *BlockIndex) buildSkip() {
	if p := n.Parent(); p != nil {
		n.skip = p.Ancestor(uint32(skipHeight(int64(n.height)))).id
	}
}

// Ancestor returns the ancestor of n at height, or nil when height is above
// n. The skip pointer is followed unless the parent's skip pointer is known
// to land closer to the target.
func (n *BlockIndex) Ancestor(height uint32) *BlockIndex {
	if height > n.height {
		return nil
	}

	target := int64(height)
	walk := n
	heightWalk := int64(n.height)
	for heightWalk > target {
		hs := skipHeight(heightWalk)
		hsPrev := skipHeight(heightWalk - 1)
		if walk.skip != NoNode && (hs == target ||
			(hs > target && !(hsPrev < hs-2 && hsPrev >= target))) {
			walk = walk.Skip()
			heightWalk = hs
			continue
		}
		if walk.parent == NoNode {
			panicf("node %s at height %d has no parent", walk.hash, heightWalk)
		}
		walk = walk.Parent()
		heightWalk--
	}
	if walk.height != height {
		panicf("corrupt skip list: wanted height %d, reached %d", height, walk.height)
	}
	return walk
}

// MedianTimePast is the median timestamp of n and up to ten of its
// ancestors.
func (n *BlockIndex) MedianTimePast() uint32 {
	timestamps := make([]uint32, 0, medianTimeBlocks)
	for it := n; it != nil && len(timestamps) < medianTimeBlocks; it = it.Parent() {
		timestamps = append(timestamps, it.timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (n *BlockIndex) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("hash", n.hash.String())
	enc.AddUint32("height", n.height)
	enc.AddString("work", n.chainWork.Text(16))
	enc.AddString("status", n.status.String())
	enc.AddUint32("seq", n.sequenceID)
	return nil
}

// workLess reports whether a is a worse chain tip than b: less work, or equal
// work but received later. Node ids break the remaining ties.
func workLess(a, b *BlockIndex) bool {
	if c := a.chainWork.Cmp(b.chainWork); c != 0 {
		return c < 0
	}
	if a.sequenceID != b.sequenceID {
		return a.sequenceID > b.sequenceID
	}
	return a.id > b.id
}
