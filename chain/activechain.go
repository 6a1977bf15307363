package chain

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ActiveChain is the selected path from genesis to the current tip, indexed
// by height.
type ActiveChain struct {
	nodes []*BlockIndex
}

// Genesis returns the first node, or nil for an empty chain.
func (c *ActiveChain) Genesis() *BlockIndex {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[0]
}

func (c *ActiveChain) Tip() *BlockIndex {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[len(c.nodes)-1]
}

// Height is the tip height, or -1 for an empty chain.
func (c *ActiveChain) Height() int32 { return int32(len(c.nodes)) - 1 }

func (c *ActiveChain) Len() int { return len(c.nodes) }

// At returns the node at height h, or nil if h is past the tip.
func (c *ActiveChain) At(h uint32) *BlockIndex {
	if int(h) >= len(c.nodes) {
		return nil
	}
	return c.nodes[h]
}

// Contains reports whether n is on the chain.
func (c *ActiveChain) Contains(n *BlockIndex) bool {
	return n != nil && c.At(n.height) == n
}

// Next returns the successor of n on the chain, or nil if n is the tip or not
// on the chain.
func (c *ActiveChain) Next(n *BlockIndex) *BlockIndex {
	if !c.Contains(n) {
		return nil
	}
	return c.At(n.height + 1)
}

// SetTip makes n the tip. Only the slots that differ are rewritten, walking
// back from n until the existing chain agrees. A nil n clears the chain.
func (c *ActiveChain) SetTip(n *BlockIndex) {
	if n == nil {
		clear(c.nodes)
		c.nodes = c.nodes[:0]
		return
	}

	size := int(n.height) + 1
	if size < len(c.nodes) {
		clear(c.nodes[size:])
		c.nodes = c.nodes[:size]
	} else {
		for len(c.nodes) < size {
			c.nodes = append(c.nodes, nil)
		}
	}
	for n != nil && c.nodes[n.height] != n {
		c.nodes[n.height] = n
		n = n.Parent()
	}
}

// FindFork returns the last node shared by the chain and the branch ending
// at n.
func (c *ActiveChain) FindFork(n *BlockIndex) *BlockIndex {
	if n == nil || len(c.nodes) == 0 {
		return nil
	}
	if tipHeight := uint32(c.Height()); n.height > tipHeight {
		n = n.Ancestor(tipHeight)
	}
	for n != nil && !c.Contains(n) {
		n = n.Parent()
	}
	return n
}

// MedianTimePast returns the median of the last rng timestamps, counting back
// from the tip. An empty chain has median 0.
func (c *ActiveChain) MedianTimePast(rng int) uint32 {
	if len(c.nodes) == 0 || rng <= 0 {
		return 0
	}
	timestamps := make([]uint32, 0, rng)
	for i := len(c.nodes) - 1; i >= 0 && len(timestamps) < rng; i-- {
		timestamps = append(timestamps, c.nodes[i].timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// ValidBlockTime reports whether ts lies within maxFuture of now and is not
// below the median time past.
func (c *ActiveChain) ValidBlockTime(ts uint32, now time.Time, maxFuture time.Duration, rng int) bool {
	if int64(ts) > now.Add(maxFuture).Unix() {
		return false
	}
	return ts >= c.MedianTimePast(rng)
}

// Locator lists block hashes from the tip backwards, dense for the first ten
// then doubling the step, always ending at genesis.
func (c *ActiveChain) Locator() []chainhash.Hash {
	if len(c.nodes) == 0 {
		return nil
	}
	var locator []chainhash.Hash
	step := 1
	for h := len(c.nodes) - 1; ; h -= step {
		if h < 0 {
			h = 0
		}
		locator = append(locator, c.nodes[h].hash)
		if h == 0 {
			break
		}
		if len(locator) > 10 {
			step *= 2
		}
	}
	return locator
}

// Range returns up to count nodes starting at height start.
func (c *ActiveChain) Range(start uint32, count int) []*BlockIndex {
	if int(start) >= len(c.nodes) || count <= 0 {
		return nil
	}
	end := int(start) + count
	if end > len(c.nodes) {
		end = len(c.nodes)
	}
	out := make([]*BlockIndex, end-int(start))
	copy(out, c.nodes[start:end])
	return out
}
