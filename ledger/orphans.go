package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru"

	"github.com/p2pclouds/powledger/chain"
)

// orphanPool holds blocks whose parent is unknown until the parent arrives.
// The least recently added orphan is evicted once the pool is full.
type orphanPool struct {
	cache  *lru.Cache // chainhash.Hash -> *chain.Block
	byPrev map[chainhash.Hash]map[chainhash.Hash]struct{}
}

func newOrphanPool(size int) (*orphanPool, error) {
	o := &orphanPool{byPrev: make(map[chainhash.Hash]map[chainhash.Hash]struct{})}
	cache, err := lru.NewWithEvict(size, o.evicted)
	if err != nil {
		return nil, fmt.Errorf("orphan pool: %w", err)
	}
	o.cache = cache
	return o, nil
}

// evicted runs for both evictions and explicit removals.
func (o *orphanPool) evicted(key, value any) {
	hash := key.(chainhash.Hash)
	prev := value.(*chain.Block).Header.PrevBlock
	if set := o.byPrev[prev]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(o.byPrev, prev)
		}
	}
}

func (o *orphanPool) add(block *chain.Block) {
	hash := block.BlockHash()
	if o.cache.Contains(hash) {
		return
	}
	prev := block.Header.PrevBlock
	set := o.byPrev[prev]
	if set == nil {
		set = make(map[chainhash.Hash]struct{})
		o.byPrev[prev] = set
	}
	set[hash] = struct{}{}
	o.cache.Add(hash, block)
}

func (o *orphanPool) has(hash chainhash.Hash) bool { return o.cache.Contains(hash) }

func (o *orphanPool) len() int { return o.cache.Len() }

func (o *orphanPool) remove(hash chainhash.Hash) { o.cache.Remove(hash) }

// takeChildren removes and returns the orphans that build on prev.
func (o *orphanPool) takeChildren(prev chainhash.Hash) []*chain.Block {
	set := o.byPrev[prev]
	if len(set) == 0 {
		return nil
	}
	hashes := make([]chainhash.Hash, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}

	blocks := make([]*chain.Block, 0, len(hashes))
	for _, h := range hashes {
		if v, ok := o.cache.Peek(h); ok {
			blocks = append(blocks, v.(*chain.Block))
		}
		o.cache.Remove(h)
	}
	return blocks
}
