package ledger

import (
	"container/list"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/chain"
)

var (
	ErrPoolFull          = errors.New("pending pool full")
	ErrCoinbaseNotPooled = errors.New("coinbase transaction cannot be pooled")
	ErrDuplicateTx       = errors.New("transaction already pending")
)

// PendingEntry is a transaction waiting for a block.
type PendingEntry struct {
	Tx      *chain.Transaction
	TxID    chainhash.Hash
	Size    int
	AddedAt time.Time

	// Height is the tip height plus one when the entry was added.
	Height uint32
}

// pendingPool keeps unmined transactions in arrival order. It has no lock of
// its own; the ledger's mutex guards it.
type pendingPool struct {
	max   int
	order *list.List
	byID  map[chainhash.Hash]*list.Element
	bytes int
}

func newPendingPool(max int) *pendingPool {
	return &pendingPool{
		max:   max,
		order: list.New(),
		byID:  make(map[chainhash.Hash]*list.Element),
	}
}

func (p *pendingPool) add(tx *chain.Transaction, height uint32) (*PendingEntry, error) {
	if tx.IsCoinbase() {
		return nil, ErrCoinbaseNotPooled
	}
	txid := tx.TxHash()
	if _, ok := p.byID[txid]; ok {
		return nil, fmt.Errorf("%s: %w", txid, ErrDuplicateTx)
	}
	if p.max > 0 && p.order.Len() >= p.max {
		return nil, fmt.Errorf("%d transactions: %w", p.order.Len(), ErrPoolFull)
	}

	entry := &PendingEntry{
		Tx:      tx,
		TxID:    txid,
		Size:    tx.SerializeSize(),
		AddedAt: time.Now(),
		Height:  height,
	}
	p.byID[txid] = p.order.PushBack(entry)
	p.bytes += entry.Size
	pendingTransactions.Set(float64(p.order.Len()))
	return entry, nil
}

func (p *pendingPool) remove(txid chainhash.Hash) bool {
	el, ok := p.byID[txid]
	if !ok {
		return false
	}
	entry := p.order.Remove(el).(*PendingEntry)
	delete(p.byID, txid)
	p.bytes -= entry.Size
	pendingTransactions.Set(float64(p.order.Len()))
	return true
}

func (p *pendingPool) has(txid chainhash.Hash) bool {
	_, ok := p.byID[txid]
	return ok
}

// take returns up to limit transactions, oldest first, without removing
// them. They leave the pool when a block carrying them connects.
func (p *pendingPool) take(limit int) []*chain.Transaction {
	if limit > p.order.Len() {
		limit = p.order.Len()
	}
	if limit <= 0 {
		return nil
	}
	txs := make([]*chain.Transaction, 0, limit)
	for el := p.order.Front(); el != nil && len(txs) < limit; el = el.Next() {
		txs = append(txs, el.Value.(*PendingEntry).Tx)
	}
	return txs
}

func (p *pendingPool) len() int       { return p.order.Len() }
func (p *pendingPool) sizeBytes() int { return p.bytes }

// blockConnected drops the block's transactions from the pool.
func (p *pendingPool) blockConnected(block *chain.Block) int {
	removed := 0
	for _, tx := range block.Transactions[1:] {
		if p.remove(tx.TxHash()) {
			removed++
		}
	}
	return removed
}

// blockDisconnected returns the block's non-coinbase transactions to the
// pool. Transactions that no longer fit are dropped.
func (p *pendingPool) blockDisconnected(block *chain.Block, height uint32) int {
	restored := 0
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		if _, err := p.add(tx, height); err == nil {
			restored++
		}
	}
	return restored
}
