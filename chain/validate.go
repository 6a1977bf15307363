package chain

// checkHeaderTime applies the timestamp window to a header against the active
// chain.
func (m *Manager) checkHeaderTime(header *BlockHeader) error {
	now := m.clock.AdjustedTime()
	if m.active.ValidBlockTime(header.Timestamp, now, m.params.MaxFutureBlockTime, m.params.MedianTimeSpan) {
		return nil
	}
	if limit := now.Add(m.params.MaxFutureBlockTime); int64(header.Timestamp) > limit.Unix() {
		return ruleError(ErrTimeTooNew, "block timestamp %d is after %d", header.Timestamp, limit.Unix())
	}
	mtp := m.active.MedianTimePast(m.params.MedianTimeSpan)
	return ruleError(ErrTimeTooOld, "block timestamp %d is before median time past %d", header.Timestamp, mtp)
}

// checkBlock performs the context-free checks of a block body.
func (m *Manager) checkBlock(block *Block) error {
	root, mutated := BlockMerkleRoot(block)
	if root != block.Header.MerkleRoot {
		return ruleError(ErrBadMerkleRoot, "merkle root mismatch: header %s, computed %s", block.Header.MerkleRoot, root)
	}
	if mutated {
		return ruleError(ErrMutatedMerkle, "duplicate transaction in merkle tree")
	}

	numTx := len(block.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block has no transactions")
	}
	if numTx > m.params.MaxBlockTransactions {
		return ruleError(ErrTooManyTransactions, "block has %d transactions, max %d", numTx, m.params.MaxBlockTransactions)
	}
	if size := block.SerializeSize(); size > m.params.MaxBlockSize {
		return ruleError(ErrBlockTooBig, "block is %d bytes, max %d", size, m.params.MaxBlockSize)
	}

	if !block.Transactions[0].IsCoinbase() {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction is not a coinbase")
	}
	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return ruleError(ErrMultipleCoinbases, "transaction %d is a second coinbase", i+1)
		}
	}
	return nil
}
