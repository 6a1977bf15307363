package consensus

import (
	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/protocol/params"
)

// GenesisBlock builds the fixed first block of a network: no parent, the
// network's starting difficulty and a single zero-value coinbase.
func GenesisBlock(p *params.Params) *chain.Block {
	coinbase := chain.NewCoinbase(p.Net.NetworkID(), "", 0, 0)
	block := &chain.Block{
		Header: chain.BlockHeader{
			Version:   p.BlockVersion,
			Timestamp: p.GenesisTimestamp,
			Bits:      p.GenesisBits,
		},
		Transactions: []*chain.Transaction{coinbase},
	}
	block.Header.MerkleRoot, _ = chain.BlockMerkleRoot(block)
	return block
}
