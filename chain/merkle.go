package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// ComputeMerkleRoot folds leaves pairwise with double SHA-256, duplicating the
// last element of odd levels. mutated is set when two hashes of a pair are
// equal: such a tree has the same root as a tree with the duplicate removed,
// so a block claiming it cannot be trusted.
func ComputeMerkleRoot(leaves []chainhash.Hash) (root chainhash.Hash, mutated bool) {
	if len(leaves) == 0 {
		return chainhash.Hash{}, false
	}
	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		for i := 0; i+1 < len(level); i += 2 {
			if level[i] == level[i+1] {
				mutated = true
			}
		}
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := range next {
			next[i] = hashMerkleBranches(&level[2*i], &level[2*i+1])
		}
		level = next
	}
	return level[0], mutated
}

// BlockMerkleRoot is the merkle root over the block's transaction ids.
func BlockMerkleRoot(b *Block) (chainhash.Hash, bool) {
	return ComputeMerkleRoot(b.TxHashes())
}
