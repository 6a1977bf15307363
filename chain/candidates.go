package chain

// candidateSet holds the linked nodes that could become the active tip. The
// set stays small (tips of live branches), so selecting the best one is a
// linear scan.
type candidateSet struct {
	nodes map[*BlockIndex]struct{}
}

func newCandidateSet() candidateSet {
	return candidateSet{nodes: make(map[*BlockIndex]struct{})}
}

func (s *candidateSet) add(n *BlockIndex)           { s.nodes[n] = struct{}{} }
func (s *candidateSet) remove(n *BlockIndex)        { delete(s.nodes, n) }
func (s *candidateSet) contains(n *BlockIndex) bool { _, ok := s.nodes[n]; return ok }
func (s *candidateSet) len() int                    { return len(s.nodes) }

// best returns the candidate with the most work, preferring the one received
// first on ties.
func (s *candidateSet) best() *BlockIndex {
	var best *BlockIndex
	for n := range s.nodes {
		if best == nil || workLess(best, n) {
			best = n
		}
	}
	return best
}

// pruneWorseThan drops every candidate that sorts below tip. tip itself is
// kept.
func (s *candidateSet) pruneWorseThan(tip *BlockIndex) {
	if tip == nil {
		return
	}
	for n := range s.nodes {
		if workLess(n, tip) {
			delete(s.nodes, n)
		}
	}
}
