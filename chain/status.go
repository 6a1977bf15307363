package chain

import "strings"

// BlockStatus packs a validity level (low three bits) with data and failure
// flags.
type BlockStatus uint32

const (
	StatusValidUnknown BlockStatus = 0

	// StatusValidHeader: parsed, version ok, hash satisfies its claimed target.
	StatusValidHeader BlockStatus = 1

	// StatusValidTree: all parent headers found, difficulty and timestamps
	// checked.
	StatusValidTree BlockStatus = 2

	// StatusValidTransactions: body checked and every ancestor is at least at
	// this level.
	StatusValidTransactions BlockStatus = 3

	// StatusValidChain: contextual checks done, the block can be connected.
	StatusValidChain BlockStatus = 4

	// StatusValidScripts: scripts checked. Nothing is checked yet, so this is
	// reached together with StatusValidChain.
	StatusValidScripts BlockStatus = 5

	StatusValidMask BlockStatus = 7

	StatusHaveData BlockStatus = 8
	StatusHaveUndo BlockStatus = 16
	StatusHaveMask             = StatusHaveData | StatusHaveUndo

	StatusFailedValid BlockStatus = 32
	StatusFailedChild BlockStatus = 64
	StatusFailedMask              = StatusFailedValid | StatusFailedChild
)

func (s BlockStatus) ValidityLevel() BlockStatus { return s & StatusValidMask }
func (s BlockStatus) HaveData() bool             { return s&StatusHaveData != 0 }
func (s BlockStatus) HaveUndo() bool             { return s&StatusHaveUndo != 0 }
func (s BlockStatus) KnownInvalid() bool         { return s&StatusFailedMask != 0 }

var levelNames = [...]string{"unknown", "header", "tree", "transactions", "chain", "scripts", "level6", "level7"}

func (s BlockStatus) String() string {
	parts := []string{levelNames[s.ValidityLevel()]}
	if s.HaveData() {
		parts = append(parts, "data")
	}
	if s.HaveUndo() {
		parts = append(parts, "undo")
	}
	if s&StatusFailedValid != 0 {
		parts = append(parts, "failed")
	}
	if s&StatusFailedChild != 0 {
		parts = append(parts, "failed-child")
	}
	return strings.Join(parts, "|")
}
