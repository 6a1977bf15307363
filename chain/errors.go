package chain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a consensus rule violation. It implements error so it
// can be used directly as an errors.Is target.
type ErrorCode int

const (
	// ErrTimeTooNew: header timestamp is too far ahead of adjusted time.
	ErrTimeTooNew ErrorCode = iota

	// ErrTimeTooOld: header timestamp is below the median time past.
	ErrTimeTooOld

	// ErrBadBits: the compact target is negative, zero, overflowed or above
	// the proof-of-work limit.
	ErrBadBits

	// ErrHighHash: the block hash is above its target.
	ErrHighHash

	// ErrUnexpectedDifficulty: bits differ from the required next target.
	ErrUnexpectedDifficulty

	// ErrOrphanHeader: the previous block is not in the index.
	ErrOrphanHeader

	// ErrInvalidAncestor: the previous block or an ancestor failed validation.
	ErrInvalidAncestor

	// ErrKnownInvalid: the block itself is already marked failed.
	ErrKnownInvalid

	ErrBadMerkleRoot
	ErrMutatedMerkle
	ErrNoTransactions
	ErrTooManyTransactions
	ErrBlockTooBig
	ErrFirstTxNotCoinbase
	ErrMultipleCoinbases
	ErrBadCoinbaseValue

	// ErrStaleTip: a mined block was built on a tip that is no longer current.
	ErrStaleTip

	numErrorCodes
)

var errorCodeStrings = map[ErrorCode]string{
	ErrTimeTooNew:           "ErrTimeTooNew",
	ErrTimeTooOld:           "ErrTimeTooOld",
	ErrBadBits:              "ErrBadBits",
	ErrHighHash:             "ErrHighHash",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrOrphanHeader:         "ErrOrphanHeader",
	ErrInvalidAncestor:      "ErrInvalidAncestor",
	ErrKnownInvalid:         "ErrKnownInvalid",
	ErrBadMerkleRoot:        "ErrBadMerkleRoot",
	ErrMutatedMerkle:        "ErrMutatedMerkle",
	ErrNoTransactions:       "ErrNoTransactions",
	ErrTooManyTransactions:  "ErrTooManyTransactions",
	ErrBlockTooBig:          "ErrBlockTooBig",
	ErrFirstTxNotCoinbase:   "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:    "ErrMultipleCoinbases",
	ErrBadCoinbaseValue:     "ErrBadCoinbaseValue",
	ErrStaleTip:             "ErrStaleTip",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

func (e ErrorCode) Error() string { return e.String() }

// ErrorKind groups error codes by the stage that produced them.
type ErrorKind int

const (
	KindHeader ErrorKind = iota
	KindProofOfWork
	KindBody
	KindStale
)

func (k ErrorKind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindProofOfWork:
		return "pow"
	case KindBody:
		return "body"
	case KindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Kind reports the stage the code belongs to.
func (e ErrorCode) Kind() ErrorKind {
	switch e {
	case ErrBadBits, ErrHighHash:
		return KindProofOfWork
	case ErrBadMerkleRoot, ErrMutatedMerkle, ErrNoTransactions, ErrTooManyTransactions,
		ErrBlockTooBig, ErrFirstTxNotCoinbase, ErrMultipleCoinbases, ErrBadCoinbaseValue:
		return KindBody
	case ErrStaleTip:
		return KindStale
	default:
		return KindHeader
	}
}

// RuleError is a rejection caused by a consensus rule.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

func (e RuleError) Error() string { return e.Description }

// Unwrap exposes the code so errors.Is(err, ErrOrphanHeader) works.
func (e RuleError) Unwrap() error { return e.ErrorCode }

func ruleError(c ErrorCode, format string, args ...any) RuleError {
	return RuleError{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// NewRuleError builds a RuleError for rules checked outside this package.
func NewRuleError(c ErrorCode, format string, args ...any) RuleError {
	return ruleError(c, format, args...)
}

// AsRuleError extracts a RuleError from an error chain.
func AsRuleError(err error) (RuleError, bool) {
	var re RuleError
	ok := errors.As(err, &re)
	return re, ok
}

// panicf reports a broken internal invariant. These are programming errors,
// never input validation failures.
func panicf(format string, args ...any) {
	panic(fmt.Sprintf("chain: "+format, args...))
}
