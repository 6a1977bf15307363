package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap/zapcore"

	"github.com/p2pclouds/powledger/wire"
)

// MaxAddressLength bounds the sender and recipient fields.
const MaxAddressLength = 256

// Transaction is an opaque value transfer. The ledger does not track balances;
// a transaction only has to be well formed to be included in a block.
type Transaction struct {
	Sender    string
	Recipient string
	Value     uint64

	// Magic makes otherwise identical transactions hash differently. For a
	// coinbase it carries the miner's extra nonce.
	Magic    uint32
	Coinbase bool
}

// NewCoinbase creates the reward transaction of a block.
func NewCoinbase(sender, recipient string, value uint64, magic uint32) *Transaction {
	return &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Value:     value,
		Magic:     magic,
		Coinbase:  true,
	}
}

func (tx *Transaction) IsCoinbase() bool { return tx.Coinbase }

// Serialize appends the wire encoding of tx to w.
func (tx *Transaction) Serialize(w *wire.Buffer) {
	w.WriteString(tx.Sender)
	w.WriteString(tx.Recipient)
	w.WriteUint64(tx.Value)
	w.WriteUint32(tx.Magic)
	w.WriteBool(tx.Coinbase)
}

// SerializeSize returns the encoded length without encoding.
func (tx *Transaction) SerializeSize() int {
	return compactSizeLen(uint64(len(tx.Sender))) + len(tx.Sender) +
		compactSizeLen(uint64(len(tx.Recipient))) + len(tx.Recipient) +
		8 + 4 + 1
}

func (tx *Transaction) Bytes() []byte {
	w := wire.NewBuffer(tx.SerializeSize())
	tx.Serialize(w)
	return w.Bytes()
}

// TxHash is the double SHA-256 of the serialized transaction.
func (tx *Transaction) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Bytes())
}

// Deserialize decodes a transaction from r.
func (tx *Transaction) Deserialize(r *wire.Buffer) error {
	var err error
	if tx.Sender, err = r.ReadString(MaxAddressLength); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if tx.Recipient, err = r.ReadString(MaxAddressLength); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if tx.Value, err = r.ReadUint64(); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if tx.Magic, err = r.ReadUint32(); err != nil {
		return fmt.Errorf("magic: %w", err)
	}
	if tx.Coinbase, err = r.ReadBool(); err != nil {
		return fmt.Errorf("coinbase flag: %w", err)
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (tx *Transaction) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("txid", tx.TxHash().String())
	enc.AddString("sender", tx.Sender)
	enc.AddString("recipient", tx.Recipient)
	enc.AddUint64("value", tx.Value)
	enc.AddBool("coinbase", tx.Coinbase)
	return nil
}

func compactSizeLen(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}
