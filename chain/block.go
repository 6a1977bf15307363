package chain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/p2pclouds/powledger/wire"
)

// BlockHeaderSize is the serialized header length. The nonce occupies the
// last four bytes.
const BlockHeaderSize = 80

// NonceOffset is the position of the nonce inside a serialized header.
const NonceOffset = BlockHeaderSize - 4

// minTxSize is the smallest possible encoded transaction.
const minTxSize = 1 + 1 + 8 + 4 + 1

// BlockHeader carries the proof-of-work fields of a block.
type BlockHeader struct {
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

func (h *BlockHeader) Serialize(w *wire.Buffer) {
	w.WriteInt32(h.Version)
	w.Write(h.PrevBlock[:])
	w.Write(h.MerkleRoot[:])
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.Bits)
	w.WriteUint32(h.Nonce)
}

func (h *BlockHeader) Bytes() []byte {
	w := wire.NewBuffer(BlockHeaderSize)
	h.Serialize(w)
	return w.Bytes()
}

// BlockHash is the double SHA-256 of the serialized header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Bytes())
}

func (h *BlockHeader) Time() time.Time { return time.Unix(int64(h.Timestamp), 0) }

func (h *BlockHeader) Deserialize(r *wire.Buffer) error {
	var err error
	if h.Version, err = r.ReadInt32(); err != nil {
		return err
	}
	if _, err = r.Read(h.PrevBlock[:]); err != nil {
		return err
	}
	if _, err = r.Read(h.MerkleRoot[:]); err != nil {
		return err
	}
	if h.Timestamp, err = r.ReadUint32(); err != nil {
		return err
	}
	if h.Bits, err = r.ReadUint32(); err != nil {
		return err
	}
	h.Nonce, err = r.ReadUint32()
	return err
}

// Block is a header plus its ordered transactions. The first transaction
// must be the coinbase.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

func (b *Block) BlockHash() chainhash.Hash { return b.Header.BlockHash() }

func (b *Block) Serialize(w *wire.Buffer) {
	b.Header.Serialize(w)
	w.WriteCompactSize(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.Serialize(w)
	}
}

// SerializeSize is the encoded block length, which is what the size limit
// applies to.
func (b *Block) SerializeSize() int {
	n := BlockHeaderSize + compactSizeLen(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

func (b *Block) Bytes() []byte {
	w := wire.NewBuffer(b.SerializeSize())
	b.Serialize(w)
	return w.Bytes()
}

func (b *Block) Deserialize(r *wire.Buffer) error {
	if err := b.Header.Deserialize(r); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	count, err := r.ReadCompactSize()
	if err != nil {
		return fmt.Errorf("tx count: %w", err)
	}
	if count > uint64(r.Remaining()/minTxSize) {
		return fmt.Errorf("tx count %d exceeds payload: %w", count, wire.ErrInvalidLength)
	}
	b.Transactions = make([]*Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := new(Transaction)
		if err := tx.Deserialize(r); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return nil
}

// DeserializeBlock decodes a block and rejects trailing bytes.
func DeserializeBlock(data []byte) (*Block, error) {
	if len(data) > wire.MaxBufferSize {
		return nil, fmt.Errorf("block of %d bytes: %w", len(data), wire.ErrInvalidLength)
	}
	r := wire.NewReader(data)
	b := new(Block)
	if err := b.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes: %w", r.Remaining(), wire.ErrInvalidLength)
	}
	return b, nil
}

// TxHashes returns the ids of the block's transactions in order.
func (b *Block) TxHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.TxHash()
	}
	return hashes
}

func (b *Block) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("hash", b.BlockHash().String())
	enc.AddString("prev", b.Header.PrevBlock.String())
	enc.AddUint32("bits", b.Header.Bits)
	enc.AddUint32("time", b.Header.Timestamp)
	enc.AddInt("txs", len(b.Transactions))
	return nil
}

// Transactions adapts a transaction list to zapcore.ArrayMarshaler.
type Transactions []*Transaction

func (txs Transactions) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	var err error
	for _, tx := range txs {
		err = multierr.Append(err, enc.AppendObject(tx))
	}
	return err
}
