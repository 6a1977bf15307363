package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/crypto"
	"github.com/p2pclouds/powledger/ledger"
	"github.com/p2pclouds/powledger/wire"
)

// maxMedianRange bounds the range query of /api/mediantime.
const maxMedianRange = 1000

// maxBlocksPerPage bounds the count query of /api/blocks.
const maxBlocksPerPage = 100

// ============================================================================
// Chain queries
// ============================================================================

type statusResponse struct {
	Network        string `json:"network"`
	Height         uint32 `json:"height"`
	TipHash        string `json:"tip_hash"`
	ChainWork      string `json:"chain_work"`
	Bits           string `json:"bits"`
	NextBits       string `json:"next_bits"`
	MedianTimePast uint32 `json:"median_time_past"`
	ChainTxs       uint64 `json:"chain_txs"`
	KnownBlocks    int    `json:"known_blocks"`
	Candidates     int    `json:"candidates"`
	Unlinked       int    `json:"unlinked"`
	Pending        int    `json:"pending"`
	PendingBytes   int    `json:"pending_bytes"`
	Orphans        int    `json:"orphans"`
	NextSubsidy    uint64 `json:"next_subsidy"`
	Mining         bool   `json:"mining"`
	ClockOffset    string `json:"clock_offset"`
}

// handleStatus returns a summary of the node.
// GET /api/status
func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.daemon.Ledger().Stats()
	resp := statusResponse{
		Network:        st.Network,
		Height:         st.Height,
		TipHash:        st.TipHash.String(),
		Bits:           fmt.Sprintf("%08x", st.Bits),
		NextBits:       fmt.Sprintf("%08x", st.NextBits),
		MedianTimePast: st.MedianTimePast,
		ChainTxs:       st.ChainTxs,
		KnownBlocks:    st.KnownBlocks,
		Candidates:     st.Candidates,
		Unlinked:       st.Unlinked,
		Pending:        st.Pending,
		PendingBytes:   st.PendingBytes,
		Orphans:        st.Orphans,
		NextSubsidy:    st.Subsidy,
		Mining:         s.daemon.IsMining(),
		ClockOffset:    s.daemon.Clock().Offset().String(),
	}
	if st.ChainWork != nil {
		resp.ChainWork = st.ChainWork.Text(16)
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveBlock looks up id as a 64 character hash or a height.
func (s *APIServer) resolveBlock(w http.ResponseWriter, id string) (*ledger.BlockInfo, bool) {
	var (
		info  *ledger.BlockInfo
		found bool
	)
	if len(id) == 2*chainhash.HashSize {
		hash, err := chainhash.NewHashFromStr(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid block hash")
			return nil, false
		}
		info, found = s.daemon.Ledger().DescribeBlock(*hash)
	} else if height, err := strconv.ParseUint(id, 10, 32); err == nil {
		info, found = s.daemon.Ledger().DescribeBlockAtHeight(uint32(height))
	} else {
		writeError(w, http.StatusBadRequest, "id must be a height or 64-char hex hash")
		return nil, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "block not found")
		return nil, false
	}
	return info, true
}

// handleBlock returns a block by hash or active-chain height.
// GET /api/block/{id}
func (s *APIServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	info, ok := s.resolveBlock(w, r.PathValue("id"))
	if !ok {
		return
	}
	block := s.daemon.Ledger().BlockByHash(info.Hash)
	writeJSON(w, http.StatusOK, blockToJSON(info, block))
}

// handleRawBlock returns the serialized block as hex.
// GET /api/block/{id}/raw
func (s *APIServer) handleRawBlock(w http.ResponseWriter, r *http.Request) {
	info, ok := s.resolveBlock(w, r.PathValue("id"))
	if !ok {
		return
	}
	block := s.daemon.Ledger().BlockByHash(info.Hash)
	if block == nil {
		writeError(w, http.StatusNotFound, "block data not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hash": info.Hash.String(),
		"hex":  hex.EncodeToString(block.Bytes()),
	})
}

// handleBlocks lists active-chain blocks by height, headers only.
// GET /api/blocks?start=0&count=20
func (s *APIServer) handleBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := uint64(0)
	if v := q.Get("start"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be a block height")
			return
		}
		start = n
	}
	count := 20
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBlocksPerPage {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxBlocksPerPage))
			return
		}
		count = n
	}

	infos := s.daemon.Ledger().BlockRange(uint32(start), count)
	blocks := make([]map[string]any, len(infos))
	for i, info := range infos {
		blocks[i] = blockToJSON(info, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start":  start,
		"blocks": blocks,
	})
}

// handleMedianTime returns the median time past of the active chain.
// GET /api/mediantime?range=11
func (s *APIServer) handleMedianTime(w http.ResponseWriter, r *http.Request) {
	rng := s.daemon.Params().MedianTimeSpan
	if q := r.URL.Query().Get("range"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > maxMedianRange {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("range must be between 1 and %d", maxMedianRange))
			return
		}
		rng = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"range":            rng,
		"median_time_past": s.daemon.Ledger().MedianTimePast(rng),
	})
}

// handleLocator returns the active chain's block locator.
// GET /api/locator
func (s *APIServer) handleLocator(w http.ResponseWriter, r *http.Request) {
	hashes := s.daemon.Ledger().Locator()
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"locator": out})
}

// handleTxStatus reports whether a transaction is still pending.
// GET /api/tx/{txid}
func (s *APIServer) handleTxStatus(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(r.PathValue("txid"))
	if err != nil || len(r.PathValue("txid")) != 2*chainhash.HashSize {
		writeError(w, http.StatusBadRequest, "txid must be 64 hex characters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txid":    txid.String(),
		"pending": s.daemon.Ledger().IsPending(*txid),
	})
}

// ============================================================================
// Submission
// ============================================================================

// handleSubmitTx queues a transfer for mining.
// POST /api/tx
func (s *APIServer) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
		Value     uint64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	handle, err := s.daemon.Ledger().SubmitTransaction(req.Sender, req.Recipient, req.Value)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ledger.ErrPoolFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txid":            handle.TxID.String(),
		"expected_height": handle.ExpectedHeight,
	})
}

type hexRequest struct {
	Hex string `json:"hex"`
}

func decodeHexBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req hexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	data, err := hex.DecodeString(req.Hex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "hex field is not valid hex")
		return nil, false
	}
	return data, true
}

// handleSubmitBlock accepts a serialized block.
// POST /api/block
func (s *APIServer) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeHexBody(w, r)
	if !ok {
		return
	}
	block, err := chain.DeserializeBlock(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "decode block: "+err.Error())
		return
	}

	hash := block.BlockHash()
	node, err := s.daemon.Ledger().SubmitBlock(block)
	if errors.Is(err, chain.ErrOrphanHeader) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": false,
			"orphan":   true,
			"hash":     hash.String(),
		})
		return
	}
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"hash":     hash.String(),
		"height":   node.Height(),
		"active":   s.daemon.Ledger().ActiveTipHash() == hash,
	})
}

// handleSubmitHeader indexes a header ahead of its block.
// POST /api/header
func (s *APIServer) handleSubmitHeader(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeHexBody(w, r)
	if !ok {
		return
	}
	var header chain.BlockHeader
	rd := wire.NewReader(data)
	if err := header.Deserialize(rd); err != nil || rd.Remaining() != 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("header must be %d bytes", chain.BlockHeaderSize))
		return
	}

	node, err := s.daemon.Ledger().ProcessHeader(&header)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":   node.Hash().String(),
		"height": node.Height(),
	})
}

// ============================================================================
// Mining
// ============================================================================

// handleMiningStatus returns mining state and statistics.
// GET /api/mining
func (s *APIServer) handleMiningStatus(w http.ResponseWriter, r *http.Request) {
	miner := s.daemon.Miner()
	running := miner.IsRunning()
	resp := map[string]any{
		"running":     running,
		"threads":     miner.Threads(),
		"max_threads": maxThreads(),
	}
	if running {
		stats := miner.Stats()
		resp["hashrate"] = miner.HashRate()
		resp["hash_count"] = stats.HashCount
		resp["blocks_found"] = stats.BlocksFound
		resp["stale_rounds"] = stats.StaleRounds
		resp["started_at"] = stats.StartTime.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/mining/start
func (s *APIServer) handleMiningStart(w http.ResponseWriter, r *http.Request) {
	if s.daemon.IsMining() {
		writeError(w, http.StatusConflict, "mining already running")
		return
	}
	if err := s.daemon.StartMining(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

// POST /api/mining/stop
func (s *APIServer) handleMiningStop(w http.ResponseWriter, r *http.Request) {
	if !s.daemon.IsMining() {
		writeError(w, http.StatusConflict, "mining not running")
		return
	}
	s.daemon.StopMining()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

// handleMiningThreads sets the mining thread count.
// POST /api/mining/threads
func (s *APIServer) handleMiningThreads(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threads int `json:"threads"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if max := maxThreads(); req.Threads < 1 || req.Threads > max {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("threads must be between 1 and %d", max))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": s.daemon.Miner().SetThreads(req.Threads)})
}

// GET /api/mining/reward
func (s *APIServer) handleGetReward(w http.ResponseWriter, r *http.Request) {
	l := s.daemon.Ledger()
	writeJSON(w, http.StatusOK, map[string]any{
		"address": l.RewardAddress(),
		"fee":     l.Fee(),
	})
}

// handleSetReward changes where mined rewards go and the fee kept back.
// POST /api/mining/reward
func (s *APIServer) handleSetReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address *string `json:"address"`
		PubKey  *string `json:"pubkey"`
		Fee     *uint64 `json:"fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address != nil && req.PubKey != nil {
		writeError(w, http.StatusBadRequest, "set address or pubkey, not both")
		return
	}

	address := req.Address
	if req.PubKey != nil {
		addr, err := crypto.AddressFromPubKeyHex(*req.PubKey, s.daemon.Params().AddressVersion)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		address = &addr
	}
	if address != nil && len(*address) > chain.MaxAddressLength {
		writeError(w, http.StatusBadRequest, "address too long")
		return
	}

	l := s.daemon.Ledger()
	if address != nil {
		l.SetRewardAddress(*address)
	}
	if req.Fee != nil {
		l.SetFee(*req.Fee)
	}
	s.handleGetReward(w, r)
}

// ============================================================================
// Helpers
// ============================================================================

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRuleError reports a rejected block or header with its rule code.
func writeRuleError(w http.ResponseWriter, err error) {
	re, ok := chain.AsRuleError(err)
	if !ok {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": re.Description,
		"code":  re.ErrorCode.String(),
		"kind":  re.ErrorCode.Kind().String(),
	})
}

func blockToJSON(info *ledger.BlockInfo, block *chain.Block) map[string]any {
	out := map[string]any{
		"hash":             info.Hash.String(),
		"prev_hash":        info.PrevHash.String(),
		"height":           info.Height,
		"version":          info.Header.Version,
		"merkle_root":      info.Header.MerkleRoot.String(),
		"timestamp":        info.Header.Timestamp,
		"bits":             fmt.Sprintf("%08x", info.Header.Bits),
		"nonce":            info.Header.Nonce,
		"status":           info.Status.String(),
		"chain_work":       info.ChainWork.Text(16),
		"chain_txs":        info.NumChainTxs,
		"median_time_past": info.MedianTimePast,
		"in_active_chain":  info.InActiveChain,
		"confirmations":    info.Confirmations,
	}
	if info.NextHash != nil {
		out["next_hash"] = info.NextHash.String()
	}
	if block == nil {
		return out
	}

	txs := make([]map[string]any, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = map[string]any{
			"txid":      tx.TxHash().String(),
			"sender":    tx.Sender,
			"recipient": tx.Recipient,
			"value":     tx.Value,
			"magic":     tx.Magic,
			"coinbase":  tx.IsCoinbase(),
		}
	}
	out["tx_count"] = len(block.Transactions)
	out["size"] = block.SerializeSize()
	out["transactions"] = txs
	return out
}
