package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/consensus"
	"github.com/p2pclouds/powledger/ledger"
)

const testToken = "secret"

func testConfig() Config {
	return Config{
		Network:       "regtest",
		LogLevel:      "debug",
		LogFormat:     "console",
		MiningThreads: 1,
		RewardAddress: "miner",
		MaxPending:    ledger.DefaultMaxPending,
		MaxOrphans:    ledger.DefaultMaxOrphans,
	}
}

func mustNewTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := NewDaemon(testConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

// mustNewTestAPI returns a daemon and its routed API handler with testToken
// guarding the private routes.
func mustNewTestAPI(t *testing.T) (*Daemon, http.Handler) {
	t.Helper()
	d := mustNewTestDaemon(t)
	d.api.token = testToken
	return d, d.api.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func mustBuildBlock(t *testing.T, d *Daemon) *consensus.BuildResult {
	t.Helper()
	res, err := d.Ledger().Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

// mustMineTemplate returns a solved block on the current tip without
// submitting it.
func mustMineTemplate(t *testing.T, d *Daemon, extraNonce uint32) *chain.Block {
	t.Helper()
	l := d.Ledger()
	block, err := l.Consensus().CreateNewBlock(0, 0, extraNonce, l.Tip())
	if err != nil {
		t.Fatalf("CreateNewBlock: %v", err)
	}
	for nonce := uint32(0); nonce < 1<<16; nonce++ {
		block.Header.Nonce = nonce
		if consensus.ValidProofOfWork(block.BlockHash(), block.Header.Bits, l.Params().PowLimit) {
			return block
		}
	}
	t.Fatalf("no nonce found")
	return nil
}

func doRequestWithKey(t *testing.T, h http.Handler, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Idempotency-Key", key)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func validPoW(d *Daemon, b *chain.Block) bool {
	return consensus.ValidProofOfWork(b.BlockHash(), b.Header.Bits, d.Params().PowLimit)
}
