package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerPublicRoutes adds read-only endpoints.
func (s *APIServer) registerPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/block/{id}", s.handleBlock)
	mux.HandleFunc("GET /api/block/{id}/raw", s.handleRawBlock)
	mux.HandleFunc("GET /api/blocks", s.handleBlocks)
	mux.HandleFunc("GET /api/mediantime", s.handleMedianTime)
	mux.HandleFunc("GET /api/locator", s.handleLocator)
	mux.HandleFunc("GET /api/tx/{txid}", s.handleTxStatus)
	mux.HandleFunc("GET /api/mining", s.handleMiningStatus)
	mux.HandleFunc("GET /api/mining/reward", s.handleGetReward)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// registerPrivateRoutes adds endpoints that change node state.
func (s *APIServer) registerPrivateRoutes(mux *http.ServeMux) {
	private := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, requireToken(s.token, h))
	}

	private("POST /api/tx", s.idempotent(s.handleSubmitTx))
	private("POST /api/block", s.handleSubmitBlock)
	private("POST /api/header", s.handleSubmitHeader)

	private("POST /api/mining/start", s.handleMiningStart)
	private("POST /api/mining/stop", s.handleMiningStop)
	private("POST /api/mining/threads", s.handleMiningThreads)
	private("POST /api/mining/reward", s.handleSetReward)
}
