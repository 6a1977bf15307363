package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/ledger"
)

const (
	sseBuffer    = 64
	sseKeepalive = 30 * time.Second
)

// handleEvents streams chain events via Server-Sent Events.
// Event types: connected, block_connected, block_disconnected, reorganization
// GET /api/events
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Long-lived connection, so no write deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, http.StatusInternalServerError, "failed to initialize event stream")
		return
	}

	events, cancel := s.daemon.Ledger().Subscribe(sseBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	l := s.daemon.Ledger()
	if err := sendSSE(w, flusher, "connected", map[string]any{
		"height":   l.ActiveHeight(),
		"tip_hash": l.ActiveTipHash().String(),
	}); err != nil {
		s.log.Debug("event stream write failed", zap.Error(err))
		return
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sendSSE(w, flusher, string(ev.Type), eventToJSON(ev)); err != nil {
				return
			}

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventToJSON(ev ledger.Event) map[string]any {
	out := map[string]any{
		"hash":      ev.Hash.String(),
		"height":    ev.Height,
		"timestamp": ev.Timestamp,
	}
	if ev.Type == ledger.EventReorganization {
		out["old_tip"] = ev.OldTip.String()
		out["depth"] = ev.Depth
	} else {
		out["tx_count"] = ev.TxCount
	}
	return out
}

// sendSSE writes a single event.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
