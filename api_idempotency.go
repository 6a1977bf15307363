package main

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	idempotencyTTL        = 24 * time.Hour
	idempotencyMaxEntries = 1024
	idempotencyMaxKeyLen  = 128
)

type idempotencyState int

const (
	idemStart idempotencyState = iota
	idemReplay
	idemInFlight
	idemMismatch
)

type idempotencyResult struct {
	status int
	body   []byte
}

type idempotencyEntry struct {
	createdAt time.Time
	reqHash   [32]byte
	inFlight  bool
	result    idempotencyResult
}

// idempotencyCache remembers responses to keyed POST requests so a client
// retrying a submission does not queue the same transfer twice.
type idempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries *lru.Cache
}

func newIdempotencyCache(ttl time.Duration, maxEntries int) *idempotencyCache {
	entries, err := lru.New(maxEntries)
	if err != nil {
		panic(err)
	}
	return &idempotencyCache{ttl: ttl, entries: entries}
}

func (c *idempotencyCache) getOrStart(now time.Time, key string, reqHash [32]byte) (idempotencyState, idempotencyResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Get(key); ok {
		e := v.(*idempotencyEntry)
		switch {
		case c.ttl > 0 && !e.inFlight && now.Sub(e.createdAt) > c.ttl:
			c.entries.Remove(key)
		case e.reqHash != reqHash:
			return idemMismatch, idempotencyResult{}
		case e.inFlight:
			return idemInFlight, idempotencyResult{}
		default:
			return idemReplay, e.result
		}
	}

	c.entries.Add(key, &idempotencyEntry{createdAt: now, reqHash: reqHash, inFlight: true})
	return idemStart, idempotencyResult{}
}

func (c *idempotencyCache) complete(now time.Time, key string, reqHash [32]byte, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Peek(key)
	if !ok {
		return
	}
	e := v.(*idempotencyEntry)
	if e.reqHash != reqHash {
		c.entries.Remove(key)
		return
	}
	e.createdAt = now
	e.inFlight = false
	e.result = idempotencyResult{status: status, body: append([]byte(nil), body...)}
}

func (c *idempotencyCache) abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// recordingWriter captures a response so it can be replayed.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

// idempotent replays the stored response when a request repeats an
// Idempotency-Key with the same body. Requests without the header pass
// through. Only successful responses are stored.
func (s *APIServer) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}
		if len(key) > idempotencyMaxKeyLen {
			writeError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		reqHash := sha256.Sum256(body)

		state, res := s.idempotency.getOrStart(time.Now(), key, reqHash)
		switch state {
		case idemReplay:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(res.status)
			w.Write(res.body)
			return
		case idemInFlight:
			writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		case idemMismatch:
			writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
			return
		}

		rec := &recordingWriter{ResponseWriter: w}
		next(rec, r)
		if rec.status >= 200 && rec.status < 300 {
			s.idempotency.complete(time.Now(), key, reqHash, rec.status, rec.body.Bytes())
		} else {
			s.idempotency.abandon(key)
		}
	}
}
