package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// APIServer serves the JSON API and the metrics endpoint.
//
// Read-only routes are public. Routes that change state require the token
// passed to Start as a Bearer credential.
type APIServer struct {
	daemon *Daemon
	log    *zap.Logger

	token  string
	cookie string
	server *http.Server

	idempotency *idempotencyCache
}

func NewAPIServer(d *Daemon, log *zap.Logger) *APIServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIServer{
		daemon:      d,
		log:         log,
		idempotency: newIdempotencyCache(idempotencyTTL, idempotencyMaxEntries),
	}
}

// Handler returns the routed handler. token must be set first.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerPublicRoutes(mux)
	s.registerPrivateRoutes(mux)
	return maxBodySize(mux, 4<<20)
}

// Start listens on addr. An empty token is replaced by a random one, which
// is written to cookiePath when given.
func (s *APIServer) Start(addr, token, cookiePath string) error {
	if token == "" {
		var err error
		if token, err = generateToken(); err != nil {
			return err
		}
		if cookiePath != "" {
			if err := writeCookie(cookiePath, token); err != nil {
				return fmt.Errorf("write api cookie: %w", err)
			}
			s.cookie = cookiePath
		} else {
			s.log.Warn("no api.token or api.cookie configured, private routes are unreachable")
		}
	}
	s.token = token

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen on %s: %w", addr, err), removeCookie(s.cookie))
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("api listening", zap.Stringer("addr", ln.Addr()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down and removes the cookie file.
func (s *APIServer) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	return multierr.Append(err, removeCookie(s.cookie))
}

// maxBodySize limits request bodies.
func maxBodySize(next http.Handler, bytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, bytes)
		next.ServeHTTP(w, r)
	})
}
