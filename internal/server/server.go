// Package server implements the optional debug/inspection HTTP
// surface (SPEC_FULL §2.6). It is never on the hot path of
// Join/Find/Put/Get: that traffic moves over the binary wire codec
// in internal/wire and internal/transport. Most of this surface reads
// back a snapshot of a running *dht.Node for operators and tests;
// /join starts a Bootstrap and /sim-crash and /sim-recover set the
// node's crash-injection flag.
//
// Grounded on _examples/retorded-inf-3200's internal/server package
// (same handler names: /node-info, /network, /join, /leave,
// /sim-crash, /sim-recover, same bare net/http stack) adapted so
// every handler reads the real *dht.Node instead of being the
// authoritative protocol path.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"chordkv/internal/dht"
)

// Server hosts the debug HTTP surface for one running node.
type Server struct {
	node       *dht.Node
	httpServer *http.Server
	log        *logrus.Entry
}

// New builds a Server bound to addr (SPEC_FULL §2.6's --debug-http
// value), serving introspection for node.
func New(addr string, node *dht.Node, log *logrus.Entry) *Server {
	s := &Server{
		node: node,
		log:  log,
	}
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the HTTP server until Stop is called or it fails.
// ListenAndServe blocks, so callers run Start in its own goroutine.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("debug http surface listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("debug http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("debug http shutdown: %w", err)
	}
	return nil
}
