// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the federation HTTP surface: key endpoints,
// transaction ingestion, the membership handshakes, and the history
// read paths.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hearth-im/hearth/federation"
	"github.com/hearth-im/hearth/keyauthority"
)

// Config holds API server configuration.
type Config struct {
	// ListenAddress is the federation listener address.
	// Default ":8008".
	ListenAddress string
}

// Server is the federation REST API server.
type Server struct {
	config     Config
	logger     *slog.Logger
	engine     *federation.Engine
	keys       *keyauthority.KeyAuthority
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new federation API server instance.
func New(
	cfg Config,
	engine *federation.Engine,
	keys *keyauthority.KeyAuthority,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8008"
	}
	return &Server{
		config: cfg,
		logger: logger,
		engine: engine,
		keys:   keys,
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc(
		"GET /_matrix/federation/v1/version",
		s.handleVersion,
	)

	// Key endpoints carry their own signatures and are never
	// authenticated.
	mux.HandleFunc(
		"GET /_matrix/key/v2/server",
		s.handleServerKeys,
	)
	mux.HandleFunc(
		"GET /_matrix/key/v2/server/{keyID}",
		s.handleServerKeys,
	)
	mux.HandleFunc(
		"GET /_matrix/federation/v1/query/{serverName}/{keyID}",
		s.handleQueryKeys,
	)
	mux.HandleFunc(
		"GET /_matrix/federation/v2/query/{serverName}/{keyID}",
		s.handleQueryKeys,
	)

	// Signature verification happens upstream; the handlers only
	// require a parsable origin.
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireOrigin(h))
	}
	protected(
		"PUT /_matrix/federation/v1/send/{txnID}",
		s.handleSendTransaction,
	)
	protected(
		"GET /_matrix/federation/v1/make_join/{roomID}/{userID}",
		s.handleMakeJoin,
	)
	protected(
		"PUT /_matrix/federation/v1/send_join/{roomID}/{eventID}",
		s.handleSendJoin,
	)
	protected(
		"PUT /_matrix/federation/v2/send_join/{roomID}/{eventID}",
		s.handleSendJoin,
	)
	protected(
		"GET /_matrix/federation/v1/make_leave/{roomID}/{userID}",
		s.handleMakeLeave,
	)
	protected(
		"PUT /_matrix/federation/v1/send_leave/{roomID}/{eventID}",
		s.handleSendLeave,
	)
	protected(
		"PUT /_matrix/federation/v2/send_leave/{roomID}/{eventID}",
		s.handleSendLeave,
	)
	protected(
		"PUT /_matrix/federation/v1/invite/{roomID}/{eventID}",
		s.handleInvite,
	)
	protected(
		"PUT /_matrix/federation/v2/invite/{roomID}/{eventID}",
		s.handleInvite,
	)
	protected(
		"GET /_matrix/federation/v1/knock/{roomID}/{userID}",
		s.handleKnock,
	)
	protected(
		"POST /_matrix/federation/v1/get_missing_events/{roomID}",
		s.handleMissingEvents,
	)
	protected(
		"GET /_matrix/federation/v1/backfill/{roomID}",
		s.handleBackfill,
	)
	protected(
		"GET /_matrix/federation/v1/event_auth/{roomID}/{eventID}",
		s.handleEventAuth,
	)
	protected(
		"GET /_matrix/federation/v1/event/{eventID}",
		s.handleEvent,
	)
	protected(
		"GET /_matrix/federation/v1/room/{roomID}/{eventID}",
		s.handleRoomEvent,
	)
	protected(
		"GET /_matrix/federation/v1/state/{roomID}",
		s.handleState,
	)
	protected(
		"GET /_matrix/federation/v1/state_ids/{roomID}",
		s.handleStateIDs,
	)
	protected(
		"GET /_matrix/federation/v1/members/{roomID}",
		s.handleMembers,
	)
	protected(
		"GET /_matrix/federation/v1/members/{roomID}/joined",
		s.handleJoinedMembers,
	)
	return mux
}

// Start starts the HTTP server in a background goroutine.
func (s *Server) Start(
	ctx context.Context,
) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	// Start the server with deterministic error detection
	if err := s.startServer(server); err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return err
	}

	s.logger.Info(
		"federation API listener started on " +
			s.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		srv := s.httpServer
		s.httpServer = nil
		s.mu.Unlock()

		if srv != nil {
			s.logger.Debug(
				"context cancelled, shutting down " +
					"federation API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(
				shutdownCtx,
			); err != nil {
				s.logger.Error(
					"failed to shutdown federation "+
						"API server on context "+
						"cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(
	ctx context.Context,
) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv != nil {
		s.logger.Debug(
			"shutting down federation API server",
		)
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown federation API "+
					"server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine.
func (s *Server) startServer(
	server *http.Server,
) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for federation API "+
				"server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(
				"federation API server error",
				"error", err,
			)
		}
	}()
	return nil
}
