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

package hearth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearth-im/hearth/api"
	"github.com/hearth-im/hearth/database"
	"github.com/hearth-im/hearth/event"
	"github.com/hearth-im/hearth/federation"
	"github.com/hearth-im/hearth/keyauthority"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	engine        *federation.Engine
	keys          *keyauthority.KeyAuthority
	apiServer     *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config: cfg,
		done:   make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
	return n, nil
}

// Engine returns the federation engine. It is nil before Run.
func (n *Node) Engine() *federation.Engine {
	return n.engine
}

// KeyAuthority returns the server key authority. It is nil before Run.
func (n *Node) KeyAuthority() *keyauthority.KeyAuthority {
	return n.keys
}

func (n *Node) Run() error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Build federation engine
	n.engine = federation.NewEngine(federation.EngineConfig{
		Store:        db,
		EventBus:     n.eventBus,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		ServerName:   n.config.serverName,
	})
	// Derive signing identity. The remote key cache is warmed from the
	// database so restarts don't refetch every peer key.
	keys, err := keyauthority.New(keyauthority.Config{
		ServerName:  n.config.serverName,
		KeyID:       n.config.signingKeyID,
		Seed:        n.config.signingKeySeed,
		Fetcher:     keyauthority.NewHTTPFetcher(nil),
		Persistence: db,
		Logger:      n.config.logger,
	})
	if err != nil {
		return err
	}
	n.keys = keys
	// Start federation API listener
	n.apiServer = api.New(
		api.Config{
			ListenAddress: n.config.listenAddress,
		},
		n.engine,
		n.keys,
		n.config.logger,
	)
	if err := n.apiServer.Start(context.Background()); err != nil {
		return err
	}

	// Wait for shutdown signal
	<-n.done
	return nil
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.apiServer != nil {
		if stopErr := n.apiServer.Stop(ctx); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("api server shutdown: %w", stopErr),
			)
		}
	}

	// Phase 2: Flush state and close database
	n.config.logger.Debug("shutdown phase 2: flushing state")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("database close: %w", closeErr),
			)
		}
	}

	// Phase 3: Cleanup resources
	n.config.logger.Debug("shutdown phase 3: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
