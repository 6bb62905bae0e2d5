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

// Package federation implements the protocol engine of the homeserver:
// transaction ingestion with per-event failure isolation, causal DAG
// ordering of the room event graph, the two-phase membership
// handshakes, auth chain resolution, and backfill.
package federation

import (
	"io"
	"log/slog"

	"github.com/hearth-im/hearth/event"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineConfig carries the collaborators of the federation engine.
type EngineConfig struct {
	Store        EventStore
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	ServerName   string
}

// Engine bundles the federation protocol components behind one
// construction point. Every component re-reads store state on demand;
// the engine holds no room state of its own.
type Engine struct {
	Store       EventStore
	Validator   *Validator
	Processor   *TransactionProcessor
	Coordinator *Coordinator
	Auth        *AuthResolver
	Backfill    *Backfiller
	ServerName  string
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var metrics *engineMetrics
	if cfg.PromRegistry != nil {
		metrics = newEngineMetrics(cfg.PromRegistry)
	}
	validator := NewValidator(cfg.Store, cfg.EventBus, logger)
	coordinator := NewCoordinator(
		cfg.Store, cfg.EventBus, cfg.ServerName, logger,
	)
	return &Engine{
		Store:     cfg.Store,
		Validator: validator,
		Processor: NewTransactionProcessor(
			validator, coordinator, metrics, logger,
		),
		Coordinator: coordinator,
		Auth:        NewAuthResolver(cfg.Store),
		Backfill:    NewBackfiller(cfg.Store, logger),
		ServerName:  cfg.ServerName,
	}
}

type engineMetrics struct {
	transactionsTotal prometheus.Counter
	pdusTotal         *prometheus.CounterVec
}

func newEngineMetrics(registry prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		transactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_federation_transactions_total",
			Help: "total inbound federation transactions processed",
		}),
		pdusTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_federation_pdus_total",
				Help: "total PDUs processed per result",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(m.transactionsTotal, m.pdusTotal)
	return m
}

func (m *engineMetrics) observePDU(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.pdusTotal.WithLabelValues(result).Inc()
}
