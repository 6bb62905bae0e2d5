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

// Package database provides the two-plane event store backing the
// federation engine: a badger blob plane holding raw canonical PDU
// JSON keyed by event id, and a SQLite metadata plane holding the
// queryable event rows and the membership projection.
package database

import (
	"errors"
	"io"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config holds database configuration.
type Config struct {
	// DataDir is the persistent data directory. Empty means everything
	// is kept in memory, which is primarily useful for testing.
	DataDir string
	// Logger for database events.
	Logger *slog.Logger
	// PromRegistry receives database metrics when non-nil.
	PromRegistry prometheus.Registerer
}

type Database struct {
	logger   *slog.Logger
	blob     *badger.DB
	metadata *gorm.DB
	metrics  *dbMetrics
	dataDir  string
}

// New creates a new database instance with optional persistence using
// the provided data directory.
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	blobDb, err := openBlob(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	metadataDb, err := openMetadata(cfg.DataDir, logger)
	if err != nil {
		blobDb.Close()
		return nil, err
	}
	db := &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		dataDir:  cfg.DataDir,
	}
	if cfg.PromRegistry != nil {
		db.metrics = newDbMetrics(cfg.PromRegistry)
	}
	return db, nil
}

// Blob returns the underlying blob store instance
func (d *Database) Blob() *badger.DB {
	return d.blob
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() *gorm.DB {
	return d.metadata
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Transaction starts a new two-plane transaction and returns a handle
// to it
func (d *Database) Transaction() *Txn {
	return NewTxn(d)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.metadata != nil {
		if sqlDb, dbErr := d.metadata.DB(); dbErr == nil {
			err = errors.Join(err, sqlDb.Close())
		}
	}
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

type dbMetrics struct {
	eventsPersisted prometheus.Counter
	blobBytes       prometheus.Counter
}

func newDbMetrics(registry prometheus.Registerer) *dbMetrics {
	m := &dbMetrics{
		eventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_database_events_persisted_total",
			Help: "total newly persisted events",
		}),
		blobBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_database_blob_bytes_written_total",
			Help: "total bytes written to the blob plane",
		}),
	}
	registry.MustRegister(m.eventsPersisted, m.blobBytes)
	return m
}
