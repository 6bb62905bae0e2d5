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

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

const blobDirName = "blob"

// pduBlobKeyPrefix namespaces raw PDU JSON within the blob plane
var pduBlobKeyPrefix = []byte("pdu:")

func pduBlobKey(eventID string) []byte {
	return append(pduBlobKeyPrefix[:len(pduBlobKeyPrefix):len(pduBlobKeyPrefix)], []byte(eventID)...)
}

// openBlob opens the badger blob plane. An empty dataDir selects an
// in-memory store, useful for testing.
func openBlob(dataDir string) (*badger.DB, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		blobDir := filepath.Join(dataDir, blobDirName)
		if _, err := os.Stat(blobDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read blob dir: %w", err)
			}
			if err := os.MkdirAll(blobDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create blob dir: %w", err)
			}
		}
		opts = badger.DefaultOptions(blobDir)
	}
	// badger logs through its own interface; discard rather than
	// interleave with slog output
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return db, nil
}

// getBlob reads a raw value from the blob plane, returning (nil, nil)
// when the key is not present.
func (d *Database) getBlob(key []byte) ([]byte, error) {
	var value []byte
	err := d.blob.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}
