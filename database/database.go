// Copyright 2025 Plenum Labs
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

// Package database persists replica state across restarts. The blob
// store holds the latest version of every merged field, replayed
// through the merge on startup; the metadata store archives the
// immutable vote history and treasury ledger for querying.
package database

import (
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type Database struct {
	logger   *slog.Logger
	blob     *BlobStore
	metadata *MetadataStore
	dataDir  string
}

// New creates a database instance with optional persistence using the
// provided data directory. An empty dataDir yields in-memory stores.
func New(
	logger *slog.Logger,
	dataDir string,
	promRegistry prometheus.Registerer,
) (*Database, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	blobDb, err := newBlobStore(dataDir, logger, promRegistry)
	if err != nil {
		return nil, err
	}
	metadataDb, err := newMetadataStore(dataDir, logger)
	if err != nil {
		blobDb.Close()
		return nil, err
	}
	return &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		dataDir:  dataDir,
	}, nil
}

// Blob returns the underlying blob store instance
func (d *Database) Blob() *BlobStore {
	return d.blob
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() *MetadataStore {
	return d.metadata
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	err = errors.Join(err, d.metadata.Close())
	err = errors.Join(err, d.blob.Close())
	return err
}
