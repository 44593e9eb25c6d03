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

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// fieldKeyPrefix namespaces persisted field records in badger
	fieldKeyPrefix = "field/"

	// metricNamePrefix is the common prefix for all database metrics
	metricNamePrefix = "plenum_metrics_database_"
)

// PersistedField is the durable form of one merged field: its current
// value plus the version that won the merge, so replay after restart
// reconstructs identical merge state
type PersistedField struct {
	Kind      string `cbor:"k"`
	ID        string `cbor:"i"`
	Field     string `cbor:"f"`
	Value     any    `cbor:"v"`
	Timestamp int64  `cbor:"t"`
	Origin    string `cbor:"o"`
}

// BlobStore stores the latest version of every merged field in
// badger. Data may not be persisted when running in-memory.
type BlobStore struct {
	db              *badger.DB
	logger          *slog.Logger
	gcTicker        *time.Ticker
	gcStopCh        chan struct{}
	gcWg            sync.WaitGroup
	dataDir         string
	fieldsPersisted prometheus.Counter
}

func newBlobStore(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStore, error) {
	b := &BlobStore{
		logger:  logger,
		dataDir: dataDir,
	}
	if promRegistry != nil {
		b.fieldsPersisted = promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "fields_persisted_count",
				Help: "total field versions written to the blob store",
			},
		)
	}
	var blobDb *badger.DB
	var err error
	if dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts := badger.DefaultOptions("").
			WithLogger(newBadgerLogger(logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		blobDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		blobDir := filepath.Join(dataDir, "blob")
		badgerOpts := badger.DefaultOptions(blobDir).
			WithLogger(newBadgerLogger(logger)).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.Snappy)
		blobDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
		// GC only matters for disk-backed value logs
		b.gcTicker = time.NewTicker(5 * time.Minute)
		b.gcStopCh = make(chan struct{})
		b.gcWg.Add(1)
		go b.blobGc(blobDb)
	}
	b.db = blobDb
	return b, nil
}

func (b *BlobStore) blobGc(db *badger.DB) {
	defer b.gcWg.Done()
	for {
		select {
		case <-b.gcTicker.C:
		again:
			err := db.RunValueLogGC(0.5)
			if err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) {
					b.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
						"component", "database",
					)
				}
			} else {
				goto again
			}
		case <-b.gcStopCh:
			return
		}
	}
}

func fieldKey(kind, id, field string) []byte {
	return fmt.Appendf(nil, "%s%s/%s/%s", fieldKeyPrefix, kind, id, field)
}

// PutField stores the winning value and version for one field
func (b *BlobStore) PutField(pf PersistedField) error {
	payload, err := cbor.Marshal(pf)
	if err != nil {
		return fmt.Errorf("encode persisted field: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fieldKey(pf.Kind, pf.ID, pf.Field), payload)
	})
	if err == nil && b.fieldsPersisted != nil {
		b.fieldsPersisted.Inc()
	}
	return err
}

// LoadFields iterates every persisted field, invoking fn for each.
// Iteration stops at the first error.
func (b *BlobStore) LoadFields(fn func(PersistedField) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fieldKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var pf PersistedField
			if err := cbor.Unmarshal(payload, &pf); err != nil {
				return fmt.Errorf(
					"decode persisted field %s: %w",
					item.Key(), err,
				)
			}
			if err := fn(pf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the GC goroutine and closes the underlying badger DB
func (b *BlobStore) Close() error {
	if b.gcTicker != nil {
		b.gcTicker.Stop()
		close(b.gcStopCh)
		b.gcWg.Wait()
	}
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through slog
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{
		logger: logger.With("component", "blobdb"),
	}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
