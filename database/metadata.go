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
	"os"
	"path/filepath"

	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/plenumlabs/plenum/entity"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// VoteRecordModel archives a closed vote for querying outside the
// replicated store
type VoteRecordModel struct {
	ID      string `gorm:"primaryKey"`
	Subject string
	Date    string `gorm:"index"`
	Outcome string
	Yes     int64
	No      int64
	Abstain int64
	Detail  string
}

func (VoteRecordModel) TableName() string {
	return "vote_record"
}

// LedgerEntryModel archives one treasury entry
type LedgerEntryModel struct {
	ID          string `gorm:"primaryKey"`
	Kind        string
	Amount      float64
	Description string
	Created     string `gorm:"index"`
}

func (LedgerEntryModel) TableName() string {
	return "ledger_entry"
}

var migrateModels = []any{
	&VoteRecordModel{},
	&LedgerEntryModel{},
}

// MetadataStore is a SQLite-backed archive of the chamber's immutable
// records: the vote history and the treasury ledger. Unlike the blob
// store it is queryable, so operators can inspect history with plain
// SQL tooling.
type MetadataStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	dataDir string
}

// newMetadataStore creates a SQLite metadata store. Uses an in-memory
// database if dataDir is empty.
func newMetadataStore(
	dataDir string,
	logger *slog.Logger,
) (*MetadataStore, error) {
	var metadataDb *gorm.DB
	var err error
	if dataDir == "" {
		// cache=shared allows multiple connections to share the same
		// in-memory database
		metadataDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		metadataDbPath := filepath.Join(dataDir, "metadata.sqlite")
		// WAL journal mode, disable sync on write
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		metadataDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	// Configure tracing for GORM
	if err := metadataDb.Use(
		tracing.NewPlugin(tracing.WithoutMetrics()),
	); err != nil {
		return nil, err
	}
	m := &MetadataStore{
		db:      metadataDb,
		logger:  logger,
		dataDir: dataDir,
	}
	for _, model := range migrateModels {
		if err := metadataDb.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DB returns the underlying gorm DB handle
func (m *MetadataStore) DB() *gorm.DB {
	return m.db
}

// ArchiveVoteRecord upserts a closed vote into the archive
func (m *MetadataStore) ArchiveVoteRecord(rec entity.VoteRecord) error {
	model := VoteRecordModel{
		ID:      rec.ID,
		Subject: rec.Subject,
		Date:    rec.Date,
		Outcome: string(rec.Outcome),
		Yes:     rec.Yes,
		No:      rec.No,
		Abstain: rec.Abstain,
		Detail:  rec.Detail,
	}
	return m.db.Save(&model).Error
}

// ArchiveLedgerEntry upserts a treasury entry into the archive
func (m *MetadataStore) ArchiveLedgerEntry(
	entry entity.LedgerEntry,
) error {
	model := LedgerEntryModel{
		ID:          entry.ID,
		Kind:        string(entry.Kind),
		Amount:      entry.Amount,
		Description: entry.Description,
		Created:     entry.Created,
	}
	return m.db.Save(&model).Error
}

// VoteHistory returns all archived votes in chronological order
func (m *MetadataStore) VoteHistory() ([]entity.VoteRecord, error) {
	var models []VoteRecordModel
	result := m.db.Order("date, id").Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]entity.VoteRecord, 0, len(models))
	for _, model := range models {
		ret = append(ret, entity.VoteRecord{
			ID:      model.ID,
			Subject: model.Subject,
			Date:    model.Date,
			Outcome: entity.VoteOutcome(model.Outcome),
			Yes:     model.Yes,
			No:      model.No,
			Abstain: model.Abstain,
			Detail:  model.Detail,
		})
	}
	return ret, nil
}

// LedgerEntries returns all archived treasury entries in
// chronological order
func (m *MetadataStore) LedgerEntries() ([]entity.LedgerEntry, error) {
	var models []LedgerEntryModel
	result := m.db.Order("created, id").Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]entity.LedgerEntry, 0, len(models))
	for _, model := range models {
		ret = append(ret, entity.LedgerEntry{
			ID:          model.ID,
			Kind:        entity.LedgerKind(model.Kind),
			Amount:      model.Amount,
			Description: model.Description,
			Created:     model.Created,
		})
	}
	return ret, nil
}

// Close closes the underlying SQL connection
func (m *MetadataStore) Close() error {
	sqlDb, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
