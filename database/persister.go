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
	"io"
	"log/slog"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/event"
	"github.com/plenumlabs/plenum/store"
)

type PersisterConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Store    *store.EntityStore
	DB       *Database
}

// Persister keeps the database current with the replicated state. It
// subscribes to accepted field merges and writes each winning value to
// the blob store; closed votes and ledger entries are additionally
// archived to the metadata store once all their fields have merged.
type Persister struct {
	config  PersisterConfig
	logger  *slog.Logger
	subId   event.EventSubscriberId
	started bool
}

func NewPersister(config PersisterConfig) *Persister {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Persister{
		config: config,
		logger: config.Logger.With("component", "persister"),
	}
}

// Restore replays persisted field versions through the store's merge.
// Replay is idempotent, so a partial previous persist cannot corrupt
// state.
func (p *Persister) Restore() error {
	count := 0
	err := p.config.DB.Blob().LoadFields(func(pf PersistedField) error {
		p.config.Store.ApplyFieldUpdate(
			entity.Kind(pf.Kind),
			pf.ID,
			pf.Field,
			pf.Value,
			store.Version{
				Timestamp: pf.Timestamp,
				Origin:    pf.Origin,
			},
		)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("restored persisted state", "fields", count)
	return nil
}

func (p *Persister) Start() error {
	p.subId = p.config.EventBus.SubscribeFunc(
		store.UpdateAppliedEventType,
		p.handleUpdateApplied,
	)
	p.started = true
	return nil
}

func (p *Persister) Stop() error {
	if p.started {
		p.config.EventBus.Unsubscribe(
			store.UpdateAppliedEventType,
			p.subId,
		)
		p.started = false
	}
	return nil
}

func (p *Persister) handleUpdateApplied(evt event.Event) {
	applied, ok := evt.Data.(store.UpdateAppliedEvent)
	if !ok {
		return
	}
	pf := PersistedField{
		Kind:      string(applied.Kind),
		ID:        applied.ID,
		Field:     applied.Field,
		Value:     applied.Value,
		Timestamp: applied.Version.Timestamp,
		Origin:    applied.Version.Origin,
	}
	if err := p.config.DB.Blob().PutField(pf); err != nil {
		p.logger.Error(
			"failed to persist field",
			"kind", applied.Kind,
			"id", applied.ID,
			"field", applied.Field,
			"error", err,
		)
		return
	}
	switch applied.Kind {
	case entity.KindVoteRecord:
		if ent, ok := p.config.Store.GetEntity(
			entity.KindVoteRecord, applied.ID,
		); ok && !ent.Deleted() {
			rec := entity.VoteRecordFromFields(ent.ID, ent.Fields)
			if err := p.config.DB.Metadata().ArchiveVoteRecord(rec); err != nil {
				p.logger.Error(
					"failed to archive vote record",
					"id", applied.ID,
					"error", err,
				)
			}
		}
	case entity.KindLedger:
		if ent, ok := p.config.Store.GetEntity(
			entity.KindLedger, applied.ID,
		); ok && !ent.Deleted() {
			entry := entity.LedgerEntryFromFields(ent.ID, ent.Fields)
			if err := p.config.DB.Metadata().ArchiveLedgerEntry(entry); err != nil {
				p.logger.Error(
					"failed to archive ledger entry",
					"id", applied.ID,
					"error", err,
				)
			}
		}
	}
}
