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

package store

import (
	"io"
	"log/slog"
	"sync"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	UpdateAppliedEventType event.EventType = "store.update-applied"
)

// UpdateAppliedEvent is published on the event bus for every accepted
// field mutation
type UpdateAppliedEvent struct {
	Kind    entity.Kind
	ID      string
	Field   string
	Value   any
	Version Version
}

// Version orders field writes. Writes are compared by timestamp first,
// with the origin replica id as a deterministic tie-break so all
// replicas resolve equal-timestamp conflicts identically.
type Version struct {
	Timestamp int64
	Origin    string
}

// NewerThan reports whether v supersedes other
func (v Version) NewerThan(other Version) bool {
	if v.Timestamp != other.Timestamp {
		return v.Timestamp > other.Timestamp
	}
	return v.Origin > other.Origin
}

// Entity is one materialized record: its id plus the current value of
// every field that has been written
type Entity struct {
	ID     string
	Fields map[string]any
}

// Deleted reports whether the entity carries an active tombstone
func (e Entity) Deleted() bool {
	deleted, ok := e.Fields[entity.TombstoneField].(bool)
	return ok && deleted
}

type fieldState struct {
	value   any
	version Version
}

type record struct {
	fields map[string]*fieldState
}

type kindState struct {
	// order preserves first-seen insertion order for stable snapshots
	order   []string
	records map[string]*record
}

type EntityStoreConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// EntityStore holds the replica's last-known field values for every
// entity kind. All mutations arrive through ApplyFieldUpdate, which
// performs a per-field last-writer-wins merge. The store never rejects
// an update for business reasons; validity is enforced upstream before
// publication.
type EntityStore struct {
	config  EntityStoreConfig
	logger  *slog.Logger
	metrics struct {
		updatesApplied prometheus.Counter
		updatesIgnored prometheus.Counter
		entities       *prometheus.GaugeVec
	}
	kinds map[entity.Kind]*kindState
	mutex sync.RWMutex
}

func NewEntityStore(config EntityStoreConfig) *EntityStore {
	s := &EntityStore{
		config: config,
		kinds:  make(map[entity.Kind]*kindState),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	if config.PromRegistry != nil {
		promautoFactory := promauto.With(config.PromRegistry)
		s.metrics.updatesApplied = promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "plenum_metrics_store_updatesApplied",
				Help: "field updates accepted by the merge",
			},
		)
		s.metrics.updatesIgnored = promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "plenum_metrics_store_updatesIgnored",
				Help: "field updates superseded by a newer version",
			},
		)
		s.metrics.entities = promautoFactory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plenum_metrics_store_entities",
				Help: "entities tracked per kind",
			},
			[]string{"kind"},
		)
	}
	return s
}

// ApplyFieldUpdate merges a single field write. The write is accepted
// if the field has never been seen, or if the incoming version is newer
// than the recorded one. Replaying the same update is a no-op, which
// makes delivery idempotent. Returns true if the write was accepted.
func (s *EntityStore) ApplyFieldUpdate(
	kind entity.Kind,
	id string,
	field string,
	value any,
	version Version,
) bool {
	s.mutex.Lock()
	ks, ok := s.kinds[kind]
	if !ok {
		ks = &kindState{
			records: make(map[string]*record),
		}
		s.kinds[kind] = ks
	}
	rec, ok := ks.records[id]
	if !ok {
		rec = &record{
			fields: make(map[string]*fieldState),
		}
		ks.records[id] = rec
		ks.order = append(ks.order, id)
		if s.metrics.entities != nil {
			s.metrics.entities.WithLabelValues(string(kind)).Inc()
		}
	}
	fs, ok := rec.fields[field]
	if ok && !version.NewerThan(fs.version) {
		s.mutex.Unlock()
		if s.metrics.updatesIgnored != nil {
			s.metrics.updatesIgnored.Inc()
		}
		return false
	}
	rec.fields[field] = &fieldState{
		value:   value,
		version: version,
	}
	s.mutex.Unlock()
	if s.metrics.updatesApplied != nil {
		s.metrics.updatesApplied.Inc()
	}
	s.logger.Debug(
		"applied field update",
		"component", "store",
		"kind", kind,
		"id", id,
		"field", field,
	)
	// Notify local subscribers
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			UpdateAppliedEventType,
			event.NewEvent(
				UpdateAppliedEventType,
				UpdateAppliedEvent{
					Kind:    kind,
					ID:      id,
					Field:   field,
					Value:   value,
					Version: version,
				},
			),
		)
	}
	return true
}

// RemoveEntity marks an entity as deleted via a version-stamped
// tombstone. The tombstone merges under the same last-writer-wins rule
// as any field, so a later un-delete supersedes it.
func (s *EntityStore) RemoveEntity(
	kind entity.Kind,
	id string,
	version Version,
) bool {
	return s.ApplyFieldUpdate(
		kind,
		id,
		entity.TombstoneField,
		true,
		version,
	)
}

// GetEntity returns the current state of a single entity. Tombstoned
// entities are still returned; callers filter with Entity.Deleted.
func (s *EntityStore) GetEntity(
	kind entity.Kind,
	id string,
) (Entity, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ks, ok := s.kinds[kind]
	if !ok {
		return Entity{}, false
	}
	rec, ok := ks.records[id]
	if !ok {
		return Entity{}, false
	}
	return copyRecord(id, rec), true
}

// GetSnapshot returns the current state of every live entity of a
// kind, in stable first-seen insertion order. Tombstoned entities are
// excluded.
func (s *EntityStore) GetSnapshot(kind entity.Kind) []Entity {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ks, ok := s.kinds[kind]
	if !ok {
		return nil
	}
	ret := make([]Entity, 0, len(ks.order))
	for _, id := range ks.order {
		rec, ok := ks.records[id]
		if !ok {
			continue
		}
		ent := copyRecord(id, rec)
		if ent.Deleted() {
			continue
		}
		ret = append(ret, ent)
	}
	return ret
}

// FieldVersion returns the recorded version for a field, for
// persistence of merge state across restarts
func (s *EntityStore) FieldVersion(
	kind entity.Kind,
	id string,
	field string,
) (Version, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ks, ok := s.kinds[kind]
	if !ok {
		return Version{}, false
	}
	rec, ok := ks.records[id]
	if !ok {
		return Version{}, false
	}
	fs, ok := rec.fields[field]
	if !ok {
		return Version{}, false
	}
	return fs.version, true
}

func copyRecord(id string, rec *record) Entity {
	fields := make(map[string]any, len(rec.fields))
	for name, fs := range rec.fields {
		fields[name] = fs.value
	}
	return Entity{
		ID:     id,
		Fields: fields,
	}
}
