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

package store_test

import (
	"testing"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionOrdering(t *testing.T) {
	a := store.Version{Timestamp: 10, Origin: "alpha"}
	b := store.Version{Timestamp: 20, Origin: "alpha"}
	assert.True(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(b))
	assert.False(t, a.NewerThan(a))

	// Equal timestamps break the tie on origin
	c := store.Version{Timestamp: 10, Origin: "beta"}
	assert.True(t, c.NewerThan(a))
	assert.False(t, a.NewerThan(c))
}

func TestApplyFieldUpdateLastWriterWins(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	accepted := s.ApplyFieldUpdate(
		entity.KindMember, "m1", "name", "Ada",
		store.Version{Timestamp: 1, Origin: "a"},
	)
	require.True(t, accepted)
	accepted = s.ApplyFieldUpdate(
		entity.KindMember, "m1", "name", "Grace",
		store.Version{Timestamp: 2, Origin: "a"},
	)
	require.True(t, accepted)
	// Stale write loses
	accepted = s.ApplyFieldUpdate(
		entity.KindMember, "m1", "name", "Hedy",
		store.Version{Timestamp: 1, Origin: "z"},
	)
	require.False(t, accepted)

	ent, ok := s.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	assert.Equal(t, "Grace", ent.Fields["name"])
}

func TestApplyFieldUpdateIdempotent(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	v := store.Version{Timestamp: 5, Origin: "a"}
	require.True(
		t,
		s.ApplyFieldUpdate(entity.KindMember, "m1", "seat", int64(3), v),
	)
	// Redelivery of the same write is a no-op
	require.False(
		t,
		s.ApplyFieldUpdate(entity.KindMember, "m1", "seat", int64(3), v),
	)
	ent, ok := s.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	assert.Equal(t, int64(3), ent.Fields["seat"])
}

func TestConvergenceRegardlessOfArrivalOrder(t *testing.T) {
	type write struct {
		field   string
		value   any
		version store.Version
	}
	writes := []write{
		{"name", "Ada", store.Version{Timestamp: 1, Origin: "a"}},
		{"name", "Grace", store.Version{Timestamp: 3, Origin: "b"}},
		{"seat", int64(7), store.Version{Timestamp: 2, Origin: "a"}},
		{"seat", int64(9), store.Version{Timestamp: 2, Origin: "c"}},
		{"present", true, store.Version{Timestamp: 4, Origin: "b"}},
	}
	// Apply in two different orders and compare the merged result
	forward := store.NewEntityStore(store.EntityStoreConfig{})
	for _, w := range writes {
		forward.ApplyFieldUpdate(
			entity.KindMember, "m1", w.field, w.value, w.version,
		)
	}
	reverse := store.NewEntityStore(store.EntityStoreConfig{})
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		reverse.ApplyFieldUpdate(
			entity.KindMember, "m1", w.field, w.value, w.version,
		)
	}
	a, ok := forward.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	b, ok := reverse.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	assert.Equal(t, a.Fields, b.Fields)
	assert.Equal(t, "Grace", a.Fields["name"])
	assert.Equal(t, int64(9), a.Fields["seat"])
}

func TestTombstoneAndResurrection(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	s.ApplyFieldUpdate(
		entity.KindMember, "m1", "name", "Ada",
		store.Version{Timestamp: 1, Origin: "a"},
	)
	require.True(
		t,
		s.RemoveEntity(
			entity.KindMember, "m1",
			store.Version{Timestamp: 2, Origin: "a"},
		),
	)
	ent, ok := s.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	assert.True(t, ent.Deleted())
	assert.Empty(t, s.GetSnapshot(entity.KindMember))

	// A later write to the tombstone field resurrects the entity,
	// with its other fields intact
	s.ApplyFieldUpdate(
		entity.KindMember, "m1", entity.TombstoneField, false,
		store.Version{Timestamp: 3, Origin: "b"},
	)
	ent, ok = s.GetEntity(entity.KindMember, "m1")
	require.True(t, ok)
	assert.False(t, ent.Deleted())
	assert.Equal(t, "Ada", ent.Fields["name"])
	assert.Len(t, s.GetSnapshot(entity.KindMember), 1)
}

func TestGetSnapshotInsertionOrder(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	for i, id := range []string{"c", "a", "b"} {
		s.ApplyFieldUpdate(
			entity.KindMotion, id, "title", "t",
			store.Version{Timestamp: int64(i + 1), Origin: "a"},
		)
	}
	snap := s.GetSnapshot(entity.KindMotion)
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)
	assert.Equal(t, "b", snap[2].ID)
}

func TestGetSnapshotUnknownKind(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	assert.Nil(t, s.GetSnapshot(entity.KindLedger))
	_, ok := s.GetEntity(entity.KindLedger, "nope")
	assert.False(t, ok)
}

func TestFieldVersion(t *testing.T) {
	s := store.NewEntityStore(store.EntityStoreConfig{})
	v := store.Version{Timestamp: 42, Origin: "a"}
	s.ApplyFieldUpdate(entity.KindConfig, entity.ConfigEntityID, "phase",
		string(entity.PhaseActive), v)
	got, ok := s.FieldVersion(
		entity.KindConfig, entity.ConfigEntityID, "phase",
	)
	require.True(t, ok)
	assert.Equal(t, v, got)
	_, ok = s.FieldVersion(
		entity.KindConfig, entity.ConfigEntityID, "speakerId",
	)
	assert.False(t, ok)
}
