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

package entity_test

import (
	"testing"

	"github.com/plenumlabs/plenum/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownKind(t *testing.T) {
	assert.True(t, entity.KnownKind(entity.KindMember))
	assert.True(t, entity.KnownKind(entity.KindMotion))
	assert.True(t, entity.KnownKind(entity.KindLedger))
	assert.True(t, entity.KnownKind(entity.KindConfig))
	assert.True(t, entity.KnownKind(entity.KindVoteRecord))
	assert.False(t, entity.KnownKind(entity.Kind("utxo")))
	assert.False(t, entity.KnownKind(entity.Kind("")))
}

func TestNormalizeFieldsDropsUnknown(t *testing.T) {
	fields := entity.NormalizeFields(entity.KindMember, map[string]any{
		"name":    "Ada",
		"badge":   "gold",
		"present": true,
	})
	require.Len(t, fields, 2)
	assert.Equal(t, "Ada", fields["name"])
	assert.Equal(t, true, fields["present"])
}

func TestNormalizeFieldsCoercesNumeric(t *testing.T) {
	// The CBOR decoder produces uint64/int64 for integers and float64
	// for floats depending on wire encoding
	fields := entity.NormalizeFields(entity.KindMember, map[string]any{
		"seat": uint64(12),
	})
	require.Contains(t, fields, "seat")
	assert.Equal(t, int64(12), fields["seat"])

	fields = entity.NormalizeFields(entity.KindLedger, map[string]any{
		"amount": int64(100),
	})
	require.Contains(t, fields, "amount")
	assert.Equal(t, float64(100), fields["amount"])
}

func TestNormalizeFieldsDropsMistyped(t *testing.T) {
	fields := entity.NormalizeFields(entity.KindMember, map[string]any{
		"name":    42,
		"present": "yes",
		"seat":    "front row",
	})
	assert.Empty(t, fields)
}

func TestNormalizeFieldsPreservesTombstone(t *testing.T) {
	fields := entity.NormalizeFields(entity.KindMember, map[string]any{
		entity.TombstoneField: true,
	})
	require.Contains(t, fields, entity.TombstoneField)
	assert.Equal(t, true, fields[entity.TombstoneField])
}

func TestNormalizeFieldsUnknownKind(t *testing.T) {
	fields := entity.NormalizeFields(
		entity.Kind("bogus"),
		map[string]any{"name": "x"},
	)
	assert.Nil(t, fields)
}

func TestMemberRoundTrip(t *testing.T) {
	m := entity.Member{
		ID:         "m1",
		DNI:        "12345678",
		Name:       "Ada",
		Role:       entity.RolePresidingOfficer,
		Seat:       3,
		Present:    true,
		Confirmed:  true,
		Active:     true,
		Vote:       entity.VoteYes,
		Floor:      entity.FloorGranted,
		Credential: "12345678",
	}
	got := entity.MemberFromFields("m1", m.Fields())
	assert.Equal(t, m, got)
}

func TestMemberSeatDefaultsUnassigned(t *testing.T) {
	// A record without a seat field holds no seat; seat 0 is a real
	// seat and must stay distinct from "no seat"
	m := entity.MemberFromFields("m1", map[string]any{"name": "Ada"})
	assert.Equal(t, entity.SeatUnassigned, m.Seat)

	front := entity.MemberFromFields("m2", map[string]any{"seat": int64(0)})
	assert.Equal(t, int64(0), front.Seat)
}

func TestLedgerEntrySigned(t *testing.T) {
	income := entity.LedgerEntry{Kind: entity.LedgerIncome, Amount: 100}
	expense := entity.LedgerEntry{Kind: entity.LedgerExpense, Amount: 30}
	assert.Equal(t, float64(100), income.Signed())
	assert.Equal(t, float64(-30), expense.Signed())
}

func TestSessionConfigDefaults(t *testing.T) {
	cfg := entity.SessionConfigFromFields(map[string]any{})
	assert.Equal(t, entity.PhaseClosed, cfg.Phase)
	assert.Nil(t, cfg.ActiveVote)
	assert.Nil(t, cfg.Projection)
}

func TestSessionConfigActiveVote(t *testing.T) {
	av := &entity.ActiveVote{
		ID:       "v1",
		Subject:  "Adjourn",
		MotionID: "mo1",
	}
	encoded := entity.EncodeActiveVote(av)
	require.NotEmpty(t, encoded)
	cfg := entity.SessionConfigFromFields(map[string]any{
		"phase":      string(entity.PhaseActive),
		"activeVote": encoded,
	})
	require.NotNil(t, cfg.ActiveVote)
	assert.Equal(t, *av, *cfg.ActiveVote)

	// Empty string reads back as no active vote
	cfg = entity.SessionConfigFromFields(map[string]any{
		"activeVote": "",
	})
	assert.Nil(t, cfg.ActiveVote)
}

func TestSessionConfigIgnoresMalformedDescriptors(t *testing.T) {
	cfg := entity.SessionConfigFromFields(map[string]any{
		"activeVote": "{not json",
		"projection": "also not json",
	})
	assert.Nil(t, cfg.ActiveVote)
	assert.Nil(t, cfg.Projection)
}

func TestEncodeActiveVoteNil(t *testing.T) {
	assert.Equal(t, "", entity.EncodeActiveVote(nil))
	assert.Equal(t, "", entity.EncodeProjection(nil))
}

func TestRoleValid(t *testing.T) {
	for _, role := range entity.Roles {
		assert.True(t, role.Valid(), "role %q should be valid", role)
	}
	assert.False(t, entity.Role("monarch").Valid())
	assert.False(t, entity.Role("").Valid())
}
