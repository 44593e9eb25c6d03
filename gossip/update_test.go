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

package gossip

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	update := Update{
		Kind: "member",
		ID:   "m1",
		Fields: map[string]any{
			"name":    "Ada",
			"seat":    int64(3),
			"present": true,
		},
		Timestamp: 1234,
		Origin:    "replica-a",
	}
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, update))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, update.Kind, got.Kind)
	assert.Equal(t, update.ID, got.ID)
	assert.Equal(t, update.Timestamp, got.Timestamp)
	assert.Equal(t, update.Origin, got.Origin)
	assert.Equal(t, "Ada", got.Fields["name"])
	assert.Equal(t, true, got.Fields["present"])
}

func TestFrameMultipleSequential(t *testing.T) {
	var buf bytes.Buffer
	for i := range 3 {
		require.NoError(t, writeFrame(&buf, Update{
			Kind:      "motion",
			ID:        "mo1",
			Fields:    map[string]any{"title": "t"},
			Timestamp: int64(i),
			Origin:    "a",
		}))
	}
	for i := range 3 {
		got, err := readFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.Timestamp)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, maxFrameSize+1)
	_, err := readFrame(bytes.NewReader(hdr))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 100)
	_, err := readFrame(bytes.NewReader(append(hdr, 0x01, 0x02)))
	require.Error(t, err)
}

func TestSeenCacheEviction(t *testing.T) {
	cache := newSeenCache(2)
	k1 := updateKey{kind: "member", id: "m1", timestamp: 1, origin: "a"}
	k2 := updateKey{kind: "member", id: "m1", timestamp: 2, origin: "a"}
	k3 := updateKey{kind: "member", id: "m1", timestamp: 3, origin: "a"}
	assert.True(t, cache.observe(k1))
	assert.False(t, cache.observe(k1))
	assert.True(t, cache.observe(k2))
	// k3 evicts k1 from the window
	assert.True(t, cache.observe(k3))
	assert.True(t, cache.observe(k1))
}
