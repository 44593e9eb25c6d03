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

package topology_test

import (
	"strings"
	"testing"

	"github.com/plenumlabs/plenum/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopologyConfigFromReader(t *testing.T) {
	raw := `{
		"peers": [
			{"address": "replica-b.example.com", "port": 3007},
			{"address": "10.0.0.3", "port": 3007}
		]
	}`
	cfg, err := topology.NewTopologyConfigFromReader(
		strings.NewReader(raw),
	)
	require.NoError(t, err)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(
		t,
		"replica-b.example.com:3007",
		cfg.Peers[0].HostPort(),
	)
	assert.Equal(t, "10.0.0.3:3007", cfg.Peers[1].HostPort())
}

func TestNewTopologyConfigEmpty(t *testing.T) {
	cfg, err := topology.NewTopologyConfigFromReader(
		strings.NewReader(`{}`),
	)
	require.NoError(t, err)
	assert.Empty(t, cfg.Peers)
}

func TestNewTopologyConfigInvalidJson(t *testing.T) {
	_, err := topology.NewTopologyConfigFromReader(
		strings.NewReader(`{"peers": [`),
	)
	require.Error(t, err)
}

func TestHostPortIPv6(t *testing.T) {
	peer := topology.TopologyConfigPeer{Address: "::1", Port: 3007}
	assert.Equal(t, "[::1]:3007", peer.HostPort())
}
