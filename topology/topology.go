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

package topology

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

// TopologyConfig lists the peer replicas this node gossips with.
// Every listed peer is dialed and redialed for the lifetime of the
// process; there is no peer discovery beyond this file.
type TopologyConfig struct {
	Peers []TopologyConfigPeer `json:"peers"`
}

type TopologyConfigPeer struct {
	Address string `json:"address"`
	Port    uint   `json:"port"`
}

// HostPort renders the peer as a dialable address
func (p TopologyConfigPeer) HostPort() string {
	return net.JoinHostPort(
		p.Address,
		strconv.FormatUint(uint64(p.Port), 10),
	)
}

func NewTopologyConfigFromFile(path string) (*TopologyConfig, error) {
	dataFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()
	return NewTopologyConfigFromReader(dataFile)
}

// maxTopologySize is the maximum allowed size for a topology config file
// (10 MB). This prevents unbounded memory allocation from untrusted readers.
const maxTopologySize = 10 * 1024 * 1024

func NewTopologyConfigFromReader(r io.Reader) (*TopologyConfig, error) {
	t := &TopologyConfig{}
	data, err := io.ReadAll(io.LimitReader(r, maxTopologySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxTopologySize {
		return nil, fmt.Errorf(
			"topology file exceeds maximum size of %d bytes",
			maxTopologySize,
		)
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}
