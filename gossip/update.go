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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize bounds a single update frame on the wire. This prevents
// unbounded memory allocation from a misbehaving peer.
const maxFrameSize = 1 * 1024 * 1024

// Update is one replicated state change: a partial-record put of one
// or more fields of a single entity. Field-level granularity must be
// preserved end to end; a whole-record replacement would clobber
// concurrent writes to sibling fields.
type Update struct {
	Kind      string         `cbor:"k"`
	ID        string         `cbor:"i"`
	Fields    map[string]any `cbor:"f"`
	Timestamp int64          `cbor:"t"`
	Origin    string         `cbor:"o"`
}

// key identifies an update for duplicate suppression during flooding
func (u Update) key() updateKey {
	return updateKey{
		kind:      u.Kind,
		id:        u.ID,
		timestamp: u.Timestamp,
		origin:    u.Origin,
	}
}

type updateKey struct {
	kind      string
	id        string
	timestamp int64
	origin    string
}

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// writeFrame encodes an update as CBOR behind a big-endian uint32
// length prefix
func writeFrame(w io.Writer, update Update) error {
	payload, err := cbor.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(payload))) //nolint:gosec // bounded by maxFrameSize
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// readFrame decodes the next length-prefixed update from the wire
func readFrame(r io.Reader) (Update, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Update{}, err
	}
	size := binary.BigEndian.Uint32(hdr)
	if size > maxFrameSize {
		return Update{}, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Update{}, err
	}
	var update Update
	if err := cbor.Unmarshal(payload, &update); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return update, nil
}
