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

package reconciler

import (
	"sort"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/store"
)

// Snapshot is the derived read model over the entity store. It is a
// pure function of store contents: two replicas holding the same
// merged state produce byte-identical snapshots regardless of the
// order their updates arrived in.
type Snapshot struct {
	Members     []entity.Member
	Motions     []entity.Motion
	Ledger      []entity.LedgerEntry
	VoteHistory []entity.VoteRecord
	Config      entity.SessionConfig
	// Balance is the running total of the ledger, expenses negated
	Balance float64
	// Seats maps an occupied seat index (0-based) to the member
	// holding it. When two members claim the same seat the lexically
	// lowest member id keeps it.
	Seats map[int64]string
}

// BuildSnapshot materializes the derived view from current store
// contents
func BuildSnapshot(s *store.EntityStore) Snapshot {
	snap := Snapshot{
		Seats: make(map[int64]string),
	}

	for _, ent := range s.GetSnapshot(entity.KindMember) {
		snap.Members = append(
			snap.Members,
			entity.MemberFromFields(ent.ID, ent.Fields),
		)
	}
	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].ID < snap.Members[j].ID
	})
	for _, m := range snap.Members {
		if m.Seat < 0 || m.Seat >= entity.SeatCount {
			continue
		}
		if _, taken := snap.Seats[m.Seat]; !taken {
			snap.Seats[m.Seat] = m.ID
		}
	}

	for _, ent := range s.GetSnapshot(entity.KindMotion) {
		snap.Motions = append(
			snap.Motions,
			entity.MotionFromFields(ent.ID, ent.Fields),
		)
	}
	sort.Slice(snap.Motions, func(i, j int) bool {
		a, b := snap.Motions[i], snap.Motions[j]
		if a.Created != b.Created {
			return a.Created < b.Created
		}
		return a.ID < b.ID
	})

	for _, ent := range s.GetSnapshot(entity.KindLedger) {
		snap.Ledger = append(
			snap.Ledger,
			entity.LedgerEntryFromFields(ent.ID, ent.Fields),
		)
	}
	sort.Slice(snap.Ledger, func(i, j int) bool {
		a, b := snap.Ledger[i], snap.Ledger[j]
		if a.Created != b.Created {
			return a.Created < b.Created
		}
		return a.ID < b.ID
	})
	for _, l := range snap.Ledger {
		snap.Balance += l.Signed()
	}

	for _, ent := range s.GetSnapshot(entity.KindVoteRecord) {
		snap.VoteHistory = append(
			snap.VoteHistory,
			entity.VoteRecordFromFields(ent.ID, ent.Fields),
		)
	}
	sort.Slice(snap.VoteHistory, func(i, j int) bool {
		a, b := snap.VoteHistory[i], snap.VoteHistory[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ID < b.ID
	})

	if ent, ok := s.GetEntity(
		entity.KindConfig, entity.ConfigEntityID,
	); ok && !ent.Deleted() {
		snap.Config = entity.SessionConfigFromFields(ent.Fields)
	} else {
		snap.Config = entity.SessionConfig{Phase: entity.PhaseClosed}
	}

	return snap
}

// MemberByID looks a member up in the snapshot
func (s Snapshot) MemberByID(id string) (entity.Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return entity.Member{}, false
}

// MemberByDNI looks a member up by national identity number
func (s Snapshot) MemberByDNI(dni string) (entity.Member, bool) {
	for _, m := range s.Members {
		if m.DNI == dni {
			return m, true
		}
	}
	return entity.Member{}, false
}

// MotionByID looks a motion up in the snapshot
func (s Snapshot) MotionByID(id string) (entity.Motion, bool) {
	for _, m := range s.Motions {
		if m.ID == id {
			return m, true
		}
	}
	return entity.Motion{}, false
}
