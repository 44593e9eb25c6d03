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

package entity

// Kind is a named category of replicated entity
type Kind string

const (
	KindMember     Kind = "member"
	KindMotion     Kind = "motion"
	KindLedger     Kind = "ledger"
	KindConfig     Kind = "config"
	KindVoteRecord Kind = "votes"
)

// ConfigEntityID is the fixed id of the singleton session config entity
const ConfigEntityID = "config"

// TombstoneField is a reserved field name used to mark an entity as
// deleted. It flows through the same per-field merge path as any other
// field, so a later un-delete write wins over an earlier delete and
// vice versa.
const TombstoneField = "_deleted"

// Role is a member's office within the session
type Role string

const (
	RolePresidingOfficer Role = "presiding-officer"
	RoleViceOfficer1     Role = "vice-officer-1"
	RoleViceOfficer2     Role = "vice-officer-2"
	RoleSecretary        Role = "secretary"
	RoleAdministrator    Role = "administrator"
	RoleOrdinaryMember   Role = "member"
	RoleGuest            Role = "guest"
)

// Roles lists every valid role value
var Roles = []Role{
	RolePresidingOfficer,
	RoleViceOfficer1,
	RoleViceOfficer2,
	RoleSecretary,
	RoleAdministrator,
	RoleOrdinaryMember,
	RoleGuest,
}

// Valid returns true if the role is a known value
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// VoteValue is a member's current vote
type VoteValue string

const (
	VoteNone    VoteValue = ""
	VoteYes     VoteValue = "yes"
	VoteNo      VoteValue = "no"
	VoteAbstain VoteValue = "abstain"
)

// FloorState tracks a member's request for the floor
type FloorState string

const (
	FloorNone    FloorState = ""
	FloorWaiting FloorState = "waiting"
	FloorGranted FloorState = "granted"
	FloorDenied  FloorState = "denied"
)

// Phase is the session phase
type Phase string

const (
	PhaseClosed       Phase = "closed"
	PhaseActive       Phase = "active"
	PhaseIntermission Phase = "intermission"
)

// MotionStatus is a motion's lifecycle state
type MotionStatus string

const (
	MotionPending  MotionStatus = "pending"
	MotionFloor    MotionStatus = "floor"
	MotionApproved MotionStatus = "approved"
	MotionRejected MotionStatus = "rejected"
	MotionArchived MotionStatus = "archived"
)

// LedgerKind distinguishes treasury income from expenses
type LedgerKind string

const (
	LedgerIncome  LedgerKind = "income"
	LedgerExpense LedgerKind = "expense"
)

// VoteOutcome is the result of a closed vote
type VoteOutcome string

const (
	OutcomeApproved VoteOutcome = "approved"
	OutcomeRejected VoteOutcome = "rejected"
)

// SeatCount is the number of seats in the chamber. Seats are indexed
// 0..SeatCount-1.
const SeatCount = 38

// SeatUnassigned marks a member holding no seat
const SeatUnassigned int64 = -1
