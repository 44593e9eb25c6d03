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

import (
	"encoding/json"
)

// Member is the typed view of a "member" entity
type Member struct {
	ID         string
	DNI        string
	Name       string
	Role       Role
	Seat       int64
	Photo      string
	Present    bool
	Confirmed  bool
	Active     bool
	Vote       VoteValue
	Floor      FloorState
	Credential string
}

// MemberFromFields decodes a normalized field map into a Member
func MemberFromFields(id string, fields map[string]any) Member {
	return Member{
		ID:         id,
		DNI:        fieldString(fields, "dni"),
		Name:       fieldString(fields, "name"),
		Role:       Role(fieldString(fields, "role")),
		Seat:       fieldIntDefault(fields, "seat", SeatUnassigned),
		Photo:      fieldString(fields, "photo"),
		Present:    fieldBool(fields, "present"),
		Confirmed:  fieldBool(fields, "confirmed"),
		Active:     fieldBool(fields, "active"),
		Vote:       VoteValue(fieldString(fields, "vote")),
		Floor:      FloorState(fieldString(fields, "floor")),
		Credential: fieldString(fields, "credential"),
	}
}

// Fields encodes the member as a full field map for publication
func (m Member) Fields() map[string]any {
	return map[string]any{
		"dni":        m.DNI,
		"name":       m.Name,
		"role":       string(m.Role),
		"seat":       m.Seat,
		"photo":      m.Photo,
		"present":    m.Present,
		"confirmed":  m.Confirmed,
		"active":     m.Active,
		"vote":       string(m.Vote),
		"floor":      string(m.Floor),
		"credential": m.Credential,
	}
}

// Motion is the typed view of a "motion" entity
type Motion struct {
	ID           string
	Title        string
	Body         string
	ProposerID   string
	ProposerName string
	Status       MotionStatus
	Created      string
}

func MotionFromFields(id string, fields map[string]any) Motion {
	return Motion{
		ID:           id,
		Title:        fieldString(fields, "title"),
		Body:         fieldString(fields, "body"),
		ProposerID:   fieldString(fields, "proposerId"),
		ProposerName: fieldString(fields, "proposerName"),
		Status:       MotionStatus(fieldString(fields, "status")),
		Created:      fieldString(fields, "created"),
	}
}

func (m Motion) Fields() map[string]any {
	return map[string]any{
		"title":        m.Title,
		"body":         m.Body,
		"proposerId":   m.ProposerID,
		"proposerName": m.ProposerName,
		"status":       string(m.Status),
		"created":      m.Created,
	}
}

// LedgerEntry is the typed view of a "ledger" entity. Entries are
// append-only and never mutate after creation.
type LedgerEntry struct {
	ID          string
	Kind        LedgerKind
	Amount      float64
	Description string
	Created     string
}

func LedgerEntryFromFields(id string, fields map[string]any) LedgerEntry {
	return LedgerEntry{
		ID:          id,
		Kind:        LedgerKind(fieldString(fields, "kind")),
		Amount:      fieldFloat(fields, "amount"),
		Description: fieldString(fields, "description"),
		Created:     fieldString(fields, "created"),
	}
}

func (l LedgerEntry) Fields() map[string]any {
	return map[string]any{
		"kind":        string(l.Kind),
		"amount":      l.Amount,
		"description": l.Description,
		"created":     l.Created,
	}
}

// Signed returns the entry amount with expense entries negated
func (l LedgerEntry) Signed() float64 {
	if l.Kind == LedgerExpense {
		return -l.Amount
	}
	return l.Amount
}

// ActiveVote describes the vote currently on the floor. It is stored
// JSON-encoded in the session config's activeVote field so the whole
// descriptor replaces atomically under the per-field merge.
type ActiveVote struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	MotionID string `json:"motionId,omitempty"`
	Opened   string `json:"opened,omitempty"`
}

// SessionConfig is the typed view of the singleton "config" entity
type SessionConfig struct {
	Phase      Phase
	StartTime  string
	SpeakerID  string
	ActiveVote *ActiveVote
	Projection *Projection
}

// Projection is the directive for the chamber's shared display
type Projection struct {
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

// Projection types
const (
	ProjectionNone    = "none"
	ProjectionAnthem  = "anthem"
	ProjectionTribute = "tribute"
	ProjectionResult  = "result"
	ProjectionClear   = "clear"
)

func SessionConfigFromFields(fields map[string]any) SessionConfig {
	cfg := SessionConfig{
		Phase:     Phase(fieldString(fields, "phase")),
		StartTime: fieldString(fields, "startTime"),
		SpeakerID: fieldString(fields, "speakerId"),
	}
	if cfg.Phase == "" {
		cfg.Phase = PhaseClosed
	}
	if raw := fieldString(fields, "activeVote"); raw != "" {
		var av ActiveVote
		if err := json.Unmarshal([]byte(raw), &av); err == nil {
			cfg.ActiveVote = &av
		}
	}
	if raw := fieldString(fields, "projection"); raw != "" {
		var p Projection
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			cfg.Projection = &p
		}
	}
	return cfg
}

// EncodeActiveVote renders the descriptor for the activeVote field. A
// nil descriptor encodes as the empty string, which reads back as no
// active vote.
func EncodeActiveVote(av *ActiveVote) string {
	if av == nil {
		return ""
	}
	data, err := json.Marshal(av)
	if err != nil {
		return ""
	}
	return string(data)
}

// EncodeProjection renders the directive for the projection field
func EncodeProjection(p *Projection) string {
	if p == nil {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// VoteRecord is the typed view of an immutable tally history entry
type VoteRecord struct {
	ID      string
	Subject string
	Date    string
	Outcome VoteOutcome
	Yes     int64
	No      int64
	Abstain int64
	Detail  string
}

func VoteRecordFromFields(id string, fields map[string]any) VoteRecord {
	return VoteRecord{
		ID:      id,
		Subject: fieldString(fields, "subject"),
		Date:    fieldString(fields, "date"),
		Outcome: VoteOutcome(fieldString(fields, "outcome")),
		Yes:     fieldInt(fields, "yes"),
		No:      fieldInt(fields, "no"),
		Abstain: fieldInt(fields, "abstain"),
		Detail:  fieldString(fields, "detail"),
	}
}

func (v VoteRecord) Fields() map[string]any {
	return map[string]any{
		"subject": v.Subject,
		"date":    v.Date,
		"outcome": string(v.Outcome),
		"yes":     v.Yes,
		"no":      v.No,
		"abstain": v.Abstain,
		"detail":  v.Detail,
	}
}

func fieldString(fields map[string]any, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

func fieldInt(fields map[string]any, name string) int64 {
	return fieldIntDefault(fields, name, 0)
}

func fieldIntDefault(
	fields map[string]any,
	name string,
	def int64,
) int64 {
	if i, ok := coerceInt(fields[name]); ok {
		return i
	}
	return def
}

func fieldFloat(fields map[string]any, name string) float64 {
	if f, ok := coerceFloat(fields[name]); ok {
		return f
	}
	return 0
}

func fieldBool(fields map[string]any, name string) bool {
	if b, ok := fields[name].(bool); ok {
		return b
	}
	return false
}
