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

// Package intent is the write boundary of the replica. Every local
// mutation enters through the dispatcher, which validates the intent
// against the current snapshot and either publishes field updates on
// the gossip channel or rejects without publishing anything. Rejected
// intents leave no trace in shared state.
package intent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/reconciler"
	"github.com/plenumlabs/plenum/session"
	"github.com/plenumlabs/plenum/tally"
)

// MasterCredential is the chamber operator's override password
const MasterCredential = "ADMIN"

var (
	ErrMalformedIntent = errors.New("malformed intent")
	ErrUnauthorized    = session.ErrUnauthorized
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrMemberExists    = errors.New("member already registered")
	ErrNoSuchActor     = errors.New("unknown acting member")
)

// selfEditableFields are the member fields a member may change on
// their own record; presiding authority may change any of these plus
// role, confirmed and active
var selfEditableFields = map[string]bool{
	"name":  true,
	"photo": true,
	"seat":  true,
}

var authorityEditableFields = map[string]bool{
	"name":      true,
	"photo":     true,
	"seat":      true,
	"role":      true,
	"confirmed": true,
	"active":    true,
}

type DispatcherConfig struct {
	Logger     *slog.Logger
	Channel    *gossip.Channel
	Reconciler *reconciler.Reconciler
	Session    *session.Controller
	Tally      *tally.Engine
}

type Dispatcher struct {
	config DispatcherConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Dispatcher{
		config: config,
		logger: config.Logger.With("component", "intent"),
		now:    time.Now,
	}
}

func (d *Dispatcher) snapshot() reconciler.Snapshot {
	return d.config.Reconciler.Snapshot()
}

func (d *Dispatcher) actor(actorID string) (entity.Member, error) {
	m, ok := d.snapshot().MemberByID(actorID)
	if !ok {
		return entity.Member{}, ErrNoSuchActor
	}
	return m, nil
}

// Login authenticates a member by national identity number. A
// member's own credential (their DNI by default) or the master
// credential is accepted. A first successful login confirms the
// member's registration.
func (d *Dispatcher) Login(
	dni string,
	password string,
) (entity.Member, error) {
	if dni == "" || password == "" {
		return entity.Member{}, ErrMalformedIntent
	}
	m, ok := d.snapshot().MemberByDNI(dni)
	if !ok {
		return entity.Member{}, ErrBadCredentials
	}
	credential := m.Credential
	if credential == "" {
		credential = m.DNI
	}
	if password != credential && password != MasterCredential {
		return entity.Member{}, ErrBadCredentials
	}
	if !m.Confirmed {
		d.config.Channel.Publish(
			string(entity.KindMember),
			m.ID,
			map[string]any{"confirmed": true},
		)
		d.logger.Info("member confirmed on login", "member", m.ID)
	}
	return m, nil
}

// RegisterMember creates a new unconfirmed member. Registration
// requires presiding authority. The initial credential is the
// member's own DNI; the registration is confirmed on the member's
// first login or by presiding authority via UpdateMemberField.
func (d *Dispatcher) RegisterMember(
	actorID string,
	dni string,
	name string,
) (entity.Member, error) {
	actor, err := d.actor(actorID)
	if err != nil {
		return entity.Member{}, err
	}
	if !d.config.Session.IsAuthority(actor) {
		return entity.Member{}, ErrUnauthorized
	}
	if dni == "" || name == "" {
		return entity.Member{}, ErrMalformedIntent
	}
	if _, ok := d.snapshot().MemberByDNI(dni); ok {
		return entity.Member{}, ErrMemberExists
	}
	m := entity.Member{
		ID:         uuid.NewString(),
		DNI:        dni,
		Name:       name,
		Role:       entity.RoleOrdinaryMember,
		Seat:       entity.SeatUnassigned,
		Active:     true,
		Credential: dni,
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		m.ID,
		m.Fields(),
	)
	d.logger.Info("member registered", "member", m.ID, "name", name)
	return m, nil
}

// UpdateMemberField changes one attribute of a member record. Members
// may edit their own descriptive fields; role, confirmation and
// activation require presiding authority.
func (d *Dispatcher) UpdateMemberField(
	actorID string,
	memberID string,
	field string,
	value any,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	if _, ok := d.snapshot().MemberByID(memberID); !ok {
		return session.ErrNoSuchMember
	}
	if d.config.Session.IsAuthority(actor) {
		if !authorityEditableFields[field] {
			return ErrMalformedIntent
		}
	} else {
		if actor.ID != memberID || !selfEditableFields[field] {
			return ErrUnauthorized
		}
	}
	if field == "role" {
		role, ok := value.(string)
		if !ok || !entity.Role(role).Valid() {
			return ErrMalformedIntent
		}
	}
	normalized := entity.NormalizeFields(
		entity.KindMember,
		map[string]any{field: value},
	)
	if len(normalized) == 0 {
		return ErrMalformedIntent
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		memberID,
		normalized,
	)
	return nil
}

// RemoveMember tombstones a member record. The tombstone replicates
// like any field write, so a concurrent re-registration with a later
// timestamp revives the entity.
func (d *Dispatcher) RemoveMember(
	actorID string,
	memberID string,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	if !d.config.Session.IsAuthority(actor) {
		return ErrUnauthorized
	}
	if _, ok := d.snapshot().MemberByID(memberID); !ok {
		return session.ErrNoSuchMember
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		memberID,
		map[string]any{entity.TombstoneField: true},
	)
	d.logger.Info("member removed", "member", memberID, "actor", actorID)
	return nil
}

// SubmitMotion files a new motion in pending state
func (d *Dispatcher) SubmitMotion(
	actorID string,
	title string,
	body string,
) (entity.Motion, error) {
	actor, err := d.actor(actorID)
	if err != nil {
		return entity.Motion{}, err
	}
	if title == "" {
		return entity.Motion{}, ErrMalformedIntent
	}
	if !actor.Confirmed {
		return entity.Motion{}, ErrUnauthorized
	}
	m := entity.Motion{
		ID:           uuid.NewString(),
		Title:        title,
		Body:         body,
		ProposerID:   actor.ID,
		ProposerName: actor.Name,
		Status:       entity.MotionPending,
		Created:      d.now().UTC().Format(time.RFC3339),
	}
	d.config.Channel.Publish(
		string(entity.KindMotion),
		m.ID,
		m.Fields(),
	)
	return m, nil
}

// SetMotionStatus moves a motion through its lifecycle by presiding
// authority, e.g. archiving a resolved motion. Escalating a motion to
// the floor opens the vote on it.
func (d *Dispatcher) SetMotionStatus(
	actorID string,
	motionID string,
	status entity.MotionStatus,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	if !d.config.Session.IsAuthority(actor) {
		return ErrUnauthorized
	}
	switch status {
	case entity.MotionPending, entity.MotionFloor,
		entity.MotionApproved, entity.MotionRejected,
		entity.MotionArchived:
	default:
		return ErrMalformedIntent
	}
	if _, ok := d.snapshot().MotionByID(motionID); !ok {
		return session.ErrNoSuchMotion
	}
	if status == entity.MotionFloor {
		_, err := d.config.Session.OpenVote(actor, "", motionID)
		return err
	}
	d.config.Channel.Publish(
		string(entity.KindMotion),
		motionID,
		map[string]any{"status": string(status)},
	)
	return nil
}

// PostLedgerEntry records an income or expense in the chamber's
// treasury. Entries are immutable once published.
func (d *Dispatcher) PostLedgerEntry(
	actorID string,
	kind entity.LedgerKind,
	amount float64,
	description string,
) (entity.LedgerEntry, error) {
	actor, err := d.actor(actorID)
	if err != nil {
		return entity.LedgerEntry{}, err
	}
	authorized := d.config.Session.IsAuthority(actor) ||
		actor.Role == entity.RoleSecretary
	if !authorized {
		return entity.LedgerEntry{}, ErrUnauthorized
	}
	if kind != entity.LedgerIncome && kind != entity.LedgerExpense {
		return entity.LedgerEntry{}, ErrMalformedIntent
	}
	if amount <= 0 || description == "" {
		return entity.LedgerEntry{}, ErrMalformedIntent
	}
	l := entity.LedgerEntry{
		ID:          uuid.NewString(),
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Created:     d.now().UTC().Format(time.RFC3339),
	}
	d.config.Channel.Publish(
		string(entity.KindLedger),
		l.ID,
		l.Fields(),
	)
	return l, nil
}

// CastVote records the actor's ballot on the vote currently on the
// floor. Re-casting overwrites the previous ballot; only the last
// write counts at close.
func (d *Dispatcher) CastVote(
	actorID string,
	value entity.VoteValue,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	switch value {
	case entity.VoteYes, entity.VoteNo, entity.VoteAbstain:
	default:
		return ErrMalformedIntent
	}
	if !actor.Confirmed {
		return ErrUnauthorized
	}
	snap := d.snapshot()
	if snap.Config.Phase != entity.PhaseActive ||
		snap.Config.ActiveVote == nil {
		return session.ErrSessionClosed
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		actor.ID,
		map[string]any{"vote": string(value)},
	)
	return nil
}

// RequestFloor marks the actor as waiting to speak
func (d *Dispatcher) RequestFloor(actorID string) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	snap := d.snapshot()
	if snap.Config.Phase == entity.PhaseClosed {
		return session.ErrSessionClosed
	}
	if actor.Floor == entity.FloorGranted {
		return nil
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		actor.ID,
		map[string]any{"floor": string(entity.FloorWaiting)},
	)
	return nil
}

// SetPresence marks the actor as present in or absent from the
// chamber
func (d *Dispatcher) SetPresence(actorID string, present bool) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	if actor.Present == present {
		return nil
	}
	d.config.Channel.Publish(
		string(entity.KindMember),
		actor.ID,
		map[string]any{"present": present},
	)
	return nil
}

// SetPhase transitions the shared session phase
func (d *Dispatcher) SetPhase(
	actorID string,
	phase entity.Phase,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	return d.config.Session.SetPhase(actor, phase)
}

// GrantFloor hands the floor to a member
func (d *Dispatcher) GrantFloor(actorID, memberID string) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	return d.config.Session.GrantFloor(actor, memberID)
}

// DenyFloor rejects a pending floor request
func (d *Dispatcher) DenyFloor(actorID, memberID string) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	return d.config.Session.DenyFloor(actor, memberID)
}

// YieldFloor clears the current speaker
func (d *Dispatcher) YieldFloor(actorID string) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	return d.config.Session.YieldFloor(actor)
}

// OpenVote puts a question, optionally bound to a motion, on the
// floor
func (d *Dispatcher) OpenVote(
	actorID string,
	subject string,
	motionID string,
) (entity.ActiveVote, error) {
	actor, err := d.actor(actorID)
	if err != nil {
		return entity.ActiveVote{}, err
	}
	if subject == "" && motionID == "" {
		return entity.ActiveVote{}, ErrMalformedIntent
	}
	return d.config.Session.OpenVote(actor, subject, motionID)
}

// CloseVote tallies and retires the vote on the floor. Closing with
// nothing on the floor is a no-op: a concurrent close on another
// replica may already have retired the vote.
func (d *Dispatcher) CloseVote(
	actorID string,
) (entity.VoteRecord, error) {
	actor, err := d.actor(actorID)
	if err != nil {
		return entity.VoteRecord{}, err
	}
	if !d.config.Session.IsAuthority(actor) {
		return entity.VoteRecord{}, ErrUnauthorized
	}
	record, err := d.config.Tally.CloseActiveVote(actor)
	if errors.Is(err, tally.ErrNoActiveVote) {
		return entity.VoteRecord{}, nil
	}
	return record, err
}

// SetProjection updates the chamber's shared display
func (d *Dispatcher) SetProjection(
	actorID string,
	projection *entity.Projection,
) error {
	actor, err := d.actor(actorID)
	if err != nil {
		return err
	}
	if projection != nil {
		switch projection.Type {
		case entity.ProjectionNone, entity.ProjectionAnthem,
			entity.ProjectionTribute, entity.ProjectionResult,
			entity.ProjectionClear:
		default:
			return fmt.Errorf(
				"%w: unknown projection type %q",
				ErrMalformedIntent, projection.Type,
			)
		}
	}
	return d.config.Session.SetProjection(actor, projection)
}
