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

package session

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/reconciler"
)

// SuperuserDNI identifies the bootstrap administrator credential. The
// holder has presiding authority regardless of assigned role, so a
// fresh chamber with no presiding officer can still be operated.
const SuperuserDNI = "49993070"

var (
	ErrUnauthorized    = errors.New("actor lacks presiding authority")
	ErrPhaseInvalid    = errors.New("unknown session phase")
	ErrPhaseTransition = errors.New("invalid phase transition")
	ErrSessionClosed   = errors.New("session is not active")
	ErrVoteInProgress  = errors.New("a vote is already on the floor")
	ErrNoSuchMember    = errors.New("no such member")
	ErrNoSuchMotion    = errors.New("no such motion")
)

type ControllerConfig struct {
	Logger     *slog.Logger
	Channel    *gossip.Channel
	Reconciler *reconciler.Reconciler
}

// Controller implements the privileged session operations: phase
// transitions, floor control, projection control and vote opening.
// Every operation validates against the current snapshot and then
// publishes field updates through the gossip channel; the controller
// never mutates state directly, so its writes converge on every
// replica exactly like remote ones.
type Controller struct {
	config ControllerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewController(config ControllerConfig) *Controller {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Controller{
		config: config,
		logger: config.Logger.With("component", "session"),
		now:    time.Now,
	}
}

// IsAuthority reports whether a member may perform privileged session
// operations
func (c *Controller) IsAuthority(m entity.Member) bool {
	if m.Role == entity.RolePresidingOfficer {
		return true
	}
	return m.DNI == SuperuserDNI
}

// SetPhase moves the shared session through its lifecycle. The
// transition is idempotent: re-entering the current phase publishes
// nothing. Activating a closed session stamps the start time exactly
// once; closing clears the speaker, any active vote and the start
// time as independent field updates so a concurrent close on another
// replica converges to the same result.
func (c *Controller) SetPhase(
	actor entity.Member,
	phase entity.Phase,
) error {
	switch phase {
	case entity.PhaseClosed, entity.PhaseActive, entity.PhaseIntermission:
	default:
		return ErrPhaseInvalid
	}
	if !c.IsAuthority(actor) {
		return ErrUnauthorized
	}
	snap := c.config.Reconciler.Snapshot()
	current := snap.Config.Phase
	if current == phase {
		return nil
	}
	// Intermission suspends an active sitting; a closed chamber has no
	// sitting to suspend
	if phase == entity.PhaseIntermission && current != entity.PhaseActive {
		return ErrPhaseTransition
	}
	fields := map[string]any{
		"phase": string(phase),
	}
	if phase == entity.PhaseActive && current == entity.PhaseClosed {
		fields["startTime"] = c.now().UTC().Format(time.RFC3339)
	}
	if phase == entity.PhaseClosed {
		fields["startTime"] = ""
		fields["speakerId"] = ""
		fields["activeVote"] = ""
		fields["projection"] = ""
	}
	c.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		fields,
	)
	c.logger.Info(
		"session phase changed",
		"phase", phase,
		"actor", actor.ID,
	)
	return nil
}

// GrantFloor makes a member the current speaker. The previous
// speaker's floor state is cleared in the same batch of updates.
func (c *Controller) GrantFloor(
	actor entity.Member,
	memberID string,
) error {
	if !c.IsAuthority(actor) {
		return ErrUnauthorized
	}
	snap := c.config.Reconciler.Snapshot()
	if snap.Config.Phase == entity.PhaseClosed {
		return ErrSessionClosed
	}
	target, ok := snap.MemberByID(memberID)
	if !ok {
		return ErrNoSuchMember
	}
	if prev := snap.Config.SpeakerID; prev != "" && prev != memberID {
		c.config.Channel.Publish(
			string(entity.KindMember),
			prev,
			map[string]any{"floor": string(entity.FloorNone)},
		)
	}
	c.config.Channel.Publish(
		string(entity.KindMember),
		target.ID,
		map[string]any{"floor": string(entity.FloorGranted)},
	)
	c.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		map[string]any{"speakerId": target.ID},
	)
	return nil
}

// DenyFloor rejects a member's pending floor request
func (c *Controller) DenyFloor(
	actor entity.Member,
	memberID string,
) error {
	if !c.IsAuthority(actor) {
		return ErrUnauthorized
	}
	snap := c.config.Reconciler.Snapshot()
	if _, ok := snap.MemberByID(memberID); !ok {
		return ErrNoSuchMember
	}
	c.config.Channel.Publish(
		string(entity.KindMember),
		memberID,
		map[string]any{"floor": string(entity.FloorDenied)},
	)
	return nil
}

// YieldFloor clears the current speaker
func (c *Controller) YieldFloor(actor entity.Member) error {
	if !c.IsAuthority(actor) {
		return ErrUnauthorized
	}
	snap := c.config.Reconciler.Snapshot()
	if prev := snap.Config.SpeakerID; prev != "" {
		c.config.Channel.Publish(
			string(entity.KindMember),
			prev,
			map[string]any{"floor": string(entity.FloorNone)},
		)
	}
	c.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		map[string]any{"speakerId": ""},
	)
	return nil
}

// OpenVote puts a question on the floor. The vote descriptor carries
// an id generated here; if two replicas close the same vote
// concurrently, both tally records land on this id and collapse into
// one under the merge. All member ballots are reset in the same
// operation.
func (c *Controller) OpenVote(
	actor entity.Member,
	subject string,
	motionID string,
) (entity.ActiveVote, error) {
	if !c.IsAuthority(actor) {
		return entity.ActiveVote{}, ErrUnauthorized
	}
	snap := c.config.Reconciler.Snapshot()
	if snap.Config.Phase != entity.PhaseActive {
		return entity.ActiveVote{}, ErrSessionClosed
	}
	if snap.Config.ActiveVote != nil {
		return entity.ActiveVote{}, ErrVoteInProgress
	}
	if motionID != "" {
		motion, ok := snap.MotionByID(motionID)
		if !ok {
			return entity.ActiveVote{}, ErrNoSuchMotion
		}
		if subject == "" {
			subject = motion.Title
		}
		c.config.Channel.Publish(
			string(entity.KindMotion),
			motionID,
			map[string]any{"status": string(entity.MotionFloor)},
		)
	}
	vote := entity.ActiveVote{
		ID:       uuid.NewString(),
		Subject:  subject,
		MotionID: motionID,
		Opened:   c.now().UTC().Format(time.RFC3339),
	}
	// Reset every member's ballot, not just the ones already seen
	// here: a ballot from the previous vote still in flight from
	// another replica loses to the reset's later timestamp.
	for _, m := range snap.Members {
		c.config.Channel.Publish(
			string(entity.KindMember),
			m.ID,
			map[string]any{"vote": string(entity.VoteNone)},
		)
	}
	c.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		map[string]any{"activeVote": entity.EncodeActiveVote(&vote)},
	)
	c.logger.Info(
		"vote opened",
		"vote", vote.ID,
		"subject", subject,
		"motion", motionID,
	)
	return vote, nil
}

// SetProjection updates the chamber's shared display directive
func (c *Controller) SetProjection(
	actor entity.Member,
	projection *entity.Projection,
) error {
	if !c.IsAuthority(actor) {
		return ErrUnauthorized
	}
	c.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		map[string]any{
			"projection": entity.EncodeProjection(projection),
		},
	)
	return nil
}
