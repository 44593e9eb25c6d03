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

package tally

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/reconciler"
)

var ErrNoActiveVote = errors.New("no vote is on the floor")

// Result is a computed tally before it is published as a vote record
type Result struct {
	Yes     int64
	No      int64
	Abstain int64
	Outcome entity.VoteOutcome
	Detail  string
}

// Compute tallies the ballots of confirmed members. Approval requires
// a strict majority of yes over no; abstentions are recorded but never
// count toward either side, so a tie or an empty ballot box rejects.
// The detail lists each cast ballot in member enumeration order.
func Compute(members []entity.Member) Result {
	var res Result
	var lines []string
	for _, m := range members {
		if !m.Confirmed {
			continue
		}
		switch m.Vote {
		case entity.VoteYes:
			res.Yes++
		case entity.VoteNo:
			res.No++
		case entity.VoteAbstain:
			res.Abstain++
		default:
			continue
		}
		lines = append(
			lines,
			fmt.Sprintf("%s: %s", m.Name, m.Vote),
		)
	}
	if res.Yes > res.No {
		res.Outcome = entity.OutcomeApproved
	} else {
		res.Outcome = entity.OutcomeRejected
	}
	res.Detail = strings.Join(lines, "\n")
	return res
}

type EngineConfig struct {
	Logger     *slog.Logger
	Channel    *gossip.Channel
	Reconciler *reconciler.Reconciler
}

// Engine closes votes: it freezes the current ballots into an
// immutable vote record and publishes the cleanup updates. Callers
// enforce presiding authority before invoking it.
type Engine struct {
	config EngineConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(config EngineConfig) *Engine {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Engine{
		config: config,
		logger: config.Logger.With("component", "tally"),
		now:    time.Now,
	}
}

// CloseActiveVote tallies and retires the vote currently on the
// floor. The resulting record is keyed by the vote's own id, so two
// replicas closing the same vote concurrently publish records for the
// same entity and converge to a single history entry. Cleanup is a
// batch of independent field updates: the vote descriptor is cleared,
// the bound motion resolves to its outcome, every ballot resets and
// the chamber display shows the result.
func (e *Engine) CloseActiveVote(
	actor entity.Member,
) (entity.VoteRecord, error) {
	snap := e.config.Reconciler.Snapshot()
	vote := snap.Config.ActiveVote
	if vote == nil {
		return entity.VoteRecord{}, ErrNoActiveVote
	}
	res := Compute(snap.Members)
	record := entity.VoteRecord{
		ID:      vote.ID,
		Subject: vote.Subject,
		Date:    e.now().UTC().Format(time.RFC3339),
		Outcome: res.Outcome,
		Yes:     res.Yes,
		No:      res.No,
		Abstain: res.Abstain,
		Detail:  res.Detail,
	}
	e.config.Channel.Publish(
		string(entity.KindVoteRecord),
		record.ID,
		record.Fields(),
	)
	if vote.MotionID != "" {
		status := entity.MotionRejected
		if res.Outcome == entity.OutcomeApproved {
			status = entity.MotionApproved
		}
		e.config.Channel.Publish(
			string(entity.KindMotion),
			vote.MotionID,
			map[string]any{"status": string(status)},
		)
	}
	// Every member gets a clearing update, voted or not: a ballot still
	// in flight from another replica carries a pre-close timestamp and
	// loses to the clear under the merge.
	for _, m := range snap.Members {
		e.config.Channel.Publish(
			string(entity.KindMember),
			m.ID,
			map[string]any{"vote": string(entity.VoteNone)},
		)
	}
	e.config.Channel.Publish(
		string(entity.KindConfig),
		entity.ConfigEntityID,
		map[string]any{
			"activeVote": "",
			"projection": entity.EncodeProjection(&entity.Projection{
				Type:     entity.ProjectionResult,
				Title:    vote.Subject,
				Subtitle: string(res.Outcome),
			}),
		},
	)
	e.logger.Info(
		"vote closed",
		"vote", vote.ID,
		"outcome", record.Outcome,
		"yes", record.Yes,
		"no", record.No,
		"abstain", record.Abstain,
		"actor", actor.ID,
	)
	return record, nil
}
