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

package gossip_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/plenumlabs/plenum/connmanager"
	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/event"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/reconciler"
	"github.com/plenumlabs/plenum/store"

	"github.com/stretchr/testify/require"
)

// replicaStack is a full pipeline for one replica: bus, store,
// reconciler, connection manager and gossip channel over real TCP
type replicaStack struct {
	eventBus    *event.EventBus
	reconciler  *reconciler.Reconciler
	channel     *gossip.Channel
	connManager *connmanager.ConnectionManager
	stopped     bool
}

func newReplicaStack(
	t *testing.T,
	origin string,
	listener net.Listener,
	peers []string,
) *replicaStack {
	t.Helper()
	eb := event.NewEventBus(nil, nil)
	st := store.NewEntityStore(store.EntityStoreConfig{EventBus: eb})
	rec := reconciler.NewReconciler(reconciler.ReconcilerConfig{
		EventBus: eb,
		Store:    st,
	})
	require.NoError(t, rec.Start())
	var listeners []connmanager.ListenerConfig
	if listener != nil {
		listeners = append(
			listeners,
			connmanager.ListenerConfig{Listener: listener},
		)
	}
	cm := connmanager.NewConnectionManager(
		connmanager.ConnectionManagerConfig{
			EventBus:  eb,
			Listeners: listeners,
		},
	)
	ch := gossip.NewChannel(gossip.ChannelConfig{
		EventBus:    eb,
		ConnManager: cm,
		Origin:      origin,
		Peers:       peers,
	})
	require.NoError(t, cm.Start(context.Background()))
	require.NoError(t, ch.Start(context.Background()))
	s := &replicaStack{
		eventBus:    eb,
		reconciler:  rec,
		channel:     ch,
		connManager: cm,
	}
	t.Cleanup(func() { s.stop(t) })
	return s
}

func (s *replicaStack) stop(t *testing.T) {
	t.Helper()
	if s.stopped {
		return
	}
	s.stopped = true
	require.NoError(t, s.channel.Stop())
	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()
	require.NoError(t, s.connManager.Stop(ctx))
	require.NoError(t, s.reconciler.Stop())
	s.eventBus.Stop()
}

func (s *replicaStack) waitFor(
	t *testing.T,
	cond func(reconciler.Snapshot) bool,
) reconciler.Snapshot {
	t.Helper()
	var snap reconciler.Snapshot
	require.Eventually(
		t,
		func() bool {
			snap = s.reconciler.Snapshot()
			return cond(snap)
		},
		10*time.Second,
		10*time.Millisecond,
	)
	return snap
}

func TestConvergenceOverTcp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := newReplicaStack(t, "replica-a", ln, nil)
	b := newReplicaStack(
		t, "replica-b", nil, []string{ln.Addr().String()},
	)

	// Delivery is at-least-once: keep publishing until the frame lands
	// on the other replica, covering the window before the channel has
	// attached to the fresh connection
	require.Eventually(
		t,
		func() bool {
			a.channel.Publish(
				string(entity.KindMember),
				"m1",
				map[string]any{"name": "Ada", "confirmed": true},
			)
			m, ok := b.reconciler.Snapshot().MemberByID("m1")
			return ok && m.Name == "Ada"
		},
		10*time.Second,
		100*time.Millisecond,
	)

	// The link is live now; a single publish flows the other way
	b.channel.Publish(
		string(entity.KindMember),
		"m2",
		map[string]any{"name": "Grace"},
	)
	a.waitFor(t, func(s reconciler.Snapshot) bool {
		m, ok := s.MemberByID("m2")
		return ok && m.Name == "Grace"
	})

	// Both replicas settle on the same member roll
	a.waitFor(t, func(s reconciler.Snapshot) bool {
		return len(s.Members) == 2
	})
	b.waitFor(t, func(s reconciler.Snapshot) bool {
		return len(s.Members) == 2
	})
}

func TestPeerLossNonFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := newReplicaStack(t, "replica-a", ln, nil)
	b := newReplicaStack(
		t, "replica-b", nil, []string{ln.Addr().String()},
	)

	// Prove the link once
	require.Eventually(
		t,
		func() bool {
			a.channel.Publish(
				string(entity.KindMember),
				"m1",
				map[string]any{"name": "Ada"},
			)
			_, ok := b.reconciler.Snapshot().MemberByID("m1")
			return ok
		},
		10*time.Second,
		100*time.Millisecond,
	)

	// Take the peer down entirely, listener included
	a.stop(t)

	// Local writes keep applying on the surviving replica
	b.channel.Publish(
		string(entity.KindMember),
		"m2",
		map[string]any{"name": "Grace"},
	)
	snap := b.waitFor(t, func(s reconciler.Snapshot) bool {
		m, ok := s.MemberByID("m2")
		return ok && m.Name == "Grace"
	})
	require.Len(t, snap.Members, 2)
}
