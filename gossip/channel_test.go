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
	"testing"
	"time"

	"github.com/plenumlabs/plenum/event"
	"github.com/plenumlabs/plenum/gossip"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopbackPublishDelivers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	ch := gossip.NewChannel(gossip.ChannelConfig{
		EventBus: eb,
		Origin:   "replica-a",
	})
	_, deliveries := eb.Subscribe(gossip.DeliveryEventType)

	published := ch.Publish(
		"member", "m1", map[string]any{"name": "Ada"},
	)
	assert.Equal(t, "replica-a", published.Origin)

	select {
	case evt := <-deliveries:
		delivery, ok := evt.Data.(gossip.Delivery)
		require.True(t, ok)
		assert.True(t, delivery.Local)
		assert.Equal(t, published, delivery.Update)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for loopback delivery")
	}
}

func TestPublishTimestampsMonotonic(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	ch := gossip.NewChannel(gossip.ChannelConfig{
		EventBus: eb,
		Origin:   "replica-a",
	})
	var last int64
	for range 100 {
		update := ch.Publish(
			"config", "config", map[string]any{"phase": "active"},
		)
		require.Greater(t, update.Timestamp, last)
		last = update.Timestamp
	}
}

func TestStandaloneStartStop(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	ch := gossip.NewChannel(gossip.ChannelConfig{
		EventBus: eb,
		Origin:   "replica-a",
	})
	// No connection manager means loopback-only operation
	require.NoError(t, ch.Start(context.Background()))
	require.NoError(t, ch.Stop())
}
