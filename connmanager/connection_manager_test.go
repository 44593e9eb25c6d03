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

package connmanager

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/plenumlabs/plenum/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerAcceptsAndTracks(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, inboundEvents := eb.Subscribe(InboundConnectionEventType)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cm := NewConnectionManager(ConnectionManagerConfig{
		EventBus:  eb,
		Listeners: []ListenerConfig{{Listener: ln}},
	})
	require.NoError(t, cm.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()
		require.NoError(t, cm.Stop(ctx))
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case evt := <-inboundEvents:
		e, ok := evt.Data.(InboundConnectionEvent)
		require.True(t, ok)
		assert.NotNil(t, cm.GetConnectionById(e.ConnectionId))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbound connection event")
	}
	assert.Len(t, cm.ConnectionIds(), 1)
}

func TestCloseConnectionPublishesEvent(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, closedEvents := eb.Subscribe(ConnectionClosedEventType)
	cm := NewConnectionManager(ConnectionManagerConfig{
		EventBus: eb,
	})
	client, server := net.Pipe()
	defer client.Close()
	connId := cm.AddConnection(server, true)
	require.NotNil(t, cm.GetConnectionById(connId))

	cm.CloseConnection(connId, io.ErrUnexpectedEOF)
	assert.Nil(t, cm.GetConnectionById(connId))
	select {
	case evt := <-closedEvents:
		e, ok := evt.Data.(ConnectionClosedEvent)
		require.True(t, ok)
		assert.Equal(t, connId, e.ConnectionId)
		assert.ErrorIs(t, e.Error, io.ErrUnexpectedEOF)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connection closed event")
	}

	// Closing an already-removed connection is a no-op
	cm.CloseConnection(connId, io.ErrUnexpectedEOF)
	select {
	case <-closedEvents:
		t.Fatal("unexpected second close event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInboundConnectionLimit(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cm := NewConnectionManager(ConnectionManagerConfig{
		EventBus:        eb,
		Listeners:       []ListenerConfig{{Listener: ln}},
		MaxInboundConns: 1,
	})
	require.NoError(t, cm.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()
		require.NoError(t, cm.Stop(ctx))
	})

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(
		t,
		func() bool { return len(cm.ConnectionIds()) == 1 },
		5*time.Second,
		10*time.Millisecond,
	)

	// The second connection exceeds the limit and is closed without
	// ever being tracked
	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(
		t, second.SetReadDeadline(time.Now().Add(5*time.Second)),
	)
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, cm.ConnectionIds(), 1)
}

func TestAcceptBackoffProgression(t *testing.T) {
	cm := NewConnectionManager(ConnectionManagerConfig{})
	assert.Equal(t, acceptBackoffMin, cm.calculateAcceptBackoff(0))
	assert.Equal(t, acceptBackoffMin, cm.calculateAcceptBackoff(1))
	assert.Equal(t, 2*acceptBackoffMin, cm.calculateAcceptBackoff(2))
	// The shift exponent caps before the duration ceiling is reached
	assert.Equal(
		t,
		acceptBackoffMin<<acceptBackoffCap,
		cm.calculateAcceptBackoff(100),
	)
}
