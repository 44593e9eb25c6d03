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
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plenumlabs/plenum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	InboundConnectionEventType  event.EventType = "connmanager.inbound-conn"
	OutboundConnectionEventType event.EventType = "connmanager.outbound-conn"
	ConnectionClosedEventType   event.EventType = "connmanager.conn-closed"

	// metricNamePrefix is the common prefix for all connection manager metrics
	metricNamePrefix = "plenum_metrics_connectionManager_"

	// DefaultMaxInboundConns caps concurrently tracked inbound peers
	DefaultMaxInboundConns = 64
)

// ConnectionId identifies one tracked connection for its lifetime
type ConnectionId uint64

type InboundConnectionEvent struct {
	ConnectionId ConnectionId
	LocalAddr    net.Addr
	RemoteAddr   net.Addr
}

type OutboundConnectionEvent struct {
	ConnectionId ConnectionId
	RemoteAddr   net.Addr
}

type ConnectionClosedEvent struct {
	ConnectionId ConnectionId
	Error        error
}

type connectionInfo struct {
	conn      net.Conn
	isInbound bool
	peerAddr  string
}

type ConnectionManagerConfig struct {
	Logger          *slog.Logger
	EventBus        *event.EventBus
	Listeners       []ListenerConfig
	MaxInboundConns int
	PromRegistry    prometheus.Registerer
}

// ConnectionManager owns the listen sockets and the registry of live
// peer connections. It does not read or write connection payloads;
// the gossip channel attaches its own framing to each tracked
// connection.
type ConnectionManager struct {
	connections      map[ConnectionId]*connectionInfo
	config           ConnectionManagerConfig
	lastConnId       ConnectionId
	connectionsMutex sync.Mutex
	listeners        []net.Listener
	listenersMutex   sync.Mutex
	closing          bool
	goroutineWg      sync.WaitGroup
	metrics          *connectionManagerMetrics
}

type connectionManagerMetrics struct {
	incomingConns prometheus.Gauge
	outgoingConns prometheus.Gauge
	connsClosed   prometheus.Counter
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "connmanager")
	if cfg.MaxInboundConns <= 0 {
		cfg.MaxInboundConns = DefaultMaxInboundConns
	}
	c := &ConnectionManager{
		config:      cfg,
		connections: make(map[ConnectionId]*connectionInfo),
	}
	if cfg.PromRegistry != nil {
		c.initMetrics()
	}
	return c
}

func (c *ConnectionManager) initMetrics() {
	promautoFactory := promauto.With(c.config.PromRegistry)
	c.metrics = &connectionManagerMetrics{}
	c.metrics.incomingConns = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "incomingConns",
		Help: "number of incoming connections",
	})
	c.metrics.outgoingConns = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "outgoingConns",
		Help: "number of outgoing connections",
	})
	c.metrics.connsClosed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: metricNamePrefix + "connsClosed",
		Help: "total connections closed",
	})
}

func (c *ConnectionManager) updateConnectionMetrics() {
	if c.metrics == nil {
		return
	}
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	incomingCount := 0
	outgoingCount := 0
	for _, info := range c.connections {
		if info.isInbound {
			incomingCount++
		} else {
			outgoingCount++
		}
	}
	c.metrics.incomingConns.Set(float64(incomingCount))
	c.metrics.outgoingConns.Set(float64(outgoingCount))
}

func (c *ConnectionManager) Start(ctx context.Context) error {
	return c.startListeners(ctx)
}

// AddConnection registers a connection and returns its assigned id.
// An event of the appropriate direction is published on the bus so the
// gossip channel can attach to the connection.
func (c *ConnectionManager) AddConnection(
	conn net.Conn,
	isInbound bool,
) ConnectionId {
	peerAddr := "unknown"
	if conn.RemoteAddr() != nil {
		peerAddr = conn.RemoteAddr().String()
	}
	c.connectionsMutex.Lock()
	c.lastConnId++
	connId := c.lastConnId
	c.connections[connId] = &connectionInfo{
		conn:      conn,
		isInbound: isInbound,
		peerAddr:  peerAddr,
	}
	c.connectionsMutex.Unlock()
	c.updateConnectionMetrics()
	if c.config.EventBus != nil {
		if isInbound {
			c.config.EventBus.Publish(
				InboundConnectionEventType,
				event.NewEvent(
					InboundConnectionEventType,
					InboundConnectionEvent{
						ConnectionId: connId,
						LocalAddr:    conn.LocalAddr(),
						RemoteAddr:   conn.RemoteAddr(),
					},
				),
			)
		} else {
			c.config.EventBus.Publish(
				OutboundConnectionEventType,
				event.NewEvent(
					OutboundConnectionEventType,
					OutboundConnectionEvent{
						ConnectionId: connId,
						RemoteAddr:   conn.RemoteAddr(),
					},
				),
			)
		}
	}
	return connId
}

// CloseConnection removes a connection from the registry, closes the
// socket and publishes a close event with the given cause
func (c *ConnectionManager) CloseConnection(
	connId ConnectionId,
	cause error,
) {
	c.connectionsMutex.Lock()
	info, exists := c.connections[connId]
	if exists {
		delete(c.connections, connId)
	}
	c.connectionsMutex.Unlock()
	if !exists {
		return
	}
	info.conn.Close()
	c.updateConnectionMetrics()
	if c.metrics != nil {
		c.metrics.connsClosed.Inc()
	}
	if c.config.EventBus != nil {
		c.config.EventBus.Publish(
			ConnectionClosedEventType,
			event.NewEvent(
				ConnectionClosedEventType,
				ConnectionClosedEvent{
					ConnectionId: connId,
					Error:        cause,
				},
			),
		)
	}
}

// GetConnectionById returns the tracked connection, or nil if unknown
func (c *ConnectionManager) GetConnectionById(
	connId ConnectionId,
) net.Conn {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if info, exists := c.connections[connId]; exists {
		return info.conn
	}
	return nil
}

// ConnectionIds returns the ids of all tracked connections
func (c *ConnectionManager) ConnectionIds() []ConnectionId {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	ret := make([]ConnectionId, 0, len(c.connections))
	for connId := range c.connections {
		ret = append(ret, connId)
	}
	return ret
}

// Stop closes all listeners and connections and waits for the accept
// loops to exit
func (c *ConnectionManager) Stop(ctx context.Context) error {
	c.listenersMutex.Lock()
	c.closing = true
	listeners := c.listeners
	c.listeners = nil
	c.listenersMutex.Unlock()
	var err error
	for _, l := range listeners {
		err = errors.Join(err, l.Close())
	}
	// Close all tracked connections
	c.connectionsMutex.Lock()
	conns := make([]ConnectionId, 0, len(c.connections))
	for connId := range c.connections {
		conns = append(conns, connId)
	}
	c.connectionsMutex.Unlock()
	for _, connId := range conns {
		c.CloseConnection(connId, net.ErrClosed)
	}
	// Wait for accept loops, bounded by the shutdown context
	doneCh := make(chan struct{})
	go func() {
		c.goroutineWg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	case <-time.After(5 * time.Second):
		err = errors.Join(
			err,
			errors.New("timeout waiting for accept loops to stop"),
		)
	}
	return err
}
