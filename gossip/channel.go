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

package gossip

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plenumlabs/plenum/connmanager"
	"github.com/plenumlabs/plenum/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DeliveryEventType event.EventType = "gossip.delivery"

	// metricNamePrefix is the common prefix for all gossip metrics
	metricNamePrefix = "plenum_metrics_gossip_"

	// seenCacheSize bounds the duplicate-suppression window. Updates
	// older than the window may be re-delivered; the store's merge is
	// idempotent, so re-delivery is safe.
	seenCacheSize = 8192

	sendQueueSize = 64

	dialTimeout      = 10 * time.Second
	initialDialDelay = time.Second
	maxDialDelay     = 30 * time.Second
)

// Delivery is published on the event bus for every update accepted by
// the channel, whether it originated locally or arrived from a peer.
// Local writes take the same path as remote ones: the node's own
// state converges through deliveries, never through direct store
// writes.
type Delivery struct {
	Update Update
	Local  bool
}

type ChannelConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	ConnManager  *connmanager.ConnectionManager
	PromRegistry prometheus.Registerer
	// Origin is this replica's stable identifier, stamped on every
	// published update
	Origin string
	// Peers lists host:port addresses to maintain outbound
	// connections to
	Peers []string
}

// Channel floods field updates between replicas. Every published
// update is delivered back to the local node via the event bus and
// fanned out as a CBOR frame to all connected peers; received updates
// are delivered locally and relayed onward once.
//
// A channel with no ConnManager runs loopback-only, which is how a
// standalone replica (and most tests) operate.
type Channel struct {
	config        ChannelConfig
	seen          *seenCache
	metrics       *channelMetrics
	stampMutex    sync.Mutex
	lastTimestamp int64
	connsMutex    sync.Mutex
	conns         map[connmanager.ConnectionId]*peerConn
	dialClosed    map[connmanager.ConnectionId]chan struct{}
	subIds        []event.EventSubscriberId
	subTypes      []event.EventType
	cancel        context.CancelFunc
}

type peerConn struct {
	conn   net.Conn
	sendCh chan Update
	done   chan struct{}
}

type channelMetrics struct {
	updatesPublished prometheus.Counter
	updatesReceived  prometheus.Counter
	updatesRelayed   prometheus.Counter
	duplicates       prometheus.Counter
	framesDropped    prometheus.Counter
}

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "gossip")
	c := &Channel{
		config:     cfg,
		seen:       newSeenCache(seenCacheSize),
		conns:      make(map[connmanager.ConnectionId]*peerConn),
		dialClosed: make(map[connmanager.ConnectionId]chan struct{}),
	}
	if cfg.PromRegistry != nil {
		c.initMetrics()
	}
	return c
}

func (c *Channel) initMetrics() {
	promRegistry := c.config.PromRegistry
	c.metrics = &channelMetrics{
		updatesPublished: promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "updates_published_count",
				Help: "total updates published by this replica",
			},
		),
		updatesReceived: promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "updates_received_count",
				Help: "total updates received from peers",
			},
		),
		updatesRelayed: promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "updates_relayed_count",
				Help: "total updates relayed onward to peers",
			},
		),
		duplicates: promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "duplicate_updates_count",
				Help: "total duplicate updates dropped",
			},
		),
		framesDropped: promauto.With(promRegistry).NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "frames_dropped_count",
				Help: "total outbound frames dropped due to slow peers",
			},
		),
	}
}

// Start attaches the channel to the connection manager's lifecycle
// events and begins dialing configured peers. It is a no-op for a
// loopback-only channel.
func (c *Channel) Start(ctx context.Context) error {
	if c.config.ConnManager == nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.subscribe(
		connmanager.InboundConnectionEventType,
		func(evt event.Event) {
			e, ok := evt.Data.(connmanager.InboundConnectionEvent)
			if !ok {
				return
			}
			c.attachConnection(e.ConnectionId)
		},
	)
	c.subscribe(
		connmanager.OutboundConnectionEventType,
		func(evt event.Event) {
			e, ok := evt.Data.(connmanager.OutboundConnectionEvent)
			if !ok {
				return
			}
			c.attachConnection(e.ConnectionId)
		},
	)
	c.subscribe(
		connmanager.ConnectionClosedEventType,
		func(evt event.Event) {
			e, ok := evt.Data.(connmanager.ConnectionClosedEvent)
			if !ok {
				return
			}
			c.detachConnection(e.ConnectionId)
		},
	)
	for _, peer := range c.config.Peers {
		go c.dialLoop(ctx, peer)
	}
	return nil
}

func (c *Channel) subscribe(
	eventType event.EventType,
	handler event.EventHandlerFunc,
) {
	subId := c.config.EventBus.SubscribeFunc(eventType, handler)
	c.subIds = append(c.subIds, subId)
	c.subTypes = append(c.subTypes, eventType)
}

func (c *Channel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	for i, subId := range c.subIds {
		c.config.EventBus.Unsubscribe(c.subTypes[i], subId)
	}
	c.connsMutex.Lock()
	for connId, pc := range c.conns {
		close(pc.done)
		delete(c.conns, connId)
	}
	c.connsMutex.Unlock()
	return nil
}

// Publish stamps a field update with this replica's origin and a
// monotonic timestamp, delivers it locally and fans it out to peers.
// Timestamps never repeat or move backwards on a single replica, even
// across wall-clock adjustments within a process lifetime.
func (c *Channel) Publish(
	kind string,
	id string,
	fields map[string]any,
) Update {
	c.stampMutex.Lock()
	ts := time.Now().UnixMilli()
	if ts <= c.lastTimestamp {
		ts = c.lastTimestamp + 1
	}
	c.lastTimestamp = ts
	c.stampMutex.Unlock()
	update := Update{
		Kind:      kind,
		ID:        id,
		Fields:    fields,
		Timestamp: ts,
		Origin:    c.config.Origin,
	}
	c.seen.observe(update.key())
	if c.metrics != nil {
		c.metrics.updatesPublished.Inc()
	}
	c.deliver(update, true)
	c.broadcast(update, 0)
	return update
}

func (c *Channel) deliver(update Update, local bool) {
	c.config.EventBus.Publish(
		DeliveryEventType,
		event.NewEvent(
			DeliveryEventType,
			Delivery{Update: update, Local: local},
		),
	)
}

// broadcast queues an update for every connected peer except the one
// it arrived on. Slow peers lose frames rather than stalling the
// flood; the periodic full-state exchange is not needed because
// re-deliveries merge idempotently.
func (c *Channel) broadcast(
	update Update,
	skip connmanager.ConnectionId,
) {
	c.connsMutex.Lock()
	targets := make([]*peerConn, 0, len(c.conns))
	for connId, pc := range c.conns {
		if connId == skip {
			continue
		}
		targets = append(targets, pc)
	}
	c.connsMutex.Unlock()
	for _, pc := range targets {
		select {
		case pc.sendCh <- update:
		default:
			if c.metrics != nil {
				c.metrics.framesDropped.Inc()
			}
			c.config.Logger.Warn(
				"dropping frame for slow peer",
				"peer", pc.conn.RemoteAddr(),
			)
		}
	}
}

func (c *Channel) attachConnection(connId connmanager.ConnectionId) {
	conn := c.config.ConnManager.GetConnectionById(connId)
	if conn == nil {
		return
	}
	pc := &peerConn{
		conn:   conn,
		sendCh: make(chan Update, sendQueueSize),
		done:   make(chan struct{}),
	}
	c.connsMutex.Lock()
	c.conns[connId] = pc
	c.connsMutex.Unlock()
	go c.writeLoop(connId, pc)
	go c.readLoop(connId, pc)
}

func (c *Channel) detachConnection(connId connmanager.ConnectionId) {
	c.connsMutex.Lock()
	if pc, ok := c.conns[connId]; ok {
		close(pc.done)
		delete(c.conns, connId)
	}
	if closedCh, ok := c.dialClosed[connId]; ok {
		close(closedCh)
		delete(c.dialClosed, connId)
	}
	c.connsMutex.Unlock()
}

func (c *Channel) writeLoop(
	connId connmanager.ConnectionId,
	pc *peerConn,
) {
	for {
		select {
		case <-pc.done:
			return
		case update := <-pc.sendCh:
			if err := writeFrame(pc.conn, update); err != nil {
				c.config.ConnManager.CloseConnection(connId, err)
				return
			}
			if c.metrics != nil {
				c.metrics.updatesRelayed.Inc()
			}
		}
	}
}

func (c *Channel) readLoop(
	connId connmanager.ConnectionId,
	pc *peerConn,
) {
	for {
		update, err := readFrame(pc.conn)
		if err != nil {
			c.config.ConnManager.CloseConnection(connId, err)
			return
		}
		if !c.seen.observe(update.key()) {
			if c.metrics != nil {
				c.metrics.duplicates.Inc()
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.updatesReceived.Inc()
		}
		c.deliver(update, false)
		c.broadcast(update, connId)
	}
}

// dialLoop maintains one outbound connection to a configured peer,
// redialing with exponential backoff after failures and after an
// established connection closes
func (c *Channel) dialLoop(ctx context.Context, peerAddr string) {
	dialer := net.Dialer{Timeout: dialTimeout}
	delay := initialDialDelay
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := dialer.DialContext(ctx, "tcp", peerAddr)
		if err != nil {
			c.config.Logger.Debug(
				"failed to connect to peer",
				"peer", peerAddr,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDialDelay {
				delay = maxDialDelay
			}
			continue
		}
		delay = initialDialDelay
		c.config.Logger.Info(
			"connected to peer",
			"peer", peerAddr,
		)
		closedCh := make(chan struct{})
		connId := c.config.ConnManager.AddConnection(conn, false)
		c.connsMutex.Lock()
		c.dialClosed[connId] = closedCh
		c.connsMutex.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-closedCh:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// seenCache is a bounded duplicate-suppression window with FIFO
// eviction
type seenCache struct {
	mu    sync.Mutex
	keys  map[updateKey]struct{}
	order []updateKey
	limit int
}

func newSeenCache(limit int) *seenCache {
	return &seenCache{
		keys:  make(map[updateKey]struct{}),
		limit: limit,
	}
}

// observe records a key, returning true if it was not already in the
// window
func (s *seenCache) observe(key updateKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
	return true
}
