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
	"fmt"
	"net"
	"time"
)

// Accept loop backoff constants
const (
	acceptBackoffMin = 10 * time.Millisecond // Initial backoff duration
	acceptBackoffMax = 1 * time.Second       // Maximum backoff duration
	acceptBackoffCap = 6                     // Max consecutive errors before capping
)

type ListenerConfig struct {
	Listener      net.Listener
	ListenNetwork string
	ListenAddress string
	ReuseAddress  bool
}

func (c *ConnectionManager) startListeners(ctx context.Context) error {
	for _, l := range c.config.Listeners {
		if err := c.startListener(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConnectionManager) startListener(
	ctx context.Context,
	l ListenerConfig,
) error {
	// Create listener if none is provided
	if l.Listener == nil {
		listenConfig := net.ListenConfig{}
		if l.ReuseAddress {
			listenConfig.Control = socketControl
		}
		listener, err := listenConfig.Listen(
			ctx,
			l.ListenNetwork,
			l.ListenAddress,
		)
		if err != nil {
			return fmt.Errorf("failed to open listening socket: %w", err)
		}
		l.Listener = listener
		c.config.Logger.Info(
			"listening for gossip connections on " + l.ListenAddress,
		)
	}
	// Track listener for shutdown
	c.listenersMutex.Lock()
	c.listeners = append(c.listeners, l.Listener)
	c.listenersMutex.Unlock()

	c.goroutineWg.Add(1)
	go func() {
		defer c.goroutineWg.Done()
		var consecutiveErrors int
		for {
			conn, err := l.Listener.Accept()
			if err != nil {
				// During shutdown, closing the listener causes Accept to
				// return net.ErrClosed. Treat this as normal termination.
				if errors.Is(err, net.ErrClosed) {
					c.config.Logger.Debug(
						"listener: closed, stopping accept loop",
					)
					return
				}
				c.listenersMutex.Lock()
				isClosing := c.closing
				c.listenersMutex.Unlock()
				if isClosing {
					c.config.Logger.Debug(
						"listener: shutting down, stopping accept loop",
					)
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					c.config.Logger.Warn(
						fmt.Sprintf("listener: accept timeout: %s", err),
					)
					continue
				}
				c.config.Logger.Error(
					fmt.Sprintf("listener: accept failed: %s", err),
				)
				consecutiveErrors++
				backoff := c.calculateAcceptBackoff(consecutiveErrors)
				timer := time.NewTimer(backoff)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
				continue
			}
			// Successful accept - reset consecutive error count
			consecutiveErrors = 0
			if !c.belowInboundLimit() {
				c.config.Logger.Warn(
					fmt.Sprintf(
						"listener: inbound connection limit reached (%d), rejecting connection from %s",
						c.config.MaxInboundConns,
						conn.RemoteAddr(),
					),
				)
				conn.Close()
				continue
			}
			c.config.Logger.Info(
				fmt.Sprintf(
					"listener: accepted connection from %s",
					conn.RemoteAddr(),
				),
			)
			c.AddConnection(conn, true)
		}
	}()
	return nil
}

func (c *ConnectionManager) belowInboundLimit() bool {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	inbound := 0
	for _, info := range c.connections {
		if info.isInbound {
			inbound++
		}
	}
	return inbound < c.config.MaxInboundConns
}

// calculateAcceptBackoff computes an exponential backoff duration based
// on the number of consecutive Accept() errors. The backoff starts at
// acceptBackoffMin and doubles with each error up to acceptBackoffMax.
func (c *ConnectionManager) calculateAcceptBackoff(
	consecutiveErrors int,
) time.Duration {
	if consecutiveErrors <= 0 {
		return acceptBackoffMin
	}
	exponent := min(consecutiveErrors-1, acceptBackoffCap)
	return min(acceptBackoffMin<<exponent, acceptBackoffMax)
}
