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

package plenum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plenumlabs/plenum/advisor"
	"github.com/plenumlabs/plenum/connmanager"
	"github.com/plenumlabs/plenum/database"
	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/event"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/intent"
	"github.com/plenumlabs/plenum/reconciler"
	"github.com/plenumlabs/plenum/session"
	"github.com/plenumlabs/plenum/store"
	"github.com/plenumlabs/plenum/tally"
)

// Node is one replica of the shared parliamentary session. All
// replicas are equal; there is no coordinator. Local intents and
// remote gossip converge through the same merge path, so any two
// nodes that have exchanged updates hold identical state.
type Node struct {
	connManager   *connmanager.ConnectionManager
	eventBus      *event.EventBus
	entityStore   *store.EntityStore
	channel       *gossip.Channel
	reconciler    *reconciler.Reconciler
	persister     *database.Persister
	db            *database.Database
	session       *session.Controller
	tally         *tally.Engine
	dispatcher    *intent.Dispatcher
	advisor       *advisor.Client
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	if err := n.configPopulateOrigin(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(
		n.config.logger,
		n.config.dataDir,
		n.config.promRegistry,
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Entity store
	n.entityStore = store.NewEntityStore(store.EntityStoreConfig{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	// Replay persisted state through the merge before anything can
	// publish
	n.persister = database.NewPersister(database.PersisterConfig{
		Logger:   n.config.logger,
		EventBus: n.eventBus,
		Store:    n.entityStore,
		DB:       n.db,
	})
	if err := n.persister.Restore(); err != nil {
		return fmt.Errorf("failed to restore persisted state: %w", err)
	}
	// Reconciler consumes deliveries and rebuilds the snapshot
	n.reconciler = reconciler.NewReconciler(reconciler.ReconcilerConfig{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		Store:        n.entityStore,
		PromRegistry: n.config.promRegistry,
	})
	if err := n.reconciler.Start(); err != nil {
		return err
	}
	if err := n.persister.Start(); err != nil {
		return err
	}
	// Configure connection manager when peers or listeners are
	// defined; without either the node runs standalone
	var peers []string
	if n.config.topologyConfig != nil {
		for _, peer := range n.config.topologyConfig.Peers {
			peers = append(peers, peer.HostPort())
		}
	}
	if len(n.config.listeners) > 0 || len(peers) > 0 {
		n.connManager = connmanager.NewConnectionManager(
			connmanager.ConnectionManagerConfig{
				Logger:       n.config.logger,
				EventBus:     n.eventBus,
				Listeners:    n.config.listeners,
				PromRegistry: n.config.promRegistry,
			},
		)
	}
	// Gossip channel
	n.channel = gossip.NewChannel(gossip.ChannelConfig{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		ConnManager:  n.connManager,
		PromRegistry: n.config.promRegistry,
		Origin:       n.config.origin,
		Peers:        peers,
	})
	if n.connManager != nil {
		if err := n.connManager.Start(ctx); err != nil {
			return err
		}
	}
	if err := n.channel.Start(ctx); err != nil {
		return err
	}
	n.seedFounder()
	// Session operations
	n.session = session.NewController(session.ControllerConfig{
		Logger:     n.config.logger,
		Channel:    n.channel,
		Reconciler: n.reconciler,
	})
	n.tally = tally.NewEngine(tally.EngineConfig{
		Logger:     n.config.logger,
		Channel:    n.channel,
		Reconciler: n.reconciler,
	})
	n.dispatcher = intent.NewDispatcher(intent.DispatcherConfig{
		Logger:     n.config.logger,
		Channel:    n.channel,
		Reconciler: n.reconciler,
		Session:    n.session,
		Tally:      n.tally,
	})
	n.advisor = advisor.NewClient(advisor.ClientConfig{
		Logger:  n.config.logger,
		BaseURL: n.config.advisorBaseURL,
		APIKey:  n.config.advisorAPIKey,
		Model:   n.config.advisorModel,
	})
	n.config.logger.Info(
		"replica started",
		"origin", n.config.origin,
		"peers", len(peers),
	)

	// Wait for shutdown signal
	<-n.done
	return nil
}

// seedFounder publishes the founding presiding officer when the
// member roll is empty, so a fresh chamber can be operated. The seed
// uses a fixed entity ID, so replicas seeding concurrently converge
// on a single record.
func (n *Node) seedFounder() {
	if len(n.entityStore.GetSnapshot(entity.KindMember)) > 0 {
		return
	}
	founder := entity.Member{
		ID:         "founder",
		DNI:        session.SuperuserDNI,
		Name:       "Presiding Officer",
		Role:       entity.RolePresidingOfficer,
		Present:    true,
		Confirmed:  true,
		Active:     true,
		Credential: session.SuperuserDNI,
	}
	n.channel.Publish(
		string(entity.KindMember),
		founder.ID,
		founder.Fields(),
	)
	n.config.logger.Info("seeded founding presiding officer")
}

// Dispatcher returns the write boundary for local intents
func (n *Node) Dispatcher() *intent.Dispatcher {
	return n.dispatcher
}

// Reconciler returns the snapshot source for local reads
func (n *Node) Reconciler() *reconciler.Reconciler {
	return n.reconciler
}

// Advisor returns the procedural advisor client
func (n *Node) Advisor() *advisor.Client {
	return n.advisor
}

// Database returns the persistence layer
func (n *Node) Database() *database.Database {
	return n.db
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.channel != nil {
		if stopErr := n.channel.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("gossip shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain and close connections
	n.config.logger.Debug("shutdown phase 2: draining connections")

	if n.connManager != nil {
		if stopErr := n.connManager.Stop(ctx); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("connection manager shutdown: %w", stopErr),
			)
		}
	}

	// Phase 3: Flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.persister != nil {
		if stopErr := n.persister.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("persister shutdown: %w", stopErr))
		}
	}

	if n.reconciler != nil {
		if stopErr := n.reconciler.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("reconciler shutdown: %w", stopErr))
		}
	}

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
