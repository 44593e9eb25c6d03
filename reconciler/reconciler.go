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

package reconciler

import (
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/plenumlabs/plenum/entity"
	"github.com/plenumlabs/plenum/event"
	"github.com/plenumlabs/plenum/gossip"
	"github.com/plenumlabs/plenum/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SnapshotEventType event.EventType = "reconciler.snapshot"

	// metricNamePrefix is the common prefix for all reconciler metrics
	metricNamePrefix = "plenum_metrics_reconciler_"
)

// SnapshotEvent carries the freshly rebuilt view after one or more
// field merges were accepted
type SnapshotEvent struct {
	Snapshot Snapshot
}

type ReconcilerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Store        *store.EntityStore
	PromRegistry prometheus.Registerer
}

// Reconciler sits between the gossip channel and the entity store. It
// consumes every delivery, local and remote alike, normalizes the
// fields against the entity schema, merges them field-by-field and
// rebuilds the derived snapshot whenever any field was accepted.
//
// Because local writes loop through the gossip channel, the reconciler
// is the only component that writes to the store.
type Reconciler struct {
	config   ReconcilerConfig
	logger   *slog.Logger
	subId    event.EventSubscriberId
	started  bool
	snapMu   sync.RWMutex
	snapshot Snapshot
	metrics  struct {
		deliveries    prometheus.Counter
		rejected      prometheus.Counter
		fieldsApplied prometheus.Counter
		fieldsIgnored prometheus.Counter
	}
}

func NewReconciler(config ReconcilerConfig) *Reconciler {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Reconciler{
		config: config,
		logger: config.Logger.With("component", "reconciler"),
	}
	if config.PromRegistry != nil {
		r.initMetrics()
	}
	return r
}

func (r *Reconciler) initMetrics() {
	promRegistry := r.config.PromRegistry
	r.metrics.deliveries = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "deliveries_count",
			Help: "total deliveries consumed",
		},
	)
	r.metrics.rejected = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "deliveries_rejected_count",
			Help: "total deliveries rejected before merge",
		},
	)
	r.metrics.fieldsApplied = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "fields_applied_count",
			Help: "total field merges accepted",
		},
	)
	r.metrics.fieldsIgnored = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "fields_ignored_count",
			Help: "total field merges superseded by newer writes",
		},
	)
}

func (r *Reconciler) Start() error {
	r.subId = r.config.EventBus.SubscribeFunc(
		gossip.DeliveryEventType,
		r.handleDeliveryEvent,
	)
	r.started = true
	r.rebuild()
	return nil
}

func (r *Reconciler) Stop() error {
	if r.started {
		r.config.EventBus.Unsubscribe(gossip.DeliveryEventType, r.subId)
		r.started = false
	}
	return nil
}

// Snapshot returns the most recently rebuilt derived view
func (r *Reconciler) Snapshot() Snapshot {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	return r.snapshot
}

func (r *Reconciler) handleDeliveryEvent(evt event.Event) {
	delivery, ok := evt.Data.(gossip.Delivery)
	if !ok {
		return
	}
	if r.metrics.deliveries != nil {
		r.metrics.deliveries.Inc()
	}
	update := delivery.Update
	kind := entity.Kind(update.Kind)
	if !entity.KnownKind(kind) || update.ID == "" {
		if r.metrics.rejected != nil {
			r.metrics.rejected.Inc()
		}
		r.logger.Warn(
			"rejecting malformed update",
			"kind", update.Kind,
			"id", update.ID,
			"origin", update.Origin,
		)
		return
	}
	fields := entity.NormalizeFields(kind, update.Fields)
	if len(fields) == 0 {
		if r.metrics.rejected != nil {
			r.metrics.rejected.Inc()
		}
		return
	}
	version := store.Version{
		Timestamp: update.Timestamp,
		Origin:    update.Origin,
	}
	// Merge in sorted field order so all replicas observe identical
	// intermediate states for a given update
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	applied := 0
	for _, name := range names {
		if r.config.Store.ApplyFieldUpdate(
			kind, update.ID, name, fields[name], version,
		) {
			applied++
		}
	}
	if r.metrics.fieldsApplied != nil {
		r.metrics.fieldsApplied.Add(float64(applied))
		r.metrics.fieldsIgnored.Add(float64(len(names) - applied))
	}
	if applied > 0 {
		r.rebuild()
	}
}

func (r *Reconciler) rebuild() {
	snapshot := BuildSnapshot(r.config.Store)
	r.snapMu.Lock()
	r.snapshot = snapshot
	r.snapMu.Unlock()
	r.config.EventBus.Publish(
		SnapshotEventType,
		event.NewEvent(
			SnapshotEventType,
			SnapshotEvent{Snapshot: snapshot},
		),
	)
}
