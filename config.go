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
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/plenumlabs/plenum/connmanager"
	"github.com/plenumlabs/plenum/topology"

	"github.com/prometheus/client_golang/prometheus"
)

type ListenerConfig = connmanager.ListenerConfig

type Config struct {
	promRegistry    prometheus.Registerer
	topologyConfig  *topology.TopologyConfig
	logger          *slog.Logger
	dataDir         string
	origin          string
	advisorAPIKey   string
	advisorBaseURL  string
	advisorModel    string
	listeners       []ListenerConfig
	tracing         bool
	tracingStdout   bool
	shutdownTimeout time.Duration
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (n *Node) configPopulateOrigin() error {
	if n.config.origin != "" {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return errors.New(
			"no origin configured and hostname unavailable",
		)
	}
	n.config.origin = hostname
	return nil
}

func (n *Node) configValidate() error {
	for _, listener := range n.config.listeners {
		if listener.Listener != nil {
			continue
		}
		if listener.ListenNetwork != "" && listener.ListenAddress != "" {
			continue
		}
		return errors.New(
			"listener must provide net.Listener or listen network/address values",
		)
	}
	if n.config.topologyConfig != nil && len(n.config.listeners) == 0 {
		return errors.New(
			"peers configured but no listeners defined",
		)
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithOrigin specifies this replica's stable identifier, used to stamp
// and tie-break field writes. This defaults to the hostname. Two
// replicas sharing an origin will produce inconsistent merges, so give
// each replica a unique value.
func WithOrigin(origin string) ConfigOptionFunc {
	return func(c *Config) {
		c.origin = origin
	}
}

// WithListeners specifies the listener config(s) to use
func WithListeners(listeners ...ListenerConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.listeners = append(c.listeners, listeners...)
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTopologyConfig specifies a topology.TopologyConfig to use for outbound peers
func WithTopologyConfig(
	topologyConfig *topology.TopologyConfig,
) ConfigOptionFunc {
	return func(c *Config) {
		c.topologyConfig = topologyConfig
	}
}

// WithAdvisorAPIKey specifies the API key for the procedural advisor
// integration. The advisor is disabled when empty.
func WithAdvisorAPIKey(apiKey string) ConfigOptionFunc {
	return func(c *Config) {
		c.advisorAPIKey = apiKey
	}
}

// WithAdvisorBaseURL overrides the advisor service endpoint. This is mostly useful for testing
func WithAdvisorBaseURL(baseURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.advisorBaseURL = baseURL
	}
}

// WithAdvisorModel specifies the model name for advisor requests
func WithAdvisorModel(model string) ConfigOptionFunc {
	return func(c *Config) {
		c.advisorModel = model
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
