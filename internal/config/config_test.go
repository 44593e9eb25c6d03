package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		BindAddr:        "0.0.0.0",
		DatabasePath:    ".plenum",
		GossipPort:      3007,
		MetricsPort:     12807,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	globalTopologyConfig = nil
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
origin: "replica-a"
databasePath: ".plenum-test"
bindAddr: "127.0.0.1"
shutdownTimeout: "10s"
advisorApiKey: "test-key"
advisorModel: "test-model"
gossipPort: 4007
metricsPort: 8088
tracing: true
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-plenum.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	defer os.Remove(tmpFile)

	expected := &Config{
		Origin:          "replica-a",
		Topology:        "",
		DatabasePath:    ".plenum-test",
		BindAddr:        "127.0.0.1",
		ShutdownTimeout: "10s",
		AdvisorAPIKey:   "test-key",
		AdvisorModel:    "test-model",
		GossipPort:      4007,
		MetricsPort:     8088,
		Tracing:         true,
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"Loaded config does not match expected.\nActual: %+v\nExpected: %+v",
			actual,
			expected,
		)
	}
}

func TestLoad_WithTopologyFile(t *testing.T) {
	resetGlobalConfig()

	tmpDir := t.TempDir()
	topoFile := filepath.Join(tmpDir, "topology.json")
	err := os.WriteFile(
		topoFile,
		[]byte(`{"peers": [{"address": "10.0.0.2", "port": 3007}]}`),
		0644,
	)
	if err != nil {
		t.Fatalf("failed to write topology file: %v", err)
	}
	cfgFile := filepath.Join(tmpDir, "plenum.yaml")
	err = os.WriteFile(
		cfgFile,
		[]byte("topology: \""+topoFile+"\"\n"),
		0644,
	)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadConfig(cfgFile); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	topo := GetTopologyConfig()
	if topo == nil || len(topo.Peers) != 1 {
		t.Fatalf("expected one topology peer, got: %+v", topo)
	}
	if got := topo.Peers[0].HostPort(); got != "10.0.0.2:3007" {
		t.Errorf("unexpected peer address: %s", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	resetGlobalConfig()
	cfg := &Config{Origin: "replica-a"}
	ctx := WithContext(t.Context(), cfg)
	if got := FromContext(ctx); got != cfg {
		t.Errorf("expected config from context, got: %+v", got)
	}
	if got := FromContext(t.Context()); got != nil {
		t.Errorf("expected nil config from bare context, got: %+v", got)
	}
}
