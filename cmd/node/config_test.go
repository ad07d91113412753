package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags([]string{"-role", "primary"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Replication != 3 || cfg.HTTPAddress != ":8080" || cfg.LogLevel != "info" {
		t.Errorf("defaults: got %+v", cfg)
	}

	if len(cfg.Coefficients) != 3 {
		t.Errorf("default coefficients: got %v", cfg.Coefficients)
	}
}

func TestParseFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"leaf without parent", []string{"-role", "leaf"}},
		{"internal without parent", []string{"-role", "internal"}},
		{"unknown role", []string{"-role", "observer"}},
		{"zero replication", []string{"-role", "primary", "-replication", "0"}},
		{"bad log level", []string{"-role", "primary", "-log-level", "loud"}},
		{"bad coefficient", []string{"-role", "primary", "-coefficients", "1,x"}},
		{"zero interval", []string{"-role", "primary", "-report-interval", "0s"}},
		{"missing file", []string{"-config", "/nonexistent/node.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFlagsLists(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-role", "leaf",
		"-parent", "10.0.0.1:9000",
		"-peers", "10.0.0.2:9000, 10.0.0.3:9000",
		"-coefficients", "1, -0.5",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(cfg.Peers) != 2 || cfg.Peers[1] != "10.0.0.3:9000" {
		t.Errorf("peers: got %v", cfg.Peers)
	}

	if len(cfg.Coefficients) != 2 || cfg.Coefficients[1] != -0.5 {
		t.Errorf("coefficients: got %v", cfg.Coefficients)
	}

	if got := cfg.Coefficients.String(); got != "1,-0.5" {
		t.Errorf("coefficients string: got %q", got)
	}
}

func TestParseFlagsFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")

	yaml := `
node_id: mid-1
role: internal
parent: 10.0.0.1:9000
peers: [10.0.0.5:9000]
coefficients: [2, 0.5]
replication: 2
forget_window: 5s
auto_delete: true
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := parseFlags([]string{"-config", path, "-replication", "5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.NodeID != "mid-1" || cfg.Role != roleInternal || cfg.ParentAddr != "10.0.0.1:9000" {
		t.Errorf("file values: got %+v", cfg)
	}

	if cfg.Replication != 5 {
		t.Errorf("flag should override file: replication %d", cfg.Replication)
	}

	if cfg.ForgetWindow != 5*time.Second || !cfg.AutoDelete {
		t.Errorf("forget window %v, auto delete %v", cfg.ForgetWindow, cfg.AutoDelete)
	}

	if len(cfg.Peers) != 1 || len(cfg.Coefficients) != 2 {
		t.Errorf("lists: peers %v, coefficients %v", cfg.Peers, cfg.Coefficients)
	}

	if cfg.HTTPAddress != ":8080" {
		t.Errorf("unset keys keep defaults: http %q", cfg.HTTPAddress)
	}
}

func TestParseFlagsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("replication: [\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := parseFlags([]string{"-config", path}); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestResolveIdentity(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "node.key")

	cfg := defaultConfig()
	cfg.KeyPath = keyPath

	if err := cfg.resolveIdentity(); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(cfg.NodeID) != 16 {
		t.Errorf("derived id: got %q", cfg.NodeID)
	}

	again := defaultConfig()
	again.KeyPath = keyPath

	if err := again.resolveIdentity(); err != nil {
		t.Fatalf("resolve again: %v", err)
	}

	if again.NodeID != cfg.NodeID {
		t.Errorf("reloaded key gives %q, want %q", again.NodeID, cfg.NodeID)
	}

	named := defaultConfig()
	named.NodeID = "edge-7"

	if err := named.resolveIdentity(); err != nil {
		t.Fatalf("resolve named: %v", err)
	}

	if named.NodeID != "edge-7" {
		t.Errorf("explicit id replaced: %q", named.NodeID)
	}
}

func TestLoadKeyInvalidSize(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(keyPath, []byte("short"), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	if _, err := loadOrGenerateKey(keyPath); err == nil {
		t.Error("expected error for truncated key")
	}
}
