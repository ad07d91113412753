package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/replica"
)

// Role names accepted by -role.
const (
	rolePrimary  = "primary"
	roleInternal = "internal"
	roleLeaf     = "leaf"
)

// Config holds the node configuration.
type Config struct {
	// ConfigPath is an optional YAML file applied before the flags.
	ConfigPath string `yaml:"-"`

	// NodeID names this node in the tree; derived from the key when empty.
	NodeID string `yaml:"node_id"`

	// Role is primary, internal or leaf.
	Role string `yaml:"role"`

	// DataPath is the directory for persistent storage.
	DataPath string `yaml:"data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `yaml:"http"`

	// QUICAddress is the QUIC listen address.
	QUICAddress string `yaml:"quic"`

	// AdvertiseAddr is the QUIC address announced to peers.
	AdvertiseAddr string `yaml:"advertise"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `yaml:"key"`

	// ParentAddr is the QUIC address of the parent holder.
	ParentAddr string `yaml:"parent"`

	// Peers are extra QUIC addresses to connect to.
	Peers stringList `yaml:"peers"`

	// AutoDelete trims old versions as reads move forward (primary only).
	AutoDelete bool `yaml:"auto_delete"`

	// BreakerThreshold is the decayed fault total that opens a breaker.
	BreakerThreshold uint64 `yaml:"breaker_threshold"`

	// ForgetWindow is how long a fault takes to decay to zero.
	ForgetWindow time.Duration `yaml:"forget_window"`

	// Coefficients weight the predictor state of every peer.
	Coefficients floatList `yaml:"coefficients"`

	// Replication is how many nodes receive each update.
	Replication int `yaml:"replication"`

	// ReportInterval is the period of version reports and measurements.
	ReportInterval time.Duration `yaml:"report_interval"`

	// SnapshotInterval is the period of tree snapshots.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// PrivateKey is the node's transport key.
	PrivateKey ed25519.PrivateKey `yaml:"-"`
}

// defaultConfig returns the configuration used when nothing is set.
func defaultConfig() *Config {
	return &Config{
		Role:             roleLeaf,
		DataPath:         "./data",
		HTTPAddress:      ":8080",
		QUICAddress:      ":9000",
		BreakerThreshold: breaker.DefaultThreshold,
		ForgetWindow:     breaker.DefaultForgetWindow,
		Coefficients:     floatList{1, -0.05, -0.1},
		Replication:      3,
		ReportInterval:   2 * time.Second,
		SnapshotInterval: 30 * time.Second,
		LogLevel:         "info",
	}
}

// parseFlags builds the configuration from args. Values come from the
// defaults, then the -config file, then explicit flags.
func parseFlags(args []string) (*Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML config file")
	fs.StringVar(&cfg.NodeID, "id", cfg.NodeID, "Node id (derived from the key if empty)")
	fs.StringVar(&cfg.Role, "role", cfg.Role, "Holder role: primary, internal or leaf")
	fs.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP API address")
	fs.StringVar(&cfg.QUICAddress, "quic", cfg.QUICAddress, "QUIC listen address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "QUIC address announced to peers")
	fs.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&cfg.ParentAddr, "parent", cfg.ParentAddr, "Parent holder QUIC address")
	fs.Var(&cfg.Peers, "peers", "Comma-separated extra peer addresses")
	fs.BoolVar(&cfg.AutoDelete, "auto-delete", cfg.AutoDelete, "Trim old versions as reads advance (primary)")
	fs.Uint64Var(&cfg.BreakerThreshold, "breaker-threshold", cfg.BreakerThreshold, "Fault total that opens a breaker")
	fs.DurationVar(&cfg.ForgetWindow, "forget-window", cfg.ForgetWindow, "Fault decay window")
	fs.Var(&cfg.Coefficients, "coefficients", "Comma-separated predictor coefficients")
	fs.IntVar(&cfg.Replication, "replication", cfg.Replication, "Nodes receiving each update")
	fs.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "Version report and measurement period")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Tree snapshot period")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigPath != "" {
		if err := loadFile(cfg, cfg.ConfigPath); err != nil {
			return nil, err
		}

		// flags given on the command line win over the file
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile decodes a YAML file over cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s:\n%w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s:\n%w", path, err)
	}

	return nil
}

// validate checks the settings that cannot be defaulted.
func (c *Config) validate() error {
	switch c.Role {
	case rolePrimary:
	case roleInternal, roleLeaf:
		if c.ParentAddr == "" {
			return fmt.Errorf("role %s requires -parent", c.Role)
		}
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}

	if strings.ContainsRune(c.NodeID, 0) {
		return fmt.Errorf("node id contains NUL")
	}

	if c.Replication < 1 {
		return fmt.Errorf("replication must be at least 1, got %d", c.Replication)
	}

	if c.ReportInterval <= 0 || c.SnapshotInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	if _, err := c.level(); err != nil {
		return err
	}

	return nil
}

// level returns the parsed log level.
func (c *Config) level() (slog.Level, error) {
	return logger.ParseLevel(c.LogLevel)
}

// kind maps the role to a tree holder kind.
func (c *Config) kind() replica.Kind {
	switch c.Role {
	case rolePrimary:
		return replica.KindPrimary
	case roleInternal:
		return replica.KindInternal
	default:
		return replica.KindLeaf
	}
}

// resolveIdentity loads the key and derives the node id when unset.
func (c *Config) resolveIdentity() error {
	key, err := loadOrGenerateKey(c.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	c.PrivateKey = key

	if c.NodeID == "" {
		pub := key.Public().(ed25519.PublicKey)
		c.NodeID = hex.EncodeToString(pub[:8])
	}

	return nil
}

// stringList is a comma-separated flag value.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	*l = nil

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}

	return nil
}

// floatList is a comma-separated flag value of floats.
type floatList []float64

func (l *floatList) String() string {
	parts := make([]string, len(*l))
	for i, f := range *l {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}

	return strings.Join(parts, ",")
}

func (l *floatList) Set(s string) error {
	var out []float64

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("invalid coefficient %q", part)
		}

		out = append(out, f)
	}

	*l = out

	return nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
