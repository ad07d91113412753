package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"ReplicaMesh/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse config:\n%w", err)
	}

	level, _ := cfg.level()
	logger.Init(level)

	if err := cfg.resolveIdentity(); err != nil {
		return err
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting ReplicaMesh node",
		"id", cfg.NodeID,
		"role", cfg.Role,
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.HTTPAddress,
		"quic", cfg.QUICAddress,
		"parent", cfg.ParentAddr,
		"data", cfg.DataPath,
	)

	if cfg.Role == rolePrimary {
		logger.Info("primary configuration",
			"auto_delete", cfg.AutoDelete,
			"replication", cfg.Replication,
		)
	}
}
