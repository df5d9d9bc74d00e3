package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"
)

// Mode selects which role this node plays.
const (
	// ModeRegistry runs the attribution registry with the HTTP API and
	// vote collection.
	ModeRegistry = "registry"

	// ModeVerifier runs a verifier node answering vote requests.
	ModeVerifier = "verifier"
)

// Config holds the node configuration.
type Config struct {
	// Mode is the node role: registry or verifier.
	Mode string

	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address (registry mode).
	HTTPAddress string

	// QUICAddress is the QUIC listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey

	// AdminToken is the bearer token whose hash becomes the admin principal.
	AdminToken string

	// VerifyingKeyPath is the path to the serialized Groth16 verifying key.
	VerifyingKeyPath string

	// Peers are verifier node addresses to connect to (registry mode).
	Peers []string

	// MinVerifications is the consensus quorum.
	MinVerifications int

	// MaxVerifications is the vote budget per contribution.
	MaxVerifications int

	// Debug enables debug logging.
	Debug bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	var peers string

	flag.StringVar(&cfg.Mode, "mode", ModeRegistry, "Node mode: registry or verifier")
	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC listen address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.AdminToken, "admin-token", "", "Administrative bearer token")
	flag.StringVar(&cfg.VerifyingKeyPath, "vk", "", "Groth16 verifying key path")
	flag.StringVar(&peers, "peers", "", "Comma-separated verifier addresses")
	flag.IntVar(&cfg.MinVerifications, "min-verifications", 3, "Votes required for a terminal majority")
	flag.IntVar(&cfg.MaxVerifications, "max-verifications", 10, "Vote budget per contribution")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if peers != "" {
		cfg.Peers = strings.Split(peers, ",")
	}

	return cfg
}

// validate checks mode-specific requirements.
func (c *Config) validate() error {
	switch c.Mode {
	case ModeRegistry:
		if c.AdminToken == "" {
			return fmt.Errorf("registry mode requires -admin-token")
		}
	case ModeVerifier:
		if c.VerifyingKeyPath == "" {
			return fmt.Errorf("verifier mode requires -vk")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

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
