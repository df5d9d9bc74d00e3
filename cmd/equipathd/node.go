package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Omnipath2025/equipath/internal/api"
	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/attribution"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/proof"
	"github.com/Omnipath2025/equipath/internal/storage"
	"github.com/Omnipath2025/equipath/internal/transport"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

// Node is a running equipath node in either mode.
type Node struct {
	cfg *Config

	db        *storage.Storage
	quic      *transport.Node
	httpAPI   *api.Server
	verifiers *verifier.Registry
	registry  *attribution.Registry
}

// NewNode wires up a node for the configured mode.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	quicNode, err := transport.NewNode(transport.Config{
		PrivateKey: cfg.PrivateKey,
		ListenAddr: cfg.QUICAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport:\n%w", err)
	}

	n.quic = quicNode

	switch cfg.Mode {
	case ModeRegistry:
		err = n.setupRegistry()
	case ModeVerifier:
		err = n.setupVerifier()
	}

	if err != nil {
		return nil, err
	}

	return n, nil
}

// setupRegistry wires storage, registries, vote collection and the HTTP API.
func (n *Node) setupRegistry() error {
	db, err := storage.New(n.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.db = db

	events, err := event.NewLog(db)
	if err != nil {
		return fmt.Errorf("open event log:\n%w", err)
	}

	admin := commitment.HashToScalar([]byte(n.cfg.AdminToken))

	verifiers, err := verifier.NewRegistry(db, admin, events)
	if err != nil {
		return fmt.Errorf("open verifier registry:\n%w", err)
	}

	n.verifiers = verifiers

	registry, err := attribution.NewRegistry(db, verifiers, events, admin, attribution.Params{
		MinVerifications: n.cfg.MinVerifications,
		MaxVerifications: n.cfg.MaxVerifications,
	})
	if err != nil {
		return fmt.Errorf("open attribution registry:\n%w", err)
	}

	n.registry = registry

	collector := attestation.NewCollector(n.quic, n.voteSink)

	n.httpAPI = api.New(n.cfg.HTTPAddress, registry, verifiers, events)
	n.httpAPI.AttachCollector(collector)

	return nil
}

// voteSink feeds collected votes into the attribution registry.
func (n *Node) voteSink(req *attestation.VoteRequest, resp *attestation.VoteResponse) (bool, error) {
	status, err := n.registry.Attest(req.Commitment, resp.Verifier, resp.IsValid, resp.Signature)
	if err != nil {
		// A terminal contribution needs no further votes.
		return errors.Is(err, attribution.ErrInvalidState), err
	}

	return status.IsTerminal(), nil
}

// setupVerifier wires the proof gateway and the vote request handler.
func (n *Node) setupVerifier() error {
	vkBytes, err := os.ReadFile(n.cfg.VerifyingKeyPath)
	if err != nil {
		return fmt.Errorf("read verifying key:\n%w", err)
	}

	gateway, err := proof.GatewayFromBytes(vkBytes)
	if err != nil {
		return fmt.Errorf("load verifying key:\n%w", err)
	}

	blsKey, err := attestation.DeriveFromNodeKey(n.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("derive BLS key:\n%w", err)
	}

	identity := commitment.HashToScalar(n.quic.PublicKey())
	handler := attestation.NewHandler(identity, blsKey, gateway)

	n.quic.OnRequest(func(p *transport.Peer, data []byte) ([]byte, error) {
		return handler.Handle(data)
	})

	logger.Info("verifier identity", "identity", identity)

	return nil
}

// Run starts the node and blocks until interrupted.
func (n *Node) Run() error {
	if err := n.quic.Start(); err != nil {
		return fmt.Errorf("start transport:\n%w", err)
	}

	for _, addr := range n.cfg.Peers {
		if _, err := n.quic.Connect(addr); err != nil {
			logger.Warn("connect to peer failed", "addr", addr, "error", err)
		}
	}

	if n.httpAPI != nil {
		if err := n.httpAPI.Start(); err != nil {
			return fmt.Errorf("start http api:\n%w", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")

	return n.shutdown()
}

// shutdown stops all components in reverse start order.
func (n *Node) shutdown() error {
	var firstErr error

	if n.httpAPI != nil {
		if err := n.httpAPI.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := n.quic.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if n.db != nil {
		if err := n.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
