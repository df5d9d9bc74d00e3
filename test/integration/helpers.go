// Package integration exercises the full attribution flow: real Groth16
// proofs, verifier nodes over QUIC, and the consensus state machine.
package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/attribution"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/proof"
	"github.com/Omnipath2025/equipath/internal/storage"
	"github.com/Omnipath2025/equipath/internal/transport"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

var (
	setupOnce sync.Once
	setupCS   constraint.ConstraintSystem
	setupPK   groth16.ProvingKey
	setupVK   groth16.VerifyingKey
	setupErr  error
)

// circuitSetup compiles the circuit and runs the Groth16 setup once for
// the whole package.
func circuitSetup(t *testing.T) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()

	setupOnce.Do(func() {
		setupCS, setupErr = proof.Compile()
		if setupErr != nil {
			return
		}

		setupPK, setupVK, setupErr = proof.Setup(setupCS)
	})

	if setupErr != nil {
		t.Fatalf("circuit setup: %v", setupErr)
	}

	return setupCS, setupPK, setupVK
}

// stack is a full registry-side deployment plus verifier nodes.
type stack struct {
	db        *storage.Storage
	events    *event.Log
	verifiers *verifier.Registry
	registry  *attribution.Registry
	collector *attestation.Collector
	admin     commitment.Digest

	verifierNodes []*transport.Node
	registryNode  *transport.Node
}

// newStack builds a registry with numVerifiers live verifier nodes
// connected over QUIC, each running the real proof gateway.
func newStack(t *testing.T, numVerifiers int, params attribution.Params) *stack {
	t.Helper()

	_, _, vk := circuitSetup(t)

	gateways := make([]attestation.ProofVerifier, numVerifiers)
	for i := range gateways {
		gateways[i] = proof.NewGateway(vk)
	}

	return newStackGateways(t, gateways, params)
}

// newStackGateways builds a stack with one verifier node per gateway, so
// tests can mix honest and faulty verifiers.
func newStackGateways(t *testing.T, gateways []attestation.ProofVerifier, params attribution.Params) *stack {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	events, err := event.NewLog(db)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}

	admin := commitment.HashToScalar([]byte("integration-admin"))

	verifiers, err := verifier.NewRegistry(db, admin, events)
	if err != nil {
		t.Fatalf("open verifier registry: %v", err)
	}

	registry, err := attribution.NewRegistry(db, verifiers, events, admin, params)
	if err != nil {
		t.Fatalf("open attribution registry: %v", err)
	}

	s := &stack{
		db:        db,
		events:    events,
		verifiers: verifiers,
		registry:  registry,
		admin:     admin,
	}

	for _, gateway := range gateways {
		s.startVerifierNode(t, gateway)
	}

	s.startRegistryNode(t)

	s.collector = attestation.NewCollector(s.registryNode, func(req *attestation.VoteRequest, resp *attestation.VoteResponse) (bool, error) {
		status, err := registry.Attest(req.Commitment, resp.Verifier, resp.IsValid, resp.Signature)
		if err != nil {
			return false, err
		}

		return status.IsTerminal(), nil
	})

	return s
}

// startVerifierNode starts one verifier node and registers its identity.
func (s *stack) startVerifierNode(t *testing.T, gateway attestation.ProofVerifier) {
	t.Helper()

	priv, err := generateNodeKey()
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}

	node, err := transport.NewNode(transport.Config{
		PrivateKey: priv,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create verifier node: %v", err)
	}

	blsKey, err := attestation.DeriveFromNodeKey(priv)
	if err != nil {
		t.Fatalf("derive BLS key: %v", err)
	}

	identity := commitment.HashToScalar(node.PublicKey())
	handler := attestation.NewHandler(identity, blsKey, gateway)

	node.OnRequest(func(p *transport.Peer, data []byte) ([]byte, error) {
		return handler.Handle(data)
	})

	if err := node.Start(); err != nil {
		t.Fatalf("start verifier node: %v", err)
	}

	t.Cleanup(func() { node.Close() })

	quals := commitment.HashToScalar([]byte("integration-credentials"))

	if err := s.verifiers.Register(s.admin, identity, quals, blsKey.PublicKeyBytes()); err != nil {
		t.Fatalf("register verifier: %v", err)
	}

	s.verifierNodes = append(s.verifierNodes, node)
}

// startRegistryNode starts the collector-side node and connects it to all
// verifier nodes.
func (s *stack) startRegistryNode(t *testing.T) {
	t.Helper()

	priv, err := generateNodeKey()
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}

	node, err := transport.NewNode(transport.Config{
		PrivateKey: priv,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create registry node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start registry node: %v", err)
	}

	t.Cleanup(func() { node.Close() })

	for _, v := range s.verifierNodes {
		if _, err := node.Connect(v.Addr()); err != nil {
			t.Fatalf("connect to verifier: %v", err)
		}
	}

	s.registryNode = node
}

func generateNodeKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)

	return priv, err
}

// countEvents tallies event types in the log.
func (s *stack) countEvents(t *testing.T, typ event.Type) int {
	t.Helper()

	events, err := s.events.ReadFrom(0, 1000)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}

	count := 0

	for _, evt := range events {
		if evt.Type == typ {
			count++
		}
	}

	return count
}
