package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/attribution"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/storage"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

const testAdminToken = "test-admin-token"

type testServer struct {
	server    *Server
	mux       http.Handler
	verifiers *verifier.Registry
	registry  *attribution.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	log, err := event.NewLog(db)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	admin := commitment.HashToScalar([]byte(testAdminToken))

	verifiers, err := verifier.NewRegistry(db, admin, log)
	if err != nil {
		t.Fatalf("failed to create verifier registry: %v", err)
	}

	registry, err := attribution.NewRegistry(db, verifiers, log, admin, attribution.DefaultParams())
	if err != nil {
		t.Fatalf("failed to create attribution registry: %v", err)
	}

	server := New(":0", registry, verifiers, log)

	return &testServer{
		server:    server,
		mux:       server.routes(),
		verifiers: verifiers,
		registry:  registry,
	}
}

// do performs a request against the server's routes.
func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)

	return w
}

// registerVerifier registers an attestor through the HTTP surface.
func (ts *testServer) registerVerifier(t *testing.T, name string) (commitment.Digest, *attestation.BLSKeyPair) {
	t.Helper()

	seed := commitment.HashToScalar([]byte("bls-" + name))

	key, err := attestation.GenerateBLSKeyFromSeed(seed[:])
	if err != nil {
		t.Fatalf("failed to generate BLS key: %v", err)
	}

	id := commitment.HashToScalar([]byte(name))
	pk := key.PublicKeyBytes()

	w := ts.do(t, "POST", "/verifiers", map[string]string{
		"identity":           id.String(),
		"qualificationsHash": commitment.HashToScalar([]byte(name + "-quals")).String(),
		"blsPublicKey":       hex.EncodeToString(pk[:]),
	}, testAdminToken)

	if w.Code != http.StatusCreated {
		t.Fatalf("register verifier: status %d: %s", w.Code, w.Body.String())
	}

	return id, key
}

// submit creates a contribution through the HTTP surface.
func (ts *testServer) submit(t *testing.T, seed string) commitment.Digest {
	t.Helper()

	c := commitment.HashToScalar([]byte("content-" + seed))

	w := ts.do(t, "POST", "/contributions", map[string]string{
		"commitment":       c.String(),
		"culturalContext":  commitment.HashToScalar([]byte("ctx-" + seed)).String(),
		"contributor":      commitment.HashToScalar([]byte("who-" + seed)).String(),
		"attributionProof": commitment.HashToScalar([]byte("attr-" + seed)).String(),
	}, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("submit: status %d: %s", w.Code, w.Body.String())
	}

	return c
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/health", nil, "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSubmitAndGet(t *testing.T) {
	ts := newTestServer(t)

	c := ts.submit(t, "a")

	w := ts.do(t, "GET", "/contributions/"+c.String(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "pending" {
		t.Errorf("status: got %v, want pending", resp["status"])
	}
	if resp["commitment"] != c.String() {
		t.Errorf("commitment mismatch in response")
	}
}

func TestSubmitDuplicateConflicts(t *testing.T) {
	ts := newTestServer(t)

	c := ts.submit(t, "a")

	w := ts.do(t, "POST", "/contributions", map[string]string{
		"commitment":       c.String(),
		"culturalContext":  commitment.HashToScalar([]byte("ctx")).String(),
		"contributor":      commitment.HashToScalar([]byte("who")).String(),
		"attributionProof": commitment.HashToScalar([]byte("attr")).String(),
	}, "")

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestSubmitRejectsBadDigest(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/contributions", map[string]string{
		"commitment":       "not-hex",
		"culturalContext":  commitment.HashToScalar([]byte("ctx")).String(),
		"contributor":      commitment.HashToScalar([]byte("who")).String(),
		"attributionProof": commitment.HashToScalar([]byte("attr")).String(),
	}, "")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestGetUnknownContribution(t *testing.T) {
	ts := newTestServer(t)

	c := commitment.HashToScalar([]byte("unknown"))

	w := ts.do(t, "GET", "/contributions/"+c.String(), nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestVoteFlow(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, "a")

	var lastStatus string

	for i := 0; i < 3; i++ {
		id, key := ts.registerVerifier(t, fmt.Sprintf("v%d", i))
		sig := key.SignVote(c, true)

		w := ts.do(t, "POST", "/contributions/"+c.String()+"/votes", map[string]any{
			"verifier":  id.String(),
			"isValid":   true,
			"signature": hex.EncodeToString(sig[:]),
		}, "")

		if w.Code != http.StatusOK {
			t.Fatalf("vote %d: status %d: %s", i, w.Code, w.Body.String())
		}

		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		lastStatus = resp["status"]
	}

	if lastStatus != "verified" {
		t.Errorf("final status: got %s, want verified", lastStatus)
	}

	w := ts.do(t, "GET", "/contributions/"+c.String()+"/verified", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verified check: status %d", w.Code)
	}

	var verified map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &verified); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if !verified["verified"] {
		t.Error("contribution should be verified")
	}
}

func TestVoteWithBadSignature(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, "a")
	id, key := ts.registerVerifier(t, "alice")

	// Signature over the opposite verdict.
	sig := key.SignVote(c, false)

	w := ts.do(t, "POST", "/contributions/"+c.String()+"/votes", map[string]any{
		"verifier":  id.String(),
		"isValid":   true,
		"signature": hex.EncodeToString(sig[:]),
	}, "")

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVoteFromUnknownVerifier(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, "a")

	key, err := attestation.GenerateBLSKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	sig := key.SignVote(c, true)

	w := ts.do(t, "POST", "/contributions/"+c.String()+"/votes", map[string]any{
		"verifier":  commitment.HashToScalar([]byte("ghost")).String(),
		"isValid":   true,
		"signature": hex.EncodeToString(sig[:]),
	}, "")

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestRegisterVerifierRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	id := commitment.HashToScalar([]byte("alice"))

	body := map[string]string{
		"identity":           id.String(),
		"qualificationsHash": commitment.HashToScalar([]byte("quals")).String(),
		"blsPublicKey":       hex.EncodeToString(make([]byte, verifier.BLSPublicKeySize)),
	}

	// No token at all.
	w := ts.do(t, "POST", "/verifiers", body, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("no token: expected status 403, got %d", w.Code)
	}

	// Wrong token hashes to a non-admin principal.
	w = ts.do(t, "POST", "/verifiers", body, "wrong-token")
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong token: expected status 403, got %d", w.Code)
	}
}

func TestDeactivateVerifier(t *testing.T) {
	ts := newTestServer(t)
	id, _ := ts.registerVerifier(t, "alice")

	w := ts.do(t, "POST", "/verifiers/"+id.String()+"/deactivate", nil, testAdminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate: status %d: %s", w.Code, w.Body.String())
	}

	// Second deactivation conflicts.
	w = ts.do(t, "POST", "/verifiers/"+id.String()+"/deactivate", nil, testAdminToken)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestGetVerifier(t *testing.T) {
	ts := newTestServer(t)
	id, _ := ts.registerVerifier(t, "alice")

	w := ts.do(t, "GET", "/verifiers/"+id.String(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["active"] != true {
		t.Error("verifier should be active")
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.registerVerifier(t, "alice")
	ts.submit(t, "a")

	w := ts.do(t, "GET", "/events?from=0&limit=10", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Events []event.Event `json:"events"`
		Next   uint64        `json:"next"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(resp.Events))
	}
	if resp.Events[0].Type != event.TypeVerifierRegistered {
		t.Errorf("first event: got %s, want %s", resp.Events[0].Type, event.TypeVerifierRegistered)
	}
	if resp.Events[1].Type != event.TypeContributionSubmitted {
		t.Errorf("second event: got %s, want %s", resp.Events[1].Type, event.TypeContributionSubmitted)
	}
	if resp.Next != 2 {
		t.Errorf("next: got %d, want 2", resp.Next)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.registerVerifier(t, "alice")
	ts.submit(t, "a")

	w := ts.do(t, "GET", "/status", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Contributions    attribution.Stats `json:"contributions"`
		Verifiers        int               `json:"verifiers"`
		MinVerifications int               `json:"minVerifications"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Contributions.Pending != 1 {
		t.Errorf("pending: got %d, want 1", resp.Contributions.Pending)
	}
	if resp.Verifiers != 1 {
		t.Errorf("verifiers: got %d, want 1", resp.Verifiers)
	}
	if resp.MinVerifications != 3 {
		t.Errorf("minVerifications: got %d, want 3", resp.MinVerifications)
	}
}

func TestResolutionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, "a")

	// Pending contributions cannot be resolved.
	w := ts.do(t, "POST", "/contributions/"+c.String()+"/resolution", map[string]string{
		"outcome": "verified",
	}, testAdminToken)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}

	// Bad outcome value.
	w = ts.do(t, "POST", "/contributions/"+c.String()+"/resolution", map[string]string{
		"outcome": "pending",
	}, testAdminToken)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
