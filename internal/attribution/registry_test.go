package attribution

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/storage"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

type testEnv struct {
	db        *storage.Storage
	events    *event.Log
	verifiers *verifier.Registry
	registry  *Registry
	admin     commitment.Digest
}

type testVerifier struct {
	id  commitment.Digest
	key *attestation.BLSKeyPair
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvParams(t, DefaultParams())
}

func newTestEnvParams(t *testing.T, params Params) *testEnv {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("failed to close storage: %v", err)
		}
	})

	log, err := event.NewLog(db)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	admin := commitment.HashToScalar([]byte("admin"))

	verifiers, err := verifier.NewRegistry(db, admin, log)
	if err != nil {
		t.Fatalf("failed to create verifier registry: %v", err)
	}

	registry, err := NewRegistry(db, verifiers, log, admin, params)
	if err != nil {
		t.Fatalf("failed to create attribution registry: %v", err)
	}

	return &testEnv{
		db:        db,
		events:    log,
		verifiers: verifiers,
		registry:  registry,
		admin:     admin,
	}
}

// addVerifier registers an attestor with a deterministic BLS key.
func (e *testEnv) addVerifier(t *testing.T, name string) testVerifier {
	t.Helper()

	seed := commitment.HashToScalar([]byte("bls-seed-" + name))

	key, err := attestation.GenerateBLSKeyFromSeed(seed[:])
	if err != nil {
		t.Fatalf("failed to generate BLS key: %v", err)
	}

	id := commitment.HashToScalar([]byte(name))
	quals := commitment.HashToScalar([]byte(name + "-credentials"))

	if err := e.verifiers.Register(e.admin, id, quals, key.PublicKeyBytes()); err != nil {
		t.Fatalf("failed to register verifier %s: %v", name, err)
	}

	return testVerifier{id: id, key: key}
}

// addVerifiers registers n attestors named v0..v(n-1).
func (e *testEnv) addVerifiers(t *testing.T, n int) []testVerifier {
	t.Helper()

	out := make([]testVerifier, n)
	for i := range out {
		out[i] = e.addVerifier(t, fmt.Sprintf("v%d", i))
	}

	return out
}

// submit creates a pending contribution derived from the given seed.
func (e *testEnv) submit(t *testing.T, seed string) commitment.Digest {
	t.Helper()

	c := commitment.HashToScalar([]byte("content-" + seed))
	context := commitment.HashToScalar([]byte("context-" + seed))
	contributor := commitment.HashToScalar([]byte("contributor-" + seed))
	proof := commitment.HashToScalar([]byte("attribution-" + seed))

	if err := e.registry.Submit(contributor, c, context, proof); err != nil {
		t.Fatalf("failed to submit contribution: %v", err)
	}

	return c
}

// vote casts a properly signed attestation.
func (e *testEnv) vote(c commitment.Digest, v testVerifier, isValid bool) (Status, error) {
	return e.registry.Attest(c, v.id, isValid, v.key.SignVote(c, isValid))
}

func TestSubmitCreatesPending(t *testing.T) {
	env := newTestEnv(t)

	c := env.submit(t, "a")

	record, err := env.registry.Get(c)
	if err != nil {
		t.Fatalf("failed to get contribution: %v", err)
	}

	if record.Status != StatusPending {
		t.Errorf("status is %s, want pending", record.Status)
	}
	if len(record.Votes) != 0 {
		t.Errorf("new contribution has %d votes, want 0", len(record.Votes))
	}
	if record.CreatedAt == 0 {
		t.Error("created timestamp not set")
	}
}

func TestSubmitRejectsZeroInputs(t *testing.T) {
	env := newTestEnv(t)

	var zero commitment.Digest
	c := commitment.HashToScalar([]byte("content"))
	context := commitment.HashToScalar([]byte("context"))
	contributor := commitment.HashToScalar([]byte("contributor"))
	proof := commitment.HashToScalar([]byte("attribution"))

	cases := []struct {
		name                         string
		contributor, c, ctx, attrib  commitment.Digest
	}{
		{"zero commitment", contributor, zero, context, proof},
		{"zero context", contributor, c, zero, proof},
		{"zero contributor", zero, c, context, proof},
		{"zero attribution", contributor, c, context, zero},
	}

	for _, tc := range cases {
		err := env.registry.Submit(tc.contributor, tc.c, tc.ctx, tc.attrib)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestSubmitDuplicateCommitment(t *testing.T) {
	env := newTestEnv(t)

	c := env.submit(t, "a")

	err := env.registry.Submit(
		commitment.HashToScalar([]byte("other-contributor")),
		c,
		commitment.HashToScalar([]byte("other-context")),
		commitment.HashToScalar([]byte("other-attribution")),
	)
	if !errors.Is(err, ErrDuplicateCommitment) {
		t.Fatalf("expected ErrDuplicateCommitment, got %v", err)
	}
}

// Three unanimous yes votes finalize to Verified on the third vote.
func TestUnanimousVerification(t *testing.T) {
	env := newTestEnv(t)
	vs := env.addVerifiers(t, 3)
	c := env.submit(t, "a")

	for i, v := range vs[:2] {
		status, err := env.vote(c, v, true)
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
		if status != StatusPending {
			t.Fatalf("status after vote %d is %s, want pending", i, status)
		}
	}

	status, err := env.vote(c, vs[2], true)
	if err != nil {
		t.Fatalf("third vote failed: %v", err)
	}
	if status != StatusVerified {
		t.Fatalf("status is %s, want verified", status)
	}

	record, err := env.registry.Get(c)
	if err != nil {
		t.Fatalf("failed to get contribution: %v", err)
	}

	if len(record.Certificate) != attestation.BLSSignatureSize {
		t.Errorf("certificate is %d bytes, want %d", len(record.Certificate), attestation.BLSSignatureSize)
	}

	// The certificate verifies against all yes-voters' public keys.
	var pks [][]byte
	for _, v := range vs {
		pk := v.key.PublicKeyBytes()
		pks = append(pks, pk[:])
	}

	if !attestation.VerifyAggregated(record.Certificate, attestation.VoteMessage(c, true), pks) {
		t.Error("certificate does not verify against yes-voter keys")
	}

	verified, err := env.registry.IsVerified(c)
	if err != nil {
		t.Fatalf("failed to check verification: %v", err)
	}
	if !verified {
		t.Error("IsVerified should report true")
	}
}

// A clear no-majority finalizes to Rejected.
func TestMajorityRejection(t *testing.T) {
	env := newTestEnv(t)
	vs := env.addVerifiers(t, 3)
	c := env.submit(t, "a")

	for i, v := range vs {
		status, err := env.vote(c, v, false)
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}

		if i == len(vs)-1 && status != StatusRejected {
			t.Fatalf("final status is %s, want rejected", status)
		}
	}

	record, _ := env.registry.Get(c)
	if record.Certificate != nil {
		t.Error("rejected contribution should not carry a certificate")
	}
}

// A 5/5 split at the vote budget finalizes to Disputed. A quorum above half
// the budget is required for a split to survive to the budget: with the
// default quorum of 3, any fifth vote already produces a strict majority.
func TestSplitVotesDispute(t *testing.T) {
	env := newTestEnvParams(t, Params{MinVerifications: 6, MaxVerifications: 10})
	vs := env.addVerifiers(t, 10)
	c := env.submit(t, "a")

	var final Status

	for i, v := range vs {
		status, err := env.vote(c, v, i%2 == 0)
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
		final = status
	}

	if final != StatusDisputed {
		t.Fatalf("final status is %s, want disputed", final)
	}

	record, _ := env.registry.Get(c)
	if len(record.Votes) != 10 {
		t.Errorf("got %d votes, want 10", len(record.Votes))
	}
}

// A tie persists through four votes, then the fifth breaks it.
func TestLateMajorityVerifies(t *testing.T) {
	env := newTestEnv(t)
	vs := env.addVerifiers(t, 5)
	c := env.submit(t, "a")

	pattern := []bool{true, false, true, false, true}

	var final Status

	for i, isValid := range pattern {
		status, err := env.vote(c, vs[i], isValid)
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
		final = status
	}

	if final != StatusVerified {
		t.Fatalf("final status is %s, want verified", final)
	}
}

func TestFinalizeOnce(t *testing.T) {
	env := newTestEnv(t)
	vs := env.addVerifiers(t, 4)
	c := env.submit(t, "a")

	for _, v := range vs[:3] {
		if _, err := env.vote(c, v, true); err != nil {
			t.Fatalf("vote failed: %v", err)
		}
	}

	// Further votes are rejected, not silently absorbed.
	_, err := env.vote(c, vs[3], true)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	record, _ := env.registry.Get(c)
	if len(record.Votes) != 3 {
		t.Errorf("got %d votes, want 3", len(record.Votes))
	}

	// Exactly one StatusChanged event fired.
	events, err := env.events.ReadFrom(0, 100)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}

	changes := 0
	for _, evt := range events {
		if evt.Type == event.TypeStatusChanged {
			changes++
		}
	}

	if changes != 1 {
		t.Errorf("got %d StatusChanged events, want exactly 1", changes)
	}
}

func TestDuplicateVote(t *testing.T) {
	env := newTestEnv(t)
	v := env.addVerifier(t, "alice")
	c := env.submit(t, "a")

	if _, err := env.vote(c, v, true); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}

	// Same verdict and flipped verdict both rejected.
	if _, err := env.vote(c, v, true); !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("repeat vote: expected ErrDuplicateVote, got %v", err)
	}
	if _, err := env.vote(c, v, false); !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("flipped vote: expected ErrDuplicateVote, got %v", err)
	}
}

func TestAttestRequiresActiveVerifier(t *testing.T) {
	env := newTestEnv(t)
	v := env.addVerifier(t, "alice")
	c := env.submit(t, "a")

	// Unknown verifier.
	ghost := testVerifier{id: commitment.HashToScalar([]byte("ghost")), key: v.key}
	if _, err := env.vote(c, ghost, true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown verifier: expected ErrUnauthorized, got %v", err)
	}

	// Deactivated verifier.
	if err := env.verifiers.Deactivate(env.admin, v.id); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}
	if _, err := env.vote(c, v, true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("deactivated verifier: expected ErrUnauthorized, got %v", err)
	}
}

func TestAttestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	v := env.addVerifier(t, "alice")
	c := env.submit(t, "a")

	// Signature over the opposite verdict does not verify.
	sig := v.key.SignVote(c, false)

	_, err := env.registry.Attest(c, v.id, true, sig)
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}

	record, _ := env.registry.Get(c)
	if len(record.Votes) != 0 {
		t.Error("failed attestation must not record a vote")
	}
}

func TestAttestUnknownContribution(t *testing.T) {
	env := newTestEnv(t)
	v := env.addVerifier(t, "alice")

	c := commitment.HashToScalar([]byte("never-submitted"))

	_, err := env.vote(c, v, true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttestIncrementsVerifierCounter(t *testing.T) {
	env := newTestEnv(t)
	v := env.addVerifier(t, "alice")
	c := env.submit(t, "a")

	if _, err := env.vote(c, v, true); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	record, ok := env.verifiers.Get(v.id)
	if !ok {
		t.Fatal("verifier not found")
	}
	if record.VerificationCount != 1 {
		t.Errorf("verification count is %d, want 1", record.VerificationCount)
	}
}

func TestResolveDispute(t *testing.T) {
	env := newTestEnvParams(t, Params{MinVerifications: 6, MaxVerifications: 10})
	vs := env.addVerifiers(t, 10)
	c := env.submit(t, "a")

	for i, v := range vs {
		if _, err := env.vote(c, v, i%2 == 0); err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
	}

	// Non-admin cannot resolve.
	err := env.registry.ResolveDispute(commitment.HashToScalar([]byte("intruder")), c, StatusVerified)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Resolution outcome must be terminal.
	err = env.registry.ResolveDispute(env.admin, c, StatusPending)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	if err := env.registry.ResolveDispute(env.admin, c, StatusVerified); err != nil {
		t.Fatalf("failed to resolve dispute: %v", err)
	}

	record, _ := env.registry.Get(c)
	if record.Status != StatusVerified {
		t.Errorf("status is %s, want verified", record.Status)
	}
	if record.Certificate == nil {
		t.Error("resolution to verified should build a certificate")
	}

	// Already resolved.
	err = env.registry.ResolveDispute(env.admin, c, StatusRejected)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestResolveDisputeRequiresDisputed(t *testing.T) {
	env := newTestEnv(t)
	c := env.submit(t, "a")

	err := env.registry.ResolveDispute(env.admin, c, StatusVerified)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for pending contribution, got %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	vs := env.addVerifiers(t, 3)

	c1 := env.submit(t, "a")
	env.submit(t, "b")

	for _, v := range vs {
		if _, err := env.vote(c1, v, true); err != nil {
			t.Fatalf("vote failed: %v", err)
		}
	}

	stats := env.registry.Stats()
	if stats.Pending != 1 {
		t.Errorf("pending is %d, want 1", stats.Pending)
	}
	if stats.Verified != 1 {
		t.Errorf("verified is %d, want 1", stats.Verified)
	}
	if stats.Total() != 2 {
		t.Errorf("total is %d, want 2", stats.Total())
	}
}

func TestContributionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	admin := commitment.HashToScalar([]byte("admin"))

	db, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	log, err := event.NewLog(db)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	verifiers, err := verifier.NewRegistry(db, admin, log)
	if err != nil {
		t.Fatalf("failed to create verifier registry: %v", err)
	}

	registry, err := NewRegistry(db, verifiers, log, admin, DefaultParams())
	if err != nil {
		t.Fatalf("failed to create attribution registry: %v", err)
	}

	seed := commitment.HashToScalar([]byte("bls-seed"))
	key, err := attestation.GenerateBLSKeyFromSeed(seed[:])
	if err != nil {
		t.Fatalf("failed to generate BLS key: %v", err)
	}

	vid := commitment.HashToScalar([]byte("alice"))
	if err := verifiers.Register(admin, vid, commitment.HashToScalar([]byte("quals")), key.PublicKeyBytes()); err != nil {
		t.Fatalf("failed to register verifier: %v", err)
	}

	c := commitment.HashToScalar([]byte("content"))
	if err := registry.Submit(commitment.HashToScalar([]byte("bob")), c, commitment.HashToScalar([]byte("ctx")), commitment.HashToScalar([]byte("attr"))); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}

	if _, err := registry.Attest(c, vid, true, key.SignVote(c, true)); err != nil {
		t.Fatalf("failed to attest: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("failed to close storage: %v", err)
	}

	db2, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer db2.Close()

	log2, err := event.NewLog(db2)
	if err != nil {
		t.Fatalf("failed to reopen event log: %v", err)
	}

	verifiers2, err := verifier.NewRegistry(db2, admin, log2)
	if err != nil {
		t.Fatalf("failed to reload verifier registry: %v", err)
	}

	registry2, err := NewRegistry(db2, verifiers2, log2, admin, DefaultParams())
	if err != nil {
		t.Fatalf("failed to reload attribution registry: %v", err)
	}

	record, err := registry2.Get(c)
	if err != nil {
		t.Fatalf("contribution lost after reopen: %v", err)
	}

	if len(record.Votes) != 1 {
		t.Fatalf("got %d votes after reopen, want 1", len(record.Votes))
	}
	if record.Votes[0].Verifier != vid {
		t.Error("vote verifier mismatch after reopen")
	}
	if record.Status != StatusPending {
		t.Errorf("status is %s after reopen, want pending", record.Status)
	}

	stats := registry2.Stats()
	if stats.Pending != 1 {
		t.Errorf("pending count is %d after reopen, want 1", stats.Pending)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := &Contribution{
		Commitment:       commitment.HashToScalar([]byte("c")),
		CulturalContext:  commitment.HashToScalar([]byte("ctx")),
		Contributor:      commitment.HashToScalar([]byte("who")),
		AttributionProof: commitment.HashToScalar([]byte("attr")),
		Status:           StatusVerified,
		CreatedAt:        1700000000,
		UpdatedAt:        1700000042,
		Certificate:      []byte{1, 2, 3},
	}

	var sig [attestation.BLSSignatureSize]byte
	sig[0] = 0xAA

	c.Votes = []Vote{
		{Verifier: commitment.HashToScalar([]byte("v1")), IsValid: true, Signature: sig, CastAt: 1700000010},
		{Verifier: commitment.HashToScalar([]byte("v2")), IsValid: false, CastAt: 1700000020},
	}

	decoded, err := decodeContribution(encodeContribution(c))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.Commitment != c.Commitment || decoded.Status != c.Status {
		t.Error("header mismatch after round trip")
	}
	if len(decoded.Votes) != 2 {
		t.Fatalf("got %d votes, want 2", len(decoded.Votes))
	}
	if decoded.Votes[0].Signature != sig {
		t.Error("vote signature mismatch")
	}
	if decoded.Votes[1].IsValid {
		t.Error("vote verdict mismatch")
	}
	if string(decoded.Certificate) != string(c.Certificate) {
		t.Error("certificate mismatch")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	c := &Contribution{
		Commitment: commitment.HashToScalar([]byte("c")),
		Status:     StatusPending,
	}

	data := encodeContribution(c)

	if _, err := decodeContribution(data[:10]); err == nil {
		t.Error("expected error for truncated header")
	}
	if _, err := decodeContribution(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated tail")
	}
}
