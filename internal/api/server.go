// Package api exposes the attribution registry over HTTP. All identifiers
// travel as hex digests; administrative endpoints authenticate with a
// bearer token whose hash must match the configured admin principal.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/attribution"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// maxEventPage is the maximum number of events returned per request.
	maxEventPage = 1000
)

// Collector gathers verifier votes for a submitted proof.
type Collector interface {
	Collect(ctx context.Context, req *attestation.VoteRequest) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	addr          string                // addr is the HTTP listen address
	contributions *attribution.Registry // contributions is the attribution state machine
	verifiers     *verifier.Registry    // verifiers is the attestor registry
	events        *event.Log            // events is the append-only event log
	collector     Collector             // collector drives vote collection, may be nil
	server        *http.Server          // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, contributions *attribution.Registry, verifiers *verifier.Registry, events *event.Log) *Server {
	return &Server{
		addr:          addr,
		contributions: contributions,
		verifiers:     verifiers,
		events:        events,
	}
}

// AttachCollector enables automatic vote collection for submissions that
// include proof bytes.
func (s *Server) AttachCollector(c Collector) {
	s.collector = c
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// routes builds the request multiplexer.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /contributions", s.handleSubmit)
	mux.HandleFunc("GET /contributions/{commitment}", s.handleGetContribution)
	mux.HandleFunc("GET /contributions/{commitment}/verified", s.handleIsVerified)
	mux.HandleFunc("POST /contributions/{commitment}/votes", s.handleVote)
	mux.HandleFunc("POST /contributions/{commitment}/resolution", s.handleResolution)
	mux.HandleFunc("POST /verifiers", s.handleRegisterVerifier)
	mux.HandleFunc("POST /verifiers/{identity}/deactivate", s.handleDeactivateVerifier)
	mux.HandleFunc("GET /verifiers/{identity}", s.handleGetVerifier)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmit handles POST /contributions requests.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Commitment       string `json:"commitment"`
		CulturalContext  string `json:"culturalContext"`
		Contributor      string `json:"contributor"`
		AttributionProof string `json:"attributionProof"`
		Proof              string `json:"proof,omitempty"`
		QualityThreshold   uint64 `json:"qualityThreshold,omitempty"`
		ExpectedAttributes string `json:"expectedAttributes,omitempty"`
	}

	if !decodeBody(w, r, &req) {
		return
	}

	c, err := parseDigest(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment: "+err.Error())
		return
	}

	context, err := parseDigest(req.CulturalContext)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cultural context: "+err.Error())
		return
	}

	contributor, err := parseDigest(req.Contributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contributor: "+err.Error())
		return
	}

	attributionProof, err := parseDigest(req.AttributionProof)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attribution proof: "+err.Error())
		return
	}

	if err := s.contributions.Submit(contributor, c, context, attributionProof); err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Proof != "" && s.collector != nil {
		s.startCollection(c, context, req.Proof, req.QualityThreshold, req.ExpectedAttributes)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"commitment": c.String(),
		"status":     attribution.StatusPending.String(),
	})
}

// startCollection kicks off asynchronous vote collection for a freshly
// submitted contribution carrying proof bytes.
func (s *Server) startCollection(c, context commitment.Digest, proofHex string, threshold uint64, attributesHex string) {
	proofBytes, err := hex.DecodeString(proofHex)
	if err != nil {
		logger.Warn("skipping collection, bad proof encoding", "commitment", c, "error", err)
		return
	}

	attributes, err := parseDigest(attributesHex)
	if err != nil {
		logger.Warn("skipping collection, bad expected attributes", "commitment", c, "error", err)
		return
	}

	req := &attestation.VoteRequest{
		Commitment:         c,
		CulturalContext:    context,
		QualityThreshold:   threshold,
		ExpectedAttributes: attributes,
		Proof:              proofBytes,
	}

	go func() {
		ctx, cancel := contextWithCollectionTimeout()
		defer cancel()

		votes, err := s.collector.Collect(ctx, req)
		if err != nil {
			logger.Warn("vote collection failed", "commitment", c, "error", err)
			return
		}

		logger.Info("vote collection finished", "commitment", c, "votes", votes)
	}()
}

// contextWithCollectionTimeout bounds one collection round.
func contextWithCollectionTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// handleVote handles POST /contributions/{commitment}/votes requests.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	c, err := parseDigest(r.PathValue("commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment: "+err.Error())
		return
	}

	var req struct {
		Verifier  string `json:"verifier"`
		IsValid   bool   `json:"isValid"`
		Signature string `json:"signature"`
	}

	if !decodeBody(w, r, &req) {
		return
	}

	verifierID, err := parseDigest(req.Verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid verifier: "+err.Error())
		return
	}

	signature, err := parseSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature: "+err.Error())
		return
	}

	status, err := s.contributions.Attest(c, verifierID, req.IsValid, signature)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"commitment": c.String(),
		"status":     status.String(),
	})
}

// handleGetContribution handles GET /contributions/{commitment} requests.
func (s *Server) handleGetContribution(w http.ResponseWriter, r *http.Request) {
	c, err := parseDigest(r.PathValue("commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment: "+err.Error())
		return
	}

	record, err := s.contributions.Get(c)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, contributionView(record))
}

// handleIsVerified handles GET /contributions/{commitment}/verified requests.
func (s *Server) handleIsVerified(w http.ResponseWriter, r *http.Request) {
	c, err := parseDigest(r.PathValue("commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment: "+err.Error())
		return
	}

	verified, err := s.contributions.IsVerified(c)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"verified": verified,
	})
}

// handleResolution handles POST /contributions/{commitment}/resolution requests.
func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	caller, ok := bearerPrincipal(r)
	if !ok {
		writeError(w, http.StatusForbidden, "missing bearer token")
		return
	}

	c, err := parseDigest(r.PathValue("commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment: "+err.Error())
		return
	}

	var req struct {
		Outcome string `json:"outcome"`
	}

	if !decodeBody(w, r, &req) {
		return
	}

	var outcome attribution.Status

	switch req.Outcome {
	case attribution.StatusVerified.String():
		outcome = attribution.StatusVerified
	case attribution.StatusRejected.String():
		outcome = attribution.StatusRejected
	default:
		writeError(w, http.StatusBadRequest, "outcome must be verified or rejected")
		return
	}

	if err := s.contributions.ResolveDispute(caller, c, outcome); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"commitment": c.String(),
		"status":     outcome.String(),
	})
}

// handleRegisterVerifier handles POST /verifiers requests.
func (s *Server) handleRegisterVerifier(w http.ResponseWriter, r *http.Request) {
	caller, ok := bearerPrincipal(r)
	if !ok {
		writeError(w, http.StatusForbidden, "missing bearer token")
		return
	}

	var req struct {
		Identity           string `json:"identity"`
		QualificationsHash string `json:"qualificationsHash"`
		BLSPublicKey       string `json:"blsPublicKey"`
	}

	if !decodeBody(w, r, &req) {
		return
	}

	identity, err := parseDigest(req.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity: "+err.Error())
		return
	}

	qualifications, err := parseDigest(req.QualificationsHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid qualifications hash: "+err.Error())
		return
	}

	blsKey, err := parseBLSKey(req.BLSPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid BLS public key: "+err.Error())
		return
	}

	if err := s.verifiers.Register(caller, identity, qualifications, blsKey); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"identity": identity.String(),
	})
}

// handleDeactivateVerifier handles POST /verifiers/{identity}/deactivate.
func (s *Server) handleDeactivateVerifier(w http.ResponseWriter, r *http.Request) {
	caller, ok := bearerPrincipal(r)
	if !ok {
		writeError(w, http.StatusForbidden, "missing bearer token")
		return
	}

	identity, err := parseDigest(r.PathValue("identity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity: "+err.Error())
		return
	}

	if err := s.verifiers.Deactivate(caller, identity); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"identity": identity.String(),
	})
}

// handleGetVerifier handles GET /verifiers/{identity} requests.
func (s *Server) handleGetVerifier(w http.ResponseWriter, r *http.Request) {
	identity, err := parseDigest(r.PathValue("identity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity: "+err.Error())
		return
	}

	record, ok := s.verifiers.Get(identity)
	if !ok {
		writeError(w, http.StatusNotFound, "verifier not found")
		return
	}

	writeJSON(w, http.StatusOK, verifierView(record))
}

// handleEvents handles GET /events?from=N&limit=M requests.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from := uint64(0)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from parameter")
			return
		}
		from = parsed
	}

	limit := 100

	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxEventPage {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	events, err := s.events.ReadFrom(from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read events failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   from + uint64(len(events)),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.contributions.Stats()
	params := s.contributions.Params()

	writeJSON(w, http.StatusOK, map[string]any{
		"contributions":    stats,
		"verifiers":        len(s.verifiers.Active()),
		"events":           s.events.Next(),
		"minVerifications": params.MinVerifications,
		"maxVerifications": params.MaxVerifications,
	})
}

// bearerPrincipal derives the caller's principal from the Authorization
// header. Authorization itself happens in the registries, which compare
// the principal to the configured admin identity.
func bearerPrincipal(r *http.Request) (commitment.Digest, bool) {
	auth := r.Header.Get("Authorization")

	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return commitment.Digest{}, false
	}

	return commitment.HashToScalar([]byte(token)), true
}

// decodeBody decodes a JSON request body, writing an error response on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	return true
}

// writeDomainError maps registry errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, attribution.ErrValidation) || errors.Is(err, verifier.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, attribution.ErrUnauthorized) || errors.Is(err, verifier.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, attribution.ErrNotFound) || errors.Is(err, verifier.ErrUnknown):
		status = http.StatusNotFound
	case errors.Is(err, attribution.ErrDuplicateCommitment),
		errors.Is(err, attribution.ErrDuplicateVote),
		errors.Is(err, attribution.ErrInvalidState),
		errors.Is(err, verifier.ErrAlreadyRegistered),
		errors.Is(err, verifier.ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, attribution.ErrInvalidProof):
		status = http.StatusUnprocessableEntity
	}

	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
