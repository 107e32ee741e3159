// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the Trinity components over a JSON HTTP interface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/swap"
	"github.com/chronosvault/trinity/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Attestor verifies TEE evidence.
type Attestor interface {
	VerifySGXQuote(ctx context.Context, quote []byte, validator common.Address) (*attestation.Result, error)
	VerifySEVReport(ctx context.Context, report []byte, validator common.Address) (*attestation.Result, error)
}

// Consensus is the vote side of the consensus engine.
type Consensus interface {
	OpenOperation(ctx context.Context, opID common.Hash, roles []core.ChainRole) (*trinity.Operation, error)
	SubmitVote(ctx context.Context, opID common.Hash, role core.ChainRole, validatorID string, signature []byte) (*trinity.VoteReceipt, error)
	GetOperationStatus(opID common.Hash) (*trinity.Operation, error)
}

// Ledger records cross-chain verifications.
type Ledger interface {
	RecordVerification(ctx context.Context, chainID uint64, dataHash common.Hash, validatorID string, signature []byte) (*trinity.VerificationRecord, error)
	Get(chainID uint64, dataHash common.Hash) (*trinity.VerificationRecord, error)
}

// Vault is the multisig workflow.
type Vault interface {
	Propose(ctx context.Context, payload vault.Payload, proposer common.Address, signature []byte) (common.Hash, error)
	Approve(ctx context.Context, txID common.Hash, signer common.Address, signature []byte) (*vault.Proposal, error)
	Execute(ctx context.Context, txID common.Hash) (*vault.Proposal, error)
	Cancel(ctx context.Context, txID common.Hash, signer common.Address, signature []byte) (*vault.Proposal, error)
	GetProposal(txID common.Hash) (*vault.Proposal, error)
	ActiveProposals() ([]*vault.Proposal, error)
	Signers() (*vault.SignerSet, error)
	TimeLock(vaultID string) (*vault.TimeLock, error)
	KnownVaults() ([]*vault.TimeLock, error)
}

// Swaps is the HTLC state machine.
type Swaps interface {
	Lock(ctx context.Context, params swap.LockParams) (*swap.Swap, error)
	Claim(ctx context.Context, id common.Hash, preimage []byte) (*swap.Swap, error)
	Refund(ctx context.Context, id common.Hash) (*swap.Swap, error)
	Get(id common.Hash) (*swap.Swap, error)
}

// Backend bundles the components the API serves. Nil components leave their
// routes unregistered.
type Backend struct {
	Attestor   Attestor
	Validators governance.ValidatorManager
	Consensus  Consensus
	Ledger     Ledger
	Vault      Vault
	Swaps      Swaps
}

// Config holds the HTTP server settings
type Config struct {
	Addr            string
	CORSOrigins     []string
	RateLimit       float64 // requests per second per client
	RateBurst       int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the JSON API.
type Server struct {
	cfg     Config
	backend Backend
	router  *mux.Router
	handler http.Handler
	limiter *clientLimiter
	log     log.Logger
}

// New creates the API server and registers the routes of every configured
// component.
func New(cfg Config, backend Backend) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 40
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		backend: backend,
		router:  mux.NewRouter(),
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		log:     log.New("module", "api"),
	}
	s.routes()
	s.router.Use(s.requestID, s.instrument, s.rateLimit)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         600,
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	if s.backend.Attestor != nil {
		r.HandleFunc("/attestation/verify", s.verifyAttestation).Methods(http.MethodPost)
	}
	if s.backend.Validators != nil {
		r.HandleFunc("/validators", s.registerValidator).Methods(http.MethodPost)
		r.HandleFunc("/validators", s.listValidators).Methods(http.MethodGet)
		r.HandleFunc("/validators/{address}", s.getValidator).Methods(http.MethodGet)
		r.HandleFunc("/validators/{id}/history", s.validatorHistory).Methods(http.MethodGet)
		r.HandleFunc("/validators/{id}/activate", s.activateValidator).Methods(http.MethodPost)
		r.HandleFunc("/validators/{id}/deactivate", s.deactivateValidator).Methods(http.MethodPost)
		r.HandleFunc("/validators/{id}/status", s.setValidatorStatus).Methods(http.MethodPost)
	}
	if s.backend.Consensus != nil {
		r.HandleFunc("/consensus/operations", s.openOperation).Methods(http.MethodPost)
		r.HandleFunc("/consensus/operations/{id}", s.getOperation).Methods(http.MethodGet)
		r.HandleFunc("/consensus/vote", s.submitVote).Methods(http.MethodPost)
	}
	if s.backend.Ledger != nil {
		r.HandleFunc("/ledger/verifications", s.recordVerification).Methods(http.MethodPost)
		r.HandleFunc("/ledger/{chain:[0-9]+}/{hash}", s.getVerification).Methods(http.MethodGet)
	}
	if s.backend.Vault != nil {
		r.HandleFunc("/vault-tx/propose", s.proposeVaultTx).Methods(http.MethodPost)
		r.HandleFunc("/vault-tx/approve", s.approveVaultTx).Methods(http.MethodPost)
		r.HandleFunc("/vault-tx/execute", s.executeVaultTx).Methods(http.MethodPost)
		r.HandleFunc("/vault-tx/cancel", s.cancelVaultTx).Methods(http.MethodPost)
		r.HandleFunc("/vault-tx", s.activeVaultTxs).Methods(http.MethodGet)
		r.HandleFunc("/vault-tx/{id}", s.getVaultTx).Methods(http.MethodGet)
		r.HandleFunc("/vault/signers", s.vaultSigners).Methods(http.MethodGet)
		r.HandleFunc("/vault/timelocks", s.vaultTimeLocks).Methods(http.MethodGet)
		r.HandleFunc("/vault/timelocks/{id}", s.vaultTimeLock).Methods(http.MethodGet)
	}
	if s.backend.Swaps != nil {
		r.HandleFunc("/swap/lock", s.lockSwap).Methods(http.MethodPost)
		r.HandleFunc("/swap/claim", s.claimSwap).Methods(http.MethodPost)
		r.HandleFunc("/swap/refund", s.refundSwap).Methods(http.MethodPost)
		r.HandleFunc("/swap/{id}", s.getSwap).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, core.ErrNotFound)
	})
}

// Handler returns the HTTP handler with CORS and middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "endpoint", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("Existing connections terminated")
		} else {
			s.log.Error("Failed to gracefully shut down HTTP server", "err", err)
		}
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
