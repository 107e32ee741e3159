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

package api

import (
	"net/http"

	"github.com/chronosvault/trinity/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

type proposeRequest struct {
	Payload   vault.Payload  `json:"payload"`
	Proposer  common.Address `json:"proposer"`
	Signature hexutil.Bytes  `json:"signature"` // over vault.ProposeHash(payload)
}

type proposeResponse struct {
	TxID common.Hash `json:"txId"`
}

func (s *Server) proposeVaultTx(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := s.backend.Vault.Propose(r.Context(), req.Payload, req.Proposer, req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &proposeResponse{TxID: txID})
}

type vaultTxRequest struct {
	TxID      common.Hash    `json:"txId"`
	Signer    common.Address `json:"signer,omitempty"`
	Signature hexutil.Bytes  `json:"signature,omitempty"` // approve and cancel only
}

func (s *Server) approveVaultTx(w http.ResponseWriter, r *http.Request) {
	s.settleVaultTx(w, r, func(req *vaultTxRequest) (*vault.Proposal, error) {
		return s.backend.Vault.Approve(r.Context(), req.TxID, req.Signer, req.Signature)
	})
}

func (s *Server) executeVaultTx(w http.ResponseWriter, r *http.Request) {
	s.settleVaultTx(w, r, func(req *vaultTxRequest) (*vault.Proposal, error) {
		return s.backend.Vault.Execute(r.Context(), req.TxID)
	})
}

func (s *Server) cancelVaultTx(w http.ResponseWriter, r *http.Request) {
	s.settleVaultTx(w, r, func(req *vaultTxRequest) (*vault.Proposal, error) {
		return s.backend.Vault.Cancel(r.Context(), req.TxID, req.Signer, req.Signature)
	})
}

func (s *Server) settleVaultTx(w http.ResponseWriter, r *http.Request, fn func(req *vaultTxRequest) (*vault.Proposal, error)) {
	var req vaultTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := fn(&req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getVaultTx(w http.ResponseWriter, r *http.Request) {
	txID, err := parseHash(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.backend.Vault.GetProposal(txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) activeVaultTxs(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.Vault.ActiveProposals()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*vault.Proposal{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) vaultSigners(w http.ResponseWriter, r *http.Request) {
	set, err := s.backend.Vault.Signers()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) vaultTimeLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.backend.Vault.KnownVaults()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if locks == nil {
		locks = []*vault.TimeLock{}
	}
	writeJSON(w, http.StatusOK, locks)
}

func (s *Server) vaultTimeLock(w http.ResponseWriter, r *http.Request) {
	lock, err := s.backend.Vault.TimeLock(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}
