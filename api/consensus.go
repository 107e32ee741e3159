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
	"fmt"
	"net/http"
	"strconv"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

// parseHash decodes a 0x-prefixed 32 byte hex string.
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is not a 32 byte hex hash", core.ErrInvalidArgument, s)
	}
	return common.BytesToHash(b), nil
}

type openRequest struct {
	OperationID common.Hash      `json:"operationId"`
	Roles       []core.ChainRole `json:"roles"`
}

func (s *Server) openOperation(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	op, err := s.backend.Consensus.OpenOperation(r.Context(), req.OperationID, req.Roles)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	op, err := s.backend.Consensus.GetOperationStatus(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type voteRequest struct {
	OperationID common.Hash    `json:"operationId"`
	ChainRole   core.ChainRole `json:"chainRole"`
	ValidatorID string         `json:"validatorId"`
	Signature   hexutil.Bytes  `json:"signature"`
}

func (s *Server) submitVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := s.backend.Consensus.SubmitVote(r.Context(), req.OperationID, req.ChainRole, req.ValidatorID, req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type verificationRequest struct {
	ChainID     uint64        `json:"chainId"`
	DataHash    common.Hash   `json:"dataHash"`
	ValidatorID string        `json:"validatorId"`
	Signature   hexutil.Bytes `json:"signature"`
}

func (s *Server) recordVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.backend.Ledger.RecordVerification(r.Context(), req.ChainID, req.DataHash, req.ValidatorID, req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID, err := strconv.ParseUint(vars["chain"], 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: chain id %q", core.ErrInvalidArgument, vars["chain"]))
		return
	}
	hash, err := parseHash(vars["hash"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.backend.Ledger.Get(chainID, hash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
