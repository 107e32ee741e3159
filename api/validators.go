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
	"errors"
	"fmt"
	"net/http"

	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

type verifyRequest struct {
	TEEType   core.TEEType   `json:"teeType"`
	Evidence  hexutil.Bytes  `json:"evidence"`
	Validator common.Address `json:"validator"`
}

func (s *Server) verifyAttestation(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Evidence) == 0 || req.Validator == (common.Address{}) {
		writeError(w, r, fmt.Errorf("%w: evidence and validator are required", core.ErrInvalidArgument))
		return
	}
	var (
		res *attestation.Result
		err error
	)
	switch req.TEEType {
	case core.TEESGX:
		res, err = s.backend.Attestor.VerifySGXQuote(r.Context(), req.Evidence, req.Validator)
	case core.TEESEVSNP:
		res, err = s.backend.Attestor.VerifySEVReport(r.Context(), req.Evidence, req.Validator)
	default:
		err = fmt.Errorf("%w: teeType is required", core.ErrInvalidArgument)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerRequest struct {
	ID            string         `json:"id"`
	WalletAddress common.Address `json:"walletAddress"`
	ChainRole     core.ChainRole `json:"chainRole"`
	HardwareType  core.TEEType   `json:"hardwareType"`
	IsActive      bool           `json:"isActive"`
}

func (s *Server) registerValidator(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.backend.Validators.Register(r.Context(), &governance.Validator{
		ID:            req.ID,
		WalletAddress: req.WalletAddress,
		ChainRole:     req.ChainRole,
		HardwareType:  req.HardwareType,
		IsActive:      req.IsActive,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.backend.Validators.GetByID(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type validatorResponse struct {
	Validator        *governance.Validator `json:"validator"`
	Attestation      *attestation.Result   `json:"attestation,omitempty"`
	AttestationValid bool                  `json:"attestationValid"`
}

// getValidator looks a validator up by wallet address, or by ID when the path
// is not an address.
func (s *Server) getValidator(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["address"]
	var (
		v   *governance.Validator
		err error
	)
	if common.IsHexAddress(key) {
		v, err = s.backend.Validators.GetByWallet(common.HexToAddress(key))
	} else {
		v, err = s.backend.Validators.GetByID(key)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := &validatorResponse{
		Validator:        v,
		AttestationValid: s.backend.Validators.IsAttestationCurrentlyValid(v.WalletAddress),
	}
	res, err := s.backend.Validators.Attestation(v.WalletAddress)
	switch {
	case err == nil:
		resp.Attestation = res
	case !errors.Is(err, core.ErrNotFound):
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

var allValidatorStatuses = []governance.ValidatorStatus{
	governance.ValidatorDraft,
	governance.ValidatorSubmitted,
	governance.ValidatorAttesting,
	governance.ValidatorApproved,
	governance.ValidatorRejected,
}

func (s *Server) listValidators(w http.ResponseWriter, r *http.Request) {
	statuses := allValidatorStatuses
	if q := r.URL.Query().Get("status"); q != "" {
		status, err := governance.ParseValidatorStatus(q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		statuses = []governance.ValidatorStatus{status}
	}
	out := []*governance.Validator{}
	for _, status := range statuses {
		list, err := s.backend.Validators.ListByStatus(status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, list...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) validatorHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.backend.Validators.GetByID(id); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.backend.Validators.History(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) activateValidator(w http.ResponseWriter, r *http.Request) {
	s.updateValidator(w, r, func(id string) error {
		return s.backend.Validators.Activate(r.Context(), id)
	})
}

func (s *Server) deactivateValidator(w http.ResponseWriter, r *http.Request) {
	s.updateValidator(w, r, func(id string) error {
		return s.backend.Validators.Deactivate(r.Context(), id)
	})
}

type statusRequest struct {
	Status governance.ValidatorStatus `json:"status"`
}

func (s *Server) setValidatorStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s.updateValidator(w, r, func(id string) error {
		return s.backend.Validators.SetStatus(r.Context(), id, req.Status)
	})
}

func (s *Server) updateValidator(w http.ResponseWriter, r *http.Request, update func(id string) error) {
	id := mux.Vars(r)["id"]
	if err := update(id); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.backend.Validators.GetByID(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
