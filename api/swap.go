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
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/swap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
)

// swapJSON renders amounts as decimal strings.
type swapJSON struct {
	ID            common.Hash    `json:"swapId"`
	HashLock      common.Hash    `json:"hashLock"`
	TimeLock      time.Time      `json:"timeLock"`
	Amount        string         `json:"amount"`
	SenderChain   uint64         `json:"senderChain"`
	ReceiverChain uint64         `json:"receiverChain"`
	Sender        common.Address `json:"sender"`
	Recipient     common.Address `json:"recipient"`
	Status        swap.Status    `json:"status"`
	Preimage      hexutil.Bytes  `json:"preimage,omitempty"`
	DataHash      common.Hash    `json:"dataHash"` // ledger key of the sender leg
	CreatedAt     time.Time      `json:"createdAt"`
	SettledAt     *time.Time     `json:"settledAt,omitempty"`
}

func newSwapJSON(s *swap.Swap) *swapJSON {
	out := &swapJSON{
		ID:            s.ID,
		HashLock:      s.HashLock,
		TimeLock:      s.TimeLock,
		Amount:        s.Amount.Dec(),
		SenderChain:   s.SenderChain,
		ReceiverChain: s.ReceiverChain,
		Sender:        s.Sender,
		Recipient:     s.Recipient,
		Status:        s.Status,
		Preimage:      s.Preimage,
		DataHash:      s.DataHash(),
		CreatedAt:     s.CreatedAt,
	}
	if !s.SettledAt.IsZero() {
		settled := s.SettledAt
		out.SettledAt = &settled
	}
	return out
}

type lockRequest struct {
	HashLock      common.Hash    `json:"hashLock"`
	TimeLock      *time.Time     `json:"timeLock,omitempty"` // default lock period when omitted
	Amount        string         `json:"amount"`
	SenderChain   uint64         `json:"senderChain"`
	ReceiverChain uint64         `json:"receiverChain"`
	Sender        common.Address `json:"sender"`
	Recipient     common.Address `json:"recipient"`
}

func (s *Server) lockSwap(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: amount %q: %v", core.ErrInvalidArgument, req.Amount, err))
		return
	}
	params := swap.LockParams{
		HashLock:      req.HashLock,
		Amount:        amount,
		SenderChain:   req.SenderChain,
		ReceiverChain: req.ReceiverChain,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
	}
	if req.TimeLock != nil {
		params.TimeLock = *req.TimeLock
	}
	sw, err := s.backend.Swaps.Lock(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSwapJSON(sw))
}

type claimRequest struct {
	SwapID   common.Hash   `json:"swapId"`
	Preimage hexutil.Bytes `json:"preimage"`
}

func (s *Server) claimSwap(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sw, err := s.backend.Swaps.Claim(r.Context(), req.SwapID, req.Preimage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapJSON(sw))
}

type refundRequest struct {
	SwapID common.Hash `json:"swapId"`
}

func (s *Server) refundSwap(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sw, err := s.backend.Swaps.Refund(r.Context(), req.SwapID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapJSON(sw))
}

func (s *Server) getSwap(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	sw, err := s.backend.Swaps.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapJSON(sw))
}
