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

// Package trinity implements the 2-of-3 multi-chain consensus: the vote
// engine that confirms operations and the cross-chain verification ledger.
// Both count only validators that hold a currently valid hardware
// attestation.
package trinity

import (
	"fmt"
	"strings"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OperationStatus is the lifecycle state of a consensus operation.
type OperationStatus uint8

const (
	OperationPending   OperationStatus = 0x01
	OperationConfirmed OperationStatus = 0x02
	OperationFailed    OperationStatus = 0x03
)

func (s OperationStatus) String() string {
	switch s {
	case OperationPending:
		return "pending"
	case OperationConfirmed:
		return "confirmed"
	case OperationFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s OperationStatus) Terminal() bool {
	return s == OperationConfirmed || s == OperationFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OperationStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "pending":
		*s = OperationPending
	case "confirmed":
		*s = OperationConfirmed
	case "failed":
		*s = OperationFailed
	default:
		return fmt.Errorf("%w: unknown operation status %q", core.ErrInvalidArgument, text)
	}
	return nil
}

// Vote is one chain role's approval of an operation.
type Vote struct {
	Role        core.ChainRole `json:"role"`
	ValidatorID string         `json:"validatorId"`
	Wallet      common.Address `json:"wallet"`
	Signature   hexutil.Bytes  `json:"signature"`
	CastAt      time.Time      `json:"castAt"`
}

// Operation is a request awaiting agreement from the chain roles.
type Operation struct {
	ID            common.Hash              `json:"id"`
	RequiredRoles []core.ChainRole         `json:"requiredRoles"`
	Votes         map[core.ChainRole]*Vote `json:"votes"`
	Status        OperationStatus          `json:"status"`
	CreatedAt     time.Time                `json:"createdAt"`
	Deadline      time.Time                `json:"deadline"`
	ConfirmedAt   time.Time                `json:"confirmedAt,omitempty"`
}

// VoteOutcome says what happened to a submitted vote.
type VoteOutcome uint8

const (
	VoteCounted   VoteOutcome = iota + 1 // recorded and counted toward quorum
	VoteDuplicate                        // role already holds a live vote, ignored
	VoteLate                             // recorded after confirmation, no effect
)

func (o VoteOutcome) String() string {
	switch o {
	case VoteCounted:
		return "counted"
	case VoteDuplicate:
		return "duplicate"
	case VoteLate:
		return "late"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o VoteOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// VoteReceipt is returned for every accepted vote submission.
type VoteReceipt struct {
	OperationID common.Hash      `json:"operationId"`
	Role        core.ChainRole   `json:"role"`
	Outcome     VoteOutcome      `json:"outcome"`
	Status      OperationStatus  `json:"status"`
	Roles       []core.ChainRole `json:"roles"` // roles holding a vote after this submission
}

// ConfirmedEvent is posted once when an operation reaches quorum.
type ConfirmedEvent struct {
	OperationID common.Hash
	Roles       []core.ChainRole
	ConfirmedAt time.Time
}

// Signer is one validator's signature on a ledger record.
type Signer struct {
	ValidatorID string         `json:"validatorId"`
	Wallet      common.Address `json:"wallet"`
	Role        core.ChainRole `json:"role"`
	Signature   hexutil.Bytes  `json:"signature"`
	SignedAt    time.Time      `json:"signedAt"`
}

// VerificationRecord is the ledger entry for one cross-chain fact.
type VerificationRecord struct {
	ChainID    uint64      `json:"chainId"`
	DataHash   common.Hash `json:"dataHash"`
	Signers    []*Signer   `json:"signers"`
	IsVerified bool        `json:"isVerified"`
	CreatedAt  time.Time   `json:"createdAt"`
	VerifiedAt time.Time   `json:"verifiedAt,omitempty"`
}
