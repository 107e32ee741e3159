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

// Package vault implements the multi-signature workflow that guards
// privileged vault actions: propose, approve, then execute or cancel, gated
// by the signer threshold, vault time locks and consensus confirmation.
package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Action is the privileged operation a proposal performs
type Action uint8

const (
	ActionRelease       Action = 0x01 // 资金释放
	ActionRecovery      Action = 0x02 // 紧急恢复
	ActionRotateSigners Action = 0x03 // 更换签名者集合
	ActionCustom        Action = 0x04 // 由执行器解释的自定义操作
	ActionSetTimeLock   Action = 0x05 // 登记金库或延长时间锁
)

var actionNames = map[Action]string{
	ActionRelease:       "release",
	ActionRecovery:      "recovery",
	ActionRotateSigners: "rotate_signers",
	ActionCustom:        "custom",
	ActionSetTimeLock:   "set_time_lock",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	for action, name := range actionNames {
		if strings.EqualFold(name, string(text)) {
			*a = action
			return nil
		}
	}
	return fmt.Errorf("%w: unknown action %q", core.ErrInvalidArgument, text)
}

// Payload describes what an executed proposal does
type Payload struct {
	Action      Action        `json:"action"`
	VaultID     string        `json:"vaultId,omitempty"`     // required for release, recovery and time locks
	OperationID common.Hash   `json:"operationId,omitempty"` // consensus operation that must be confirmed
	Args        hexutil.Bytes `json:"args,omitempty"`

	// Time lock changes only.
	UnlockAt time.Time `json:"unlockAt,omitempty"`

	// Signer rotation only.
	NewSigners   []common.Address `json:"newSigners,omitempty"`
	NewThreshold uint64           `json:"newThreshold,omitempty"`
}

// ProposalStatus is the state of a multisig proposal
type ProposalStatus uint8

const (
	StatusProposed  ProposalStatus = 0x01 // 待执行
	StatusExecuted  ProposalStatus = 0x02 // 已执行
	StatusCancelled ProposalStatus = 0x03 // 已取消
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ProposalStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProposalStatus) UnmarshalText(text []byte) error {
	for _, status := range []ProposalStatus{StatusProposed, StatusExecuted, StatusCancelled} {
		if strings.EqualFold(status.String(), string(text)) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: unknown proposal status %q", core.ErrInvalidArgument, text)
}

// Proposal is a pending or settled vault transaction
type Proposal struct {
	ID                 common.Hash      `json:"txId"`
	Payload            Payload          `json:"payload"`
	Proposer           common.Address   `json:"proposer"`
	Approvals          []common.Address `json:"approvals"`
	RequiredSignatures uint64           `json:"requiredSignatures"` // threshold when proposed
	Status             ProposalStatus   `json:"status"`
	CreatedAt          time.Time        `json:"createdAt"`
	SettledAt          time.Time        `json:"settledAt,omitempty"`
	SettledBy          common.Address   `json:"settledBy,omitempty"` // canceller, zero for executions
}

// IsExecuted reports whether the proposal ran.
func (p *Proposal) IsExecuted() bool { return p.Status == StatusExecuted }

// IsCancelled reports whether the proposal was cancelled.
func (p *Proposal) IsCancelled() bool { return p.Status == StatusCancelled }

// SignerSet is the current authorized signers and threshold.
type SignerSet struct {
	Signers            []common.Address `json:"signers"`
	RequiredSignatures uint64           `json:"requiredSignatures"`
	Version            uint64           `json:"version"` // bumped on every rotation
}

// Contains reports whether addr is an authorized signer.
func (s *SignerSet) Contains(addr common.Address) bool {
	for _, signer := range s.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// Executor performs the effect of an executed proposal. It is called at most
// once per proposal; an error leaves the proposal executable.
type Executor interface {
	ExecuteProposal(ctx context.Context, p *Proposal) error
}

// OperationReader exposes consensus operation status.
type OperationReader interface {
	GetOperationStatus(opID common.Hash) (*trinity.Operation, error)
}
