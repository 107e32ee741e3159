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

// Package swap implements the hash time-locked contract state machine that
// settles cross-chain transfers: a locked swap is either claimed with the
// preimage before its time lock or refunded after it.
package swap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Status is the state of a swap
type Status uint8

const (
	StatusLocked   Status = 0x01 // 已锁定
	StatusClaimed  Status = 0x02 // 已领取
	StatusRefunded Status = 0x03 // 已退款
	StatusExpired  Status = 0x04 // 已过期（仅查询时报告，未退款）
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	case StatusExpired:
		return "expired"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, status := range []Status{StatusLocked, StatusClaimed, StatusRefunded, StatusExpired} {
		if strings.EqualFold(status.String(), string(text)) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: unknown swap status %q", core.ErrInvalidArgument, text)
}

// Swap is one hash time-locked transfer
type Swap struct {
	ID            common.Hash    `json:"swapId"`
	HashLock      common.Hash    `json:"hashLock"` // sha256 of the preimage
	TimeLock      time.Time      `json:"timeLock"`
	Amount        *uint256.Int   `json:"amount"`
	SenderChain   uint64         `json:"senderChain"`
	ReceiverChain uint64         `json:"receiverChain"`
	Sender        common.Address `json:"sender"`
	Recipient     common.Address `json:"recipient"`
	Status        Status         `json:"status"`
	Preimage      hexutil.Bytes  `json:"preimage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	SettledAt     time.Time      `json:"settledAt,omitempty"`
}

// CrossChain reports whether the swap moves value between two chains, in
// which case claims need the ledger to have verified the sender leg.
func (s *Swap) CrossChain() bool {
	return s.SenderChain != s.ReceiverChain
}

// DataHash identifies the swap's sender leg on the verification ledger.
// Validators record it under the sender chain once the funds are locked
// there.
func (s *Swap) DataHash() common.Hash {
	var buf bytes.Buffer
	buf.WriteString("trinity-htlc")
	buf.Write(s.ID.Bytes())
	buf.Write(s.HashLock.Bytes())
	amount := s.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}
	word := amount.Bytes32()
	buf.Write(word[:])
	buf.Write(binary.BigEndian.AppendUint64(nil, s.SenderChain))
	buf.Write(binary.BigEndian.AppendUint64(nil, s.ReceiverChain))
	buf.Write(s.Sender.Bytes())
	buf.Write(s.Recipient.Bytes())
	buf.Write(binary.BigEndian.AppendUint64(nil, uint64(s.TimeLock.UnixMilli())))
	return crypto.Keccak256Hash(buf.Bytes())
}

// LockParams are the caller supplied fields of a new swap
type LockParams struct {
	HashLock      common.Hash
	TimeLock      time.Time // zero means now plus the configured default
	Amount        *uint256.Int
	SenderChain   uint64
	ReceiverChain uint64
	Sender        common.Address
	Recipient     common.Address
}

// Config holds the swap settings
type Config struct {
	DefaultTimeLock time.Duration // 默认锁定期
}

// DefaultConfig returns the default swap configuration
func DefaultConfig() *Config {
	return &Config{DefaultTimeLock: 24 * time.Hour}
}

// VerificationReader tells whether a cross-chain fact has reached quorum.
type VerificationReader interface {
	IsVerified(chainID uint64, dataHash common.Hash) bool
}
