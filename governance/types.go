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

package governance

import (
	"fmt"
	"strings"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
)

// EntryStatus represents the status of an allow-list entry
type EntryStatus uint8

const (
	StatusPending    EntryStatus = 0x00 // 待审批
	StatusApproved   EntryStatus = 0x01 // 已批准
	StatusActive     EntryStatus = 0x02 // 已激活
	StatusDeprecated EntryStatus = 0x03 // 已弃用
	StatusRejected   EntryStatus = 0x04 // 已拒绝
)

var entryStatusNames = map[EntryStatus]string{
	StatusPending:    "pending",
	StatusApproved:   "approved",
	StatusActive:     "active",
	StatusDeprecated: "deprecated",
	StatusRejected:   "rejected",
}

func (s EntryStatus) String() string {
	if name, ok := entryStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Allowed reports whether entries with this status pass the allow-list.
func (s EntryStatus) Allowed() bool {
	return s == StatusApproved || s == StatusActive
}

// MarshalText implements encoding.TextMarshaler.
func (s EntryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EntryStatus) UnmarshalText(text []byte) error {
	for status, name := range entryStatusNames {
		if strings.EqualFold(name, string(text)) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: unknown entry status %q", core.ErrInvalidArgument, text)
}

// MeasurementKind identifies what an allow-list entry measures.
type MeasurementKind uint8

const (
	KindMREnclave      MeasurementKind = 0x01 // SGX enclave code, 32 bytes
	KindMRSigner       MeasurementKind = 0x02 // SGX enclave signer, 32 bytes
	KindSEVMeasurement MeasurementKind = 0x03 // SEV-SNP launch digest, 48 bytes
)

// Size returns the byte length of values of this kind.
func (k MeasurementKind) Size() int {
	switch k {
	case KindMREnclave, KindMRSigner:
		return 32
	case KindSEVMeasurement:
		return 48
	}
	return 0
}

func (k MeasurementKind) String() string {
	switch k {
	case KindMREnclave:
		return "mrenclave"
	case KindMRSigner:
		return "mrsigner"
	case KindSEVMeasurement:
		return "sev_measurement"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MeasurementEntry represents an allow-list entry
type MeasurementEntry struct {
	Kind    MeasurementKind // 度量类型
	Value   []byte          // 度量值
	Version string          // 版本号
	Status  EntryStatus     // 状态
	AddedAt time.Time       // 添加时间
}

// ValidatorStatus is the lifecycle state of a validator.
type ValidatorStatus uint8

const (
	ValidatorDraft     ValidatorStatus = 0x01 // 草稿
	ValidatorSubmitted ValidatorStatus = 0x02 // 已提交
	ValidatorAttesting ValidatorStatus = 0x03 // 认证中
	ValidatorApproved  ValidatorStatus = 0x04 // 已批准
	ValidatorRejected  ValidatorStatus = 0x05 // 已拒绝
)

var validatorStatusNames = map[ValidatorStatus]string{
	ValidatorDraft:     "draft",
	ValidatorSubmitted: "submitted",
	ValidatorAttesting: "attesting",
	ValidatorApproved:  "approved",
	ValidatorRejected:  "rejected",
}

// legalTransitions lists the operator-driven status changes. Attestation
// outcomes move validators to approved or rejected directly.
var legalTransitions = map[ValidatorStatus][]ValidatorStatus{
	ValidatorDraft:     {ValidatorSubmitted},
	ValidatorSubmitted: {ValidatorAttesting, ValidatorRejected},
	ValidatorAttesting: {ValidatorApproved, ValidatorRejected},
	ValidatorApproved:  {ValidatorAttesting, ValidatorRejected},
	ValidatorRejected:  {ValidatorSubmitted, ValidatorAttesting},
}

// CanTransition reports whether an operator may move a validator from s to next.
func (s ValidatorStatus) CanTransition(next ValidatorStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ValidatorStatus) String() string {
	if name, ok := validatorStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ValidatorStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ValidatorStatus) UnmarshalText(text []byte) error {
	status, err := ParseValidatorStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseValidatorStatus parses a status name.
func ParseValidatorStatus(name string) (ValidatorStatus, error) {
	for status, n := range validatorStatusNames {
		if strings.EqualFold(n, name) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown validator status %q", core.ErrInvalidArgument, name)
}

// Validator represents a registered Trinity validator
type Validator struct {
	ID            string          `json:"id"`
	WalletAddress common.Address  `json:"walletAddress"`
	ChainRole     core.ChainRole  `json:"chainRole"`
	HardwareType  core.TEEType    `json:"hardwareType"`
	Status        ValidatorStatus `json:"status"`
	IsActive      bool            `json:"isActive"`
	RegisteredAt  time.Time       `json:"registeredAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// EventKind classifies validator history entries.
type EventKind uint8

const (
	EventRegistered        EventKind = 0x01
	EventStatusChanged     EventKind = 0x02
	EventActivated         EventKind = 0x03
	EventDeactivated       EventKind = 0x04
	EventAttested          EventKind = 0x05
	EventAttestationFailed EventKind = 0x06
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventStatusChanged:
		return "status_changed"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	case EventAttested:
		return "attested"
	case EventAttestationFailed:
		return "attestation_failed"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HistoryEvent is one entry of a validator's append-only audit log.
type HistoryEvent struct {
	Seq      uint64          `json:"seq"`
	Kind     EventKind       `json:"kind"`
	At       time.Time       `json:"at"`
	Status   ValidatorStatus `json:"status"`
	IsActive bool            `json:"isActive"`
	Proof    common.Hash     `json:"proof,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// RegistryConfig holds the configuration for the validator registry
type RegistryConfig struct {
	FleetSizePerRole int // 每个链角色的最大活跃验证者数
}

// DefaultRegistryConfig returns the default registry configuration
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		FleetSizePerRole: 1,
	}
}
