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
	"context"

	"github.com/chronosvault/trinity/attestation"
	"github.com/ethereum/go-ethereum/common"
)

// ValidatorRegistry is the read side of the registry that the consensus
// engine and the verification ledger depend on.
type ValidatorRegistry interface {
	// GetByID returns the validator with the given ID
	GetByID(id string) (*Validator, error)

	// GetByWallet returns the validator bound to a wallet address
	GetByWallet(addr common.Address) (*Validator, error)

	// IsAttestationCurrentlyValid reports whether the wallet holds a
	// successful attestation that has not expired
	IsAttestationCurrentlyValid(addr common.Address) bool
}

// ValidatorManager is the full registry surface exposed to operators.
type ValidatorManager interface {
	ValidatorRegistry
	attestation.ResultRecorder

	// Register adds a new validator
	Register(ctx context.Context, v *Validator) error

	// ListByStatus returns validators in the given status, ordered by ID
	ListByStatus(status ValidatorStatus) ([]*Validator, error)

	// Activate lets a validator participate in consensus
	Activate(ctx context.Context, id string) error

	// Deactivate removes a validator from consensus without deleting it
	Deactivate(ctx context.Context, id string) error

	// SetStatus performs an operator status transition
	SetStatus(ctx context.Context, id string, status ValidatorStatus) error

	// History returns the validator's audit log, oldest first
	History(id string) ([]*HistoryEvent, error)

	// Attestation returns the latest attestation result for a wallet
	Attestation(addr common.Address) (*attestation.Result, error)
}

// MeasurementAllowList is the operator-maintained enclave allow-list.
type MeasurementAllowList interface {
	attestation.MeasurementPolicy

	// IsAllowed checks a single measurement
	IsAllowed(kind MeasurementKind, value []byte) bool

	// GetEntry returns the entry for a measurement
	GetEntry(kind MeasurementKind, value []byte) (*MeasurementEntry, error)

	// Entries returns all entries
	Entries() []*MeasurementEntry

	// AddEntry adds or replaces an entry
	AddEntry(entry *MeasurementEntry) error

	// RemoveEntry deprecates an entry
	RemoveEntry(kind MeasurementKind, value []byte) error
}
