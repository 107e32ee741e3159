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

// Package genesis applies the bootstrap state of a fresh node: the initial
// validators, the vault signer set and the known vaults with their time
// locks. It runs once per database.
package genesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/internal/config"
	"github.com/chronosvault/trinity/storage"
	"github.com/chronosvault/trinity/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// Validator is a bootstrap validator
type Validator struct {
	ID     string
	Wallet common.Address
	Role   core.ChainRole
	TEE    core.TEEType
	Active bool
}

// TimeLock is a vault known at genesis
type TimeLock struct {
	VaultID  string
	UnlockMs uint64 // unix milliseconds, 0 for an unlocked vault
}

// Genesis holds the network bootstrap state
type Genesis struct {
	Validators         []Validator
	Signers            []common.Address // initial vault signers
	RequiredSignatures uint64
	TimeLocks          []TimeLock
}

// FromConfig extracts the bootstrap state from the node configuration.
func FromConfig(cfg *config.Config) *Genesis {
	g := &Genesis{
		Signers:            append([]common.Address(nil), cfg.Vault.Signers...),
		RequiredSignatures: cfg.Vault.RequiredSignatures,
	}
	for _, tl := range cfg.Vault.TimeLocks {
		g.TimeLocks = append(g.TimeLocks, TimeLock{VaultID: tl.VaultID, UnlockMs: storage.TimeToMillis(tl.UnlockAt)})
	}
	for _, v := range cfg.Genesis.Validators {
		g.Validators = append(g.Validators, Validator{
			ID:     v.ID,
			Wallet: v.Wallet,
			Role:   v.Role,
			TEE:    v.TEE,
			Active: v.Active,
		})
	}
	return g
}

// Hash identifies the bootstrap state, so a changed config can be detected
// after the first start.
func (g *Genesis) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(g)
	if err != nil {
		panic(fmt.Sprintf("genesis: rlp encode: %v", err))
	}
	return crypto.Keccak256Hash(enc)
}

type markerData struct {
	Hash      common.Hash
	AppliedMs uint64
}

// Registrar is the part of the validator registry the bootstrap uses.
type Registrar interface {
	Register(ctx context.Context, v *governance.Validator) error
}

// VaultInitializer is the part of the vault workflow the bootstrap uses.
type VaultInitializer interface {
	InitSigners(signers []common.Address, threshold uint64) error
	RegisterVault(ctx context.Context, vaultID string, unlockAt time.Time) error
}

// Apply writes the bootstrap state unless the database already carries it.
// It reports whether anything was applied. A partially applied genesis from
// an interrupted start is completed: existing validators, signer sets and
// vaults are kept as they are.
func Apply(ctx context.Context, db storage.Database, g *Genesis, registry Registrar, vaults VaultInitializer, now time.Time) (bool, error) {
	logger := log.New("module", "genesis")

	var marker markerData
	found, err := storage.ReadRLP(db, storage.GenesisKey(), &marker)
	if err != nil {
		return false, err
	}
	hash := g.Hash()
	if found {
		if marker.Hash != hash {
			logger.Warn("Genesis config differs from the applied genesis, ignoring", "applied", marker.Hash, "config", hash)
		}
		return false, nil
	}

	for _, v := range g.Validators {
		err := registry.Register(ctx, &governance.Validator{
			ID:            v.ID,
			WalletAddress: v.Wallet,
			ChainRole:     v.Role,
			HardwareType:  v.TEE,
			Status:        governance.ValidatorSubmitted,
			IsActive:      v.Active,
		})
		switch {
		case errors.Is(err, governance.ErrValidatorExists):
			logger.Debug("Genesis validator already registered", "id", v.ID)
		case err != nil:
			return false, fmt.Errorf("genesis validator %s: %w", v.ID, err)
		}
	}
	if len(g.Signers) > 0 {
		err := vaults.InitSigners(g.Signers, g.RequiredSignatures)
		switch {
		case errors.Is(err, vault.ErrSignersAlreadySet):
			logger.Debug("Vault signer set already initialized")
		case err != nil:
			return false, fmt.Errorf("genesis vault signers: %w", err)
		}
	}
	for _, tl := range g.TimeLocks {
		err := vaults.RegisterVault(ctx, tl.VaultID, storage.MillisToTime(tl.UnlockMs))
		switch {
		case errors.Is(err, vault.ErrVaultExists):
			logger.Debug("Genesis vault already registered", "vault", tl.VaultID)
		case err != nil:
			return false, fmt.Errorf("genesis vault %s: %w", tl.VaultID, err)
		}
	}

	if err := storage.WriteRLP(db, storage.GenesisKey(), &markerData{Hash: hash, AppliedMs: storage.TimeToMillis(now)}); err != nil {
		return false, err
	}
	logger.Info("Genesis applied", "hash", hash, "validators", len(g.Validators), "signers", len(g.Signers), "threshold", g.RequiredSignatures, "vaults", len(g.TimeLocks))
	return true, nil
}
