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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidConfig is returned for unusable configurations.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the configuration for combinations the node refuses to
// run with. Production nodes must persist their state and must check TCB
// levels against the vendors.
func (c *Config) Validate() error {
	switch c.Node.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Node.Mode)
	}
	switch c.Database.Engine {
	case storage.EngineMemory, storage.EngineLevelDB, storage.EnginePebble:
	default:
		return fmt.Errorf("%w: unknown database engine %q", ErrInvalidConfig, c.Database.Engine)
	}
	switch c.Attestation.Authority {
	case attestation.SourceLocal:
	case attestation.SourceVendor:
		if c.Attestation.IntelRootsFile == "" && c.Attestation.AMDRootsFile == "" {
			return fmt.Errorf("%w: vendor authority needs IntelRootsFile or AMDRootsFile", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown TCB authority %q", ErrInvalidConfig, c.Attestation.Authority)
	}

	if c.Node.Mode == ModeProduction {
		if !c.Database.Engine.Durable() {
			return fmt.Errorf(
				"%w: production mode needs a durable database, got %s",
				ErrInvalidConfig, c.Database.Engine,
			)
		}
		if c.Attestation.Authority == attestation.SourceLocal {
			return fmt.Errorf(
				"%w: production mode cannot use the local TCB authority",
				ErrInvalidConfig,
			)
		}
	}

	windows := []struct {
		name  string
		value int64
	}{
		{"Attestation.MaxQuoteAge", int64(c.Attestation.MaxQuoteAge)},
		{"Attestation.ValidityWindow", int64(c.Attestation.ValidityWindow)},
		{"Consensus.OperationTimeout", int64(c.Consensus.OperationTimeout)},
		{"Consensus.SweepInterval", int64(c.Consensus.SweepInterval)},
		{"Swap.DefaultTimeLock", int64(c.Swap.DefaultTimeLock)},
	}
	for _, w := range windows {
		if w.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, w.name)
		}
	}
	if c.Attestation.MaxClockSkew < 0 {
		return fmt.Errorf("%w: Attestation.MaxClockSkew must not be negative", ErrInvalidConfig)
	}
	if c.Registry.FleetSizePerRole < 1 {
		return fmt.Errorf("%w: Registry.FleetSizePerRole must be at least 1", ErrInvalidConfig)
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("%w: API.ListenAddr is empty", ErrInvalidConfig)
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst < 1 {
		return fmt.Errorf("%w: API rate limit must be positive", ErrInvalidConfig)
	}
	if err := c.validateVault(); err != nil {
		return err
	}
	return c.validateGenesis()
}

func (c *Config) validateVault() error {
	signers := c.Vault.Signers
	if c.Vault.RequiredSignatures > uint64(len(signers)) {
		return fmt.Errorf(
			"%w: Vault.RequiredSignatures %d exceeds %d signers",
			ErrInvalidConfig, c.Vault.RequiredSignatures, len(signers),
		)
	}
	if len(signers) > 0 && c.Vault.RequiredSignatures == 0 {
		return fmt.Errorf("%w: Vault.RequiredSignatures must be at least 1", ErrInvalidConfig)
	}
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	for _, s := range signers {
		if s == (common.Address{}) {
			return fmt.Errorf("%w: zero vault signer", ErrInvalidConfig)
		}
		if !seen.Add(s) {
			return fmt.Errorf("%w: duplicate vault signer %s", ErrInvalidConfig, s.Hex())
		}
	}
	vaults := mapset.NewThreadUnsafeSet[string]()
	for i, tl := range c.Vault.TimeLocks {
		if tl.VaultID == "" {
			return fmt.Errorf("%w: Vault.TimeLocks[%d] has no VaultID", ErrInvalidConfig, i)
		}
		if !vaults.Add(tl.VaultID) {
			return fmt.Errorf("%w: duplicate vault time lock %q", ErrInvalidConfig, tl.VaultID)
		}
	}
	return nil
}

func (c *Config) validateGenesis() error {
	ids := mapset.NewThreadUnsafeSet[string]()
	wallets := mapset.NewThreadUnsafeSet[common.Address]()
	for i, v := range c.Genesis.Validators {
		if v.ID == "" || v.Wallet == (common.Address{}) || !v.Role.Valid() || v.TEE == 0 {
			return fmt.Errorf("%w: genesis validator %d is incomplete", ErrInvalidConfig, i)
		}
		if !ids.Add(v.ID) {
			return fmt.Errorf("%w: duplicate genesis validator id %s", ErrInvalidConfig, v.ID)
		}
		if !wallets.Add(v.Wallet) {
			return fmt.Errorf("%w: duplicate genesis wallet %s", ErrInvalidConfig, v.Wallet.Hex())
		}
	}
	return nil
}

// applyEnv overrides file values with TRINITY_* environment variables.
func (c *Config) applyEnv() error {
	c.Node.Mode = Mode(getEnvOrDefault("TRINITY_MODE", string(c.Node.Mode)))
	c.Node.DataDir = getEnvOrDefault("TRINITY_DATADIR", c.Node.DataDir)
	c.Database.Engine = storage.Engine(getEnvOrDefault("TRINITY_DB_ENGINE", string(c.Database.Engine)))
	c.Database.Path = getEnvOrDefault("TRINITY_DB_PATH", c.Database.Path)
	c.Attestation.Authority = getEnvOrDefault("TRINITY_TCB_AUTHORITY", c.Attestation.Authority)
	c.Attestation.AllowListFile = getEnvOrDefault("TRINITY_ALLOWLIST", c.Attestation.AllowListFile)
	c.Attestation.PCSAPIKey = getEnvOrDefault("TRINITY_PCS_API_KEY", c.Attestation.PCSAPIKey)
	c.API.ListenAddr = getEnvOrDefault("TRINITY_HTTP_ADDR", c.API.ListenAddr)
	c.Log.File = getEnvOrDefault("TRINITY_LOG_FILE", c.Log.File)

	if v := os.Getenv("TRINITY_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TRINITY_VERBOSITY=%q", ErrInvalidConfig, v)
		}
		c.Log.Verbosity = n
	}
	return nil
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
