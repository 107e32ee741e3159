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

// Package config loads the trinityd configuration. Values are layered: the
// built-in defaults, then the TOML file, then TRINITY_* environment
// variables, then command line flags.
package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/chronosvault/trinity/storage"
	"github.com/chronosvault/trinity/swap"
	"github.com/ethereum/go-ethereum/common"
)

// Mode selects how strictly the node treats its environment.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development" // memory database and local TCB checks allowed
)

// Config is the complete node configuration
type Config struct {
	Node        NodeConfig
	Database    DatabaseConfig
	Attestation AttestationConfig
	Registry    RegistryConfig
	Consensus   ConsensusConfig
	Vault       VaultConfig
	Swap        SwapConfig
	API         APIConfig
	Log         LogConfig
	Genesis     GenesisConfig
}

// NodeConfig holds process wide settings
type NodeConfig struct {
	Mode    Mode
	DataDir string
}

// DatabaseConfig selects the storage engine
type DatabaseConfig struct {
	Engine  storage.Engine
	Path    string // defaults to <DataDir>/db
	Cache   int    // MB
	Handles int
}

// AttestationConfig holds the verification policy and the TCB authority
type AttestationConfig struct {
	Authority         string // local or vendor
	MinISVSVN         uint16
	MinGuestSVN       uint32
	MaxQuoteAge       time.Duration
	MaxClockSkew      time.Duration
	ValidityWindow    time.Duration
	AllowOutOfDateTCB bool
	AllowListFile     string // YAML measurement allow-list, watched for changes

	// Vendor authority only.
	IntelRootsFile string
	AMDRootsFile   string
	AMDProduct     string
	PCSURL         string
	KDSURL         string
	PCSAPIKey      string
	CacheDir       string // defaults to <DataDir>/collateral
	CacheTTL       time.Duration
	RateLimit      float64
	RateBurst      int
}

// RegistryConfig holds validator registry settings
type RegistryConfig struct {
	FleetSizePerRole int
}

// ConsensusConfig holds consensus engine settings
type ConsensusConfig struct {
	OperationTimeout time.Duration
	SweepInterval    time.Duration
}

// VaultConfig holds the initial vault signer set and the vaults known at
// genesis
type VaultConfig struct {
	Signers            []common.Address
	RequiredSignatures uint64
	TimeLocks          []VaultTimeLock
}

// VaultTimeLock registers one vault. A zero UnlockAt registers it unlocked.
type VaultTimeLock struct {
	VaultID  string
	UnlockAt time.Time
}

// SwapConfig holds HTLC settings
type SwapConfig struct {
	DefaultTimeLock time.Duration
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	ListenAddr      string
	CORSOrigins     []string
	RateLimit       float64 // requests per second per client
	RateBurst       int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig holds logging settings
type LogConfig struct {
	Verbosity  int // 0 crit .. 5 trace
	JSON       bool
	File       string // rotated with lumberjack when set
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// GenesisConfig lists the validators registered on first start
type GenesisConfig struct {
	Validators []GenesisValidator
}

// GenesisValidator is one bootstrap validator
type GenesisValidator struct {
	ID     string
	Wallet common.Address
	Role   core.ChainRole
	TEE    core.TEEType
	Active bool
}

// Default returns the default configuration: a development node on an
// in-memory database.
func Default() *Config {
	policy := attestation.DefaultConfig()
	consensus := trinity.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			Mode:    ModeDevelopment,
			DataDir: "trinity-data",
		},
		Database: DatabaseConfig{
			Engine:  storage.EngineMemory,
			Cache:   64,
			Handles: 64,
		},
		Attestation: AttestationConfig{
			Authority:      attestation.SourceLocal,
			MinISVSVN:      policy.MinISVSVN,
			MinGuestSVN:    policy.MinGuestSVN,
			MaxQuoteAge:    policy.MaxQuoteAge,
			MaxClockSkew:   policy.MaxClockSkew,
			ValidityWindow: policy.ValidityWindow,
			AMDProduct:     "Milan",
			PCSURL:         sgx.DefaultPCSURL,
			KDSURL:         sgx.DefaultKDSURL,
			CacheTTL:       time.Hour,
			RateLimit:      2,
			RateBurst:      4,
		},
		Registry: RegistryConfig{
			FleetSizePerRole: governance.DefaultRegistryConfig().FleetSizePerRole,
		},
		Consensus: ConsensusConfig{
			OperationTimeout: consensus.OperationTimeout,
			SweepInterval:    consensus.SweepInterval,
		},
		Swap: SwapConfig{
			DefaultTimeLock: swap.DefaultConfig().DefaultTimeLock,
		},
		API: APIConfig{
			ListenAddr:      "127.0.0.1:8645",
			CORSOrigins:     []string{"*"},
			RateLimit:       20,
			RateBurst:       40,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Verbosity:  3,
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the TOML file at path over the defaults and applies the
// environment overrides. An empty path loads the defaults only. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump writes cfg as TOML.
func Dump(cfg *Config, w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// StorageConfig returns the storage settings with the path resolved against
// the data directory.
func (c *Config) StorageConfig() *storage.Config {
	sc := storage.DefaultConfig()
	sc.Engine = c.Database.Engine
	sc.Path = c.Database.Path
	if sc.Path == "" && c.Database.Engine.Durable() {
		sc.Path = filepath.Join(c.Node.DataDir, "db")
	}
	if c.Database.Cache > 0 {
		sc.Cache = c.Database.Cache
	}
	if c.Database.Handles > 0 {
		sc.Handles = c.Database.Handles
	}
	return sc
}

// VerifierConfig returns the attestation verification policy.
func (c *Config) VerifierConfig() *attestation.Config {
	return &attestation.Config{
		MinISVSVN:         c.Attestation.MinISVSVN,
		MinGuestSVN:       c.Attestation.MinGuestSVN,
		MaxQuoteAge:       c.Attestation.MaxQuoteAge,
		MaxClockSkew:      c.Attestation.MaxClockSkew,
		ValidityWindow:    c.Attestation.ValidityWindow,
		AllowOutOfDateTCB: c.Attestation.AllowOutOfDateTCB,
	}
}

// FetcherConfig returns the vendor collateral endpoint settings.
func (c *Config) FetcherConfig() sgx.FetcherConfig {
	return sgx.FetcherConfig{
		PCSURL:     c.Attestation.PCSURL,
		KDSURL:     c.Attestation.KDSURL,
		APIKey:     c.Attestation.PCSAPIKey,
		MaxRetries: 3,
		RateLimit:  c.Attestation.RateLimit,
		RateBurst:  c.Attestation.RateBurst,
	}
}

// CollateralCacheDir returns the on-disk collateral cache directory.
func (c *Config) CollateralCacheDir() string {
	if c.Attestation.CacheDir != "" {
		return c.Attestation.CacheDir
	}
	return filepath.Join(c.Node.DataDir, "collateral")
}

// GovernanceConfig returns the validator registry settings.
func (c *Config) GovernanceConfig() *governance.RegistryConfig {
	return &governance.RegistryConfig{FleetSizePerRole: c.Registry.FleetSizePerRole}
}

// EngineConfig returns the consensus engine settings.
func (c *Config) EngineConfig() *trinity.Config {
	return &trinity.Config{
		OperationTimeout: c.Consensus.OperationTimeout,
		SweepInterval:    c.Consensus.SweepInterval,
	}
}

// HTLCConfig returns the swap manager settings.
func (c *Config) HTLCConfig() *swap.Config {
	return &swap.Config{DefaultTimeLock: c.Swap.DefaultTimeLock}
}
