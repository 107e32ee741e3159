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

package attestation

import (
	"errors"
	"fmt"
	"time"
)

// Original deployment constants.
const (
	DefaultValidityWindow = 24 * time.Hour
	DefaultMaxQuoteAge    = 10 * time.Minute
	DefaultMaxClockSkew   = 30 * time.Second
	DefaultMinISVSVN      = 1
	DefaultMinGuestSVN    = 1
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid attestation config")

// Config holds the verification policy.
type Config struct {
	MinISVSVN         uint16        // SGX enclave security version floor
	MinGuestSVN       uint32        // SEV-SNP guest security version floor
	MaxQuoteAge       time.Duration // oldest acceptable evidence
	MaxClockSkew      time.Duration // tolerated future timestamps
	ValidityWindow    time.Duration // lifetime of a successful result
	AllowOutOfDateTCB bool
}

// DefaultConfig returns the default verification policy.
func DefaultConfig() *Config {
	return &Config{
		MinISVSVN:      DefaultMinISVSVN,
		MinGuestSVN:    DefaultMinGuestSVN,
		MaxQuoteAge:    DefaultMaxQuoteAge,
		MaxClockSkew:   DefaultMaxClockSkew,
		ValidityWindow: DefaultValidityWindow,
	}
}

// Validate checks the policy for nonsensical windows.
func (c *Config) Validate() error {
	if c.MaxQuoteAge <= 0 {
		return fmt.Errorf("%w: max quote age must be positive", ErrInvalidConfig)
	}
	if c.ValidityWindow <= 0 {
		return fmt.Errorf("%w: validity window must be positive", ErrInvalidConfig)
	}
	if c.MaxClockSkew < 0 {
		return fmt.Errorf("%w: clock skew must not be negative", ErrInvalidConfig)
	}
	return nil
}
