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

// Package core holds the vocabulary shared by every Trinity component: chain
// roles, TEE types and the error kinds with their retry classification.
package core

import (
	"fmt"
	"strings"
)

// ChainRole identifies one of the three chains a validator is assigned to.
type ChainRole uint8

const (
	RoleArbitrum ChainRole = 0x01 // chain A, primary
	RoleSolana   ChainRole = 0x02 // chain B, monitor
	RoleTON      ChainRole = 0x03 // chain C, backup
)

// AllRoles returns the three chain roles in canonical order.
func AllRoles() []ChainRole {
	return []ChainRole{RoleArbitrum, RoleSolana, RoleTON}
}

// Valid reports whether r is one of the three known roles.
func (r ChainRole) Valid() bool {
	return r >= RoleArbitrum && r <= RoleTON
}

func (r ChainRole) String() string {
	switch r {
	case RoleArbitrum:
		return "arbitrum"
	case RoleSolana:
		return "solana"
	case RoleTON:
		return "ton"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r ChainRole) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unknown chain role %d", ErrInvalidArgument, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ChainRole) UnmarshalText(text []byte) error {
	role, err := ParseChainRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseChainRole accepts the role name or its chain letter (a, b, c).
func ParseChainRole(s string) (ChainRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arbitrum", "a", "chaina":
		return RoleArbitrum, nil
	case "solana", "b", "chainb":
		return RoleSolana, nil
	case "ton", "c", "chainc":
		return RoleTON, nil
	}
	return 0, fmt.Errorf("%w: unknown chain role %q", ErrInvalidArgument, s)
}

// TEEType is the hardware trusted execution environment backing a validator.
type TEEType uint8

const (
	TEESGX    TEEType = 0x01 // Intel SGX (DCAP quote)
	TEESEVSNP TEEType = 0x02 // AMD SEV-SNP (attestation report)
)

func (t TEEType) String() string {
	switch t {
	case TEESGX:
		return "SGX"
	case TEESEVSNP:
		return "SEV_SNP"
	default:
		return fmt.Sprintf("tee(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t TEEType) MarshalText() ([]byte, error) {
	if t != TEESGX && t != TEESEVSNP {
		return nil, fmt.Errorf("%w: unknown TEE type %d", ErrInvalidArgument, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TEEType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.ReplaceAll(string(text), "-", "_")) {
	case "SGX":
		*t = TEESGX
	case "SEV_SNP", "SEV", "SEVSNP":
		*t = TEESEVSNP
	default:
		return fmt.Errorf("%w: unknown TEE type %q", ErrInvalidArgument, text)
	}
	return nil
}
