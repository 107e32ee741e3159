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

// Package attestation verifies Intel SGX DCAP quotes and AMD SEV-SNP reports
// against the node's measurement policy, binds them to a validator wallet
// and hands the outcome to the validator registry.
package attestation

import (
	"context"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Result is the outcome of one verification. Anything but Success=true is a
// rejection.
type Result struct {
	Success           bool           `json:"success"`
	TEEType           core.TEEType   `json:"teeType"`
	Measurement       hexutil.Bytes  `json:"measurement"`
	Timestamp         time.Time      `json:"timestamp"` // generation time carried in the report data
	ValidatorBinding  common.Address `json:"validatorBinding"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	VerificationProof common.Hash    `json:"verificationProof"`
	QuoteHash         common.Hash    `json:"quoteHash"`
	TCBStatus         TCBStatus      `json:"tcbStatus"`
	TCBSource         string         `json:"tcbSource,omitempty"`
	VerifiedAt        time.Time      `json:"verifiedAt"`
	Error             string         `json:"error,omitempty"`
}

// ValidAt reports whether the result is a success that has not expired at t.
func (r *Result) ValidAt(t time.Time) bool {
	return r != nil && r.Success && t.Before(r.ExpiresAt)
}

// MeasurementPolicy decides which enclave identities may attest.
type MeasurementPolicy interface {
	AllowSGX(mrenclave, mrsigner [32]byte) bool
	AllowSEV(measurement [48]byte) bool
}

// ResultRecorder receives every verification outcome.
type ResultRecorder interface {
	RecordAttestation(ctx context.Context, result *Result) error
}

// TCBStatus is the platform patch level as judged by the vendor.
type TCBStatus uint8

const (
	TCBUnknown TCBStatus = iota
	TCBUpToDate
	TCBSWHardeningNeeded
	TCBConfigurationNeeded
	TCBOutOfDate
	TCBRevoked
)

func (s TCBStatus) String() string {
	switch s {
	case TCBUpToDate:
		return "UpToDate"
	case TCBSWHardeningNeeded:
		return "SWHardeningNeeded"
	case TCBConfigurationNeeded:
		return "ConfigurationNeeded"
	case TCBOutOfDate:
		return "OutOfDate"
	case TCBRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TCBStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseTCBStatus maps an Intel PCS status string onto TCBStatus. Unknown
// strings map to TCBRevoked so that an unexpected answer never passes.
func ParseTCBStatus(s string) TCBStatus {
	switch s {
	case sgx.TCBStatusUpToDate:
		return TCBUpToDate
	case sgx.TCBStatusSWHardeningNeeded:
		return TCBSWHardeningNeeded
	case sgx.TCBStatusConfigurationNeeded, sgx.TCBStatusConfigurationAndSWHardeningNeeded:
		return TCBConfigurationNeeded
	case sgx.TCBStatusOutOfDate, sgx.TCBStatusOutOfDateConfigurationNeeded:
		return TCBOutOfDate
	default:
		return TCBRevoked
	}
}

// TCBRequest carries the parsed evidence to a TCBAuthority. Exactly one of
// Quote and SEVReport is set.
type TCBRequest struct {
	TEEType   core.TEEType
	Quote     *sgx.SGXQuote
	SEVReport *sgx.SEVReport
}

// TCBReport is a TCBAuthority's verdict.
type TCBReport struct {
	Status           TCBStatus
	KeyChainVerified bool   // PCK chain (SGX) or VCEK->ASK->ARK (SEV) checked
	Source           string // "local" or "vendor"
	Detail           string
}

// TCBAuthority judges the platform TCB and vendor key chain of a quote or
// report. Errors mean the authority could not answer, not that the TCB is bad.
type TCBAuthority interface {
	CheckTCB(ctx context.Context, req *TCBRequest) (*TCBReport, error)
}
