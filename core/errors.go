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

package core

import "errors"

// Attestation errors. None of these are retryable without fixing the enclave,
// its configuration or the caller's identity.
var (
	ErrAttestationMalformed             = errors.New("attestation evidence is malformed")
	ErrAttestationMeasurementNotAllowed = errors.New("attestation measurement not in allow-list")
	ErrAttestationSVNTooLow             = errors.New("attestation security version below floor")
	ErrAttestationBindingMismatch       = errors.New("attestation report data does not bind validator")
	ErrAttestationStale                 = errors.New("attestation is stale")
	ErrAttestationTCBRevoked            = errors.New("attestation TCB level revoked or out of date")
	ErrAttestationKeyChainUnverified    = errors.New("attestation vendor key chain not verified")
)

// Authorization errors
var (
	ErrUnauthorizedSigner      = errors.New("signer is not authorized")
	ErrDuplicateRoleAssignment = errors.New("chain role already has its active validator fleet")
	ErrInvalidSignature        = errors.New("invalid signature")
)

// Workflow errors
var (
	ErrQuorumNotReached         = errors.New("quorum not reached")
	ErrOperationAlreadyTerminal = errors.New("operation already terminal")
	ErrTimelockNotExpired       = errors.New("timelock not expired")
	ErrInvalidPreimage          = errors.New("invalid preimage")
	ErrSwapExpired              = errors.New("swap expired")
	ErrSwapNotYetExpired        = errors.New("swap not yet expired")
)

// Generic errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyExists   = errors.New("already exists")
)

// Class tells a caller what to do with an error.
type Class uint8

const (
	ClassInternal  Class = iota // storage or programming failure
	ClassSecurity               // do not retry without fixing the root cause
	ClassRetryable              // expected timing condition, retry later
	ClassTerminal               // lost a race on a finished operation
	ClassNotFound
	ClassInvalid
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassSecurity:
		return "security"
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	case ClassNotFound:
		return "not_found"
	case ClassInvalid:
		return "invalid"
	case ClassConflict:
		return "conflict"
	default:
		return "internal"
	}
}

var classes = []struct {
	err   error
	class Class
}{
	{ErrAttestationMalformed, ClassSecurity},
	{ErrAttestationMeasurementNotAllowed, ClassSecurity},
	{ErrAttestationSVNTooLow, ClassSecurity},
	{ErrAttestationBindingMismatch, ClassSecurity},
	{ErrAttestationStale, ClassSecurity},
	{ErrAttestationTCBRevoked, ClassSecurity},
	{ErrAttestationKeyChainUnverified, ClassSecurity},
	{ErrUnauthorizedSigner, ClassSecurity},
	{ErrInvalidSignature, ClassSecurity},
	{ErrInvalidPreimage, ClassSecurity},
	{ErrQuorumNotReached, ClassRetryable},
	{ErrTimelockNotExpired, ClassRetryable},
	{ErrSwapNotYetExpired, ClassRetryable},
	{ErrOperationAlreadyTerminal, ClassTerminal},
	{ErrSwapExpired, ClassTerminal},
	{ErrDuplicateRoleAssignment, ClassConflict},
	{ErrAlreadyExists, ClassConflict},
	{ErrNotFound, ClassNotFound},
	{ErrInvalidArgument, ClassInvalid},
}

// Classify maps an error chain onto its Class. Unknown errors are internal.
func Classify(err error) Class {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return ClassInternal
}

// IsAttestationFailure reports whether err is one of the attestation kinds.
func IsAttestationFailure(err error) bool {
	switch {
	case errors.Is(err, ErrAttestationMalformed),
		errors.Is(err, ErrAttestationMeasurementNotAllowed),
		errors.Is(err, ErrAttestationSVNTooLow),
		errors.Is(err, ErrAttestationBindingMismatch),
		errors.Is(err, ErrAttestationStale),
		errors.Is(err, ErrAttestationTCBRevoked),
		errors.Is(err, ErrAttestationKeyChainUnverified):
		return true
	}
	return false
}
