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
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Report data layout shared by SGX and SEV-SNP evidence.
const (
	bindingOffset   = 0  // validator address, left padded to 32 bytes
	timestampOffset = 32 // big-endian unix milliseconds of generation
)

// BuildReportData lays out the 64 report data bytes an enclave must embed to
// attest for validator at generation time ts.
func BuildReportData(validator common.Address, ts time.Time) [64]byte {
	var rd [64]byte
	copy(rd[bindingOffset:], common.LeftPadBytes(validator.Bytes(), 32))
	binary.BigEndian.PutUint64(rd[timestampOffset:], uint64(ts.UnixMilli()))
	return rd
}

// Stats counts verification outcomes per TEE type.
type Stats struct {
	SGXVerified uint64 `json:"sgxVerified"`
	SGXFailed   uint64 `json:"sgxFailed"`
	SEVVerified uint64 `json:"sevVerified"`
	SEVFailed   uint64 `json:"sevFailed"`
}

// Verifier checks hardware evidence in a fixed order: parse, measurement,
// security version, identity binding, freshness, TCB level and vendor key
// chain. The first failing check decides the error.
type Verifier struct {
	cfg       *Config
	policy    MeasurementPolicy
	authority TCBAuthority
	recorder  ResultRecorder
	clock     clock.Clock
	log       log.Logger

	sgxVerified, sgxFailed atomic.Uint64
	sevVerified, sevFailed atomic.Uint64
}

// NewVerifier creates a verifier. recorder may be nil.
func NewVerifier(cfg *Config, policy MeasurementPolicy, authority TCBAuthority, recorder ResultRecorder, clk clock.Clock) *Verifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{
		cfg:       cfg,
		policy:    policy,
		authority: authority,
		recorder:  recorder,
		clock:     clk,
		log:       log.New("module", "attestation"),
	}
}

// VerifySGXQuote verifies an SGX DCAP quote for validator.
func (v *Verifier) VerifySGXQuote(ctx context.Context, quote []byte, validator common.Address) (*Result, error) {
	start := v.clock.Now()
	res := v.newResult(core.TEESGX, quote, validator, start)

	q, err := sgx.ParseQuote(quote)
	if err != nil {
		return v.reject(ctx, res, fmt.Errorf("%w: %v", core.ErrAttestationMalformed, err))
	}
	res.Measurement = append([]byte(nil), q.MRENCLAVE[:]...)

	if !v.policy.AllowSGX(q.MRENCLAVE, q.MRSIGNER) {
		return v.reject(ctx, res, fmt.Errorf("%w: mrenclave %x mrsigner %x", core.ErrAttestationMeasurementNotAllowed, q.MRENCLAVE, q.MRSIGNER))
	}
	if q.ISVSVN < v.cfg.MinISVSVN {
		return v.reject(ctx, res, fmt.Errorf("%w: isv svn %d < %d", core.ErrAttestationSVNTooLow, q.ISVSVN, v.cfg.MinISVSVN))
	}
	if res.Timestamp, err = v.checkReportData(q.ReportData, validator, start); err != nil {
		return v.reject(ctx, res, err)
	}
	report, err := v.authority.CheckTCB(ctx, &TCBRequest{TEEType: core.TEESGX, Quote: q})
	if err != nil {
		return v.unavailable(res, err)
	}
	if err := v.checkTCB(res, report); err != nil {
		return v.reject(ctx, res, err)
	}
	res.VerificationProof = crypto.Keccak256Hash(
		q.MRENCLAVE[:],
		res.QuoteHash[:],
		common.LeftPadBytes(validator.Bytes(), 32),
		timestampWord(res.Timestamp),
	)
	return v.accept(ctx, res)
}

// VerifySEVReport verifies an AMD SEV-SNP attestation report for validator.
func (v *Verifier) VerifySEVReport(ctx context.Context, report []byte, validator common.Address) (*Result, error) {
	start := v.clock.Now()
	res := v.newResult(core.TEESEVSNP, report, validator, start)

	r, err := sgx.ParseSEVReport(report)
	if err != nil {
		return v.reject(ctx, res, fmt.Errorf("%w: %v", core.ErrAttestationMalformed, err))
	}
	res.Measurement = append([]byte(nil), r.Measurement[:]...)

	if !v.policy.AllowSEV(r.Measurement) {
		return v.reject(ctx, res, fmt.Errorf("%w: measurement %x", core.ErrAttestationMeasurementNotAllowed, r.Measurement))
	}
	if r.GuestSVN < v.cfg.MinGuestSVN {
		return v.reject(ctx, res, fmt.Errorf("%w: guest svn %d < %d", core.ErrAttestationSVNTooLow, r.GuestSVN, v.cfg.MinGuestSVN))
	}
	if r.VMPL > 0 {
		v.log.Warn("SEV-SNP report not from VMPL0", "validator", validator, "vmpl", r.VMPL)
	}
	if res.Timestamp, err = v.checkReportData(r.ReportData, validator, start); err != nil {
		return v.reject(ctx, res, err)
	}
	tcb, err := v.authority.CheckTCB(ctx, &TCBRequest{TEEType: core.TEESEVSNP, SEVReport: r})
	if err != nil {
		return v.unavailable(res, err)
	}
	if err := v.checkTCB(res, tcb); err != nil {
		return v.reject(ctx, res, err)
	}
	res.VerificationProof = crypto.Keccak256Hash(
		r.Measurement[:],
		res.QuoteHash[:],
		common.LeftPadBytes(validator.Bytes(), 32),
		timestampWord(res.Timestamp),
		r.IDKeyDigest[:],
	)
	return v.accept(ctx, res)
}

// Stats returns the verification counters since start.
func (v *Verifier) Stats() Stats {
	return Stats{
		SGXVerified: v.sgxVerified.Load(),
		SGXFailed:   v.sgxFailed.Load(),
		SEVVerified: v.sevVerified.Load(),
		SEVFailed:   v.sevFailed.Load(),
	}
}

func (v *Verifier) newResult(tee core.TEEType, evidence []byte, validator common.Address, now time.Time) *Result {
	return &Result{
		TEEType:          tee,
		ValidatorBinding: validator,
		QuoteHash:        crypto.Keccak256Hash(evidence),
		VerifiedAt:       now,
	}
}

// checkReportData enforces the identity binding and freshness of the report
// data and returns the embedded generation time.
func (v *Verifier) checkReportData(rd [64]byte, validator common.Address, now time.Time) (time.Time, error) {
	want := common.LeftPadBytes(validator.Bytes(), 32)
	if !sgx.ConstantTimeCompare(rd[bindingOffset:bindingOffset+32], want) {
		return time.Time{}, fmt.Errorf("%w: report data does not carry %s", core.ErrAttestationBindingMismatch, validator)
	}
	ms := binary.BigEndian.Uint64(rd[timestampOffset:])
	if ms == 0 || ms > uint64(1<<62) {
		return time.Time{}, fmt.Errorf("%w: missing generation time", core.ErrAttestationStale)
	}
	ts := time.UnixMilli(int64(ms)).UTC()
	if ts.After(now.Add(v.cfg.MaxClockSkew)) {
		return ts, fmt.Errorf("%w: generated %s in the future", core.ErrAttestationStale, ts.Sub(now))
	}
	if age := now.Sub(ts); age > v.cfg.MaxQuoteAge {
		return ts, fmt.Errorf("%w: age %s exceeds %s", core.ErrAttestationStale, age, v.cfg.MaxQuoteAge)
	}
	return ts, nil
}

func (v *Verifier) checkTCB(res *Result, report *TCBReport) error {
	res.TCBStatus = report.Status
	res.TCBSource = report.Source

	// An authority that could not verify the evidence chain cannot judge the TCB either.
	if report.Status == TCBUnknown && !report.KeyChainVerified {
		return fmt.Errorf("%w: %s", core.ErrAttestationKeyChainUnverified, report.Detail)
	}
	switch report.Status {
	case TCBUpToDate:
	case TCBSWHardeningNeeded, TCBConfigurationNeeded:
		v.log.Warn("Platform TCB needs attention", "validator", res.ValidatorBinding, "status", report.Status, "detail", report.Detail)
	case TCBOutOfDate:
		if !v.cfg.AllowOutOfDateTCB {
			return fmt.Errorf("%w: %s %s", core.ErrAttestationTCBRevoked, report.Status, report.Detail)
		}
		v.log.Warn("Accepting out of date TCB", "validator", res.ValidatorBinding, "detail", report.Detail)
	default:
		return fmt.Errorf("%w: %s %s", core.ErrAttestationTCBRevoked, report.Status, report.Detail)
	}
	if !report.KeyChainVerified {
		return fmt.Errorf("%w: %s", core.ErrAttestationKeyChainUnverified, report.Detail)
	}
	return nil
}

func (v *Verifier) accept(ctx context.Context, res *Result) (*Result, error) {
	res.Success = true
	res.ExpiresAt = res.Timestamp.Add(v.cfg.ValidityWindow)

	v.count(res.TEEType, true)
	v.log.Info("Attestation verified", "tee", res.TEEType, "validator", res.ValidatorBinding,
		"measurement", res.Measurement, "tcb", res.TCBStatus, "expires", res.ExpiresAt)

	if v.recorder != nil {
		if err := v.recorder.RecordAttestation(ctx, res); err != nil {
			return res, fmt.Errorf("record attestation: %w", err)
		}
	}
	return res, nil
}

func (v *Verifier) reject(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Success = false
	res.Error = err.Error()

	v.count(res.TEEType, false)
	v.log.Warn("Attestation rejected", "tee", res.TEEType, "validator", res.ValidatorBinding, "err", err)

	if v.recorder != nil {
		if rerr := v.recorder.RecordAttestation(ctx, res); rerr != nil {
			v.log.Debug("Rejected attestation not recorded", "validator", res.ValidatorBinding, "err", rerr)
		}
	}
	return res, err
}

// unavailable reports an authority outage. Nothing is recorded so the
// validator keeps whatever standing it had.
func (v *Verifier) unavailable(res *Result, err error) (*Result, error) {
	res.Success = false
	res.Error = err.Error()
	attestationsTotal.WithLabelValues(res.TEEType.String(), "unavailable").Inc()
	v.log.Error("TCB authority unavailable", "tee", res.TEEType, "validator", res.ValidatorBinding, "err", err)
	return res, fmt.Errorf("tcb authority: %w", err)
}

func (v *Verifier) count(tee core.TEEType, ok bool) {
	outcome := "rejected"
	if ok {
		outcome = "verified"
	}
	attestationsTotal.WithLabelValues(tee.String(), outcome).Inc()

	switch {
	case tee == core.TEESGX && ok:
		v.sgxVerified.Add(1)
	case tee == core.TEESGX:
		v.sgxFailed.Add(1)
	case ok:
		v.sevVerified.Add(1)
	default:
		v.sevFailed.Add(1)
	}
}

func timestampWord(ts time.Time) []byte {
	word := uint256.NewInt(uint64(ts.UnixMilli())).Bytes32()
	return word[:]
}
