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
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	SourceLocal  = "local"
	SourceVendor = "vendor"
)

var errStaleCollateral = errors.New("vendor collateral past its next update")

// LocalAuthority checks TCB levels without network access. It only looks at
// the quoting and provisioning enclave versions and trusts the key chain, so
// it must never be used in production mode.
type LocalAuthority struct{}

// CheckTCB implements TCBAuthority.
func (LocalAuthority) CheckTCB(_ context.Context, req *TCBRequest) (*TCBReport, error) {
	report := &TCBReport{Status: TCBUpToDate, KeyChainVerified: true, Source: SourceLocal}
	switch req.TEEType {
	case core.TEESGX:
		if req.Quote == nil {
			return nil, fmt.Errorf("%w: missing quote", core.ErrInvalidArgument)
		}
		if req.Quote.QESVN < 1 || req.Quote.PCESVN < 1 {
			report.Status = TCBOutOfDate
			report.Detail = fmt.Sprintf("qe svn %d pce svn %d", req.Quote.QESVN, req.Quote.PCESVN)
		}
	case core.TEESEVSNP:
		if req.SEVReport == nil {
			return nil, fmt.Errorf("%w: missing report", core.ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("%w: tee %s", core.ErrInvalidArgument, req.TEEType)
	}
	return report, nil
}

// VendorConfig configures the production TCB authority.
type VendorConfig struct {
	IntelRoots []*x509.Certificate
	AMDRoots   []*x509.Certificate
	AMDProduct string         // KDS product name, e.g. Milan or Genoa
	MinSEVTCB  sgx.TCBVersion // reported TCB below this is out of date
	CacheSize  int
	CacheTTL   time.Duration
}

// VendorAuthority verifies the vendor key chains and looks up TCB levels at
// Intel PCS and AMD KDS. Lookups are de-duplicated and cached in memory on
// top of the fetcher's disk cache.
type VendorAuthority struct {
	cfg     VendorConfig
	fetcher *sgx.CollateralFetcher
	clock   clock.Clock
	log     log.Logger

	group     singleflight.Group
	tcbInfos  *expirable.LRU[string, *tcbInfoEntry]
	vceks     *expirable.LRU[string, *x509.Certificate]
	amdChains *expirable.LRU[string, [2]*x509.Certificate]
}

type tcbInfoEntry struct {
	info *sgx.TCBInfo
}

// NewVendorAuthority creates a vendor-backed authority.
func NewVendorAuthority(cfg VendorConfig, fetcher *sgx.CollateralFetcher, clk clock.Clock) (*VendorAuthority, error) {
	if len(cfg.IntelRoots) == 0 && len(cfg.AMDRoots) == 0 {
		return nil, fmt.Errorf("%w: vendor authority needs at least one root certificate", ErrInvalidConfig)
	}
	if cfg.AMDProduct == "" {
		cfg.AMDProduct = "Milan"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	return &VendorAuthority{
		cfg:       cfg,
		fetcher:   fetcher,
		clock:     clk,
		log:       log.New("module", "tcb-authority"),
		tcbInfos:  expirable.NewLRU[string, *tcbInfoEntry](cfg.CacheSize, nil, cfg.CacheTTL),
		vceks:     expirable.NewLRU[string, *x509.Certificate](cfg.CacheSize, nil, cfg.CacheTTL),
		amdChains: expirable.NewLRU[string, [2]*x509.Certificate](4, nil, cfg.CacheTTL),
	}, nil
}

// CheckTCB implements TCBAuthority.
func (a *VendorAuthority) CheckTCB(ctx context.Context, req *TCBRequest) (*TCBReport, error) {
	switch req.TEEType {
	case core.TEESGX:
		if req.Quote == nil {
			return nil, fmt.Errorf("%w: missing quote", core.ErrInvalidArgument)
		}
		return a.checkSGX(ctx, req.Quote)
	case core.TEESEVSNP:
		if req.SEVReport == nil {
			return nil, fmt.Errorf("%w: missing report", core.ErrInvalidArgument)
		}
		return a.checkSEV(ctx, req.SEVReport)
	}
	return nil, fmt.Errorf("%w: tee %s", core.ErrInvalidArgument, req.TEEType)
}

func unverified(err error) *TCBReport {
	return &TCBReport{Status: TCBUnknown, Source: SourceVendor, Detail: err.Error()}
}

func (a *VendorAuthority) checkSGX(ctx context.Context, q *sgx.SGXQuote) (*TCBReport, error) {
	now := a.clock.Now()

	chain, err := q.PCKChain()
	if err != nil {
		return unverified(err), nil
	}
	if err := sgx.VerifyCertChain(chain, a.cfg.IntelRoots, now); err != nil {
		return unverified(fmt.Errorf("PCK chain: %w", err)), nil
	}
	if err := sgx.VerifyQuoteSignature(q, chain[0]); err != nil {
		return unverified(err), nil
	}
	fmspc, err := sgx.ExtractFMSPC(chain[0])
	if err != nil {
		return unverified(err), nil
	}

	info, err := a.tcbInfo(ctx, fmspc)
	if err != nil {
		return nil, err
	}
	level, err := sgx.MatchTCBLevel(info, q.CPUSVN, q.PCESVN)
	if err != nil {
		return &TCBReport{Status: TCBRevoked, KeyChainVerified: true, Source: SourceVendor, Detail: err.Error()}, nil
	}
	return &TCBReport{
		Status:           ParseTCBStatus(level.TCBStatus),
		KeyChainVerified: true,
		Source:           SourceVendor,
		Detail:           fmt.Sprintf("fmspc %s level %s", fmspc, level.TCBDate),
	}, nil
}

func (a *VendorAuthority) checkSEV(ctx context.Context, r *sgx.SEVReport) (*TCBReport, error) {
	now := a.clock.Now()

	chain, err := a.amdChain(ctx)
	if err != nil {
		return nil, err
	}
	vcek, err := a.vcek(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := sgx.VerifyCertChain([]*x509.Certificate{vcek, chain[0], chain[1]}, a.cfg.AMDRoots, now); err != nil {
		return unverified(fmt.Errorf("VCEK chain: %w", err)), nil
	}
	if err := sgx.VerifySEVReportSignature(r, vcek); err != nil {
		return unverified(err), nil
	}

	report := &TCBReport{Status: TCBUpToDate, KeyChainVerified: true, Source: SourceVendor}
	if tcbBelow(r.ReportedTCB, a.cfg.MinSEVTCB) || tcbBelow(r.ReportedTCB, r.CurrentTCB) {
		report.Status = TCBOutOfDate
		report.Detail = fmt.Sprintf("reported tcb %016x current %016x minimum %016x",
			uint64(r.ReportedTCB), uint64(r.CurrentTCB), uint64(a.cfg.MinSEVTCB))
	}
	return report, nil
}

// tcbBelow reports whether any SPL of v is lower than the same SPL of min.
func tcbBelow(v, min sgx.TCBVersion) bool {
	return v.BootLoader() < min.BootLoader() ||
		v.TEE() < min.TEE() ||
		v.SNP() < min.SNP() ||
		v.Microcode() < min.Microcode()
}

func (a *VendorAuthority) tcbInfo(ctx context.Context, fmspc string) (*sgx.TCBInfo, error) {
	now := a.clock.Now()
	if entry, ok := a.tcbInfos.Get(fmspc); ok && now.Before(entry.info.NextUpdate) {
		collateralFetches.WithLabelValues("tcb_info", "memory").Inc()
		return entry.info, nil
	}
	v, err, _ := a.group.Do("tcb/"+fmspc, func() (interface{}, error) {
		collateralFetches.WithLabelValues("tcb_info", "vendor").Inc()
		col, err := a.fetcher.FetchTCBInfo(ctx, fmspc)
		if err != nil {
			return nil, err
		}
		resp, info, err := sgx.ParseTCBInfo(col.Raw)
		if err != nil {
			return nil, err
		}
		if err := sgx.VerifyCertChain(col.IssuerChain, a.cfg.IntelRoots, now); err != nil {
			return nil, fmt.Errorf("TCB info issuer chain: %w", err)
		}
		if err := sgx.VerifyTCBInfoSignature(resp, col.IssuerChain[0]); err != nil {
			return nil, err
		}
		if !now.Before(info.NextUpdate) {
			return nil, fmt.Errorf("%w: fmspc %s next update %s", errStaleCollateral, fmspc, info.NextUpdate)
		}
		a.tcbInfos.Add(fmspc, &tcbInfoEntry{info: info})
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sgx.TCBInfo), nil
}

func (a *VendorAuthority) amdChain(ctx context.Context) ([2]*x509.Certificate, error) {
	product := a.cfg.AMDProduct
	if chain, ok := a.amdChains.Get(product); ok {
		return chain, nil
	}
	v, err, _ := a.group.Do("amd/"+product, func() (interface{}, error) {
		collateralFetches.WithLabelValues("amd_chain", "vendor").Inc()
		ask, ark, err := a.fetcher.FetchAMDCertChain(ctx, product)
		if err != nil {
			return nil, err
		}
		chain := [2]*x509.Certificate{ask, ark}
		a.amdChains.Add(product, chain)
		return chain, nil
	})
	if err != nil {
		return [2]*x509.Certificate{}, err
	}
	return v.([2]*x509.Certificate), nil
}

func (a *VendorAuthority) vcek(ctx context.Context, r *sgx.SEVReport) (*x509.Certificate, error) {
	key := fmt.Sprintf("%x/%016x", r.ChipID[:], uint64(r.ReportedTCB))
	if cert, ok := a.vceks.Get(key); ok {
		collateralFetches.WithLabelValues("vcek", "memory").Inc()
		return cert, nil
	}
	v, err, _ := a.group.Do("vcek/"+key, func() (interface{}, error) {
		collateralFetches.WithLabelValues("vcek", "vendor").Inc()
		cert, err := a.fetcher.FetchVCEK(ctx, a.cfg.AMDProduct, r.ChipID, r.ReportedTCB)
		if err != nil {
			return nil, err
		}
		a.vceks.Add(key, cert)
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*x509.Certificate), nil
}
