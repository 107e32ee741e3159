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

package sgx

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPCSURL = "https://api.trustedservices.intel.com/sgx/certification/v4"
	DefaultKDSURL = "https://kdsintf.amd.com"

	maxCollateralSize = 1 << 20
)

var errHTTPStatus = errors.New("unexpected HTTP status")

// FetcherConfig configures the vendor collateral endpoints.
type FetcherConfig struct {
	PCSURL     string        // Intel PCS or a PCCS mirror
	KDSURL     string        // AMD key distribution service
	APIKey     string        // Intel subscription key, optional for TCB info
	Timeout    time.Duration // per request
	MaxRetries uint64
	RateLimit  float64 // requests per second shared by both vendors
	RateBurst  int
}

// CollateralFetcher fetches verification collateral from Intel PCS and AMD KDS.
// Requests are rate limited and retried with exponential backoff; 4xx
// responses other than 429 are permanent.
type CollateralFetcher struct {
	cfg     FetcherConfig
	cache   *CertCache
	client  *http.Client
	limiter *rate.Limiter
	log     log.Logger
}

// NewCollateralFetcher creates a new collateral fetcher
func NewCollateralFetcher(cfg FetcherConfig, cache *CertCache, client *http.Client) *CollateralFetcher {
	if cfg.PCSURL == "" {
		cfg.PCSURL = DefaultPCSURL
	}
	if cfg.KDSURL == "" {
		cfg.KDSURL = DefaultKDSURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 4
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &CollateralFetcher{
		cfg:     cfg,
		cache:   cache,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		log:     log.New("module", "collateral"),
	}
}

// TCBInfoCollateral is a PCS TCB info response with its issuer chain.
type TCBInfoCollateral struct {
	Raw         []byte
	IssuerChain []*x509.Certificate
}

// FetchTCBInfo downloads the TCB info for fmspc. When PCS is unreachable
// the last cached copy is returned; its signature and nextUpdate must still
// be checked by the caller.
func (f *CollateralFetcher) FetchTCBInfo(ctx context.Context, fmspc string) (*TCBInfoCollateral, error) {
	var (
		bodyKey  = "tcb_info_" + fmspc
		chainKey = "tcb_info_chain_" + fmspc
		endpoint = fmt.Sprintf("%s/tcb?fmspc=%s", f.cfg.PCSURL, url.QueryEscape(fmspc))
	)
	body, header, err := f.get(ctx, endpoint, true)
	if err != nil {
		cachedBody, ok1 := f.cache.Read(bodyKey)
		cachedChain, ok2 := f.cache.Read(chainKey)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("failed to fetch TCB info: %w", err)
		}
		f.log.Warn("PCS unreachable, using cached TCB info", "fmspc", fmspc, "err", err)
		chain, perr := ParsePEMCertChain(cachedChain)
		if perr != nil {
			return nil, perr
		}
		return &TCBInfoCollateral{Raw: cachedBody, IssuerChain: chain}, nil
	}

	issuer := header.Get("TCB-Info-Issuer-Chain")
	if issuer == "" {
		issuer = header.Get("SGX-TCB-Info-Issuer-Chain")
	}
	pemChain, err := url.QueryUnescape(issuer)
	if err != nil {
		return nil, fmt.Errorf("decode TCB info issuer chain: %w", err)
	}
	chain, err := ParsePEMCertChain([]byte(pemChain))
	if err != nil {
		return nil, fmt.Errorf("parse TCB info issuer chain: %w", err)
	}
	if err := f.cache.Write(bodyKey, body); err != nil {
		f.log.Warn("Failed to cache TCB info", "err", err)
	}
	if err := f.cache.Write(chainKey, []byte(pemChain)); err != nil {
		f.log.Warn("Failed to cache TCB info issuer chain", "err", err)
	}
	return &TCBInfoCollateral{Raw: body, IssuerChain: chain}, nil
}

// FetchVCEK downloads the VCEK certificate for a chip at the reported TCB.
// VCEKs never change for a given chip and TCB, so the disk cache is
// consulted first.
func (f *CollateralFetcher) FetchVCEK(ctx context.Context, product string, chipID [64]byte, tcb TCBVersion) (*x509.Certificate, error) {
	hwid := hex.EncodeToString(chipID[:])
	key := fmt.Sprintf("vcek_%s_%s_%016x", product, hwid[:16], uint64(tcb))
	if der, ok := f.cache.Read(key); ok {
		if cert, err := x509.ParseCertificate(der); err == nil {
			return cert, nil
		}
	}
	endpoint := fmt.Sprintf("%s/vcek/v1/%s/%s?blSPL=%d&teeSPL=%d&snpSPL=%d&ucodeSPL=%d",
		f.cfg.KDSURL, url.PathEscape(product), hwid, tcb.BootLoader(), tcb.TEE(), tcb.SNP(), tcb.Microcode())
	der, _, err := f.get(ctx, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch VCEK: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse VCEK: %w", err)
	}
	if err := f.cache.Write(key, der); err != nil {
		f.log.Warn("Failed to cache VCEK", "err", err)
	}
	return cert, nil
}

// FetchAMDCertChain downloads the ASK and ARK for product.
func (f *CollateralFetcher) FetchAMDCertChain(ctx context.Context, product string) (ask, ark *x509.Certificate, err error) {
	key := "amd_cert_chain_" + product
	data, ok := f.cache.Read(key)
	if !ok {
		endpoint := fmt.Sprintf("%s/vcek/v1/%s/cert_chain", f.cfg.KDSURL, url.PathEscape(product))
		if data, _, err = f.get(ctx, endpoint, false); err != nil {
			return nil, nil, fmt.Errorf("failed to fetch AMD cert chain: %w", err)
		}
	}
	certs, err := ParsePEMCertChain(data)
	if err != nil {
		return nil, nil, err
	}
	if len(certs) != 2 {
		return nil, nil, fmt.Errorf("AMD cert chain has %d certificates, want 2", len(certs))
	}
	if !ok {
		if err := f.cache.Write(key, data); err != nil {
			f.log.Warn("Failed to cache AMD cert chain", "err", err)
		}
	}
	return certs[0], certs[1], nil
}

// get performs a rate limited GET with retries.
func (f *CollateralFetcher) get(ctx context.Context, endpoint string, intel bool) ([]byte, http.Header, error) {
	var (
		body   []byte
		header http.Header
	)
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if intel && f.cfg.APIKey != "" {
			req.Header.Set("Ocp-Apim-Subscription-Key", f.cfg.APIKey)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("%w: %s from %s", errHTTPStatus, resp.Status, endpoint)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxCollateralSize))
		if err != nil {
			return err
		}
		body, header = b, resp.Header
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		f.log.Debug("Retrying collateral fetch", "url", endpoint, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, nil, err
	}
	return body, header, nil
}
