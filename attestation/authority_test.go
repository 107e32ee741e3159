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
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vendorServer struct {
	*httptest.Server
	tcbInfo  []byte
	tcbCalls atomic.Int32
	fail     atomic.Bool
}

func newVendorServer(t *testing.T, m *sgx.MockAttestor, levels ...sgx.TCBLevel) *vendorServer {
	t.Helper()
	tcbInfo, err := m.SignedTCBInfo(testNow, levels...)
	require.NoError(t, err)

	vs := &vendorServer{tcbInfo: tcbInfo}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if vs.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch {
		case r.URL.Path == "/sgx/tcb":
			vs.tcbCalls.Add(1)
			w.Header().Set("TCB-Info-Issuer-Chain", url.QueryEscape(string(m.TCBIssuerChainPEM())))
			w.Write(vs.tcbInfo)
		case r.URL.Path == "/vcek/v1/Milan/cert_chain":
			w.Write(m.AMDCertChainPEM())
		case strings.HasPrefix(r.URL.Path, "/vcek/v1/Milan/"):
			w.Write(m.VCEKDER())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(vs.Close)
	return vs
}

func mustRoots(t *testing.T, pem []byte) []*x509.Certificate {
	t.Helper()
	certs, err := sgx.ParsePEMCertChain(pem)
	require.NoError(t, err)
	return certs
}

func (f *fixture) useVendor(t *testing.T, vs *vendorServer, cfg VendorConfig) *VendorAuthority {
	t.Helper()
	fetcher := sgx.NewCollateralFetcher(sgx.FetcherConfig{
		PCSURL:    vs.URL + "/sgx",
		KDSURL:    vs.URL,
		RateLimit: 1000,
		RateBurst: 100,
	}, sgx.NewCertCache(""), vs.Client())
	if cfg.IntelRoots == nil {
		cfg.IntelRoots = mustRoots(t, f.m.IntelRootPEM())
	}
	if cfg.AMDRoots == nil {
		cfg.AMDRoots = mustRoots(t, f.m.AMDRootPEM())
	}
	auth, err := NewVendorAuthority(cfg, fetcher, f.clock)
	require.NoError(t, err)
	f.auth = auth
	return auth
}

func TestVendorAuthoritySGX(t *testing.T) {
	f := newFixture(t)
	vs := newVendorServer(t, f.m,
		sgx.Level(3, 1, sgx.TCBStatusUpToDate),
		sgx.Level(2, 1, sgx.TCBStatusSWHardeningNeeded),
	)
	f.useVendor(t, vs, VendorConfig{})
	v := f.verifier()

	res, err := v.VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
	require.NoError(t, err)
	assert.Equal(t, TCBSWHardeningNeeded, res.TCBStatus)
	assert.Equal(t, SourceVendor, res.TCBSource)

	// Served from memory the second time
	_, err = v.VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vs.tcbCalls.Load())
}

func TestVendorAuthoritySGXRejections(t *testing.T) {
	t.Run("revoked level", func(t *testing.T) {
		f := newFixture(t)
		f.useVendor(t, newVendorServer(t, f.m, sgx.Level(2, 1, sgx.TCBStatusRevoked)), VendorConfig{})
		_, err := f.verifier().VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
		require.ErrorIs(t, err, core.ErrAttestationTCBRevoked)
	})
	t.Run("no matching level", func(t *testing.T) {
		f := newFixture(t)
		f.useVendor(t, newVendorServer(t, f.m, sgx.Level(5, 1, sgx.TCBStatusUpToDate)), VendorConfig{})
		_, err := f.verifier().VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
		require.ErrorIs(t, err, core.ErrAttestationTCBRevoked)
	})
	t.Run("foreign root", func(t *testing.T) {
		f := newFixture(t)
		other, err := sgx.NewMockAttestor()
		require.NoError(t, err)
		f.useVendor(t, newVendorServer(t, f.m, sgx.Level(2, 1, sgx.TCBStatusUpToDate)),
			VendorConfig{IntelRoots: mustRoots(t, other.IntelRootPEM())})
		_, err = f.verifier().VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
		require.ErrorIs(t, err, core.ErrAttestationKeyChainUnverified)
	})
	t.Run("pcs outage", func(t *testing.T) {
		f := newFixture(t)
		vs := newVendorServer(t, f.m, sgx.Level(2, 1, sgx.TCBStatusUpToDate))
		vs.fail.Store(true)
		f.useVendor(t, vs, VendorConfig{})
		_, err := f.verifier().VerifySGXQuote(context.Background(), f.quote(t, testValidator, testNow), testValidator)
		require.Error(t, err)
		assert.False(t, core.IsAttestationFailure(err))
		assert.Empty(t, f.recorder.results)
	})
}

func TestVendorAuthoritySEV(t *testing.T) {
	f := newFixture(t)
	vs := newVendorServer(t, f.m)
	f.useVendor(t, vs, VendorConfig{})

	res, err := f.verifier().VerifySEVReport(context.Background(), f.sevReport(t, testValidator, testNow), testValidator)
	require.NoError(t, err)
	assert.Equal(t, TCBUpToDate, res.TCBStatus)

	f.useVendor(t, vs, VendorConfig{MinSEVTCB: f.m.ReportedTCB + 1})
	_, err = f.verifier().VerifySEVReport(context.Background(), f.sevReport(t, testValidator, testNow), testValidator)
	require.ErrorIs(t, err, core.ErrAttestationTCBRevoked)

	other, err := sgx.NewMockAttestor()
	require.NoError(t, err)
	f.useVendor(t, vs, VendorConfig{AMDRoots: mustRoots(t, other.AMDRootPEM())})
	_, err = f.verifier().VerifySEVReport(context.Background(), f.sevReport(t, testValidator, testNow), testValidator)
	require.ErrorIs(t, err, core.ErrAttestationKeyChainUnverified)
}

func TestNewVendorAuthorityNeedsRoots(t *testing.T) {
	_, err := NewVendorAuthority(VendorConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
