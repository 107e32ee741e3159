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
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// Intel SGX PCK certificate extension OIDs.
var (
	OIDSGXExtensions = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}
	OIDSGXFMSPC      = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 4}
)

// TCB status values reported by Intel PCS.
const (
	TCBStatusUpToDate                          = "UpToDate"
	TCBStatusSWHardeningNeeded                 = "SWHardeningNeeded"
	TCBStatusConfigurationNeeded               = "ConfigurationNeeded"
	TCBStatusConfigurationAndSWHardeningNeeded = "ConfigurationAndSWHardeningNeeded"
	TCBStatusOutOfDate                         = "OutOfDate"
	TCBStatusOutOfDateConfigurationNeeded      = "OutOfDateConfigurationNeeded"
	TCBStatusRevoked                           = "Revoked"
)

var (
	errEmptyChain        = errors.New("certificate chain is empty")
	errNoRoots           = errors.New("no trusted root certificates")
	errUntrustedRoot     = errors.New("certificate chain not anchored to a trusted root")
	errNoFMSPC           = errors.New("PCK certificate carries no FMSPC")
	errNoMatchingTCB     = errors.New("no matching TCB level")
	errTCBInfoSignature  = errors.New("TCB info signature verification failed")
	errUnsupportedTCBVer = errors.New("unsupported TCB info version")
)

// VerifyCertChain verifies that chain[0] is issued, link by link, by a
// certificate in roots and that every certificate is valid at now.
func VerifyCertChain(chain []*x509.Certificate, roots []*x509.Certificate, now time.Time) error {
	if len(chain) == 0 {
		return errEmptyChain
	}
	if len(roots) == 0 {
		return errNoRoots
	}
	for i, cert := range chain {
		if now.Before(cert.NotBefore) {
			return fmt.Errorf("certificate %d not yet valid", i)
		}
		if now.After(cert.NotAfter) {
			return fmt.Errorf("certificate %d expired", i)
		}
		if i+1 < len(chain) {
			if err := cert.CheckSignatureFrom(chain[i+1]); err != nil {
				return fmt.Errorf("certificate %d signature verification failed: %w", i, err)
			}
		}
	}

	top := chain[len(chain)-1]
	for _, root := range roots {
		if top.Equal(root) {
			return nil
		}
		if err := top.CheckSignatureFrom(root); err == nil {
			return nil
		}
	}
	return errUntrustedRoot
}

// ParsePEMCertChain parses a chain of PEM certificates.
func ParsePEMCertChain(pemChain []byte) ([]*x509.Certificate, error) {
	var (
		certs []*x509.Certificate
		rest  = pemChain
	)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM chain")
	}
	return certs, nil
}

// PCKChain returns the parsed PCK certificate chain embedded in the quote,
// leaf first.
func (q *SGXQuote) PCKChain() ([]*x509.Certificate, error) {
	if q.CertDataType != certDataTypePCKCertChain {
		return nil, fmt.Errorf("quote certification data type %d, want %d", q.CertDataType, certDataTypePCKCertChain)
	}
	return ParsePEMCertChain(q.CertData)
}

type sgxExtension struct {
	ID    asn1.ObjectIdentifier
	Value asn1.RawValue
}

// ExtractFMSPC reads the 6-byte FMSPC from the Intel SGX extension of a PCK
// certificate and returns it hex encoded, as PCS expects it.
func ExtractFMSPC(pck *x509.Certificate) (string, error) {
	for _, ext := range pck.Extensions {
		if !ext.Id.Equal(OIDSGXExtensions) {
			continue
		}
		var entries []sgxExtension
		if _, err := asn1.Unmarshal(ext.Value, &entries); err != nil {
			return "", fmt.Errorf("parse SGX extension: %w", err)
		}
		for _, entry := range entries {
			if !entry.ID.Equal(OIDSGXFMSPC) {
				continue
			}
			var fmspc []byte
			if _, err := asn1.Unmarshal(entry.Value.FullBytes, &fmspc); err != nil {
				return "", fmt.Errorf("parse FMSPC: %w", err)
			}
			if len(fmspc) != 6 {
				return "", fmt.Errorf("FMSPC length %d", len(fmspc))
			}
			return hex.EncodeToString(fmspc), nil
		}
	}
	return "", errNoFMSPC
}

// TCBInfoResponse is the PCS /tcb response body. Body keeps the raw
// tcbInfo bytes because the signature covers them verbatim.
type TCBInfoResponse struct {
	Body      json.RawMessage `json:"tcbInfo"`
	Signature string          `json:"signature"`
}

// TCBInfo represents the parsed TCB Info JSON structure
type TCBInfo struct {
	ID         string     `json:"id"`
	Version    int        `json:"version"`
	IssueDate  time.Time  `json:"issueDate"`
	NextUpdate time.Time  `json:"nextUpdate"`
	FMSPC      string     `json:"fmspc"`
	PCEID      string     `json:"pceId"`
	TCBType    int        `json:"tcbType"`
	TCBEvalNum int        `json:"tcbEvaluationDataNumber"`
	TCBLevels  []TCBLevel `json:"tcbLevels"`
}

// TCBLevel represents a single TCB level entry
type TCBLevel struct {
	TCB struct {
		SGXTCBComponents []TCBComponent `json:"sgxtcbcomponents"`
		PCESVN           uint16         `json:"pcesvn"`
	} `json:"tcb"`
	TCBDate   string `json:"tcbDate"`
	TCBStatus string `json:"tcbStatus"`
}

// TCBComponent represents a single TCB component
type TCBComponent struct {
	SVN uint8 `json:"svn"`
}

// ParseTCBInfo decodes a PCS TCB info response. The signature is not checked.
func ParseTCBInfo(raw []byte) (*TCBInfoResponse, *TCBInfo, error) {
	var resp TCBInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse TCB info: %w", err)
	}
	var info TCBInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, nil, fmt.Errorf("failed to parse TCB info body: %w", err)
	}
	if info.Version < 3 {
		return nil, nil, fmt.Errorf("%w: %d", errUnsupportedTCBVer, info.Version)
	}
	return &resp, &info, nil
}

// VerifyTCBInfoSignature checks the hex r||s signature of the TCB signing
// certificate over the raw tcbInfo body.
func VerifyTCBInfoSignature(resp *TCBInfoResponse, signer *x509.Certificate) error {
	sig, err := hex.DecodeString(resp.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", errTCBInfoSignature, err)
	}
	pub, ok := signer.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signer key is not ECDSA", errTCBInfoSignature)
	}
	digest := sha256.Sum256(resp.Body)
	if !verifyRawSignature(pub, digest[:], sig) {
		return errTCBInfoSignature
	}
	return nil
}

// MatchTCBLevel returns the first level, in PCS order (highest first), whose
// CPUSVN components and PCE SVN are all covered by the platform's values.
func MatchTCBLevel(info *TCBInfo, cpusvn [16]byte, pcesvn uint16) (*TCBLevel, error) {
	for i := range info.TCBLevels {
		level := &info.TCBLevels[i]
		if len(level.TCB.SGXTCBComponents) != len(cpusvn) {
			continue
		}
		covered := pcesvn >= level.TCB.PCESVN
		for j, comp := range level.TCB.SGXTCBComponents {
			if cpusvn[j] < comp.SVN {
				covered = false
				break
			}
		}
		if covered {
			return level, nil
		}
	}
	return nil, errNoMatchingTCB
}
