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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DCAP quote v3/v4 layout.
const (
	quoteHeaderSize  = 48
	reportBodySize   = 384
	quoteSignedSize  = quoteHeaderSize + reportBodySize // 432
	p256CoordSize    = 32
	p256SigSize      = 2 * p256CoordSize
	minSignatureData = p256SigSize + p256SigSize + reportBodySize + p256SigSize + 2 + 2 + 4

	certDataTypePCKCertChain = 5
)

// Report body offsets, relative to the start of a 384-byte enclave report.
const (
	bodyCPUSVN     = 0
	bodyMRENCLAVE  = 64
	bodyMRSIGNER   = 128
	bodyISVProdID  = 256
	bodyISVSVN     = 258
	bodyReportData = 320
)

// Attestation key types
const (
	AttestationKeyECDSAP256 uint16 = 2
	AttestationKeyECDSAP384 uint16 = 3
)

var (
	errQuoteTooShort      = errors.New("quote too short")
	errUnsupportedVersion = errors.New("unsupported quote version")
	errUnsupportedKeyType = errors.New("unsupported attestation key type")
	errSignatureDataTrunc = errors.New("quote signature data truncated")
)

// EnclaveReport is the parsed form of a 384-byte SGX report body.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MRENCLAVE  [32]byte
	MRSIGNER   [32]byte
	ISVProdID  uint16
	ISVSVN     uint16
	ReportData [64]byte
}

func parseReportBody(b []byte) EnclaveReport {
	var r EnclaveReport
	copy(r.CPUSVN[:], b[bodyCPUSVN:bodyCPUSVN+16])
	copy(r.MRENCLAVE[:], b[bodyMRENCLAVE:bodyMRENCLAVE+32])
	copy(r.MRSIGNER[:], b[bodyMRSIGNER:bodyMRSIGNER+32])
	r.ISVProdID = binary.LittleEndian.Uint16(b[bodyISVProdID:])
	r.ISVSVN = binary.LittleEndian.Uint16(b[bodyISVSVN:])
	copy(r.ReportData[:], b[bodyReportData:bodyReportData+64])
	return r
}

// SGXQuote represents the SGX Quote data structure.
type SGXQuote struct {
	Version            uint16 // Quote version
	AttestationKeyType uint16 // Attestation key type (2=ECDSA-P256, 3=ECDSA-P384)
	QESVN              uint16 // Quoting enclave SVN
	PCESVN             uint16 // Provisioning certification enclave SVN
	QEVendorID         [16]byte

	EnclaveReport // application enclave

	// Signature data, present when the quote carries one.
	Signature         []byte   // ECDSA r||s over the first 432 bytes
	AttestationKey    []byte   // raw x||y of the attestation public key
	QEReport          []byte   // 384-byte QE report body
	QEReportSignature []byte   // PCK signature over QEReport
	QEAuthData        []byte
	CertDataType      uint16
	CertData          []byte
	CertChain         []string // PCK certificate chain (PEM format) extracted from quote

	raw []byte
}

// Signed returns the header and report body covered by the quote signature.
func (q *SGXQuote) Signed() []byte {
	return q.raw[:quoteSignedSize]
}

// Raw returns the full quote bytes.
func (q *SGXQuote) Raw() []byte {
	return q.raw
}

// HasSignatureData reports whether the quote carries DCAP signature data.
func (q *SGXQuote) HasSignatureData() bool {
	return len(q.Signature) > 0
}

// ParseQuote parses an SGX DCAP quote from raw bytes. A bare 432-byte
// quote without signature data is accepted; signature data that is present
// must be complete.
func ParseQuote(quote []byte) (*SGXQuote, error) {
	if len(quote) < quoteSignedSize {
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", errQuoteTooShort, len(quote), quoteSignedSize)
	}

	q := &SGXQuote{raw: append([]byte(nil), quote...)}
	q.Version = binary.LittleEndian.Uint16(quote[0:2])
	q.AttestationKeyType = binary.LittleEndian.Uint16(quote[2:4])
	q.QESVN = binary.LittleEndian.Uint16(quote[8:10])
	q.PCESVN = binary.LittleEndian.Uint16(quote[10:12])
	copy(q.QEVendorID[:], quote[12:28])

	if q.Version != 3 && q.Version != 4 {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, q.Version)
	}
	if q.AttestationKeyType != AttestationKeyECDSAP256 {
		return nil, fmt.Errorf("%w: %d", errUnsupportedKeyType, q.AttestationKeyType)
	}
	q.EnclaveReport = parseReportBody(quote[quoteHeaderSize:quoteSignedSize])

	if len(quote) == quoteSignedSize {
		return q, nil
	}
	if err := q.parseSignatureData(quote[quoteSignedSize:]); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SGXQuote) parseSignatureData(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("%w: missing length", errSignatureDataTrunc)
	}
	size := int(binary.LittleEndian.Uint32(b[0:4]))
	b = b[4:]
	if size > len(b) || size < minSignatureData {
		return fmt.Errorf("%w: declared %d, have %d", errSignatureDataTrunc, size, len(b))
	}
	b = b[:size]

	off := 0
	take := func(n int) ([]byte, error) {
		if off+n > len(b) {
			return nil, fmt.Errorf("%w at offset %d", errSignatureDataTrunc, off)
		}
		out := b[off : off+n]
		off += n
		return out, nil
	}
	var err error
	if q.Signature, err = take(p256SigSize); err != nil {
		return err
	}
	if q.AttestationKey, err = take(p256SigSize); err != nil {
		return err
	}
	if q.QEReport, err = take(reportBodySize); err != nil {
		return err
	}
	if q.QEReportSignature, err = take(p256SigSize); err != nil {
		return err
	}
	authSize, err := take(2)
	if err != nil {
		return err
	}
	if q.QEAuthData, err = take(int(binary.LittleEndian.Uint16(authSize))); err != nil {
		return err
	}
	certType, err := take(2)
	if err != nil {
		return err
	}
	q.CertDataType = binary.LittleEndian.Uint16(certType)
	certSize, err := take(4)
	if err != nil {
		return err
	}
	if q.CertData, err = take(int(binary.LittleEndian.Uint32(certSize))); err != nil {
		return err
	}
	if q.CertDataType == certDataTypePCKCertChain {
		q.CertChain = parsePEMCertChainToStrings(q.CertData)
	}
	return nil
}

// QEEnclaveReport parses the quoting enclave report carried in the signature data.
func (q *SGXQuote) QEEnclaveReport() (EnclaveReport, bool) {
	if len(q.QEReport) != reportBodySize {
		return EnclaveReport{}, false
	}
	return parseReportBody(q.QEReport), true
}

// parsePEMCertChainToStrings splits concatenated PEM certificates.
func parsePEMCertChainToStrings(data []byte) []string {
	var (
		certs       []string
		rest        = data
		beginMarker = []byte("-----BEGIN CERTIFICATE-----")
		endMarker   = []byte("-----END CERTIFICATE-----")
	)
	for len(rest) > 0 {
		beginIdx := bytes.Index(rest, beginMarker)
		if beginIdx == -1 {
			break
		}
		endIdx := bytes.Index(rest[beginIdx:], endMarker)
		if endIdx == -1 {
			break
		}
		certEnd := beginIdx + endIdx + len(endMarker)
		certs = append(certs, string(rest[beginIdx:certEnd]))
		rest = rest[certEnd:]
	}
	return certs
}
