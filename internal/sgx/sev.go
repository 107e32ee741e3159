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
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// AMD SEV-SNP attestation report layout (firmware ABI, report version 2+).
const (
	SEVReportSize = 0x4A0

	sevVersion         = 0x00
	sevGuestSVN        = 0x04
	sevPolicy          = 0x08
	sevFamilyID        = 0x10
	sevImageID         = 0x20
	sevVMPL            = 0x30
	sevSignatureAlgo   = 0x34
	sevCurrentTCB      = 0x38
	sevPlatformInfo    = 0x40
	sevReportData      = 0x50
	sevMeasurement     = 0x90
	sevHostData        = 0xC0
	sevIDKeyDigest     = 0xE0
	sevAuthorKeyDigest = 0x110
	sevReportID        = 0x140
	sevReportedTCB     = 0x180
	sevChipID          = 0x1A0
	sevSignature       = 0x2A0

	sevSigComponentSize = 72 // r and s, little endian, zero extended
	sevP384Size         = 48

	// SEVSignatureAlgoECDSAP384 is the only algorithm defined by the ABI.
	SEVSignatureAlgoECDSAP384 uint32 = 1
)

var (
	errSEVReportSize    = errors.New("SEV-SNP report has wrong size")
	errSEVVersion       = errors.New("unsupported SEV-SNP report version")
	errSEVSignatureAlgo = errors.New("unsupported SEV-SNP signature algorithm")
	errSEVSignature     = errors.New("SEV-SNP report signature verification failed")
	errSEVVCEKKeyType   = errors.New("VCEK key is not ECDSA P-384")
)

// TCBVersion is the packed SNP TCB version.
type TCBVersion uint64

func (v TCBVersion) BootLoader() uint8 { return uint8(v) }
func (v TCBVersion) TEE() uint8        { return uint8(v >> 8) }
func (v TCBVersion) SNP() uint8        { return uint8(v >> 48) }
func (v TCBVersion) Microcode() uint8  { return uint8(v >> 56) }

// SEVReport is a parsed AMD SEV-SNP attestation report.
type SEVReport struct {
	Version         uint32
	GuestSVN        uint32
	Policy          uint64
	FamilyID        [16]byte
	ImageID         [16]byte
	VMPL            uint32
	SignatureAlgo   uint32
	CurrentTCB      TCBVersion
	PlatformInfo    uint64
	ReportData      [64]byte
	Measurement     [48]byte
	HostData        [32]byte
	IDKeyDigest     [48]byte
	AuthorKeyDigest [48]byte
	ReportID        [32]byte
	ReportedTCB     TCBVersion
	ChipID          [64]byte
	SignatureR      []byte // big endian, 48 bytes
	SignatureS      []byte // big endian, 48 bytes

	raw []byte
}

// Signed returns the bytes covered by the report signature.
func (r *SEVReport) Signed() []byte {
	return r.raw[:sevSignature]
}

// Raw returns the full report bytes.
func (r *SEVReport) Raw() []byte {
	return r.raw
}

// ParseSEVReport parses a 1184-byte SEV-SNP attestation report.
func ParseSEVReport(report []byte) (*SEVReport, error) {
	if len(report) != SEVReportSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", errSEVReportSize, len(report), SEVReportSize)
	}
	le := binary.LittleEndian
	r := &SEVReport{raw: append([]byte(nil), report...)}
	r.Version = le.Uint32(report[sevVersion:])
	if r.Version < 2 {
		return nil, fmt.Errorf("%w: %d", errSEVVersion, r.Version)
	}
	r.GuestSVN = le.Uint32(report[sevGuestSVN:])
	r.Policy = le.Uint64(report[sevPolicy:])
	copy(r.FamilyID[:], report[sevFamilyID:])
	copy(r.ImageID[:], report[sevImageID:])
	r.VMPL = le.Uint32(report[sevVMPL:])
	r.SignatureAlgo = le.Uint32(report[sevSignatureAlgo:])
	if r.SignatureAlgo != SEVSignatureAlgoECDSAP384 {
		return nil, fmt.Errorf("%w: %d", errSEVSignatureAlgo, r.SignatureAlgo)
	}
	r.CurrentTCB = TCBVersion(le.Uint64(report[sevCurrentTCB:]))
	r.PlatformInfo = le.Uint64(report[sevPlatformInfo:])
	copy(r.ReportData[:], report[sevReportData:])
	copy(r.Measurement[:], report[sevMeasurement:])
	copy(r.HostData[:], report[sevHostData:])
	copy(r.IDKeyDigest[:], report[sevIDKeyDigest:])
	copy(r.AuthorKeyDigest[:], report[sevAuthorKeyDigest:])
	copy(r.ReportID[:], report[sevReportID:])
	r.ReportedTCB = TCBVersion(le.Uint64(report[sevReportedTCB:]))
	copy(r.ChipID[:], report[sevChipID:])

	sig := report[sevSignature:]
	r.SignatureR = reverse(sig[:sevP384Size])
	r.SignatureS = reverse(sig[sevSigComponentSize : sevSigComponentSize+sevP384Size])
	return r, nil
}

// VerifySEVReportSignature checks the ECDSA P-384 signature of the VCEK over
// the report.
func VerifySEVReportSignature(r *SEVReport, vcek *x509.Certificate) error {
	pub, ok := vcek.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return errSEVVCEKKeyType
	}
	digest := sha512.Sum384(r.Signed())
	if !ecdsa.Verify(pub, digest[:], new(big.Int).SetBytes(r.SignatureR), new(big.Int).SetBytes(r.SignatureS)) {
		return errSEVSignature
	}
	return nil
}

// EncodeSEVSignature writes r and s into the report's signature field in
// the little-endian layout the firmware uses.
func EncodeSEVSignature(report []byte, r, s *big.Int) {
	sig := report[sevSignature:]
	for i := range sig[:2*sevSigComponentSize] {
		sig[i] = 0
	}
	copy(sig[:sevP384Size], reverse(r.FillBytes(make([]byte, sevP384Size))))
	copy(sig[sevSigComponentSize:sevSigComponentSize+sevP384Size], reverse(s.FillBytes(make([]byte, sevP384Size))))
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
