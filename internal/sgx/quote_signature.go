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
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
)

var (
	errNoSignatureData     = errors.New("quote carries no signature data")
	errQuoteSignature      = errors.New("quote signature verification failed")
	errQEReportSignature   = errors.New("QE report signature verification failed")
	errQEReportDataBinding = errors.New("QE report data does not bind attestation key")
	errPCKKeyType          = errors.New("PCK certificate key is not ECDSA P-256")
)

// VerifyQuoteSignature checks the three signatures that tie a DCAP quote to
// its PCK certificate:
//
//  1. the attestation key signs header and report body,
//  2. the QE report data commits to sha256(attestation key || QE auth data),
//  3. the PCK leaf key signs the QE report.
//
// The PCK chain itself is checked separately with VerifyCertChain.
func VerifyQuoteSignature(q *SGXQuote, pck *x509.Certificate) error {
	if !q.HasSignatureData() {
		return errNoSignatureData
	}
	attKey, err := rawP256PublicKey(q.AttestationKey)
	if err != nil {
		return fmt.Errorf("%w: %v", errQuoteSignature, err)
	}
	digest := sha256.Sum256(q.Signed())
	if !verifyRawSignature(attKey, digest[:], q.Signature) {
		return errQuoteSignature
	}

	qe, ok := q.QEEnclaveReport()
	if !ok {
		return errQEReportDataBinding
	}
	binding := sha256.New()
	binding.Write(q.AttestationKey)
	binding.Write(q.QEAuthData)
	if !ConstantTimeCompare(qe.ReportData[:32], binding.Sum(nil)) {
		return errQEReportDataBinding
	}

	pckKey, ok := pck.PublicKey.(*ecdsa.PublicKey)
	if !ok || pckKey.Curve != elliptic.P256() {
		return errPCKKeyType
	}
	digest = sha256.Sum256(q.QEReport)
	if !verifyRawSignature(pckKey, digest[:], q.QEReportSignature) {
		return errQEReportSignature
	}
	return nil
}

// rawP256PublicKey decodes an uncompressed x||y point without the 0x04 tag.
func rawP256PublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != p256SigSize {
		return nil, fmt.Errorf("attestation key length %d", len(raw))
	}
	x := new(big.Int).SetBytes(raw[:p256CoordSize])
	y := new(big.Int).SetBytes(raw[p256CoordSize:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, errors.New("attestation key not on P-256 curve")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// verifyRawSignature checks a fixed-width r||s signature.
func verifyRawSignature(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	half := len(sig) / 2
	if half == 0 || len(sig)%2 != 0 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	return ecdsa.Verify(pub, digest, r, s)
}
