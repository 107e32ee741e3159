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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// MockAttestor issues correctly signed SGX quotes and SEV-SNP reports under a
// throwaway vendor PKI, for tests and local demo networks. Every exported
// field may be changed between calls.
type MockAttestor struct {
	// SGX identity
	MRENCLAVE [32]byte
	MRSIGNER  [32]byte
	ISVProdID uint16
	ISVSVN    uint16
	CPUSVN    [16]byte
	QESVN     uint16
	PCESVN    uint16
	FMSPC     [6]byte

	// SEV-SNP identity
	Measurement [48]byte
	IDKeyDigest [48]byte
	GuestSVN    uint32
	VMPL        uint32
	ChipID      [64]byte
	ReportedTCB TCBVersion
	Product     string

	rootKey, tcbKey, pckKey, attKey *ecdsa.PrivateKey
	root, tcbSigner, pck            *x509.Certificate

	arkKey, askKey, vcekKey *ecdsa.PrivateKey
	ark, ask, vcek          *x509.Certificate
}

var (
	mockNotBefore = time.Unix(0, 0).UTC()
	mockNotAfter  = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)
)

// NewMockAttestor creates a mock attestor with deterministic identities and
// fresh keys.
func NewMockAttestor() (*MockAttestor, error) {
	m := &MockAttestor{
		ISVSVN:      1,
		QESVN:       1,
		PCESVN:      1,
		GuestSVN:    1,
		FMSPC:       [6]byte{0x00, 0x90, 0x6e, 0xd5, 0x00, 0x00},
		ReportedTCB: TCBVersion(0x0800000000000103),
		Product:     "Milan",
	}
	for i := range m.MRENCLAVE {
		m.MRENCLAVE[i] = byte(i)
		m.MRSIGNER[i] = byte(i + 32)
	}
	for i := range m.Measurement {
		m.Measurement[i] = byte(0x80 + i)
	}
	for i := range m.ChipID {
		m.ChipID[i] = byte(i * 3)
	}
	for i := range m.CPUSVN {
		m.CPUSVN[i] = 2
	}

	var err error
	if m.rootKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, err
	}
	if m.tcbKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, err
	}
	if m.pckKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, err
	}
	if m.attKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, err
	}
	if m.arkKey, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
		return nil, err
	}
	if m.askKey, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
		return nil, err
	}
	if m.vcekKey, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
		return nil, err
	}

	if m.root, err = issue(1, "Mock SGX Root CA", true, nil, &m.rootKey.PublicKey, nil, m.rootKey); err != nil {
		return nil, err
	}
	if m.tcbSigner, err = issue(2, "Mock SGX TCB Signing", false, nil, &m.tcbKey.PublicKey, m.root, m.rootKey); err != nil {
		return nil, err
	}
	fmspc, err := asn1.Marshal(m.FMSPC[:])
	if err != nil {
		return nil, err
	}
	sgxExt, err := asn1.Marshal([]sgxExtension{{ID: OIDSGXFMSPC, Value: asn1.RawValue{FullBytes: fmspc}}})
	if err != nil {
		return nil, err
	}
	ext := []pkix.Extension{{Id: OIDSGXExtensions, Value: sgxExt}}
	if m.pck, err = issue(3, "Mock SGX PCK Certificate", false, ext, &m.pckKey.PublicKey, m.root, m.rootKey); err != nil {
		return nil, err
	}

	if m.ark, err = issue(10, "ARK-Milan", true, nil, &m.arkKey.PublicKey, nil, m.arkKey); err != nil {
		return nil, err
	}
	if m.ask, err = issue(11, "SEV-Milan", true, nil, &m.askKey.PublicKey, m.ark, m.arkKey); err != nil {
		return nil, err
	}
	if m.vcek, err = issue(12, "SEV-VCEK", false, nil, &m.vcekKey.PublicKey, m.ask, m.askKey); err != nil {
		return nil, err
	}
	return m, nil
}

func issue(serial int64, cn string, ca bool, ext []pkix.Extension, pub crypto.PublicKey, parent *x509.Certificate, signer crypto.Signer) (*x509.Certificate, error) {
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             mockNotBefore,
		NotAfter:              mockNotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  ca,
		ExtraExtensions:       ext,
	}
	if ca {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate %q: %w", cn, err)
	}
	return x509.ParseCertificate(der)
}

// GenerateQuote generates a signed DCAP v3 quote carrying reportData.
func (m *MockAttestor) GenerateQuote(reportData [64]byte) ([]byte, error) {
	quote := make([]byte, quoteSignedSize)
	le := binary.LittleEndian
	le.PutUint16(quote[0:], 3)
	le.PutUint16(quote[2:], AttestationKeyECDSAP256)
	le.PutUint16(quote[8:], m.QESVN)
	le.PutUint16(quote[10:], m.PCESVN)

	body := quote[quoteHeaderSize:]
	copy(body[bodyCPUSVN:], m.CPUSVN[:])
	copy(body[bodyMRENCLAVE:], m.MRENCLAVE[:])
	copy(body[bodyMRSIGNER:], m.MRSIGNER[:])
	le.PutUint16(body[bodyISVProdID:], m.ISVProdID)
	le.PutUint16(body[bodyISVSVN:], m.ISVSVN)
	copy(body[bodyReportData:], reportData[:])

	attKey := make([]byte, p256SigSize)
	m.attKey.PublicKey.X.FillBytes(attKey[:p256CoordSize])
	m.attKey.PublicKey.Y.FillBytes(attKey[p256CoordSize:])
	authData := []byte("mock-qe-auth")

	qeReport := make([]byte, reportBodySize)
	le.PutUint16(qeReport[bodyISVSVN:], m.QESVN)
	binding := sha256.Sum256(append(append([]byte{}, attKey...), authData...))
	copy(qeReport[bodyReportData:], binding[:])

	quoteDigest := sha256.Sum256(quote)
	quoteSig, err := signRaw(m.attKey, quoteDigest[:])
	if err != nil {
		return nil, err
	}
	qeDigest := sha256.Sum256(qeReport)
	qeSig, err := signRaw(m.pckKey, qeDigest[:])
	if err != nil {
		return nil, err
	}
	certData := append(pemEncode(m.pck), pemEncode(m.root)...)

	var sig []byte
	sig = append(sig, quoteSig...)
	sig = append(sig, attKey...)
	sig = append(sig, qeReport...)
	sig = append(sig, qeSig...)
	sig = le.AppendUint16(sig, uint16(len(authData)))
	sig = append(sig, authData...)
	sig = le.AppendUint16(sig, certDataTypePCKCertChain)
	sig = le.AppendUint32(sig, uint32(len(certData)))
	sig = append(sig, certData...)

	quote = le.AppendUint32(quote, uint32(len(sig)))
	return append(quote, sig...), nil
}

// GenerateSEVReport generates a VCEK-signed SEV-SNP report carrying reportData.
func (m *MockAttestor) GenerateSEVReport(reportData [64]byte) ([]byte, error) {
	report := make([]byte, SEVReportSize)
	le := binary.LittleEndian
	le.PutUint32(report[sevVersion:], 2)
	le.PutUint32(report[sevGuestSVN:], m.GuestSVN)
	le.PutUint64(report[sevPolicy:], 0x30000)
	le.PutUint32(report[sevVMPL:], m.VMPL)
	le.PutUint32(report[sevSignatureAlgo:], SEVSignatureAlgoECDSAP384)
	le.PutUint64(report[sevCurrentTCB:], uint64(m.ReportedTCB))
	copy(report[sevReportData:], reportData[:])
	copy(report[sevMeasurement:], m.Measurement[:])
	copy(report[sevIDKeyDigest:], m.IDKeyDigest[:])
	le.PutUint64(report[sevReportedTCB:], uint64(m.ReportedTCB))
	copy(report[sevChipID:], m.ChipID[:])

	digest := sha512.Sum384(report[:sevSignature])
	r, s, err := ecdsa.Sign(rand.Reader, m.vcekKey, digest[:])
	if err != nil {
		return nil, err
	}
	EncodeSEVSignature(report, r, s)
	return report, nil
}

// SignedTCBInfo returns a PCS-style TCB info response for the mock FMSPC,
// signed by the mock TCB signing key.
func (m *MockAttestor) SignedTCBInfo(issued time.Time, levels ...TCBLevel) ([]byte, error) {
	info := TCBInfo{
		ID:         "SGX",
		Version:    3,
		IssueDate:  issued.UTC(),
		NextUpdate: issued.Add(30 * 24 * time.Hour).UTC(),
		FMSPC:      hex.EncodeToString(m.FMSPC[:]),
		PCEID:      "0000",
		TCBEvalNum: 17,
		TCBLevels:  levels,
	}
	body, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(body)
	sig, err := signRaw(m.tcbKey, digest[:])
	if err != nil {
		return nil, err
	}
	return json.Marshal(TCBInfoResponse{Body: body, Signature: hex.EncodeToString(sig)})
}

// Level builds a TCB level with every CPUSVN component set to svn.
func Level(svn uint8, pcesvn uint16, status string) TCBLevel {
	var level TCBLevel
	level.TCB.SGXTCBComponents = make([]TCBComponent, 16)
	for i := range level.TCB.SGXTCBComponents {
		level.TCB.SGXTCBComponents[i].SVN = svn
	}
	level.TCB.PCESVN = pcesvn
	level.TCBDate = "2024-01-01T00:00:00Z"
	level.TCBStatus = status
	return level
}

// IntelRootPEM returns the mock Intel root certificate.
func (m *MockAttestor) IntelRootPEM() []byte { return pemEncode(m.root) }

// TCBIssuerChainPEM returns the TCB signing chain PCS sends in its response header.
func (m *MockAttestor) TCBIssuerChainPEM() []byte {
	return append(pemEncode(m.tcbSigner), pemEncode(m.root)...)
}

// AMDRootPEM returns the mock ARK.
func (m *MockAttestor) AMDRootPEM() []byte { return pemEncode(m.ark) }

// AMDCertChainPEM returns ASK then ARK, as KDS serves them.
func (m *MockAttestor) AMDCertChainPEM() []byte {
	return append(pemEncode(m.ask), pemEncode(m.ark)...)
}

// VCEKDER returns the mock VCEK in DER form, as KDS serves it.
func (m *MockAttestor) VCEKDER() []byte { return m.vcek.Raw }

func signRaw(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, err
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

func pemEncode(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
