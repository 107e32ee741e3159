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

package vault

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	proposeDomain = []byte("trinity-vault-propose")
	approveDomain = []byte("trinity-vault-approve")
	cancelDomain  = []byte("trinity-vault-cancel")
)

// ProposeHash is the digest a signer signs to propose payload.
func ProposeHash(payload *Payload) (common.Hash, error) {
	d := newPayloadData(payload)
	enc, err := rlp.EncodeToBytes(&d)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(proposeDomain, enc), nil
}

// ApprovalHash is the digest a signer signs to approve proposal txID.
func ApprovalHash(txID common.Hash) common.Hash {
	return crypto.Keccak256Hash(approveDomain, txID.Bytes())
}

// CancelHash is the digest a signer signs to cancel proposal txID.
func CancelHash(txID common.Hash) common.Hash {
	return crypto.Keccak256Hash(cancelDomain, txID.Bytes())
}

// SignProposal signs the propose digest of payload.
func SignProposal(key *ecdsa.PrivateKey, payload *Payload) ([]byte, error) {
	digest, err := ProposeHash(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest.Bytes(), key)
}

// SignApproval signs the approval digest of txID.
func SignApproval(key *ecdsa.PrivateKey, txID common.Hash) ([]byte, error) {
	return crypto.Sign(ApprovalHash(txID).Bytes(), key)
}

// SignCancel signs the cancel digest of txID.
func SignCancel(key *ecdsa.PrivateKey, txID common.Hash) ([]byte, error) {
	return crypto.Sign(CancelHash(txID).Bytes(), key)
}

// checkSignature fails unless sig over digest was produced by signer.
func checkSignature(digest common.Hash, signer common.Address, sig []byte) error {
	recovered, err := trinity.RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if recovered != signer {
		return fmt.Errorf("%w: signed by %s, expected %s", core.ErrInvalidSignature, recovered, signer)
	}
	return nil
}
