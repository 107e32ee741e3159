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

package trinity

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	voteDomain   = []byte("trinity-vote")
	verifyDomain = []byte("trinity-verify")
)

// VoteHash is the digest a validator signs to approve opID for role.
func VoteHash(opID common.Hash, role core.ChainRole) common.Hash {
	return crypto.Keccak256Hash(voteDomain, opID.Bytes(), []byte{byte(role)})
}

// SignVote signs the vote digest with a validator wallet key.
func SignVote(key *ecdsa.PrivateKey, opID common.Hash, role core.ChainRole) ([]byte, error) {
	return crypto.Sign(VoteHash(opID, role).Bytes(), key)
}

// VerificationHash is the digest a validator signs to vouch that dataHash
// was observed on chainID.
func VerificationHash(chainID uint64, dataHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(verifyDomain, binary.BigEndian.AppendUint64(nil, chainID), dataHash.Bytes())
}

// SignVerification signs the verification digest with a validator wallet key.
func SignVerification(key *ecdsa.PrivateKey, chainID uint64, dataHash common.Hash) ([]byte, error) {
	return crypto.Sign(VerificationHash(chainID, dataHash).Bytes(), key)
}

// RecoverSigner returns the address that produced sig over digest. Both the
// raw recovery id and the 27/28 form are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", core.ErrInvalidSignature, len(sig))
	}
	s := common.CopyBytes(sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
