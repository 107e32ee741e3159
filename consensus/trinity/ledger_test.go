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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verify records a verification signed by the validator holding role.
func (f *fixture) verify(t *testing.T, chainID uint64, hash common.Hash, role core.ChainRole) (*VerificationRecord, error) {
	t.Helper()
	v := f.validators[role]
	sig, err := SignVerification(v.key, chainID, hash)
	require.NoError(t, err)
	return f.ledger.RecordVerification(context.Background(), chainID, hash, v.id, sig)
}

func TestLedgerQuorum(t *testing.T) {
	f := newFixture(t)
	hash := common.HexToHash("0xfeed")
	const chainID = 42161

	assert.False(t, f.ledger.IsVerified(chainID, hash))
	_, err := f.ledger.Get(chainID, hash)
	require.ErrorIs(t, err, ErrRecordNotFound)

	rec, err := f.verify(t, chainID, hash, core.RoleArbitrum)
	require.NoError(t, err)
	assert.False(t, rec.IsVerified)
	require.Len(t, rec.Signers, 1)
	assert.Equal(t, core.RoleArbitrum, rec.Signers[0].Role)
	assert.Equal(t, f.validators[core.RoleArbitrum].addr, rec.Signers[0].Wallet)

	// Idempotent per signer.
	rec, err = f.verify(t, chainID, hash, core.RoleArbitrum)
	require.NoError(t, err)
	assert.Len(t, rec.Signers, 1)
	assert.False(t, f.ledger.IsVerified(chainID, hash))

	f.clock.Add(time.Minute)
	rec, err = f.verify(t, chainID, hash, core.RoleTON)
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	assert.Equal(t, testNow.Add(time.Minute), rec.VerifiedAt)
	assert.True(t, f.ledger.IsVerified(chainID, hash))

	// Frozen once verified.
	frozen, err := f.verify(t, chainID, hash, core.RoleSolana)
	require.NoError(t, err)
	assert.Equal(t, rec, frozen)

	// Other chains and hashes are independent.
	assert.False(t, f.ledger.IsVerified(chainID+1, hash))
	assert.False(t, f.ledger.IsVerified(chainID, common.HexToHash("0xbeef")))
}

func TestLedgerStaysVerifiedAfterSignersLapse(t *testing.T) {
	f := newFixture(t)
	hash := common.HexToHash("0x01")

	_, err := f.verify(t, 1, hash, core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.verify(t, 1, hash, core.RoleSolana)
	require.NoError(t, err)

	f.clock.Add(48 * time.Hour)
	assert.True(t, f.ledger.IsVerified(1, hash))
}

func TestLedgerRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0x02")

	sig, err := SignVerification(f.validators[core.RoleArbitrum].key, 1, hash)
	require.NoError(t, err)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, "ghost", sig)
	assert.ErrorIs(t, err, core.ErrNotFound)

	standby := f.addValidator(t, "standby", core.RoleSolana, false)
	sig, err = SignVerification(standby.key, 1, hash)
	require.NoError(t, err)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, "standby", sig)
	assert.ErrorIs(t, err, core.ErrUnauthorizedSigner)

	f.clock.Add(25 * time.Hour)
	_, err = f.verify(t, 1, hash, core.RoleArbitrum)
	assert.ErrorIs(t, err, core.ErrAttestationStale)

	_, err = f.ledger.Get(1, hash)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLedgerRejectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0x04")
	arbitrum := f.validators[core.RoleArbitrum]

	// Signed by the wrong wallet.
	sig, err := SignVerification(f.validators[core.RoleSolana].key, 1, hash)
	require.NoError(t, err)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, sig)
	require.ErrorIs(t, err, core.ErrInvalidSignature)
	assert.Equal(t, core.ClassSecurity, core.Classify(err))

	// Signed by the right wallet over another fact.
	sig, err = SignVerification(arbitrum.key, 2, hash)
	require.NoError(t, err)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, sig)
	require.ErrorIs(t, err, core.ErrInvalidSignature)

	_, err = f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, nil)
	require.ErrorIs(t, err, core.ErrInvalidSignature)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, make([]byte, 65))
	require.ErrorIs(t, err, core.ErrInvalidSignature)

	// A vote signature is not a verification signature.
	sig, err = SignVote(arbitrum.key, hash, core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, sig)
	require.ErrorIs(t, err, core.ErrInvalidSignature)

	_, err = f.ledger.Get(1, hash)
	require.ErrorIs(t, err, ErrRecordNotFound)

	// The 27/28 recovery id form is accepted.
	sig, err = SignVerification(arbitrum.key, 1, hash)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	rec, err := f.ledger.RecordVerification(ctx, 1, hash, arbitrum.id, sig)
	require.NoError(t, err)
	assert.Len(t, rec.Signers, 1)
}

func TestLedgerDropsLapsedSigners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0x05")

	_, err := f.verify(t, 1, hash, core.RoleArbitrum)
	require.NoError(t, err)
	require.NoError(t, f.registry.Deactivate(ctx, "arbitrum"))

	// Past every attestation; only solana re-attests.
	f.clock.Add(25 * time.Hour)
	f.attest(t, core.RoleSolana, 24*time.Hour)
	rec, err := f.verify(t, 1, hash, core.RoleSolana)
	require.NoError(t, err)
	assert.False(t, rec.IsVerified)
	require.Len(t, rec.Signers, 1)
	assert.Equal(t, core.RoleSolana, rec.Signers[0].Role)
	assert.False(t, f.ledger.IsVerified(1, hash))

	// A currently attested second role completes the record.
	f.attest(t, core.RoleTON, 24*time.Hour)
	rec, err = f.verify(t, 1, hash, core.RoleTON)
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	assert.Len(t, rec.Signers, 2)
}

func TestLedgerLapsedSignerSignsAgain(t *testing.T) {
	f := newFixture(t)
	hash := common.HexToHash("0x06")

	f.attest(t, core.RoleArbitrum, 10*time.Minute)
	_, err := f.verify(t, 1, hash, core.RoleArbitrum)
	require.NoError(t, err)

	f.clock.Add(15 * time.Minute)
	rec, err := f.verify(t, 1, hash, core.RoleSolana)
	require.NoError(t, err)
	assert.False(t, rec.IsVerified)
	require.Len(t, rec.Signers, 1)

	f.attest(t, core.RoleArbitrum, time.Hour)
	rec, err = f.verify(t, 1, hash, core.RoleArbitrum)
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
}

func TestLedgerConcurrentSigners(t *testing.T) {
	f := newFixture(t)
	hash := common.HexToHash("0x03")

	sigs := make(map[core.ChainRole][]byte)
	for _, role := range core.AllRoles() {
		sig, err := SignVerification(f.validators[role].key, 7, hash)
		require.NoError(t, err)
		sigs[role] = sig
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, role := range core.AllRoles() {
			wg.Add(1)
			go func(v *testValidator) {
				defer wg.Done()
				_, err := f.ledger.RecordVerification(context.Background(), 7, hash, v.id, sigs[v.role])
				assert.NoError(t, err)
			}(f.validators[role])
		}
	}
	wg.Wait()

	rec, err := f.ledger.Get(7, hash)
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	// Signing stops at the second distinct role.
	assert.Len(t, rec.Signers, 2)
}
