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

package governance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, fleet int) (*Registry, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testStart)
	r, err := NewRegistry(&RegistryConfig{FleetSizePerRole: fleet}, storage.NewMemoryDatabase(), clk)
	require.NoError(t, err)
	return r, clk
}

func walletOf(n int) common.Address {
	return common.BytesToAddress([]byte{0xaa, byte(n)})
}

func testValidator(n int, role core.ChainRole, active bool) *Validator {
	return &Validator{
		ID:            fmt.Sprintf("validator-%d", n),
		WalletAddress: walletOf(n),
		ChainRole:     role,
		HardwareType:  core.TEESGX,
		IsActive:      active,
	}
}

func successResult(addr common.Address, now time.Time) *attestation.Result {
	return &attestation.Result{
		Success:           true,
		TEEType:           core.TEESGX,
		Measurement:       []byte{0x01, 0x02},
		Timestamp:         now,
		ValidatorBinding:  addr,
		ExpiresAt:         now.Add(24 * time.Hour),
		VerificationProof: common.HexToHash("0x1234"),
		TCBStatus:         attestation.TCBUpToDate,
		VerifiedAt:        now,
	}
}

func failedResult(addr common.Address, now time.Time) *attestation.Result {
	return &attestation.Result{
		TEEType:          core.TEESGX,
		ValidatorBinding: addr,
		VerifiedAt:       now,
		Error:            core.ErrAttestationStale.Error(),
	}
}

func TestNewRegistryRejectsZeroFleet(t *testing.T) {
	_, err := NewRegistry(&RegistryConfig{FleetSizePerRole: 0}, storage.NewMemoryDatabase(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleArbitrum, true)))

	v, err := r.GetByID("validator-1")
	require.NoError(t, err)
	assert.Equal(t, walletOf(1), v.WalletAddress)
	assert.Equal(t, core.RoleArbitrum, v.ChainRole)
	assert.Equal(t, ValidatorDraft, v.Status)
	assert.True(t, v.IsActive)
	assert.Equal(t, testStart, v.RegisteredAt)

	byWallet, err := r.GetByWallet(walletOf(1))
	require.NoError(t, err)
	assert.Equal(t, v, byWallet)

	_, err = r.GetByID("missing")
	assert.ErrorIs(t, err, ErrValidatorNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.GetByWallet(walletOf(99))
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(v *Validator)
	}{
		{"empty id", func(v *Validator) { v.ID = "" }},
		{"slash in id", func(v *Validator) { v.ID = "a/b" }},
		{"zero wallet", func(v *Validator) { v.WalletAddress = common.Address{} }},
		{"bad role", func(v *Validator) { v.ChainRole = 7 }},
		{"bad tee", func(v *Validator) { v.HardwareType = 9 }},
		{"bad status", func(v *Validator) { v.Status = 42 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testValidator(1, core.RoleSolana, false)
			tt.mutate(v)
			err := r.Register(ctx, v)
			require.ErrorIs(t, err, ErrInvalidValidator)
			assert.Equal(t, core.ClassInvalid, core.Classify(err))
		})
	}
	require.ErrorIs(t, r.Register(ctx, nil), ErrInvalidValidator)
}

func TestRegisterDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleArbitrum, false)))

	sameID := testValidator(2, core.RoleSolana, false)
	sameID.ID = "validator-1"
	assert.ErrorIs(t, r.Register(ctx, sameID), ErrValidatorExists)

	sameWallet := testValidator(3, core.RoleSolana, false)
	sameWallet.WalletAddress = walletOf(1)
	err := r.Register(ctx, sameWallet)
	assert.ErrorIs(t, err, ErrValidatorExists)
	assert.Equal(t, core.ClassConflict, core.Classify(err))
}

// failingDB rejects writes to one key.
type failingDB struct {
	storage.Database
	failKey []byte
}

func (db *failingDB) Put(key, value []byte) error {
	if db.failKey != nil && bytes.Equal(key, db.failKey) {
		return errors.New("disk full")
	}
	return db.Database.Put(key, value)
}

func TestRegisterFailureLeavesNoWalletIndex(t *testing.T) {
	ctx := context.Background()
	v := testValidator(1, core.RoleArbitrum, true)

	for _, key := range [][]byte{storage.HistoryKey(v.ID, 0), storage.ValidatorKey(v.ID), storage.WalletIndexKey(v.WalletAddress)} {
		db := &failingDB{Database: storage.NewMemoryDatabase(), failKey: key}
		r, err := NewRegistry(nil, db, nil)
		require.NoError(t, err)

		require.Error(t, r.Register(ctx, v))
		has, err := db.Has(storage.WalletIndexKey(v.WalletAddress))
		require.NoError(t, err)
		assert.False(t, has, "wallet index after failed write to %x", key)
		_, err = r.GetByID(v.ID)
		require.ErrorIs(t, err, ErrValidatorNotFound)

		// The wallet stays free for a retry.
		db.failKey = nil
		require.NoError(t, r.Register(ctx, v))
		got, err := r.GetByWallet(v.WalletAddress)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
	}
}

func TestFleetLimit(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleTON, true)))
	err := r.Register(ctx, testValidator(2, core.RoleTON, true))
	require.ErrorIs(t, err, core.ErrDuplicateRoleAssignment)

	// Inactive registration is fine, activation is not.
	require.NoError(t, r.Register(ctx, testValidator(2, core.RoleTON, false)))
	require.ErrorIs(t, r.Activate(ctx, "validator-2"), core.ErrDuplicateRoleAssignment)

	// Other roles are independent.
	require.NoError(t, r.Register(ctx, testValidator(3, core.RoleSolana, true)))

	require.NoError(t, r.Deactivate(ctx, "validator-1"))
	require.NoError(t, r.Activate(ctx, "validator-2"))

	v1, err := r.GetByID("validator-1")
	require.NoError(t, err)
	assert.False(t, v1.IsActive)
	v2, err := r.GetByID("validator-2")
	require.NoError(t, err)
	assert.True(t, v2.IsActive)

	// Activating an already active validator is a no-op.
	require.NoError(t, r.Activate(ctx, "validator-2"))
}

func TestFleetLimitLarger(t *testing.T) {
	r, _ := newTestRegistry(t, 2)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleArbitrum, true)))
	require.NoError(t, r.Register(ctx, testValidator(2, core.RoleArbitrum, true)))
	require.ErrorIs(t, r.Register(ctx, testValidator(3, core.RoleArbitrum, true)), core.ErrDuplicateRoleAssignment)
}

func TestConcurrentActivation(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, r.Register(ctx, testValidator(i, core.RoleSolana, false)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Activate(ctx, fmt.Sprintf("validator-%d", i)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestSetStatusTransitions(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleArbitrum, false)))

	err := r.SetStatus(ctx, "validator-1", ValidatorApproved)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, r.SetStatus(ctx, "validator-1", ValidatorSubmitted))
	require.NoError(t, r.SetStatus(ctx, "validator-1", ValidatorAttesting))
	require.NoError(t, r.SetStatus(ctx, "validator-1", ValidatorAttesting)) // unchanged
	require.NoError(t, r.SetStatus(ctx, "validator-1", ValidatorApproved))

	approved, err := r.ListByStatus(ValidatorApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "validator-1", approved[0].ID)

	require.ErrorIs(t, r.SetStatus(ctx, "missing", ValidatorSubmitted), ErrValidatorNotFound)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, ValidatorDraft.CanTransition(ValidatorSubmitted))
	assert.False(t, ValidatorDraft.CanTransition(ValidatorApproved))
	assert.True(t, ValidatorRejected.CanTransition(ValidatorAttesting))
	assert.False(t, ValidatorApproved.CanTransition(ValidatorDraft))

	s, err := ParseValidatorStatus("Attesting")
	require.NoError(t, err)
	assert.Equal(t, ValidatorAttesting, s)
	_, err = ParseValidatorStatus("retired")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestListByStatusOrdered(t *testing.T) {
	r, _ := newTestRegistry(t, 3)
	ctx := context.Background()
	for _, n := range []int{3, 1, 2} {
		require.NoError(t, r.Register(ctx, testValidator(n, core.RoleTON, false)))
	}
	drafts, err := r.ListByStatus(ValidatorDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, "validator-1", drafts[0].ID)
	assert.Equal(t, "validator-3", drafts[2].ID)

	none, err := r.ListByStatus(ValidatorApproved)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAttestation(t *testing.T) {
	r, clk := newTestRegistry(t, 1)
	ctx := context.Background()
	addr := walletOf(1)
	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleArbitrum, true)))

	assert.False(t, r.IsAttestationCurrentlyValid(addr))
	_, err := r.Attestation(addr)
	require.ErrorIs(t, err, ErrNoAttestation)

	require.NoError(t, r.RecordAttestation(ctx, successResult(addr, clk.Now())))
	assert.True(t, r.IsAttestationCurrentlyValid(addr))

	v, err := r.GetByID("validator-1")
	require.NoError(t, err)
	assert.Equal(t, ValidatorApproved, v.Status)

	stored, err := r.Attestation(addr)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.Equal(t, common.HexToHash("0x1234"), stored.VerificationProof)
	assert.Equal(t, testStart.Add(24*time.Hour), stored.ExpiresAt)

	// A failure does not overwrite a valid result.
	clk.Add(time.Hour)
	require.NoError(t, r.RecordAttestation(ctx, failedResult(addr, clk.Now())))
	assert.True(t, r.IsAttestationCurrentlyValid(addr))
	v, err = r.GetByID("validator-1")
	require.NoError(t, err)
	assert.Equal(t, ValidatorApproved, v.Status)

	// Once the result lapses a failure rejects the validator.
	clk.Add(24 * time.Hour)
	assert.False(t, r.IsAttestationCurrentlyValid(addr))
	require.NoError(t, r.RecordAttestation(ctx, failedResult(addr, clk.Now())))
	v, err = r.GetByID("validator-1")
	require.NoError(t, err)
	assert.Equal(t, ValidatorRejected, v.Status)
	stored, err = r.Attestation(addr)
	require.NoError(t, err)
	assert.False(t, stored.Success)
	assert.Equal(t, core.ErrAttestationStale.Error(), stored.Error)

	// A fresh success re-approves.
	require.NoError(t, r.RecordAttestation(ctx, successResult(addr, clk.Now())))
	assert.True(t, r.IsAttestationCurrentlyValid(addr))
}

func TestRecordAttestationUnknownWallet(t *testing.T) {
	r, clk := newTestRegistry(t, 1)
	err := r.RecordAttestation(context.Background(), successResult(walletOf(5), clk.Now()))
	require.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestHistory(t *testing.T) {
	r, clk := newTestRegistry(t, 1)
	ctx := context.Background()
	addr := walletOf(1)

	require.NoError(t, r.Register(ctx, testValidator(1, core.RoleSolana, false)))
	clk.Add(time.Minute)
	require.NoError(t, r.SetStatus(ctx, "validator-1", ValidatorSubmitted))
	require.NoError(t, r.Activate(ctx, "validator-1"))
	require.NoError(t, r.RecordAttestation(ctx, successResult(addr, clk.Now())))
	require.NoError(t, r.RecordAttestation(ctx, failedResult(addr, clk.Now())))
	require.NoError(t, r.Deactivate(ctx, "validator-1"))
	require.NoError(t, r.Deactivate(ctx, "validator-1")) // no-op, no event

	events, err := r.History("validator-1")
	require.NoError(t, err)
	kinds := make([]EventKind, len(events))
	for i, e := range events {
		assert.Equal(t, uint64(i), e.Seq)
		kinds[i] = e.Kind
	}
	assert.Equal(t, []EventKind{
		EventRegistered,
		EventStatusChanged,
		EventActivated,
		EventAttested,
		EventAttestationFailed,
		EventDeactivated,
	}, kinds)

	assert.Equal(t, testStart, events[0].At)
	assert.Equal(t, testStart.Add(time.Minute), events[1].At)
	assert.Equal(t, "draft -> submitted", events[1].Detail)
	assert.Equal(t, common.HexToHash("0x1234"), events[3].Proof)
	assert.False(t, events[5].IsActive)

	_, err = r.History("missing")
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestHistoryDoesNotMixPrefixedIDs(t *testing.T) {
	r, _ := newTestRegistry(t, 2)
	ctx := context.Background()
	a := testValidator(1, core.RoleTON, false)
	a.ID = "node"
	b := testValidator(2, core.RoleTON, false)
	b.ID = "node-b"
	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, r.Register(ctx, b))
	require.NoError(t, r.Activate(ctx, "node-b"))

	events, err := r.History("node")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRegistryPersistsAcrossInstances(t *testing.T) {
	db := storage.NewMemoryDatabase()
	clk := clock.NewMock()
	clk.Set(testStart)
	ctx := context.Background()

	r1, err := NewRegistry(nil, db, clk)
	require.NoError(t, err)
	require.NoError(t, r1.Register(ctx, testValidator(1, core.RoleArbitrum, true)))
	require.NoError(t, r1.RecordAttestation(ctx, successResult(walletOf(1), clk.Now())))

	r2, err := NewRegistry(nil, db, clk)
	require.NoError(t, err)
	assert.True(t, r2.IsAttestationCurrentlyValid(walletOf(1)))
	require.ErrorIs(t, r2.Register(ctx, testValidator(2, core.RoleArbitrum, true)), core.ErrDuplicateRoleAssignment)
}
