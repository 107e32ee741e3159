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
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testValidator struct {
	id   string
	role core.ChainRole
	key  *ecdsa.PrivateKey
	addr common.Address
}

type fixture struct {
	clock      *clock.Mock
	db         storage.Database
	registry   *governance.Registry
	engine     *Engine
	ledger     *Ledger
	validators map[core.ChainRole]*testValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testNow)
	db := storage.NewMemoryDatabase()
	registry, err := governance.NewRegistry(nil, db, clk)
	require.NoError(t, err)
	engine, err := NewEngine(nil, registry, db, clk)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	f := &fixture{
		clock:      clk,
		db:         db,
		registry:   registry,
		engine:     engine,
		ledger:     NewLedger(registry, db, clk),
		validators: make(map[core.ChainRole]*testValidator),
	}
	for _, role := range core.AllRoles() {
		f.addValidator(t, role.String(), role, true)
		f.attest(t, role, 24*time.Hour)
	}
	return f
}

func (f *fixture) addValidator(t *testing.T, id string, role core.ChainRole, active bool) *testValidator {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	v := &testValidator{id: id, role: role, key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
	require.NoError(t, f.registry.Register(context.Background(), &governance.Validator{
		ID:            id,
		WalletAddress: v.addr,
		ChainRole:     role,
		HardwareType:  core.TEESGX,
		IsActive:      active,
	}))
	if active {
		f.validators[role] = v
	}
	return v
}

func (f *fixture) attest(t *testing.T, role core.ChainRole, validity time.Duration) {
	t.Helper()
	v := f.validators[role]
	now := f.clock.Now()
	require.NoError(t, f.registry.RecordAttestation(context.Background(), &attestation.Result{
		Success:          true,
		TEEType:          core.TEESGX,
		Timestamp:        now,
		ValidatorBinding: v.addr,
		ExpiresAt:        now.Add(validity),
		VerifiedAt:       now,
	}))
}

func (f *fixture) vote(t *testing.T, opID common.Hash, role core.ChainRole) (*VoteReceipt, error) {
	t.Helper()
	v := f.validators[role]
	sig, err := SignVote(v.key, opID, role)
	require.NoError(t, err)
	return f.engine.SubmitVote(context.Background(), opID, role, v.id, sig)
}

func TestScenarioTwoRolesConfirm(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xa1")

	ch := make(chan ConfirmedEvent, 4)
	sub := f.engine.SubscribeConfirmations(ch)
	defer sub.Unsubscribe()

	r, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)
	assert.Equal(t, VoteCounted, r.Outcome)
	assert.Equal(t, OperationPending, r.Status)

	op, err := f.engine.GetOperationStatus(opID)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, op.Status)
	assert.Equal(t, core.AllRoles(), op.RequiredRoles)
	assert.Equal(t, testNow.Add(time.Hour), op.Deadline)

	f.clock.Add(time.Second)
	r, err = f.vote(t, opID, core.RoleSolana)
	require.NoError(t, err)
	assert.Equal(t, VoteCounted, r.Outcome)
	assert.Equal(t, OperationConfirmed, r.Status)
	assert.Equal(t, []core.ChainRole{core.RoleArbitrum, core.RoleSolana}, r.Roles)

	select {
	case ev := <-ch:
		assert.Equal(t, opID, ev.OperationID)
		assert.Equal(t, testNow.Add(time.Second), ev.ConfirmedAt)
	case <-time.After(time.Second):
		t.Fatal("no confirmation event")
	}

	// The third role is recorded but changes nothing.
	r, err = f.vote(t, opID, core.RoleTON)
	require.NoError(t, err)
	assert.Equal(t, VoteLate, r.Outcome)
	assert.Equal(t, OperationConfirmed, r.Status)
	assert.Len(t, r.Roles, 3)

	op, err = f.engine.GetOperationStatus(opID)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, op.Status)
	assert.Equal(t, testNow.Add(time.Second), op.ConfirmedAt)
	assert.Len(t, op.Votes, 3)

	// Confirmed operations never fail, even past the deadline.
	f.clock.Add(2 * time.Hour)
	op, err = f.engine.GetOperationStatus(opID)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, op.Status)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second confirmation %v", ev)
	default:
	}
}

func TestScenarioLapsedVoteDropped(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xb2")

	// Solana's attestation runs out ten minutes from now.
	f.attest(t, core.RoleSolana, 10*time.Minute)
	_, err := f.vote(t, opID, core.RoleSolana)
	require.NoError(t, err)

	f.clock.Add(15 * time.Minute)
	r, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, r.Status)
	assert.Equal(t, []core.ChainRole{core.RoleArbitrum}, r.Roles)

	// Solana cannot vote again until it re-attests.
	_, err = f.vote(t, opID, core.RoleSolana)
	require.ErrorIs(t, err, core.ErrAttestationStale)
	assert.Equal(t, core.ClassSecurity, core.Classify(err))

	f.attest(t, core.RoleSolana, 24*time.Hour)
	r, err = f.vote(t, opID, core.RoleSolana)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, r.Status)
}

func TestLapsedVoteReplacedByThirdRole(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xb3")

	f.attest(t, core.RoleSolana, 10*time.Minute)
	_, err := f.vote(t, opID, core.RoleSolana)
	require.NoError(t, err)
	f.clock.Add(11 * time.Minute)

	r, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, r.Status)

	r, err = f.vote(t, opID, core.RoleTON)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, r.Status)
	assert.Equal(t, []core.ChainRole{core.RoleArbitrum, core.RoleTON}, r.Roles)
}

func TestDuplicateRoleVoteIgnored(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xc3")

	_, err := f.vote(t, opID, core.RoleTON)
	require.NoError(t, err)
	r, err := f.vote(t, opID, core.RoleTON)
	require.NoError(t, err)
	assert.Equal(t, VoteDuplicate, r.Outcome)
	assert.Equal(t, OperationPending, r.Status)
	assert.Len(t, r.Roles, 1)
}

func TestVoteRejections(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xd4")
	arb := f.validators[core.RoleArbitrum]
	ctx := context.Background()

	good, err := SignVote(arb.key, opID, core.RoleArbitrum)
	require.NoError(t, err)

	_, err = f.engine.SubmitVote(ctx, opID, core.RoleArbitrum, "nobody", good)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.engine.SubmitVote(ctx, opID, core.RoleSolana, arb.id, good)
	assert.ErrorIs(t, err, core.ErrUnauthorizedSigner, "wrong role")

	_, err = f.engine.SubmitVote(ctx, opID, 9, arb.id, good)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	other, err := SignVote(f.validators[core.RoleSolana].key, opID, core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.engine.SubmitVote(ctx, opID, core.RoleArbitrum, arb.id, other)
	assert.ErrorIs(t, err, core.ErrInvalidSignature, "signed by another wallet")

	wrongOp, err := SignVote(arb.key, common.HexToHash("0xffff"), core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.engine.SubmitVote(ctx, opID, core.RoleArbitrum, arb.id, wrongOp)
	assert.ErrorIs(t, err, core.ErrInvalidSignature, "signed another operation")

	_, err = f.engine.SubmitVote(ctx, opID, core.RoleArbitrum, arb.id, good[:10])
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	require.NoError(t, f.registry.Deactivate(ctx, arb.id))
	_, err = f.engine.SubmitVote(ctx, opID, core.RoleArbitrum, arb.id, good)
	assert.ErrorIs(t, err, core.ErrUnauthorizedSigner, "inactive")

	_, err = f.engine.GetOperationStatus(opID)
	assert.ErrorIs(t, err, ErrOperationNotFound, "rejected votes create nothing")
}

func TestVoteSignatureLegacyRecoveryID(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0xd5")
	v := f.validators[core.RoleTON]
	sig, err := SignVote(v.key, opID, core.RoleTON)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	r, err := f.engine.SubmitVote(context.Background(), opID, core.RoleTON, v.id, sig)
	require.NoError(t, err)
	assert.Equal(t, VoteCounted, r.Outcome)
}

func TestOpenOperationRoleSubset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opID := common.HexToHash("0xe5")

	_, err := f.engine.OpenOperation(ctx, opID, []core.ChainRole{core.RoleArbitrum})
	require.ErrorIs(t, err, ErrInvalidRoles)
	_, err = f.engine.OpenOperation(ctx, opID, []core.ChainRole{core.RoleArbitrum, core.RoleArbitrum})
	require.ErrorIs(t, err, ErrInvalidRoles)
	_, err = f.engine.OpenOperation(ctx, opID, []core.ChainRole{core.RoleArbitrum, 7})
	require.ErrorIs(t, err, ErrInvalidRoles)

	op, err := f.engine.OpenOperation(ctx, opID, []core.ChainRole{core.RoleTON, core.RoleSolana})
	require.NoError(t, err)
	assert.Equal(t, []core.ChainRole{core.RoleSolana, core.RoleTON}, op.RequiredRoles)
	_, err = f.engine.OpenOperation(ctx, opID, []core.ChainRole{core.RoleTON, core.RoleSolana})
	require.ErrorIs(t, err, ErrOperationExists)

	_, err = f.vote(t, opID, core.RoleArbitrum)
	require.ErrorIs(t, err, ErrRoleNotRequired)

	r, err := f.vote(t, opID, core.RoleSolana)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, r.Status)
	r, err = f.vote(t, opID, core.RoleTON)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, r.Status)
}

func TestOperationDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opID := common.HexToHash("0xf6")

	_, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)

	f.clock.Add(time.Hour)
	op, err := f.engine.GetOperationStatus(opID)
	require.NoError(t, err)
	assert.Equal(t, OperationFailed, op.Status, "reported failed before the sweep")

	d, err := f.engine.load(opID)
	require.NoError(t, err)
	assert.Equal(t, uint8(OperationPending), d.Status, "reading does not write")

	_, err = f.vote(t, opID, core.RoleSolana)
	require.ErrorIs(t, err, core.ErrOperationAlreadyTerminal)
	assert.Equal(t, core.ClassTerminal, core.Classify(err))

	d, err = f.engine.load(opID)
	require.NoError(t, err)
	assert.Equal(t, uint8(OperationFailed), d.Status)

	n, err := f.engine.ExpireOperations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := common.HexToHash("0x01")
	fresh := common.HexToHash("0x02")
	done := common.HexToHash("0x03")
	_, err := f.vote(t, stale, core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.vote(t, done, core.RoleArbitrum)
	require.NoError(t, err)
	_, err = f.vote(t, done, core.RoleTON)
	require.NoError(t, err)

	f.clock.Add(40 * time.Minute)
	_, err = f.vote(t, fresh, core.RoleSolana)
	require.NoError(t, err)
	f.clock.Add(30 * time.Minute)

	n, err := f.engine.ExpireOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[common.Hash]OperationStatus{
		stale: OperationFailed,
		fresh: OperationPending,
		done:  OperationConfirmed,
	} {
		d, err := f.engine.load(id)
		require.NoError(t, err)
		assert.Equal(t, want, OperationStatus(d.Status), id.Hex())
	}
}

func TestRunSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	opID := common.HexToHash("0x5e")
	_, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)
	f.clock.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.RunSweeper(ctx) }()

	require.Eventually(t, func() bool {
		f.clock.Add(time.Minute)
		d, err := f.engine.load(opID)
		return err == nil && OperationStatus(d.Status) == OperationFailed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestConcurrentVotesConfirmOnce(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0x99")

	ch := make(chan ConfirmedEvent, 8)
	sub := f.engine.SubscribeConfirmations(ch)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, role := range core.AllRoles() {
			wg.Add(1)
			go func(role core.ChainRole) {
				defer wg.Done()
				v := f.validators[role]
				sig, _ := SignVote(v.key, opID, role)
				_, err := f.engine.SubmitVote(context.Background(), opID, role, v.id, sig)
				assert.NoError(t, err)
			}(role)
		}
	}
	wg.Wait()

	assert.Len(t, ch, 1)
	op, err := f.engine.GetOperationStatus(opID)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, op.Status)
}

func TestEngineSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	opID := common.HexToHash("0x77")
	_, err := f.vote(t, opID, core.RoleArbitrum)
	require.NoError(t, err)

	restarted, err := NewEngine(nil, f.registry, f.db, f.clock)
	require.NoError(t, err)
	defer restarted.Close()

	v := f.validators[core.RoleSolana]
	sig, err := SignVote(v.key, opID, core.RoleSolana)
	require.NoError(t, err)
	r, err := restarted.SubmitVote(context.Background(), opID, core.RoleSolana, v.id, sig)
	require.NoError(t, err)
	assert.Equal(t, OperationConfirmed, r.Status)
}

func TestQuorumReached(t *testing.T) {
	assert.False(t, QuorumReached(nil))
	assert.False(t, QuorumReached(RoleSet()))
	assert.False(t, QuorumReached(RoleSet(core.RoleArbitrum)))
	assert.False(t, QuorumReached(RoleSet(core.RoleArbitrum, core.RoleArbitrum)))
	assert.False(t, QuorumReached(RoleSet(core.RoleArbitrum, 0)))
	assert.True(t, QuorumReached(RoleSet(core.RoleArbitrum, core.RoleTON)))
	assert.True(t, QuorumReached(RoleSet(core.AllRoles()...)))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	_, err := NewEngine(&Config{OperationTimeout: 0, SweepInterval: time.Second}, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewEngine(&Config{OperationTimeout: time.Second}, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
