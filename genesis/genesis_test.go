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

package genesis

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/internal/config"
	"github.com/chronosvault/trinity/storage"
	"github.com/chronosvault/trinity/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testGenesis() *Genesis {
	return &Genesis{
		Validators: []Validator{
			{ID: "arbitrum-1", Wallet: common.HexToAddress("0xa1"), Role: core.RoleArbitrum, TEE: core.TEESGX, Active: true},
			{ID: "solana-1", Wallet: common.HexToAddress("0xb1"), Role: core.RoleSolana, TEE: core.TEESGX, Active: true},
			{ID: "ton-1", Wallet: common.HexToAddress("0xc1"), Role: core.RoleTON, TEE: core.TEESEVSNP},
		},
		Signers:            []common.Address{common.HexToAddress("0xa11ce"), common.HexToAddress("0xb0b")},
		RequiredSignatures: 2,
		TimeLocks: []TimeLock{
			{VaultID: "treasury", UnlockMs: storage.TimeToMillis(testNow.Add(30 * 24 * time.Hour))},
			{VaultID: "operations"},
		},
	}
}

type env struct {
	db       storage.Database
	registry *governance.Registry
	workflow *vault.Workflow
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testNow)
	db := storage.NewMemoryDatabase()
	registry, err := governance.NewRegistry(nil, db, clk)
	require.NoError(t, err)
	return &env{db: db, registry: registry, workflow: vault.NewWorkflow(db, nil, nil, nil, clk)}
}

func TestApply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	applied, err := Apply(ctx, e.db, testGenesis(), e.registry, e.workflow, testNow)
	require.NoError(t, err)
	require.True(t, applied)

	v, err := e.registry.GetByWallet(common.HexToAddress("0xb1"))
	require.NoError(t, err)
	assert.Equal(t, "solana-1", v.ID)
	assert.Equal(t, governance.ValidatorSubmitted, v.Status)
	assert.True(t, v.IsActive)

	ton, err := e.registry.GetByID("ton-1")
	require.NoError(t, err)
	assert.False(t, ton.IsActive)
	assert.Equal(t, core.TEESEVSNP, ton.HardwareType)

	set, err := e.workflow.Signers()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), set.RequiredSignatures)
	assert.Len(t, set.Signers, 2)

	treasury, err := e.workflow.TimeLock("treasury")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(30*24*time.Hour), treasury.UnlockAt)
	assert.True(t, treasury.Locked(testNow))
	operations, err := e.workflow.TimeLock("operations")
	require.NoError(t, err)
	assert.False(t, operations.Locked(testNow))
	_, err = e.workflow.TimeLock("unknown")
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestApplyRunsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := Apply(ctx, e.db, testGenesis(), e.registry, e.workflow, testNow)
	require.NoError(t, err)

	changed := testGenesis()
	changed.Validators = append(changed.Validators, Validator{
		ID: "late", Wallet: common.HexToAddress("0xd1"), Role: core.RoleTON, TEE: core.TEESGX,
	})
	applied, err := Apply(ctx, e.db, changed, e.registry, e.workflow, testNow)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = e.registry.GetByID("late")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestApplyCompletesInterruptedGenesis(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A previous start registered one validator and the signers, then died.
	require.NoError(t, e.registry.Register(ctx, &governance.Validator{
		ID: "arbitrum-1", WalletAddress: common.HexToAddress("0xa1"),
		ChainRole: core.RoleArbitrum, HardwareType: core.TEESGX,
	}))
	require.NoError(t, e.workflow.InitSigners([]common.Address{common.HexToAddress("0xa11ce")}, 1))
	require.NoError(t, e.workflow.RegisterVault(ctx, "treasury", time.Time{}))

	applied, err := Apply(ctx, e.db, testGenesis(), e.registry, e.workflow, testNow)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = e.registry.GetByID("ton-1")
	require.NoError(t, err)
	set, err := e.workflow.Signers()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), set.RequiredSignatures, "existing signer set is kept")
	treasury, err := e.workflow.TimeLock("treasury")
	require.NoError(t, err)
	assert.True(t, treasury.UnlockAt.IsZero(), "existing vault is kept")
	_, err = e.workflow.TimeLock("operations")
	require.NoError(t, err)
}

func TestApplyRejectsInvalidValidator(t *testing.T) {
	e := newEnv(t)
	g := testGenesis()
	g.Validators[1].Role = 0

	_, err := Apply(context.Background(), e.db, g, e.registry, e.workflow, testNow)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	ok, err := e.db.Has(storage.GenesisKey())
	require.NoError(t, err)
	assert.False(t, ok, "failed genesis is not marked applied")
}

func TestHashTracksContent(t *testing.T) {
	a, b := testGenesis(), testGenesis()
	assert.Equal(t, a.Hash(), b.Hash())
	b.RequiredSignatures = 1
	assert.NotEqual(t, a.Hash(), b.Hash())
	c := testGenesis()
	c.TimeLocks[0].UnlockMs++
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Vault.Signers = []common.Address{common.HexToAddress("0xa11ce")}
	cfg.Vault.RequiredSignatures = 1
	cfg.Vault.TimeLocks = []config.VaultTimeLock{{VaultID: "treasury", UnlockAt: testNow}}
	cfg.Genesis.Validators = []config.GenesisValidator{
		{ID: "a", Wallet: common.HexToAddress("0x1"), Role: core.RoleArbitrum, TEE: core.TEESGX, Active: true},
	}
	g := FromConfig(cfg)
	require.Len(t, g.Validators, 1)
	assert.Equal(t, "a", g.Validators[0].ID)
	assert.True(t, g.Validators[0].Active)
	assert.Equal(t, cfg.Vault.Signers, g.Signers)
	assert.Equal(t, uint64(1), g.RequiredSignatures)
	assert.Equal(t, []TimeLock{{VaultID: "treasury", UnlockMs: storage.TimeToMillis(testNow)}}, g.TimeLocks)
}
