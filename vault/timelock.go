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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/log"
)

// TimeLock is the unlock time of one known vault. A zero UnlockAt means the
// vault is known but not locked.
type TimeLock struct {
	VaultID  string    `json:"vaultId"`
	UnlockAt time.Time `json:"unlockAt"`
}

// Locked reports whether the vault is still locked at now.
func (l *TimeLock) Locked(now time.Time) bool {
	return !l.UnlockAt.IsZero() && now.Before(l.UnlockAt)
}

// TimeLocks persists the known vaults and their unlock times. Release and
// recovery proposals may only target vaults present in this table.
type TimeLocks struct {
	db storage.Database
	mu sync.Mutex // serializes governed changes
}

// NewTimeLocks creates the time lock table on db.
func NewTimeLocks(db storage.Database) *TimeLocks {
	return &TimeLocks{db: db}
}

// SetUnlockTime registers vaultID and locks it until t. A zero t leaves the
// vault unlocked.
func (tl *TimeLocks) SetUnlockTime(ctx context.Context, vaultID string, t time.Time) error {
	if vaultID == "" {
		return fmt.Errorf("%w: empty vault id", core.ErrInvalidArgument)
	}
	log.Info("Vault time lock set", "vault", vaultID, "unlock", t.UTC())
	return storage.WriteRLP(tl.db, storage.TimelockKey(vaultID), storage.TimeToMillis(t))
}

// Register adds vaultID to the known vaults, locked until t. It fails with
// ErrVaultExists for a known vault; changes after that go through
// ActionSetTimeLock proposals.
func (tl *TimeLocks) Register(ctx context.Context, vaultID string, t time.Time) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if _, err := tl.Get(vaultID); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultExists, vaultID)
	} else if !errors.Is(err, ErrVaultNotFound) {
		return err
	}
	return tl.SetUnlockTime(ctx, vaultID, t)
}

// Get returns the time lock of vaultID, or ErrVaultNotFound when the vault
// was never registered.
func (tl *TimeLocks) Get(vaultID string) (*TimeLock, error) {
	if vaultID == "" {
		return nil, fmt.Errorf("%w: empty vault id", ErrVaultNotFound)
	}
	var ms uint64
	found, err := storage.ReadRLP(tl.db, storage.TimelockKey(vaultID), &ms)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}
	return &TimeLock{VaultID: vaultID, UnlockAt: storage.MillisToTime(ms)}, nil
}

// All returns every known vault in key order.
func (tl *TimeLocks) All() ([]*TimeLock, error) {
	prefix := storage.TimelockPrefix()
	var locks []*TimeLock
	err := storage.IterateRLP(tl.db, prefix, func(key []byte, ms *uint64) error {
		locks = append(locks, &TimeLock{VaultID: string(key[len(prefix):]), UnlockAt: storage.MillisToTime(*ms)})
		return nil
	})
	return locks, err
}

// checkUnlocked fails with ErrVaultNotFound for unknown vaults and with
// ErrTimelockNotExpired while vaultID is locked at now.
func (tl *TimeLocks) checkUnlocked(vaultID string, now time.Time) error {
	lock, err := tl.Get(vaultID)
	if err != nil {
		return err
	}
	if lock.Locked(now) {
		return fmt.Errorf("%w: vault %s unlocks at %s", core.ErrTimelockNotExpired, vaultID, lock.UnlockAt.Format(time.RFC3339))
	}
	return nil
}

// extend applies a governed time lock change. A lock still in force at now
// can only be pushed later, never shortened or lifted.
func (tl *TimeLocks) extend(ctx context.Context, vaultID string, t, now time.Time) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	current, err := tl.Get(vaultID)
	switch {
	case err == nil:
		if current.Locked(now) && t.Before(current.UnlockAt) {
			return fmt.Errorf("%w: vault %s is locked until %s, a time lock can only be extended",
				ErrInvalidPayload, vaultID, current.UnlockAt.Format(time.RFC3339))
		}
	case !errors.Is(err, ErrVaultNotFound):
		return err
	}
	return tl.SetUnlockTime(ctx, vaultID, t)
}
