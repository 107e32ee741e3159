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
	"encoding/binary"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

type signerData struct {
	ValidatorID string
	Wallet      common.Address
	Role        uint8
	Signature   []byte
	SignedMs    uint64
}

type recordData struct {
	ChainID    uint64
	DataHash   common.Hash
	Signers    []signerData
	Verified   bool
	CreatedMs  uint64
	VerifiedMs uint64
}

func (d *recordData) roles() mapset.Set[core.ChainRole] {
	set := mapset.NewThreadUnsafeSet[core.ChainRole]()
	for _, s := range d.Signers {
		set.Add(core.ChainRole(s.Role))
	}
	return set
}

func (d *recordData) hasSigner(id string) bool {
	for _, s := range d.Signers {
		if s.ValidatorID == id {
			return true
		}
	}
	return false
}

func (d *recordData) record() *VerificationRecord {
	rec := &VerificationRecord{
		ChainID:    d.ChainID,
		DataHash:   d.DataHash,
		Signers:    make([]*Signer, 0, len(d.Signers)),
		IsVerified: d.Verified,
		CreatedAt:  storage.MillisToTime(d.CreatedMs),
		VerifiedAt: storage.MillisToTime(d.VerifiedMs),
	}
	for _, s := range d.Signers {
		rec.Signers = append(rec.Signers, &Signer{
			ValidatorID: s.ValidatorID,
			Wallet:      s.Wallet,
			Role:        core.ChainRole(s.Role),
			Signature:   common.CopyBytes(s.Signature),
			SignedAt:    storage.MillisToTime(s.SignedMs),
		})
	}
	return rec
}

// Ledger is the append-only record of cross-chain facts and the validators
// that vouched for them. A record becomes verified once signers from two
// distinct chain roles agree and is frozen from then on.
type Ledger struct {
	registry governance.ValidatorRegistry
	db       storage.Database
	clock    clock.Clock
	locks    *storage.KeyedMutex
	log      log.Logger
}

// NewLedger creates a verification ledger.
func NewLedger(registry governance.ValidatorRegistry, db storage.Database, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{
		registry: registry,
		db:       db,
		clock:    clk,
		locks:    storage.NewKeyedMutex(),
		log:      log.New("module", "ledger"),
	}
}

func ledgerLockKey(chainID uint64, dataHash common.Hash) string {
	return string(binary.BigEndian.AppendUint64(nil, chainID)) + string(dataHash.Bytes())
}

// RecordVerification adds validatorID to the signers of (chainID, dataHash).
// signature must be the validator wallet's signature over
// VerificationHash(chainID, dataHash). Signers that have since been
// deactivated or lost their attestation are dropped before the tally, so a
// record only becomes verified on the word of currently eligible validators.
// Repeating a signature, or signing a verified record, returns the stored
// record unchanged.
func (l *Ledger) RecordVerification(ctx context.Context, chainID uint64, dataHash common.Hash, validatorID string, signature []byte) (*VerificationRecord, error) {
	v, err := l.registry.GetByID(validatorID)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, fmt.Errorf("%w: validator %s is not active", core.ErrUnauthorizedSigner, validatorID)
	}
	if !l.registry.IsAttestationCurrentlyValid(v.WalletAddress) {
		return nil, fmt.Errorf("%w: validator %s holds no valid attestation", core.ErrAttestationStale, validatorID)
	}
	signer, err := RecoverSigner(VerificationHash(chainID, dataHash), signature)
	if err != nil {
		return nil, err
	}
	if signer != v.WalletAddress {
		return nil, fmt.Errorf("%w: verification signed by %s, validator wallet is %s", core.ErrInvalidSignature, signer, v.WalletAddress)
	}

	unlock := l.locks.Lock(ledgerLockKey(chainID, dataHash))
	defer unlock()

	now := l.clock.Now()
	key := storage.LedgerKey(chainID, dataHash)
	d := new(recordData)
	found, err := storage.ReadRLP(l.db, key, d)
	if err != nil {
		return nil, err
	}
	if !found {
		d = &recordData{ChainID: chainID, DataHash: dataHash, CreatedMs: storage.TimeToMillis(now)}
	}
	if d.Verified {
		ledgerRecords.WithLabelValues("frozen").Inc()
		return d.record(), nil
	}
	pruned := l.pruneLapsed(d)
	if d.hasSigner(validatorID) && !pruned {
		ledgerRecords.WithLabelValues("duplicate").Inc()
		return d.record(), nil
	}

	if !d.hasSigner(validatorID) {
		d.Signers = append(d.Signers, signerData{
			ValidatorID: validatorID,
			Wallet:      v.WalletAddress,
			Role:        uint8(v.ChainRole),
			Signature:   common.CopyBytes(signature),
			SignedMs:    storage.TimeToMillis(now),
		})
	}
	outcome := "signed"
	if QuorumReached(d.roles()) {
		d.Verified = true
		d.VerifiedMs = storage.TimeToMillis(now)
		outcome = "verified"
	}
	if err := storage.WriteRLP(l.db, key, d); err != nil {
		return nil, err
	}
	ledgerRecords.WithLabelValues(outcome).Inc()
	if d.Verified {
		l.log.Info("Cross-chain fact verified", "chain", chainID, "hash", dataHash, "roles", sortedRoles(d.roles()))
	} else {
		l.log.Debug("Verification recorded", "chain", chainID, "hash", dataHash, "validator", validatorID, "role", v.ChainRole)
	}
	return d.record(), nil
}

// pruneLapsed drops signers that are no longer eligible and reports whether
// any were dropped. A dropped validator has to sign again.
func (l *Ledger) pruneLapsed(d *recordData) bool {
	kept := d.Signers[:0]
	for _, s := range d.Signers {
		if stillEligible(l.registry, s.ValidatorID, s.Wallet) {
			kept = append(kept, s)
			continue
		}
		l.log.Info("Dropping lapsed verification", "chain", d.ChainID, "hash", d.DataHash, "validator", s.ValidatorID)
	}
	pruned := len(kept) != len(d.Signers)
	d.Signers = kept
	return pruned
}

// IsVerified reports whether the fact has reached quorum. It never changes
// state.
func (l *Ledger) IsVerified(chainID uint64, dataHash common.Hash) bool {
	rec, err := l.Get(chainID, dataHash)
	return err == nil && rec.IsVerified
}

// Get returns the ledger record for (chainID, dataHash).
func (l *Ledger) Get(chainID uint64, dataHash common.Hash) (*VerificationRecord, error) {
	var d recordData
	found, err := storage.ReadRLP(l.db, storage.LedgerKey(chainID, dataHash), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRecordNotFound
	}
	return d.record(), nil
}
