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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

type payloadData struct {
	Action       uint8
	VaultID      string
	OperationID  common.Hash
	Args         []byte
	NewSigners   []common.Address
	NewThreshold uint64
	UnlockMs     uint64
}

type proposalData struct {
	ID        common.Hash
	Payload   payloadData
	Proposer  common.Address
	Approvals []common.Address
	Required  uint64
	Status    uint8
	CreatedMs uint64
	SettledMs uint64
	SettledBy common.Address
}

type signerSetData struct {
	Signers   []common.Address
	Threshold uint64
	Version   uint64
}

func newPayloadData(p *Payload) payloadData {
	return payloadData{
		Action:       uint8(p.Action),
		VaultID:      p.VaultID,
		OperationID:  p.OperationID,
		Args:         common.CopyBytes(p.Args),
		NewSigners:   append([]common.Address(nil), p.NewSigners...),
		NewThreshold: p.NewThreshold,
		UnlockMs:     storage.TimeToMillis(p.UnlockAt),
	}
}

func (d *proposalData) proposal() *Proposal {
	return &Proposal{
		ID: d.ID,
		Payload: Payload{
			Action:       Action(d.Payload.Action),
			VaultID:      d.Payload.VaultID,
			OperationID:  d.Payload.OperationID,
			Args:         common.CopyBytes(d.Payload.Args),
			NewSigners:   append([]common.Address(nil), d.Payload.NewSigners...),
			NewThreshold: d.Payload.NewThreshold,
			UnlockAt:     storage.MillisToTime(d.Payload.UnlockMs),
		},
		Proposer:           d.Proposer,
		Approvals:          append([]common.Address{}, d.Approvals...),
		RequiredSignatures: d.Required,
		Status:             ProposalStatus(d.Status),
		CreatedAt:          storage.MillisToTime(d.CreatedMs),
		SettledAt:          storage.MillisToTime(d.SettledMs),
		SettledBy:          d.SettledBy,
	}
}

func (d *proposalData) approved(signer common.Address) bool {
	for _, a := range d.Approvals {
		if a == signer {
			return true
		}
	}
	return false
}

// validateSignerSet checks a signer set: no zero or duplicate addresses and
// 1 <= threshold <= len(signers).
func validateSignerSet(signers []common.Address, threshold uint64) error {
	if len(signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrInvalidSignerSet)
	}
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	for _, s := range signers {
		if s == (common.Address{}) {
			return fmt.Errorf("%w: zero address", ErrInvalidSignerSet)
		}
		if !seen.Add(s) {
			return fmt.Errorf("%w: duplicate signer %s", ErrInvalidSignerSet, s)
		}
	}
	if threshold < 1 || threshold > uint64(len(signers)) {
		return fmt.Errorf("%w: threshold %d with %d signers", ErrInvalidSignerSet, threshold, len(signers))
	}
	return nil
}

func validatePayload(p *Payload) error {
	if _, ok := actionNames[p.Action]; !ok {
		return fmt.Errorf("%w: unknown action %d", ErrInvalidPayload, p.Action)
	}
	if p.Action == ActionRotateSigners {
		if err := validateSignerSet(p.NewSigners, p.NewThreshold); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else if len(p.NewSigners) > 0 || p.NewThreshold != 0 {
		return fmt.Errorf("%w: signer fields on %s", ErrInvalidPayload, p.Action)
	}
	switch p.Action {
	case ActionRelease, ActionRecovery:
		if p.VaultID == "" {
			return fmt.Errorf("%w: %s needs a vault id", ErrInvalidPayload, p.Action)
		}
	case ActionSetTimeLock:
		if p.VaultID == "" || p.UnlockAt.IsZero() {
			return fmt.Errorf("%w: %s needs a vault id and an unlock time", ErrInvalidPayload, p.Action)
		}
	}
	if p.Action != ActionSetTimeLock && !p.UnlockAt.IsZero() {
		return fmt.Errorf("%w: unlock time on %s", ErrInvalidPayload, p.Action)
	}
	return nil
}

// needsKnownVault reports whether the action moves funds out of a vault and
// so must name a registered vault.
func needsKnownVault(a Action) bool {
	return a == ActionRelease || a == ActionRecovery
}

// Workflow is the persistent multisig state machine:
// proposed -> executed | cancelled.
type Workflow struct {
	db        storage.Database
	ops       OperationReader
	executor  Executor
	timelocks *TimeLocks
	clock     clock.Clock
	log       log.Logger

	locks     *storage.KeyedMutex
	signersMu sync.RWMutex // guards the stored signer set
}

// NewWorkflow creates a multisig workflow. ops may be nil when no proposal
// references a consensus operation; executor may be nil when only signer
// rotations are proposed.
func NewWorkflow(db storage.Database, ops OperationReader, executor Executor, timelocks *TimeLocks, clk clock.Clock) *Workflow {
	if timelocks == nil {
		timelocks = NewTimeLocks(db)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Workflow{
		db:        db,
		ops:       ops,
		executor:  executor,
		timelocks: timelocks,
		clock:     clk,
		log:       log.New("module", "vault"),
		locks:     storage.NewKeyedMutex(),
	}
}

// TimeLocks returns the vault time lock table.
func (w *Workflow) TimeLocks() *TimeLocks { return w.timelocks }

// RegisterVault adds a vault to the known vaults, locked until unlockAt.
func (w *Workflow) RegisterVault(ctx context.Context, vaultID string, unlockAt time.Time) error {
	return w.timelocks.Register(ctx, vaultID, unlockAt)
}

// TimeLock returns the time lock of a known vault.
func (w *Workflow) TimeLock(vaultID string) (*TimeLock, error) {
	return w.timelocks.Get(vaultID)
}

// KnownVaults returns every registered vault and its time lock.
func (w *Workflow) KnownVaults() ([]*TimeLock, error) {
	return w.timelocks.All()
}

// InitSigners stores the initial signer set. It fails once a set exists;
// later changes go through ActionRotateSigners proposals.
func (w *Workflow) InitSigners(signers []common.Address, threshold uint64) error {
	if err := validateSignerSet(signers, threshold); err != nil {
		return err
	}
	w.signersMu.Lock()
	defer w.signersMu.Unlock()

	if ok, err := w.db.Has(storage.VaultSignersKey()); err != nil {
		return err
	} else if ok {
		return ErrSignersAlreadySet
	}
	w.log.Info("Vault signer set initialized", "signers", len(signers), "threshold", threshold)
	return storage.WriteRLP(w.db, storage.VaultSignersKey(), &signerSetData{
		Signers:   append([]common.Address(nil), signers...),
		Threshold: threshold,
	})
}

// Signers returns the current signer set.
func (w *Workflow) Signers() (*SignerSet, error) {
	w.signersMu.RLock()
	defer w.signersMu.RUnlock()
	return w.signers()
}

func (w *Workflow) signers() (*SignerSet, error) {
	var d signerSetData
	found, err := storage.ReadRLP(w.db, storage.VaultSignersKey(), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSignersNotSet
	}
	return &SignerSet{Signers: d.Signers, RequiredSignatures: d.Threshold, Version: d.Version}, nil
}

func (w *Workflow) requireSigner(addr common.Address) (*SignerSet, error) {
	set, err := w.Signers()
	if err != nil {
		return nil, err
	}
	if !set.Contains(addr) {
		return nil, fmt.Errorf("%w: %s is not a vault signer", core.ErrUnauthorizedSigner, addr)
	}
	return set, nil
}

// Propose creates a proposal with no approvals and returns its ID. signature
// is the proposer's signature over ProposeHash(payload).
func (w *Workflow) Propose(ctx context.Context, payload Payload, proposer common.Address, signature []byte) (common.Hash, error) {
	if err := validatePayload(&payload); err != nil {
		return common.Hash{}, err
	}
	set, err := w.requireSigner(proposer)
	if err != nil {
		return common.Hash{}, err
	}
	digest, err := ProposeHash(&payload)
	if err != nil {
		return common.Hash{}, err
	}
	if err := checkSignature(digest, proposer, signature); err != nil {
		return common.Hash{}, err
	}
	if needsKnownVault(payload.Action) {
		if _, err := w.timelocks.Get(payload.VaultID); err != nil {
			return common.Hash{}, err
		}
	}

	now := w.clock.Now()
	d := &proposalData{
		Payload:   newPayloadData(&payload),
		Proposer:  proposer,
		Required:  set.RequiredSignatures,
		Status:    uint8(StatusProposed),
		CreatedMs: storage.TimeToMillis(now),
	}
	enc, err := rlp.EncodeToBytes(&d.Payload)
	if err != nil {
		return common.Hash{}, err
	}
	nonce := uuid.New()
	d.ID = crypto.Keccak256Hash(nonce[:], proposer.Bytes(), enc)

	if err := storage.WriteRLP(w.db, storage.ProposalKey(d.ID), d); err != nil {
		return common.Hash{}, err
	}
	proposalsTotal.WithLabelValues(payload.Action.String(), "proposed").Inc()
	w.log.Info("Vault proposal created", "txid", d.ID, "action", payload.Action, "vault", payload.VaultID, "proposer", proposer)
	return d.ID, nil
}

// Approve adds signer's approval. signature is the signer's signature over
// ApprovalHash(txID). Approving twice is a no-op.
func (w *Workflow) Approve(ctx context.Context, txID common.Hash, signer common.Address, signature []byte) (*Proposal, error) {
	if _, err := w.requireSigner(signer); err != nil {
		return nil, err
	}
	if err := checkSignature(ApprovalHash(txID), signer, signature); err != nil {
		return nil, err
	}
	unlock := w.locks.Lock(txID.Hex())
	defer unlock()

	d, err := w.load(txID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(d); err != nil {
		return nil, err
	}
	if d.approved(signer) {
		return d.proposal(), nil
	}
	d.Approvals = append(d.Approvals, signer)
	if err := storage.WriteRLP(w.db, storage.ProposalKey(txID), d); err != nil {
		return nil, err
	}
	proposalsTotal.WithLabelValues(Action(d.Payload.Action).String(), "approved").Inc()
	w.log.Debug("Vault proposal approved", "txid", txID, "signer", signer, "approvals", len(d.Approvals))
	return d.proposal(), nil
}

// Execute runs the proposal once it has enough approvals from the current
// signers, its vault is unlocked and its consensus operation is confirmed.
func (w *Workflow) Execute(ctx context.Context, txID common.Hash) (*Proposal, error) {
	unlock := w.locks.Lock(txID.Hex())
	defer unlock()

	d, err := w.load(txID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(d); err != nil {
		return nil, err
	}

	// Rotation rewrites the signer set, so hold the write lock throughout.
	rotate := Action(d.Payload.Action) == ActionRotateSigners
	if rotate {
		w.signersMu.Lock()
		defer w.signersMu.Unlock()
	} else {
		w.signersMu.RLock()
		defer w.signersMu.RUnlock()
	}
	set, err := w.signers()
	if err != nil {
		return nil, err
	}

	valid := 0
	for _, a := range d.Approvals {
		if set.Contains(a) {
			valid++
		}
	}
	if uint64(valid) < set.RequiredSignatures {
		return nil, fmt.Errorf("%w: %d of %d approvals from current signers", core.ErrQuorumNotReached, valid, set.RequiredSignatures)
	}
	now := w.clock.Now()
	action := Action(d.Payload.Action)
	if needsKnownVault(action) || (action == ActionCustom && d.Payload.VaultID != "") {
		if err := w.timelocks.checkUnlocked(d.Payload.VaultID, now); err != nil {
			return nil, err
		}
	}
	if err := w.checkOperation(d.Payload.OperationID); err != nil {
		return nil, err
	}

	p := d.proposal()
	switch {
	case action == ActionSetTimeLock:
		if err := w.timelocks.extend(ctx, p.Payload.VaultID, p.Payload.UnlockAt, now); err != nil {
			return nil, err
		}
	case rotate:
		if err := storage.WriteRLP(w.db, storage.VaultSignersKey(), &signerSetData{
			Signers:   d.Payload.NewSigners,
			Threshold: d.Payload.NewThreshold,
			Version:   set.Version + 1,
		}); err != nil {
			return nil, err
		}
		w.log.Warn("Vault signer set rotated", "txid", txID, "signers", len(d.Payload.NewSigners), "threshold", d.Payload.NewThreshold, "version", set.Version+1)
	default:
		if w.executor == nil {
			return nil, fmt.Errorf("%w: no executor configured", ErrExecutorFailed)
		}
		if err := w.executor.ExecuteProposal(ctx, p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutorFailed, err)
		}
	}

	d.Status = uint8(StatusExecuted)
	d.SettledMs = storage.TimeToMillis(now)
	if err := storage.WriteRLP(w.db, storage.ProposalKey(txID), d); err != nil {
		log.Crit("Executed vault proposal could not be persisted", "txid", txID, "err", err)
	}
	proposalsTotal.WithLabelValues(Action(d.Payload.Action).String(), "executed").Inc()
	w.log.Info("Vault proposal executed", "txid", txID, "action", Action(d.Payload.Action), "approvals", valid)
	return d.proposal(), nil
}

func (w *Workflow) checkOperation(opID common.Hash) error {
	if opID == (common.Hash{}) {
		return nil
	}
	if w.ops == nil {
		return fmt.Errorf("%w: no consensus engine to confirm operation %s", core.ErrQuorumNotReached, opID)
	}
	op, err := w.ops.GetOperationStatus(opID)
	if err != nil {
		return fmt.Errorf("%w: operation %s: %v", core.ErrQuorumNotReached, opID, err)
	}
	switch op.Status {
	case trinity.OperationConfirmed:
		return nil
	case trinity.OperationFailed:
		return fmt.Errorf("%w: operation %s failed", core.ErrOperationAlreadyTerminal, opID)
	}
	return fmt.Errorf("%w: operation %s is %s", core.ErrQuorumNotReached, opID, op.Status)
}

// Cancel settles the proposal as cancelled. Any current signer may cancel
// while it is still proposed; signature is theirs over CancelHash(txID).
func (w *Workflow) Cancel(ctx context.Context, txID common.Hash, signer common.Address, signature []byte) (*Proposal, error) {
	if _, err := w.requireSigner(signer); err != nil {
		return nil, err
	}
	if err := checkSignature(CancelHash(txID), signer, signature); err != nil {
		return nil, err
	}
	unlock := w.locks.Lock(txID.Hex())
	defer unlock()

	d, err := w.load(txID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(d); err != nil {
		return nil, err
	}
	d.Status = uint8(StatusCancelled)
	d.SettledMs = storage.TimeToMillis(w.clock.Now())
	d.SettledBy = signer
	if err := storage.WriteRLP(w.db, storage.ProposalKey(txID), d); err != nil {
		return nil, err
	}
	proposalsTotal.WithLabelValues(Action(d.Payload.Action).String(), "cancelled").Inc()
	w.log.Info("Vault proposal cancelled", "txid", txID, "signer", signer)
	return d.proposal(), nil
}

func checkOpen(d *proposalData) error {
	if ProposalStatus(d.Status) != StatusProposed {
		return fmt.Errorf("%w: proposal %s is %s", core.ErrOperationAlreadyTerminal, d.ID, ProposalStatus(d.Status))
	}
	return nil
}

// GetProposal returns a proposal
func (w *Workflow) GetProposal(txID common.Hash) (*Proposal, error) {
	d, err := w.load(txID)
	if err != nil {
		return nil, err
	}
	return d.proposal(), nil
}

// ActiveProposals returns all proposals still awaiting execution, oldest
// first
func (w *Workflow) ActiveProposals() ([]*Proposal, error) {
	var active []*Proposal
	err := storage.IterateRLP(w.db, storage.ProposalPrefix(), func(_ []byte, d *proposalData) error {
		if ProposalStatus(d.Status) == StatusProposed {
			active = append(active, d.proposal())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID.Cmp(active[j].ID) < 0
	})
	return active, nil
}

func (w *Workflow) load(txID common.Hash) (*proposalData, error) {
	var d proposalData
	found, err := storage.ReadRLP(w.db, storage.ProposalKey(txID), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrProposalNotFound
	}
	return &d, nil
}
