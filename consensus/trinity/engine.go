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
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

type voteData struct {
	Role        uint8
	ValidatorID string
	Wallet      common.Address
	Signature   []byte
	CastMs      uint64
}

type operationData struct {
	ID          common.Hash
	Roles       []uint8
	Votes       []voteData // ordered by role
	Status      uint8
	CreatedMs   uint64
	DeadlineMs  uint64
	ConfirmedMs uint64
}

func (d *operationData) required() mapset.Set[core.ChainRole] {
	set := mapset.NewThreadUnsafeSet[core.ChainRole]()
	for _, r := range d.Roles {
		set.Add(core.ChainRole(r))
	}
	return set
}

func (d *operationData) voted() mapset.Set[core.ChainRole] {
	set := mapset.NewThreadUnsafeSet[core.ChainRole]()
	for _, v := range d.Votes {
		set.Add(core.ChainRole(v.Role))
	}
	return set
}

func (d *operationData) vote(role core.ChainRole) *voteData {
	for i := range d.Votes {
		if core.ChainRole(d.Votes[i].Role) == role {
			return &d.Votes[i]
		}
	}
	return nil
}

func (d *operationData) addVote(v voteData) {
	for i := range d.Votes {
		if d.Votes[i].Role > v.Role {
			d.Votes = append(d.Votes[:i], append([]voteData{v}, d.Votes[i:]...)...)
			return
		}
	}
	d.Votes = append(d.Votes, v)
}

// expired reports whether a pending operation has passed its deadline.
func (d *operationData) expired(now time.Time) bool {
	return OperationStatus(d.Status) == OperationPending && !now.Before(storage.MillisToTime(d.DeadlineMs))
}

func (d *operationData) operation(now time.Time) *Operation {
	op := &Operation{
		ID:          d.ID,
		Votes:       make(map[core.ChainRole]*Vote, len(d.Votes)),
		Status:      OperationStatus(d.Status),
		CreatedAt:   storage.MillisToTime(d.CreatedMs),
		Deadline:    storage.MillisToTime(d.DeadlineMs),
		ConfirmedAt: storage.MillisToTime(d.ConfirmedMs),
	}
	for _, r := range d.Roles {
		op.RequiredRoles = append(op.RequiredRoles, core.ChainRole(r))
	}
	for _, v := range d.Votes {
		op.Votes[core.ChainRole(v.Role)] = &Vote{
			Role:        core.ChainRole(v.Role),
			ValidatorID: v.ValidatorID,
			Wallet:      v.Wallet,
			Signature:   common.CopyBytes(v.Signature),
			CastAt:      storage.MillisToTime(v.CastMs),
		}
	}
	if d.expired(now) {
		op.Status = OperationFailed
	}
	return op
}

// Engine collects per-role votes and confirms an operation once two distinct
// chain roles, each backed by a currently attested validator, agree.
type Engine struct {
	config   *Config
	registry governance.ValidatorRegistry
	db       storage.Database
	clock    clock.Clock
	log      log.Logger

	locks       *storage.KeyedMutex
	confirmFeed event.Feed
	scope       event.SubscriptionScope
}

// NewEngine creates a consensus engine.
func NewEngine(config *Config, registry governance.ValidatorRegistry, db storage.Database, clk clock.Clock) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		config:   config,
		registry: registry,
		db:       db,
		clock:    clk,
		log:      log.New("module", "consensus"),
		locks:    storage.NewKeyedMutex(),
	}, nil
}

// SubscribeConfirmations delivers a ConfirmedEvent for every operation that
// reaches quorum.
func (e *Engine) SubscribeConfirmations(ch chan<- ConfirmedEvent) event.Subscription {
	return e.scope.Track(e.confirmFeed.Subscribe(ch))
}

// Close ends all confirmation subscriptions.
func (e *Engine) Close() {
	e.scope.Close()
}

// OpenOperation creates an operation that only the given roles may confirm.
func (e *Engine) OpenOperation(ctx context.Context, opID common.Hash, roles []core.ChainRole) (*Operation, error) {
	set := RoleSet(roles...)
	if set.Cardinality() != len(roles) || !QuorumReached(set) || set.Cardinality() != countValid(set) {
		return nil, ErrInvalidRoles
	}
	unlock := e.locks.Lock(opID.Hex())
	defer unlock()

	if _, err := e.load(opID); err == nil {
		return nil, ErrOperationExists
	} else if err != ErrOperationNotFound {
		return nil, err
	}
	now := e.clock.Now()
	d := e.newOperation(opID, sortedRoles(set), now)
	if err := storage.WriteRLP(e.db, storage.OperationKey(opID), d); err != nil {
		return nil, err
	}
	e.log.Info("Operation opened", "id", opID, "roles", sortedRoles(set), "deadline", storage.MillisToTime(d.DeadlineMs))
	return d.operation(now), nil
}

func countValid(set mapset.Set[core.ChainRole]) int {
	n := 0
	set.Each(func(r core.ChainRole) bool {
		if r.Valid() {
			n++
		}
		return false
	})
	return n
}

func (e *Engine) newOperation(opID common.Hash, roles []core.ChainRole, now time.Time) *operationData {
	d := &operationData{
		ID:         opID,
		Status:     uint8(OperationPending),
		CreatedMs:  storage.TimeToMillis(now),
		DeadlineMs: storage.TimeToMillis(now.Add(e.config.OperationTimeout)),
	}
	for _, r := range roles {
		d.Roles = append(d.Roles, uint8(r))
	}
	return d
}

// SubmitVote records validatorID's vote for opID on behalf of role. The
// first vote on an unknown operation creates it with all three roles
// required. Not reaching quorum is not an error: the receipt carries the
// pending status.
func (e *Engine) SubmitVote(ctx context.Context, opID common.Hash, role core.ChainRole, validatorID string, signature []byte) (*VoteReceipt, error) {
	receipt, err := e.submitVote(opID, role, validatorID, signature)
	if err != nil {
		votesTotal.WithLabelValues(role.String(), "rejected").Inc()
		return nil, err
	}
	votesTotal.WithLabelValues(role.String(), receipt.Outcome.String()).Inc()
	return receipt, nil
}

func (e *Engine) submitVote(opID common.Hash, role core.ChainRole, validatorID string, signature []byte) (*VoteReceipt, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: chain role %d", core.ErrInvalidArgument, role)
	}
	v, err := e.authorize(validatorID, role)
	if err != nil {
		return nil, err
	}
	signer, err := RecoverSigner(VoteHash(opID, role), signature)
	if err != nil {
		return nil, err
	}
	if signer != v.WalletAddress {
		return nil, fmt.Errorf("%w: vote signed by %s, validator wallet is %s", core.ErrInvalidSignature, signer, v.WalletAddress)
	}

	unlock := e.locks.Lock(opID.Hex())
	now := e.clock.Now()
	d, err := e.load(opID)
	switch {
	case err == ErrOperationNotFound:
		d = e.newOperation(opID, core.AllRoles(), now)
		e.log.Debug("Operation created by first vote", "id", opID, "role", role)
	case err != nil:
		unlock()
		return nil, err
	}
	if !d.required().Contains(role) {
		unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoleNotRequired, role)
	}
	if d.expired(now) {
		d.Status = uint8(OperationFailed)
		err := storage.WriteRLP(e.db, storage.OperationKey(opID), d)
		unlock()
		if err != nil {
			return nil, err
		}
		operationsFailed.Inc()
		e.log.Info("Operation failed, deadline passed", "id", opID, "votes", len(d.Votes))
		return nil, fmt.Errorf("%w: operation %s failed", core.ErrOperationAlreadyTerminal, opID)
	}

	ballot := voteData{
		Role:        uint8(role),
		ValidatorID: validatorID,
		Wallet:      v.WalletAddress,
		Signature:   common.CopyBytes(signature),
		CastMs:      storage.TimeToMillis(now),
	}
	receipt := &VoteReceipt{OperationID: opID, Role: role}

	var confirmed *ConfirmedEvent
	switch OperationStatus(d.Status) {
	case OperationFailed:
		unlock()
		return nil, fmt.Errorf("%w: operation %s failed", core.ErrOperationAlreadyTerminal, opID)

	case OperationConfirmed:
		// Late votes are kept for the record and change nothing.
		receipt.Outcome = VoteDuplicate
		if d.vote(role) == nil {
			d.addVote(ballot)
			receipt.Outcome = VoteLate
		}

	default:
		e.pruneLapsed(d)
		if d.vote(role) != nil {
			receipt.Outcome = VoteDuplicate
			break
		}
		d.addVote(ballot)
		receipt.Outcome = VoteCounted

		if QuorumReached(d.voted().Intersect(d.required())) {
			d.Status = uint8(OperationConfirmed)
			d.ConfirmedMs = storage.TimeToMillis(now)
			confirmed = &ConfirmedEvent{
				OperationID: opID,
				Roles:       sortedRoles(d.voted()),
				ConfirmedAt: storage.MillisToTime(d.ConfirmedMs),
			}
		}
	}
	if receipt.Outcome != VoteDuplicate {
		if err := storage.WriteRLP(e.db, storage.OperationKey(opID), d); err != nil {
			unlock()
			return nil, err
		}
	}
	receipt.Status = OperationStatus(d.Status)
	receipt.Roles = sortedRoles(d.voted())
	unlock()

	if confirmed != nil {
		operationsConfirmed.Inc()
		confirmationLatency.Observe(now.Sub(storage.MillisToTime(d.CreatedMs)).Seconds())
		e.log.Info("Operation confirmed", "id", opID, "roles", confirmed.Roles)
		e.confirmFeed.Send(*confirmed)
	} else {
		e.log.Debug("Vote processed", "id", opID, "role", role, "validator", validatorID, "outcome", receipt.Outcome, "status", receipt.Status)
	}
	return receipt, nil
}

// authorize checks that validatorID may currently vote for role.
func (e *Engine) authorize(validatorID string, role core.ChainRole) (*governance.Validator, error) {
	v, err := e.registry.GetByID(validatorID)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, fmt.Errorf("%w: validator %s is not active", core.ErrUnauthorizedSigner, validatorID)
	}
	if v.ChainRole != role {
		return nil, fmt.Errorf("%w: validator %s serves %s, not %s", core.ErrUnauthorizedSigner, validatorID, v.ChainRole, role)
	}
	if !e.registry.IsAttestationCurrentlyValid(v.WalletAddress) {
		return nil, fmt.Errorf("%w: validator %s holds no valid attestation", core.ErrAttestationStale, validatorID)
	}
	return v, nil
}

// pruneLapsed drops recorded votes whose validator is no longer active or no
// longer attested. The role has to vote again.
func (e *Engine) pruneLapsed(d *operationData) {
	kept := d.Votes[:0]
	for _, v := range d.Votes {
		if e.stillEligible(v) {
			kept = append(kept, v)
			continue
		}
		lapsedVotesPruned.Inc()
		e.log.Info("Dropping lapsed vote", "id", d.ID, "role", core.ChainRole(v.Role), "validator", v.ValidatorID)
	}
	d.Votes = kept
}

func (e *Engine) stillEligible(v voteData) bool {
	return stillEligible(e.registry, v.ValidatorID, v.Wallet)
}

// stillEligible reports whether the validator that signed with wallet is
// active, still bound to that wallet and currently attested.
func stillEligible(registry governance.ValidatorRegistry, id string, wallet common.Address) bool {
	val, err := registry.GetByID(id)
	if err != nil || !val.IsActive || val.WalletAddress != wallet {
		return false
	}
	return registry.IsAttestationCurrentlyValid(wallet)
}

// GetOperationStatus returns the operation. A pending operation past its
// deadline is reported as failed even before the sweeper persists it.
func (e *Engine) GetOperationStatus(opID common.Hash) (*Operation, error) {
	d, err := e.load(opID)
	if err != nil {
		return nil, err
	}
	return d.operation(e.clock.Now()), nil
}

// ExpireOperations marks every pending operation past its deadline as
// failed and returns how many changed. A failed operation is never revived;
// callers retry under a new ID.
func (e *Engine) ExpireOperations(ctx context.Context) (int, error) {
	now := e.clock.Now()
	var due []common.Hash
	err := storage.IterateRLP(e.db, storage.OperationPrefix(), func(_ []byte, d *operationData) error {
		if d.expired(now) {
			due = append(due, d.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := e.expire(id, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		e.log.Info("Expired pending operations", "count", expired)
	}
	return expired, nil
}

func (e *Engine) expire(id common.Hash, now time.Time) (bool, error) {
	unlock := e.locks.Lock(id.Hex())
	defer unlock()

	d, err := e.load(id)
	if err != nil {
		return false, err
	}
	if !d.expired(now) {
		return false, nil
	}
	d.Status = uint8(OperationFailed)
	if err := storage.WriteRLP(e.db, storage.OperationKey(id), d); err != nil {
		return false, err
	}
	operationsFailed.Inc()
	e.log.Debug("Operation failed, deadline passed", "id", id, "votes", len(d.Votes))
	return true, nil
}

// RunSweeper calls ExpireOperations every SweepInterval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) error {
	ticker := e.clock.Ticker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.ExpireOperations(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("Operation sweep failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) load(opID common.Hash) (*operationData, error) {
	var d operationData
	found, err := storage.ReadRLP(e.db, storage.OperationKey(opID), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOperationNotFound
	}
	return &d, nil
}
