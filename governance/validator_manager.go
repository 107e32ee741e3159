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
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var validatorIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// validatorData is the RLP storage form of a Validator.
type validatorData struct {
	ID           string
	Wallet       common.Address
	Role         uint8
	Hardware     uint8
	Status       uint8
	IsActive     bool
	RegisteredMs uint64
	UpdatedMs    uint64
	NextSeq      uint64 // next history sequence number
}

func (d *validatorData) validator() *Validator {
	return &Validator{
		ID:            d.ID,
		WalletAddress: d.Wallet,
		ChainRole:     core.ChainRole(d.Role),
		HardwareType:  core.TEEType(d.Hardware),
		Status:        ValidatorStatus(d.Status),
		IsActive:      d.IsActive,
		RegisteredAt:  storage.MillisToTime(d.RegisteredMs),
		UpdatedAt:     storage.MillisToTime(d.UpdatedMs),
	}
}

type historyData struct {
	Seq      uint64
	Kind     uint8
	AtMs     uint64
	Status   uint8
	IsActive bool
	Proof    common.Hash
	Detail   string
}

type attestationData struct {
	Success     bool
	TEEType     uint8
	Measurement []byte
	TimestampMs uint64
	Binding     common.Address
	ExpiresMs   uint64
	Proof       common.Hash
	QuoteHash   common.Hash
	TCBStatus   uint8
	TCBSource   string
	VerifiedMs  uint64
	Error       string
}

func newAttestationData(r *attestation.Result) *attestationData {
	return &attestationData{
		Success:     r.Success,
		TEEType:     uint8(r.TEEType),
		Measurement: r.Measurement,
		TimestampMs: storage.TimeToMillis(r.Timestamp),
		Binding:     r.ValidatorBinding,
		ExpiresMs:   storage.TimeToMillis(r.ExpiresAt),
		Proof:       r.VerificationProof,
		QuoteHash:   r.QuoteHash,
		TCBStatus:   uint8(r.TCBStatus),
		TCBSource:   r.TCBSource,
		VerifiedMs:  storage.TimeToMillis(r.VerifiedAt),
		Error:       r.Error,
	}
}

func (d *attestationData) result() *attestation.Result {
	return &attestation.Result{
		Success:           d.Success,
		TEEType:           core.TEEType(d.TEEType),
		Measurement:       d.Measurement,
		Timestamp:         storage.MillisToTime(d.TimestampMs),
		ValidatorBinding:  d.Binding,
		ExpiresAt:         storage.MillisToTime(d.ExpiresMs),
		VerificationProof: d.Proof,
		QuoteHash:         d.QuoteHash,
		TCBStatus:         attestation.TCBStatus(d.TCBStatus),
		TCBSource:         d.TCBSource,
		VerifiedAt:        storage.MillisToTime(d.VerifiedMs),
		Error:             d.Error,
	}
}

var _ ValidatorManager = (*Registry)(nil)

// Registry is the persistent validator registry. Validators are never
// deleted; every change is appended to the validator's history.
type Registry struct {
	config *RegistryConfig
	db     storage.Database
	clock  clock.Clock
	log    log.Logger

	fleetMu sync.Mutex // serializes Register and Activate
	locks   *storage.KeyedMutex
}

// NewRegistry creates a registry on top of db.
func NewRegistry(config *RegistryConfig, db storage.Database, clk clock.Clock) (*Registry, error) {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if config.FleetSizePerRole < 1 {
		return nil, fmt.Errorf("%w: fleet size per role must be at least 1", ErrInvalidConfig)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		config: config,
		db:     db,
		clock:  clk,
		log:    log.New("module", "registry"),
		locks:  storage.NewKeyedMutex(),
	}, nil
}

// Register adds a new validator. A validator registered as active counts
// against its role's fleet.
func (r *Registry) Register(ctx context.Context, v *Validator) error {
	if err := validateValidator(v); err != nil {
		return err
	}
	status := v.Status
	if status == 0 {
		status = ValidatorDraft
	}
	if _, ok := validatorStatusNames[status]; !ok {
		return fmt.Errorf("%w: status %d", ErrInvalidValidator, status)
	}

	r.fleetMu.Lock()
	defer r.fleetMu.Unlock()

	if _, err := r.load(v.ID); err == nil {
		return fmt.Errorf("%w: id %s", ErrValidatorExists, v.ID)
	} else if err != ErrValidatorNotFound {
		return err
	}
	if _, err := r.idByWallet(v.WalletAddress); err == nil {
		return fmt.Errorf("%w: wallet %s", ErrValidatorExists, v.WalletAddress)
	} else if err != ErrValidatorNotFound {
		return err
	}
	if v.IsActive {
		if err := r.checkFleet(v.ChainRole, v.ID); err != nil {
			return err
		}
	}

	now := storage.TimeToMillis(r.clock.Now())
	data := &validatorData{
		ID:           v.ID,
		Wallet:       v.WalletAddress,
		Role:         uint8(v.ChainRole),
		Hardware:     uint8(v.HardwareType),
		Status:       uint8(status),
		IsActive:     v.IsActive,
		RegisteredMs: now,
		UpdatedMs:    now,
	}
	// The wallet index goes last so a failed write never leaves an index
	// entry pointing at a missing record.
	if err := r.appendHistory(data, EventRegistered, common.Hash{}, ""); err != nil {
		return err
	}
	if err := storage.WriteRLP(r.db, storage.WalletIndexKey(v.WalletAddress), v.ID); err != nil {
		for _, key := range [][]byte{storage.HistoryKey(v.ID, 0), storage.ValidatorKey(v.ID)} {
			if derr := r.db.Delete(key); derr != nil {
				r.log.Error("Failed to roll back validator registration", "id", v.ID, "err", derr)
			}
		}
		return err
	}
	r.log.Info("Validator registered", "id", v.ID, "wallet", v.WalletAddress, "role", v.ChainRole, "tee", v.HardwareType, "active", v.IsActive)
	return nil
}

func validateValidator(v *Validator) error {
	switch {
	case v == nil:
		return ErrInvalidValidator
	case !validatorIDPattern.MatchString(v.ID):
		return fmt.Errorf("%w: id %q", ErrInvalidValidator, v.ID)
	case v.WalletAddress == (common.Address{}):
		return fmt.Errorf("%w: zero wallet address", ErrInvalidValidator)
	case !v.ChainRole.Valid():
		return fmt.Errorf("%w: chain role %d", ErrInvalidValidator, v.ChainRole)
	case v.HardwareType != core.TEESGX && v.HardwareType != core.TEESEVSNP:
		return fmt.Errorf("%w: hardware type %d", ErrInvalidValidator, v.HardwareType)
	}
	return nil
}

// checkFleet fails when role already has its full active fleet, not
// counting the validator with id exclude.
func (r *Registry) checkFleet(role core.ChainRole, exclude string) error {
	active := 0
	err := storage.IterateRLP(r.db, storage.ValidatorPrefix(), func(_ []byte, d *validatorData) error {
		if d.IsActive && core.ChainRole(d.Role) == role && d.ID != exclude {
			active++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if active >= r.config.FleetSizePerRole {
		return fmt.Errorf("%w: %s has %d active", core.ErrDuplicateRoleAssignment, role, active)
	}
	return nil
}

// GetByID returns the validator with the given ID
func (r *Registry) GetByID(id string) (*Validator, error) {
	d, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return d.validator(), nil
}

// GetByWallet returns the validator bound to a wallet address
func (r *Registry) GetByWallet(addr common.Address) (*Validator, error) {
	id, err := r.idByWallet(addr)
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// ListByStatus returns validators in the given status, ordered by ID
func (r *Registry) ListByStatus(status ValidatorStatus) ([]*Validator, error) {
	var out []*Validator
	err := storage.IterateRLP(r.db, storage.ValidatorPrefix(), func(_ []byte, d *validatorData) error {
		if ValidatorStatus(d.Status) == status {
			out = append(out, d.validator())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Activate lets a validator participate in consensus
func (r *Registry) Activate(ctx context.Context, id string) error {
	r.fleetMu.Lock()
	defer r.fleetMu.Unlock()

	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.load(id)
	if err != nil {
		return err
	}
	if d.IsActive {
		return nil
	}
	if err := r.checkFleet(core.ChainRole(d.Role), id); err != nil {
		return err
	}
	d.IsActive = true
	d.UpdatedMs = storage.TimeToMillis(r.clock.Now())
	if err := r.appendHistory(d, EventActivated, common.Hash{}, ""); err != nil {
		return err
	}
	r.log.Info("Validator activated", "id", id, "role", core.ChainRole(d.Role))
	return nil
}

// Deactivate removes a validator from consensus without deleting it
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.load(id)
	if err != nil {
		return err
	}
	if !d.IsActive {
		return nil
	}
	d.IsActive = false
	d.UpdatedMs = storage.TimeToMillis(r.clock.Now())
	if err := r.appendHistory(d, EventDeactivated, common.Hash{}, ""); err != nil {
		return err
	}
	r.log.Info("Validator deactivated", "id", id, "role", core.ChainRole(d.Role))
	return nil
}

// SetStatus performs an operator status transition
func (r *Registry) SetStatus(ctx context.Context, id string, status ValidatorStatus) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.load(id)
	if err != nil {
		return err
	}
	current := ValidatorStatus(d.Status)
	if current == status {
		return nil
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	d.Status = uint8(status)
	d.UpdatedMs = storage.TimeToMillis(r.clock.Now())
	return r.appendHistory(d, EventStatusChanged, common.Hash{}, current.String()+" -> "+status.String())
}

// History returns the validator's audit log, oldest first
func (r *Registry) History(id string) ([]*HistoryEvent, error) {
	if _, err := r.load(id); err != nil {
		return nil, err
	}
	var events []*HistoryEvent
	err := storage.IterateRLP(r.db, storage.HistoryPrefix(id), func(_ []byte, h *historyData) error {
		events = append(events, &HistoryEvent{
			Seq:      h.Seq,
			Kind:     EventKind(h.Kind),
			At:       storage.MillisToTime(h.AtMs),
			Status:   ValidatorStatus(h.Status),
			IsActive: h.IsActive,
			Proof:    h.Proof,
			Detail:   h.Detail,
		})
		return nil
	})
	return events, err
}

// Attestation returns the latest attestation result for a wallet
func (r *Registry) Attestation(addr common.Address) (*attestation.Result, error) {
	id, err := r.idByWallet(addr)
	if err != nil {
		return nil, err
	}
	var d attestationData
	found, err := storage.ReadRLP(r.db, storage.AttestationKey(id), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoAttestation
	}
	return d.result(), nil
}

// IsAttestationCurrentlyValid reports whether the wallet holds a successful
// attestation that has not expired
func (r *Registry) IsAttestationCurrentlyValid(addr common.Address) bool {
	res, err := r.Attestation(addr)
	if err != nil {
		return false
	}
	return res.ValidAt(r.clock.Now())
}

// RecordAttestation stores a verification outcome for the bound validator.
// A success supersedes the previous result and approves the validator. A
// failure never replaces a currently valid result; it only rejects a
// validator that has nothing valid left.
func (r *Registry) RecordAttestation(ctx context.Context, res *attestation.Result) error {
	id, err := r.idByWallet(res.ValidatorBinding)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.load(id)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	d.UpdatedMs = storage.TimeToMillis(now)

	if res.Success {
		if err := storage.WriteRLP(r.db, storage.AttestationKey(id), newAttestationData(res)); err != nil {
			return err
		}
		d.Status = uint8(ValidatorApproved)
		return r.appendHistory(d, EventAttested, res.VerificationProof, "expires "+res.ExpiresAt.UTC().Format(time.RFC3339))
	}

	var current attestationData
	found, err := storage.ReadRLP(r.db, storage.AttestationKey(id), &current)
	if err != nil {
		return err
	}
	if found && current.result().ValidAt(now) {
		r.log.Warn("Ignoring failed attestation, validator holds a valid one", "id", id, "err", res.Error)
		return r.appendHistory(d, EventAttestationFailed, common.Hash{}, res.Error)
	}
	if err := storage.WriteRLP(r.db, storage.AttestationKey(id), newAttestationData(res)); err != nil {
		return err
	}
	d.Status = uint8(ValidatorRejected)
	return r.appendHistory(d, EventAttestationFailed, common.Hash{}, res.Error)
}

// appendHistory writes the event and the updated validator record.
func (r *Registry) appendHistory(d *validatorData, kind EventKind, proof common.Hash, detail string) error {
	event := &historyData{
		Seq:      d.NextSeq,
		Kind:     uint8(kind),
		AtMs:     d.UpdatedMs,
		Status:   d.Status,
		IsActive: d.IsActive,
		Proof:    proof,
		Detail:   detail,
	}
	if err := storage.WriteRLP(r.db, storage.HistoryKey(d.ID, event.Seq), event); err != nil {
		return err
	}
	d.NextSeq++
	return storage.WriteRLP(r.db, storage.ValidatorKey(d.ID), d)
}

func (r *Registry) load(id string) (*validatorData, error) {
	if !validatorIDPattern.MatchString(id) {
		return nil, ErrValidatorNotFound
	}
	var d validatorData
	found, err := storage.ReadRLP(r.db, storage.ValidatorKey(id), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrValidatorNotFound
	}
	return &d, nil
}

func (r *Registry) idByWallet(addr common.Address) (string, error) {
	var id string
	found, err := storage.ReadRLP(r.db, storage.WalletIndexKey(addr), &id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrValidatorNotFound
	}
	return id, nil
}
