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

package swap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type swapData struct {
	ID            common.Hash
	HashLock      common.Hash
	TimeLockMs    uint64
	Amount        []byte // big endian, no leading zeros
	SenderChain   uint64
	ReceiverChain uint64
	Sender        common.Address
	Recipient     common.Address
	Status        uint8
	Preimage      []byte
	CreatedMs     uint64
	SettledMs     uint64
}

func (d *swapData) swap() *Swap {
	return &Swap{
		ID:            d.ID,
		HashLock:      d.HashLock,
		TimeLock:      storage.MillisToTime(d.TimeLockMs),
		Amount:        new(uint256.Int).SetBytes(d.Amount),
		SenderChain:   d.SenderChain,
		ReceiverChain: d.ReceiverChain,
		Sender:        d.Sender,
		Recipient:     d.Recipient,
		Status:        Status(d.Status),
		Preimage:      common.CopyBytes(d.Preimage),
		CreatedAt:     storage.MillisToTime(d.CreatedMs),
		SettledAt:     storage.MillisToTime(d.SettledMs),
	}
}

// HashPreimage returns the hash lock that preimage opens.
func HashPreimage(preimage []byte) common.Hash {
	return common.Hash(sha256.Sum256(preimage))
}

// Manager runs the swap state machine: locked -> claimed | refunded.
type Manager struct {
	config *Config
	db     storage.Database
	ledger VerificationReader
	clock  clock.Clock
	log    log.Logger
	locks  *storage.KeyedMutex
}

// NewManager creates a swap manager. ledger may be nil when only same-chain
// swaps are used; cross-chain claims then never pass verification.
func NewManager(config *Config, db storage.Database, ledger VerificationReader, clk clock.Clock) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultTimeLock <= 0 {
		return nil, fmt.Errorf("%w: default time lock must be positive", core.ErrInvalidArgument)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		config: config,
		db:     db,
		ledger: ledger,
		clock:  clk,
		log:    log.New("module", "swap"),
		locks:  storage.NewKeyedMutex(),
	}, nil
}

// Lock records a new swap and returns it.
func (m *Manager) Lock(ctx context.Context, params LockParams) (*Swap, error) {
	now := m.clock.Now()
	if params.TimeLock.IsZero() {
		params.TimeLock = now.Add(m.config.DefaultTimeLock)
	}
	if err := m.validate(&params, now); err != nil {
		return nil, err
	}

	d := &swapData{
		HashLock:      params.HashLock,
		TimeLockMs:    storage.TimeToMillis(params.TimeLock),
		Amount:        params.Amount.Bytes(),
		SenderChain:   params.SenderChain,
		ReceiverChain: params.ReceiverChain,
		Sender:        params.Sender,
		Recipient:     params.Recipient,
		Status:        uint8(StatusLocked),
		CreatedMs:     storage.TimeToMillis(now),
	}
	nonce := uuid.New()
	d.ID = crypto.Keccak256Hash(nonce[:], params.Sender.Bytes(), params.Recipient.Bytes(), params.HashLock.Bytes())

	if err := storage.WriteRLP(m.db, storage.SwapKey(d.ID), d); err != nil {
		return nil, err
	}
	swapsTotal.WithLabelValues("locked").Inc()
	s := d.swap()
	m.log.Info("Swap locked", "id", d.ID, "sender", params.Sender, "recipient", params.Recipient,
		"amount", params.Amount, "from", params.SenderChain, "to", params.ReceiverChain, "timelock", s.TimeLock)
	return s, nil
}

func (m *Manager) validate(p *LockParams, now time.Time) error {
	switch {
	case p.HashLock == (common.Hash{}):
		return fmt.Errorf("%w: empty hash lock", ErrInvalidLock)
	case p.Amount == nil || p.Amount.IsZero():
		return fmt.Errorf("%w: zero amount", ErrInvalidLock)
	case p.Sender == (common.Address{}) || p.Recipient == (common.Address{}):
		return fmt.Errorf("%w: zero sender or recipient", ErrInvalidLock)
	case p.SenderChain == 0 || p.ReceiverChain == 0:
		return fmt.Errorf("%w: zero chain id", ErrInvalidLock)
	case !p.TimeLock.After(now):
		return fmt.Errorf("%w: time lock %s is not in the future", ErrInvalidLock, p.TimeLock.UTC().Format(time.RFC3339))
	}
	return nil
}

// Claim releases the swap to its recipient. The preimage must hash to the
// hash lock before the time lock passes, and a cross-chain swap needs its
// sender leg verified on the ledger.
func (m *Manager) Claim(ctx context.Context, id common.Hash, preimage []byte) (*Swap, error) {
	unlock := m.locks.Lock(id.Hex())
	defer unlock()

	d, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := checkLocked(d); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if !now.Before(storage.MillisToTime(d.TimeLockMs)) {
		return nil, fmt.Errorf("%w: swap %s timed out", core.ErrSwapExpired, id)
	}
	if HashPreimage(preimage) != d.HashLock {
		swapsTotal.WithLabelValues("bad_preimage").Inc()
		return nil, fmt.Errorf("%w: swap %s", core.ErrInvalidPreimage, id)
	}
	s := d.swap()
	if s.CrossChain() {
		if m.ledger == nil || !m.ledger.IsVerified(d.SenderChain, s.DataHash()) {
			return nil, fmt.Errorf("%w: swap %s chain %d", ErrLegNotVerified, id, d.SenderChain)
		}
	}

	d.Status = uint8(StatusClaimed)
	d.Preimage = common.CopyBytes(preimage)
	d.SettledMs = storage.TimeToMillis(now)
	if err := storage.WriteRLP(m.db, storage.SwapKey(id), d); err != nil {
		return nil, err
	}
	swapsTotal.WithLabelValues("claimed").Inc()
	m.log.Info("Swap claimed", "id", id, "recipient", d.Recipient)
	return d.swap(), nil
}

// Refund returns the funds to the sender once the time lock has passed.
func (m *Manager) Refund(ctx context.Context, id common.Hash) (*Swap, error) {
	unlock := m.locks.Lock(id.Hex())
	defer unlock()

	d, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := checkLocked(d); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	timeLock := storage.MillisToTime(d.TimeLockMs)
	if now.Before(timeLock) {
		return nil, fmt.Errorf("%w: swap %s refundable at %s", core.ErrSwapNotYetExpired, id, timeLock.Format(time.RFC3339))
	}

	d.Status = uint8(StatusRefunded)
	d.SettledMs = storage.TimeToMillis(now)
	if err := storage.WriteRLP(m.db, storage.SwapKey(id), d); err != nil {
		return nil, err
	}
	swapsTotal.WithLabelValues("refunded").Inc()
	m.log.Info("Swap refunded", "id", id, "sender", d.Sender)
	return d.swap(), nil
}

// Get returns the swap. A locked swap past its time lock reads as expired
// until it is refunded.
func (m *Manager) Get(id common.Hash) (*Swap, error) {
	d, err := m.load(id)
	if err != nil {
		return nil, err
	}
	return m.view(d), nil
}

// List returns every swap ordered by creation time.
func (m *Manager) List() ([]*Swap, error) {
	var swaps []*Swap
	err := storage.IterateRLP(m.db, storage.SwapPrefix(), func(_ []byte, d *swapData) error {
		swaps = append(swaps, m.view(d))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(swaps, func(i, j int) bool {
		if !swaps[i].CreatedAt.Equal(swaps[j].CreatedAt) {
			return swaps[i].CreatedAt.Before(swaps[j].CreatedAt)
		}
		return bytes.Compare(swaps[i].ID[:], swaps[j].ID[:]) < 0
	})
	return swaps, nil
}

func (m *Manager) view(d *swapData) *Swap {
	s := d.swap()
	if s.Status == StatusLocked && !m.clock.Now().Before(s.TimeLock) {
		s.Status = StatusExpired
	}
	return s
}

func (m *Manager) load(id common.Hash) (*swapData, error) {
	var d swapData
	found, err := storage.ReadRLP(m.db, storage.SwapKey(id), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, id)
	}
	return &d, nil
}

func checkLocked(d *swapData) error {
	if Status(d.Status) != StatusLocked {
		return fmt.Errorf("%w: swap %s is %s", core.ErrOperationAlreadyTerminal, d.ID, Status(d.Status))
	}
	return nil
}
