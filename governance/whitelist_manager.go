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
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

type entryKey struct {
	kind  MeasurementKind
	value string
}

func keyOf(kind MeasurementKind, value []byte) entryKey {
	return entryKey{kind: kind, value: string(value)}
}

var _ MeasurementAllowList = (*AllowList)(nil)

// AllowList implements MeasurementAllowList in memory. An empty list admits
// nothing.
type AllowList struct {
	mu      sync.RWMutex
	entries map[entryKey]*MeasurementEntry
}

// NewAllowList creates an allow-list holding entries.
func NewAllowList(entries ...*MeasurementEntry) (*AllowList, error) {
	al := &AllowList{entries: make(map[entryKey]*MeasurementEntry)}
	if err := al.Replace(entries); err != nil {
		return nil, err
	}
	return al, nil
}

func validateEntry(e *MeasurementEntry) error {
	if e == nil || e.Kind.Size() == 0 {
		return fmt.Errorf("%w: unknown kind", ErrInvalidMeasurement)
	}
	if len(e.Value) != e.Kind.Size() {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidMeasurement, e.Kind, e.Kind.Size(), len(e.Value))
	}
	if _, ok := entryStatusNames[e.Status]; !ok {
		return fmt.Errorf("%w: status %d", ErrInvalidMeasurement, e.Status)
	}
	return nil
}

// IsAllowed checks a single measurement
func (al *AllowList) IsAllowed(kind MeasurementKind, value []byte) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()

	entry, exists := al.entries[keyOf(kind, value)]
	if !exists {
		return false
	}
	// Only active and approved entries are allowed
	return entry.Status.Allowed()
}

// AllowSGX requires both the enclave and its signer to be listed.
func (al *AllowList) AllowSGX(mrenclave, mrsigner [32]byte) bool {
	return al.IsAllowed(KindMREnclave, mrenclave[:]) && al.IsAllowed(KindMRSigner, mrsigner[:])
}

// AllowSEV checks a SEV-SNP launch measurement.
func (al *AllowList) AllowSEV(measurement [48]byte) bool {
	return al.IsAllowed(KindSEVMeasurement, measurement[:])
}

// GetEntry returns the entry for a measurement
func (al *AllowList) GetEntry(kind MeasurementKind, value []byte) (*MeasurementEntry, error) {
	al.mu.RLock()
	defer al.mu.RUnlock()

	entry, exists := al.entries[keyOf(kind, value)]
	if !exists {
		return nil, ErrMeasurementNotFound
	}
	return copyEntry(entry), nil
}

// Entries returns all entries ordered by kind and value
func (al *AllowList) Entries() []*MeasurementEntry {
	al.mu.RLock()
	defer al.mu.RUnlock()

	entries := make([]*MeasurementEntry, 0, len(al.entries))
	for _, entry := range al.entries {
		entries = append(entries, copyEntry(entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return hex.EncodeToString(entries[i].Value) < hex.EncodeToString(entries[j].Value)
	})
	return entries
}

// AddEntry adds or replaces an entry
func (al *AllowList) AddEntry(entry *MeasurementEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	al.entries[keyOf(entry.Kind, entry.Value)] = copyEntry(entry)
	log.Info("Allow-list entry added", "kind", entry.Kind, "value", hex.EncodeToString(entry.Value), "status", entry.Status)
	return nil
}

// RemoveEntry deprecates an entry. Deprecated entries stay visible for audit.
func (al *AllowList) RemoveEntry(kind MeasurementKind, value []byte) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	entry, exists := al.entries[keyOf(kind, value)]
	if !exists {
		return ErrMeasurementNotFound
	}
	entry.Status = StatusDeprecated
	log.Info("Allow-list entry deprecated", "kind", kind, "value", hex.EncodeToString(value))
	return nil
}

// Replace swaps the whole list atomically. Nothing changes if any entry is
// invalid.
func (al *AllowList) Replace(entries []*MeasurementEntry) error {
	next := make(map[entryKey]*MeasurementEntry, len(entries))
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return err
		}
		next[keyOf(entry.Kind, entry.Value)] = copyEntry(entry)
	}
	al.mu.Lock()
	al.entries = next
	al.mu.Unlock()
	return nil
}

func copyEntry(e *MeasurementEntry) *MeasurementEntry {
	c := *e
	c.Value = append([]byte(nil), e.Value...)
	return &c
}
