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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chronosvault/trinity/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func measurement(kind MeasurementKind, b byte) []byte {
	return bytes.Repeat([]byte{b}, kind.Size())
}

func TestAllowListSGXNeedsBoth(t *testing.T) {
	enclave, signer := measurement(KindMREnclave, 0x11), measurement(KindMRSigner, 0x22)
	al, err := NewAllowList(
		&MeasurementEntry{Kind: KindMREnclave, Value: enclave, Status: StatusActive},
	)
	require.NoError(t, err)

	var e, s [32]byte
	copy(e[:], enclave)
	copy(s[:], signer)
	assert.False(t, al.AllowSGX(e, s))

	require.NoError(t, al.AddEntry(&MeasurementEntry{Kind: KindMRSigner, Value: signer, Status: StatusApproved}))
	assert.True(t, al.AllowSGX(e, s))

	// The same bytes under another kind do not count.
	assert.False(t, al.IsAllowed(KindMRSigner, enclave))
}

func TestAllowListStatuses(t *testing.T) {
	al, err := NewAllowList()
	require.NoError(t, err)

	var sev [48]byte
	copy(sev[:], measurement(KindSEVMeasurement, 0x33))
	assert.False(t, al.AllowSEV(sev), "empty list admits nothing")

	tests := []struct {
		status EntryStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusApproved, true},
		{StatusActive, true},
		{StatusDeprecated, false},
		{StatusRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			require.NoError(t, al.AddEntry(&MeasurementEntry{Kind: KindSEVMeasurement, Value: sev[:], Status: tt.status}))
			assert.Equal(t, tt.want, al.AllowSEV(sev))
		})
	}
}

func TestAllowListRemoveDeprecates(t *testing.T) {
	value := measurement(KindMREnclave, 0x44)
	al, err := NewAllowList(&MeasurementEntry{Kind: KindMREnclave, Value: value, Version: "1.0", Status: StatusActive})
	require.NoError(t, err)

	require.NoError(t, al.RemoveEntry(KindMREnclave, value))
	assert.False(t, al.IsAllowed(KindMREnclave, value))

	entry, err := al.GetEntry(KindMREnclave, value)
	require.NoError(t, err)
	assert.Equal(t, StatusDeprecated, entry.Status)
	assert.Equal(t, "1.0", entry.Version)

	assert.ErrorIs(t, al.RemoveEntry(KindMRSigner, value), ErrMeasurementNotFound)
	_, err = al.GetEntry(KindMRSigner, value)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAllowListRejectsInvalidEntries(t *testing.T) {
	al, err := NewAllowList()
	require.NoError(t, err)

	assert.ErrorIs(t, al.AddEntry(nil), ErrInvalidMeasurement)
	assert.ErrorIs(t, al.AddEntry(&MeasurementEntry{Kind: 9, Value: []byte{1}}), ErrInvalidMeasurement)
	assert.ErrorIs(t, al.AddEntry(&MeasurementEntry{Kind: KindMREnclave, Value: make([]byte, 48)}), ErrInvalidMeasurement)
	assert.ErrorIs(t, al.AddEntry(&MeasurementEntry{Kind: KindSEVMeasurement, Value: make([]byte, 48), Status: 77}), ErrInvalidMeasurement)

	good := &MeasurementEntry{Kind: KindMREnclave, Value: measurement(KindMREnclave, 1), Status: StatusActive}
	require.NoError(t, al.AddEntry(good))
	bad := &MeasurementEntry{Kind: KindMRSigner, Value: []byte{1, 2}}
	require.Error(t, al.Replace([]*MeasurementEntry{bad}))
	assert.True(t, al.IsAllowed(KindMREnclave, good.Value), "failed replace keeps the old list")
}

func TestAllowListEntriesAreCopies(t *testing.T) {
	value := measurement(KindMRSigner, 0x55)
	al, err := NewAllowList(&MeasurementEntry{Kind: KindMRSigner, Value: value, Status: StatusActive})
	require.NoError(t, err)

	entries := al.Entries()
	require.Len(t, entries, 1)
	entries[0].Value[0] = 0
	entries[0].Status = StatusRejected
	assert.True(t, al.IsAllowed(KindMRSigner, value))
}

func TestAllowListEntriesOrdered(t *testing.T) {
	al, err := NewAllowList(
		&MeasurementEntry{Kind: KindSEVMeasurement, Value: measurement(KindSEVMeasurement, 1), Status: StatusActive},
		&MeasurementEntry{Kind: KindMREnclave, Value: measurement(KindMREnclave, 2), Status: StatusActive},
		&MeasurementEntry{Kind: KindMREnclave, Value: measurement(KindMREnclave, 1), Status: StatusActive},
	)
	require.NoError(t, err)
	entries := al.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, KindMREnclave, entries[0].Kind)
	assert.Equal(t, byte(1), entries[0].Value[0])
	assert.Equal(t, byte(2), entries[1].Value[0])
	assert.Equal(t, KindSEVMeasurement, entries[2].Kind)
}

const testAllowListYAML = `
mrenclave:
  - value: "0x1111111111111111111111111111111111111111111111111111111111111111"
    version: 1.4.0
mrsigner:
  - value: "2222222222222222222222222222222222222222222222222222222222222222"
    status: approved
  - value: "0x3333333333333333333333333333333333333333333333333333333333333333"
    status: deprecated
sev_measurement:
  - value: "0x444444444444444444444444444444444444444444444444444444444444444444444444444444444444444444444444"
`

func TestParseAllowList(t *testing.T) {
	entries, err := ParseAllowList([]byte(testAllowListYAML))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, KindMREnclave, entries[0].Kind)
	assert.Equal(t, StatusActive, entries[0].Status)
	assert.Equal(t, "1.4.0", entries[0].Version)
	assert.Equal(t, measurement(KindMREnclave, 0x11), entries[0].Value)

	assert.Equal(t, StatusApproved, entries[1].Status)
	assert.Equal(t, measurement(KindMRSigner, 0x22), entries[1].Value)
	assert.Equal(t, StatusDeprecated, entries[2].Status)

	assert.Equal(t, KindSEVMeasurement, entries[3].Kind)
	assert.Len(t, entries[3].Value, 48)
}

func TestParseAllowListErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "mrenclave: [unterminated"},
		{"bad hex", "mrenclave:\n  - value: \"0xzz\"\n"},
		{"wrong size", "mrsigner:\n  - value: \"0x1234\"\n"},
		{"bad status", "mrenclave:\n  - value: \"0x" + strings.Repeat("11", 32) + "\"\n    status: maybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAllowList([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestWatchAllowListFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mrenclave: []\n"), 0o600))

	entries, err := LoadAllowListFile(path)
	require.NoError(t, err)
	al, err := NewAllowList(entries...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchAllowListFile(ctx, path, al) }()

	var enclave [32]byte
	copy(enclave[:], measurement(KindMREnclave, 0x11))
	writeAndWait := func(content string, want int) {
		t.Helper()
		require.Eventually(t, func() bool {
			// Rewrite until the watcher has picked it up; the first write
			// may land before the watch is registered.
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return false
			}
			return len(al.Entries()) == want
		}, 5*time.Second, 50*time.Millisecond)
	}

	writeAndWait(testAllowListYAML, 4)
	assert.True(t, al.IsAllowed(KindMREnclave, enclave[:]))

	// A broken file keeps the current entries.
	require.NoError(t, os.WriteFile(path, []byte("mrenclave: [unterminated"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, al.Entries(), 4)

	writeAndWait("mrenclave: []\n", 0)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
