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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// allowListFile is the on-disk YAML layout:
//
//	mrenclave:
//	  - value: 0x…
//	    version: 1.4.0
//	    status: active
//	mrsigner: [...]
//	sev_measurement: [...]
type allowListFile struct {
	MREnclave      []allowListFileEntry `yaml:"mrenclave"`
	MRSigner       []allowListFileEntry `yaml:"mrsigner"`
	SEVMeasurement []allowListFileEntry `yaml:"sev_measurement"`
}

type allowListFileEntry struct {
	Value   string `yaml:"value"`
	Version string `yaml:"version"`
	Status  string `yaml:"status"` // defaults to active
}

// LoadAllowListFile reads allow-list entries from a YAML file.
func LoadAllowListFile(path string) ([]*MeasurementEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAllowList(data)
}

// ParseAllowList decodes allow-list entries from YAML.
func ParseAllowList(data []byte) ([]*MeasurementEntry, error) {
	var file allowListFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeasurement, err)
	}
	var (
		entries []*MeasurementEntry
		now     = time.Now()
	)
	add := func(kind MeasurementKind, list []allowListFileEntry) error {
		for i, fe := range list {
			value, err := hexutil.Decode(ensure0x(fe.Value))
			if err != nil {
				return fmt.Errorf("%w: %s[%d]: %v", ErrInvalidMeasurement, kind, i, err)
			}
			entry := &MeasurementEntry{Kind: kind, Value: value, Version: fe.Version, Status: StatusActive, AddedAt: now}
			if fe.Status != "" {
				if err := entry.Status.UnmarshalText([]byte(fe.Status)); err != nil {
					return fmt.Errorf("%s[%d]: %w", kind, i, err)
				}
			}
			if err := validateEntry(entry); err != nil {
				return fmt.Errorf("%s[%d]: %w", kind, i, err)
			}
			entries = append(entries, entry)
		}
		return nil
	}
	if err := add(KindMREnclave, file.MREnclave); err != nil {
		return nil, err
	}
	if err := add(KindMRSigner, file.MRSigner); err != nil {
		return nil, err
	}
	if err := add(KindSEVMeasurement, file.SEVMeasurement); err != nil {
		return nil, err
	}
	return entries, nil
}

func ensure0x(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

// WatchAllowListFile keeps al in sync with the YAML file at path until ctx
// is done. The directory is watched so editors that replace the file by
// rename are picked up. A file that fails to parse leaves the current list
// in place.
func WatchAllowListFile(ctx context.Context, path string, al *AllowList) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not initialize file watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Error("Could not close file watcher", "err", err)
		}
	}()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not watch %s: %w", path, err)
	}

	reload := func() {
		data, err := os.ReadFile(path)
		if err == nil && len(bytes.TrimSpace(data)) == 0 {
			// Truncated by a writer that has not finished yet.
			return
		}
		var entries []*MeasurementEntry
		if err == nil {
			entries, err = ParseAllowList(data)
		}
		if err != nil {
			log.Error("Could not reload allow-list, keeping current entries", "path", path, "err", err)
			return
		}
		if err := al.Replace(entries); err != nil {
			log.Error("Could not apply allow-list", "path", path, "err", err)
			return
		}
		log.Info("Reloaded allow-list", "path", path, "entries", len(entries))
	}

	target := filepath.Clean(path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Allow-list watcher error", "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}
