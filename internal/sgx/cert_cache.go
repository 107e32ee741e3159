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

package sgx

import (
	"os"
	"path/filepath"
	"regexp"
)

var unsafeCacheKey = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// CertCache stores fetched collateral on disk so a restarted node can
// verify attestations while the vendor service is unreachable. A cache with
// an empty directory is disabled.
type CertCache struct {
	cacheDir string
}

// NewCertCache creates a new certificate cache
func NewCertCache(cacheDir string) *CertCache {
	return &CertCache{cacheDir: cacheDir}
}

func (c *CertCache) path(key string) string {
	return filepath.Join(c.cacheDir, unsafeCacheKey.ReplaceAllString(key, "_"))
}

// Read reads cached data by key. It reports false when nothing is cached.
func (c *CertCache) Read(key string) ([]byte, bool) {
	if c == nil || c.cacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Write writes data to cache with given key
func (c *CertCache) Write(key string, data []byte) error {
	if c == nil || c.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(key))
}
