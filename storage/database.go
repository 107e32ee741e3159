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

// Package storage provides the persistence layer behind every Trinity
// component: a key-value Database with interchangeable engines, RLP record
// helpers, the key schema and per-record locks for atomic read-modify-write.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

var errUnknownEngine = errors.New("unknown storage engine")

// Database is the subset of ethdb.KeyValueStore the components rely on.
type Database interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Iteratee
	io.Closer
}

// Open opens the database selected by cfg.
func Open(cfg *Config) (Database, error) {
	switch cfg.Engine {
	case EngineMemory, "":
		log.Warn("Using in-memory database, state will NOT survive a restart")
		return NewMemoryDatabase(), nil
	case EngineLevelDB:
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, err
		}
		db, err := leveldb.New(cfg.Path, cfg.Cache, cfg.Handles, cfg.Namespace, cfg.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("open leveldb at %s: %w", cfg.Path, err)
		}
		log.Info("Opened leveldb database", "path", cfg.Path, "cache", cfg.Cache, "handles", cfg.Handles)
		return db, nil
	case EnginePebble:
		db, err := NewPebbleDatabase(cfg.Path, cfg.Cache, cfg.Handles, cfg.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("open pebble at %s: %w", cfg.Path, err)
		}
		log.Info("Opened pebble database", "path", cfg.Path, "cache", cfg.Cache, "handles", cfg.Handles)
		return db, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownEngine, cfg.Engine)
}

// NewMemoryDatabase returns a non-durable database for tests and demo mode.
func NewMemoryDatabase() Database {
	return memorydb.New()
}

// ReadRLP decodes the record stored under key into val. It reports false
// without error when the key is absent.
func ReadRLP(db ethdb.KeyValueReader, key []byte, val interface{}) (bool, error) {
	ok, err := db.Has(key)
	if err != nil || !ok {
		return false, err
	}
	blob, err := db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(blob, val); err != nil {
		return false, fmt.Errorf("decode record %x: %w", key, err)
	}
	return true, nil
}

// WriteRLP encodes val and stores it under key.
func WriteRLP(db ethdb.KeyValueWriter, key []byte, val interface{}) error {
	blob, err := rlp.EncodeToBytes(val)
	if err != nil {
		return fmt.Errorf("encode record %x: %w", key, err)
	}
	return db.Put(key, blob)
}

// IterateRLP calls fn with every value under prefix in key order, each decoded
// into a fresh T. Iteration stops at the first error.
func IterateRLP[T any](db ethdb.Iteratee, prefix []byte, fn func(key []byte, val *T) error) error {
	it := db.NewIterator(prefix, nil)
	defer it.Release()

	for it.Next() {
		val := new(T)
		if err := rlp.DecodeBytes(it.Value(), val); err != nil {
			return fmt.Errorf("decode record %x: %w", it.Key(), err)
		}
		if err := fn(it.Key(), val); err != nil {
			return err
		}
	}
	return it.Error()
}

// TimeToMillis converts t to the unix milliseconds stored in records. The
// zero time, and anything before the epoch, is stored as 0.
func TimeToMillis(t time.Time) uint64 {
	if t.IsZero() || t.UnixMilli() < 0 {
		return 0
	}
	return uint64(t.UnixMilli())
}

// MillisToTime is the inverse of TimeToMillis, in UTC.
func MillisToTime(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}
