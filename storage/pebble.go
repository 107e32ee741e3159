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

package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/ethdb"
)

var errDatabaseClosed = errors.New("pebble: database closed")

// PebbleDatabase adapts a cockroachdb/pebble store to the Database interface.
// Every write is synced; Trinity records are few and must survive a crash.
type PebbleDatabase struct {
	db *pebble.DB

	closeMu sync.RWMutex
	closed  bool
}

// NewPebbleDatabase opens (or creates) a pebble store at dir.
func NewPebbleDatabase(dir string, cacheMB, handles int, readonly bool) (*PebbleDatabase, error) {
	if cacheMB < 8 {
		cacheMB = 8
	}
	if handles < 16 {
		handles = 16
	}
	cache := pebble.NewCache(int64(cacheMB) * 1024 * 1024)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: handles,
		ReadOnly:     readonly,
	})
	if err != nil {
		return nil, err
	}
	return &PebbleDatabase{db: db}, nil
}

// Has reports whether key is present.
func (d *PebbleDatabase) Has(key []byte) (bool, error) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return false, errDatabaseClosed
	}
	_, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Get returns a copy of the value stored under key.
func (d *PebbleDatabase) Get(key []byte) ([]byte, error) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return nil, errDatabaseClosed
	}
	val, closer, err := d.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

// Put stores value under key.
func (d *PebbleDatabase) Put(key []byte, value []byte) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return errDatabaseClosed
	}
	return d.db.Set(key, value, pebble.Sync)
}

// Delete removes key.
func (d *PebbleDatabase) Delete(key []byte) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return errDatabaseClosed
	}
	return d.db.Delete(key, pebble.Sync)
}

// NewIterator iterates keys with the given prefix, starting at prefix+start.
func (d *PebbleDatabase) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return &pebbleIterator{err: errDatabaseClosed}
	}
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: append(bytes.Clone(prefix), start...),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return &pebbleIterator{err: err}
	}
	iter.First()
	return &pebbleIterator{iter: iter, moved: true}
}

// Close releases the store. Calls after the first are no-ops.
func (d *PebbleDatabase) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// upperBound returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func upperBound(prefix []byte) []byte {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c == 0xff {
			continue
		}
		limit = make([]byte, i+1)
		copy(limit, prefix)
		limit[i] = c + 1
		break
	}
	return limit
}

type pebbleIterator struct {
	iter     *pebble.Iterator
	moved    bool
	released bool
	err      error
}

func (it *pebbleIterator) Next() bool {
	if it.iter == nil || it.released {
		return false
	}
	if it.moved {
		it.moved = false
		return it.iter.Valid()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.iter == nil || it.released {
		return nil
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Key() []byte {
	if it.iter == nil || it.released || !it.iter.Valid() {
		return nil
	}
	return it.iter.Key()
}

func (it *pebbleIterator) Value() []byte {
	if it.iter == nil || it.released || !it.iter.Valid() {
		return nil
	}
	return it.iter.Value()
}

func (it *pebbleIterator) Release() {
	if it.iter != nil && !it.released {
		it.iter.Close()
		it.released = true
	}
}
