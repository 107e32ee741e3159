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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string
	Count uint64
	Flag  bool
}

func openEngines(t *testing.T) map[Engine]Database {
	t.Helper()

	dbs := make(map[Engine]Database)
	for _, engine := range []Engine{EngineMemory, EngineLevelDB, EnginePebble} {
		cfg := DefaultConfig()
		cfg.Engine = engine
		cfg.Path = t.TempDir()
		db, err := Open(cfg)
		require.NoError(t, err, engine)
		t.Cleanup(func() { db.Close() })
		dbs[engine] = db
	}
	return dbs
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open(&Config{Engine: "rocks"})
	assert.ErrorIs(t, err, errUnknownEngine)
}

func TestEngineDurable(t *testing.T) {
	assert.False(t, EngineMemory.Durable())
	assert.True(t, EngineLevelDB.Durable())
	assert.True(t, EnginePebble.Durable())
}

func TestRecordRoundTrip(t *testing.T) {
	for engine, db := range openEngines(t) {
		t.Run(string(engine), func(t *testing.T) {
			var out testRecord
			found, err := ReadRLP(db, ValidatorKey("missing"), &out)
			require.NoError(t, err)
			assert.False(t, found)

			in := testRecord{Name: "validator-1", Count: 7, Flag: true}
			require.NoError(t, WriteRLP(db, ValidatorKey("validator-1"), &in))

			found, err = ReadRLP(db, ValidatorKey("validator-1"), &out)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, in, out)

			require.NoError(t, db.Delete(ValidatorKey("validator-1")))
			found, err = ReadRLP(db, ValidatorKey("validator-1"), &out)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestIteratePrefix(t *testing.T) {
	for engine, db := range openEngines(t) {
		t.Run(string(engine), func(t *testing.T) {
			for seq := uint64(0); seq < 3; seq++ {
				require.NoError(t, WriteRLP(db, HistoryKey("node-a", seq), &testRecord{Name: "a", Count: seq}))
			}
			// A sibling id sharing a textual prefix must not leak into node-a.
			require.NoError(t, WriteRLP(db, HistoryKey("node-ab", 0), &testRecord{Name: "ab"}))
			require.NoError(t, WriteRLP(db, ValidatorKey("node-a"), &testRecord{Name: "v"}))

			var got []uint64
			err := IterateRLP(db, HistoryPrefix("node-a"), func(key []byte, rec *testRecord) error {
				assert.Equal(t, "a", rec.Name)
				got = append(got, rec.Count)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []uint64{0, 1, 2}, got)
		})
	}
}

func TestPebbleClosed(t *testing.T) {
	db, err := NewPebbleDatabase(t.TempDir(), 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, errDatabaseClosed)
	assert.ErrorIs(t, db.Put([]byte("k"), []byte("v")), errDatabaseClosed)

	it := db.NewIterator(nil, nil)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Error(), errDatabaseClosed)
	it.Release()
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("W"), upperBound([]byte("V")))
	assert.Equal(t, []byte{0x01, 0x03}, upperBound([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	assert.Nil(t, upperBound([]byte{0xff, 0xff}))
	assert.Nil(t, upperBound(nil))
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter = make(map[string]int)
		guard   sync.Mutex
	)
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()

				guard.Lock()
				v := counter[key]
				guard.Unlock()
				guard.Lock()
				counter[key] = v + 1
				guard.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counter["a"])
	assert.Equal(t, 50, counter["b"])
	assert.Zero(t, km.Len())
}

func TestKeyedMutexDoubleUnlock(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("x")
	unlock()
	unlock()
	assert.Zero(t, km.Len())

	unlock = km.Lock("x")
	assert.Equal(t, 1, km.Len())
	unlock()
}
