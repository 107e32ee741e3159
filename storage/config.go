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

// Engine selects the key-value backend.
type Engine string

const (
	EngineMemory  Engine = "memory"  // test/demo only, nothing survives a restart
	EngineLevelDB Engine = "leveldb" // syndtr/goleveldb through ethdb/leveldb
	EnginePebble  Engine = "pebble"  // cockroachdb/pebble
)

// Durable reports whether records written to the engine survive a restart.
func (e Engine) Durable() bool {
	return e == EngineLevelDB || e == EnginePebble
}

// Config defines configuration for the storage module
type Config struct {
	Engine    Engine // 存储引擎
	Path      string // 数据目录（memory 引擎忽略）
	Cache     int    // 缓存大小 (MB)
	Handles   int    // 文件句柄数
	Namespace string // metrics namespace for leveldb
	ReadOnly  bool
}

// DefaultConfig returns an in-memory configuration suitable for tests.
func DefaultConfig() *Config {
	return &Config{
		Engine:    EngineMemory,
		Cache:     16,
		Handles:   16,
		Namespace: "trinity/db/",
	}
}
