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

package trinity

import (
	"fmt"
	"time"
)

// Config holds the consensus engine settings
type Config struct {
	OperationTimeout time.Duration // 操作从创建到失败的期限
	SweepInterval    time.Duration // 过期操作清理间隔
}

// DefaultConfig returns the default consensus configuration
func DefaultConfig() *Config {
	return &Config{
		OperationTimeout: time.Hour,
		SweepInterval:    time.Minute,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("%w: operation timeout must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidConfig)
	}
	return nil
}
