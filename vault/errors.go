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

package vault

import (
	"errors"
	"fmt"

	"github.com/chronosvault/trinity/core"
)

var (
	ErrProposalNotFound  = fmt.Errorf("proposal %w", core.ErrNotFound)
	ErrInvalidPayload    = fmt.Errorf("%w: invalid payload", core.ErrInvalidArgument)
	ErrInvalidSignerSet  = fmt.Errorf("%w: invalid signer set", core.ErrInvalidArgument)
	ErrSignersNotSet     = fmt.Errorf("signer set %w", core.ErrNotFound)
	ErrSignersAlreadySet = fmt.Errorf("signer set %w", core.ErrAlreadyExists)
	ErrVaultNotFound     = fmt.Errorf("vault %w", core.ErrNotFound)
	ErrVaultExists       = fmt.Errorf("vault %w", core.ErrAlreadyExists)
	ErrExecutorFailed    = errors.New("vault executor failed")
)
