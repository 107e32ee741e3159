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
	"errors"
	"fmt"

	"github.com/chronosvault/trinity/core"
)

var (
	ErrInvalidConfig     = errors.New("invalid consensus config")
	ErrOperationNotFound = fmt.Errorf("operation %w", core.ErrNotFound)
	ErrOperationExists   = fmt.Errorf("operation %w", core.ErrAlreadyExists)
	ErrRoleNotRequired   = fmt.Errorf("%w: role not required by operation", core.ErrInvalidArgument)
	ErrInvalidRoles      = fmt.Errorf("%w: operation needs at least %d distinct roles", core.ErrInvalidArgument, QuorumSize)
	ErrRecordNotFound    = fmt.Errorf("verification record %w", core.ErrNotFound)
)
