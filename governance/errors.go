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
	"errors"
	"fmt"

	"github.com/chronosvault/trinity/core"
)

// Validator errors
var (
	ErrValidatorNotFound = fmt.Errorf("validator %w", core.ErrNotFound)
	ErrValidatorExists   = fmt.Errorf("validator %w", core.ErrAlreadyExists)
	ErrInvalidValidator  = fmt.Errorf("%w: invalid validator", core.ErrInvalidArgument)
	ErrInvalidTransition = fmt.Errorf("%w: illegal status transition", core.ErrInvalidArgument)
	ErrNoAttestation     = fmt.Errorf("attestation %w", core.ErrNotFound)
	ErrInvalidConfig     = errors.New("invalid registry config")
)

// Allow-list errors
var (
	ErrMeasurementNotFound = fmt.Errorf("measurement %w", core.ErrNotFound)
	ErrInvalidMeasurement  = fmt.Errorf("%w: invalid measurement", core.ErrInvalidArgument)
)
