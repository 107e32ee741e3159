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

package attestation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attestationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trinity",
			Subsystem: "attestation",
			Name:      "verifications_total",
			Help:      "Attestation verifications by TEE type and outcome.",
		},
		[]string{"tee", "outcome"},
	)
	collateralFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trinity",
			Subsystem: "attestation",
			Name:      "collateral_fetches_total",
			Help:      "Vendor collateral lookups by kind and cache outcome.",
		},
		[]string{"kind", "source"},
	)
)
