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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trinity",
			Subsystem: "consensus",
			Name:      "votes_total",
			Help:      "Submitted votes by chain role and outcome.",
		},
		[]string{"role", "outcome"},
	)
	operationsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trinity",
		Subsystem: "consensus",
		Name:      "operations_confirmed_total",
		Help:      "Operations that reached quorum.",
	})
	operationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trinity",
		Subsystem: "consensus",
		Name:      "operations_failed_total",
		Help:      "Operations that missed their deadline.",
	})
	confirmationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trinity",
		Subsystem: "consensus",
		Name:      "confirmation_seconds",
		Help:      "Time from operation creation to confirmation.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	})
	lapsedVotesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trinity",
		Subsystem: "consensus",
		Name:      "lapsed_votes_pruned_total",
		Help:      "Recorded votes dropped because the voter's attestation lapsed.",
	})
	ledgerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trinity",
			Subsystem: "ledger",
			Name:      "verifications_total",
			Help:      "Ledger verification calls by outcome.",
		},
		[]string{"outcome"},
	)
)
