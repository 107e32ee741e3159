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
	"sort"

	"github.com/chronosvault/trinity/core"
	mapset "github.com/deckarep/golang-set/v2"
)

// QuorumSize is the number of distinct chain roles that must agree. Two of
// three tolerates one offline or compromised chain.
const QuorumSize = 2

// QuorumReached reports whether roles holds at least QuorumSize distinct
// valid chain roles. The consensus engine and the verification ledger both
// decide with this predicate.
func QuorumReached(roles mapset.Set[core.ChainRole]) bool {
	if roles == nil {
		return false
	}
	valid := 0
	roles.Each(func(r core.ChainRole) bool {
		if r.Valid() {
			valid++
		}
		return false
	})
	return valid >= QuorumSize
}

// RoleSet builds a set from roles.
func RoleSet(roles ...core.ChainRole) mapset.Set[core.ChainRole] {
	return mapset.NewThreadUnsafeSet(roles...)
}

func sortedRoles(set mapset.Set[core.ChainRole]) []core.ChainRole {
	roles := set.ToSlice()
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
