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
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// The database is a flat key space. Every record family lives under a
// one-byte prefix followed by its identifier.
var (
	validatorPrefix   = []byte("V") // validatorPrefix + id -> validator record
	walletIndexPrefix = []byte("W") // walletIndexPrefix + address -> id
	historyPrefix     = []byte("H") // historyPrefix + id + '/' + seq (uint64 big endian) -> history event
	attestationPrefix = []byte("A") // attestationPrefix + id -> latest attestation result
	operationPrefix   = []byte("O") // operationPrefix + operation id -> operation
	ledgerPrefix      = []byte("L") // ledgerPrefix + chain id (uint64 big endian) + data hash -> verification record
	proposalPrefix    = []byte("P") // proposalPrefix + tx id -> multisig proposal
	timelockPrefix    = []byte("T") // timelockPrefix + vault id -> unlock time
	swapPrefix        = []byte("S") // swapPrefix + swap id -> swap

	vaultSignersKey = []byte("vault-signers")
	genesisKey      = []byte("genesis-applied")
)

// ValidatorPrefix is the iteration prefix for all validator records.
func ValidatorPrefix() []byte { return validatorPrefix }

// ValidatorKey = validatorPrefix + id
func ValidatorKey(id string) []byte {
	return append(append([]byte{}, validatorPrefix...), id...)
}

// WalletIndexKey = walletIndexPrefix + address
func WalletIndexKey(addr common.Address) []byte {
	return append(append([]byte{}, walletIndexPrefix...), addr.Bytes()...)
}

// AttestationKey = attestationPrefix + id
func AttestationKey(id string) []byte {
	return append(append([]byte{}, attestationPrefix...), id...)
}

// HistoryPrefix returns the iteration prefix for one validator's history.
func HistoryPrefix(id string) []byte {
	key := append(append([]byte{}, historyPrefix...), id...)
	return append(key, '/')
}

// HistoryKey = historyPrefix + id + '/' + seq
func HistoryKey(id string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(HistoryPrefix(id), seq)
}

// OperationPrefix is the iteration prefix for all operations.
func OperationPrefix() []byte { return operationPrefix }

// OperationKey = operationPrefix + operation id
func OperationKey(id common.Hash) []byte {
	return append(append([]byte{}, operationPrefix...), id.Bytes()...)
}

// LedgerKey = ledgerPrefix + chain id + data hash
func LedgerKey(chainID uint64, dataHash common.Hash) []byte {
	key := binary.BigEndian.AppendUint64(append([]byte{}, ledgerPrefix...), chainID)
	return append(key, dataHash.Bytes()...)
}

// ProposalPrefix is the iteration prefix for all multisig proposals.
func ProposalPrefix() []byte { return proposalPrefix }

// ProposalKey = proposalPrefix + tx id
func ProposalKey(id common.Hash) []byte {
	return append(append([]byte{}, proposalPrefix...), id.Bytes()...)
}

// TimelockPrefix is the iteration prefix for all timelocks.
func TimelockPrefix() []byte { return timelockPrefix }

// TimelockKey = timelockPrefix + vault id
func TimelockKey(vaultID string) []byte {
	return append(append([]byte{}, timelockPrefix...), vaultID...)
}

// SwapPrefix is the iteration prefix for all swaps.
func SwapPrefix() []byte { return swapPrefix }

// SwapKey = swapPrefix + swap id
func SwapKey(id common.Hash) []byte {
	return append(append([]byte{}, swapPrefix...), id.Bytes()...)
}

// VaultSignersKey stores the current signer set and threshold.
func VaultSignersKey() []byte { return vaultSignersKey }

// GenesisKey marks that the genesis bootstrap has been applied.
func GenesisKey() []byte { return genesisKey }
