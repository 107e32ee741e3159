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

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/chronosvault/trinity/core"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

type quoteSummary struct {
	TEE          core.TEEType  `json:"tee"`
	Version      uint16        `json:"version"`
	QESVN        uint16        `json:"qeSvn"`
	PCESVN       uint16        `json:"pceSvn"`
	MREnclave    hexutil.Bytes `json:"mrenclave"`
	MRSigner     hexutil.Bytes `json:"mrsigner"`
	ISVProdID    uint16        `json:"isvProdId"`
	ISVSVN       uint16        `json:"isvSvn"`
	ReportData   hexutil.Bytes `json:"reportData"`
	Signed       bool          `json:"signed"`
	CertChainLen int           `json:"certChainLength"`
}

type sevSummary struct {
	TEE         core.TEEType  `json:"tee"`
	Version     uint32        `json:"version"`
	GuestSVN    uint32        `json:"guestSvn"`
	Policy      uint64        `json:"policy"`
	VMPL        uint32        `json:"vmpl"`
	Measurement hexutil.Bytes `json:"measurement"`
	ReportData  hexutil.Bytes `json:"reportData"`
	ChipID      hexutil.Bytes `json:"chipId"`
	ReportedTCB uint64        `json:"reportedTcb"`
	CurrentTCB  uint64        `json:"currentTcb"`
}

// inspect prints the fields of an SGX DCAP quote or an SEV-SNP report. The
// file may hold raw bytes or 0x-prefixed hex.
func inspect(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("usage: trinityd inspect <evidence-file>")
	}
	raw, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	evidence := decodeEvidence(raw)

	var summary any
	if q, qerr := sgx.ParseQuote(evidence); qerr == nil {
		summary = summarizeQuote(q)
	} else if r, rerr := sgx.ParseSEVReport(evidence); rerr == nil {
		summary = summarizeSEV(r)
	} else {
		return fmt.Errorf("%w: not an SGX quote (%v) or SEV-SNP report (%v)", core.ErrInvalidArgument, qerr, rerr)
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

func decodeEvidence(raw []byte) []byte {
	text := bytes.TrimSpace(raw)
	if bytes.HasPrefix(text, []byte("0x")) {
		if b, err := hexutil.Decode(string(text)); err == nil {
			return b
		}
	}
	return raw
}

func summarizeQuote(q *sgx.SGXQuote) *quoteSummary {
	return &quoteSummary{
		TEE:          core.TEESGX,
		Version:      q.Version,
		QESVN:        q.QESVN,
		PCESVN:       q.PCESVN,
		MREnclave:    q.MRENCLAVE[:],
		MRSigner:     q.MRSIGNER[:],
		ISVProdID:    q.ISVProdID,
		ISVSVN:       q.ISVSVN,
		ReportData:   q.ReportData[:],
		Signed:       q.HasSignatureData(),
		CertChainLen: len(q.CertChain),
	}
}

func summarizeSEV(r *sgx.SEVReport) *sevSummary {
	return &sevSummary{
		TEE:         core.TEESEVSNP,
		Version:     r.Version,
		GuestSVN:    r.GuestSVN,
		Policy:      r.Policy,
		VMPL:        r.VMPL,
		Measurement: r.Measurement[:],
		ReportData:  r.ReportData[:],
		ChipID:      r.ChipID[:],
		ReportedTCB: uint64(r.ReportedTCB),
		CurrentTCB:  uint64(r.CurrentTCB),
	}
}
