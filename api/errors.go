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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chronosvault/trinity/core"
	"github.com/ethereum/go-ethereum/log"
)

const maxBodySize = 1 << 20

// errorResponse is the body of every failed request
type errorResponse struct {
	Error     string `json:"error"`
	Class     string `json:"class"`
	RequestID string `json:"requestId,omitempty"`
}

// statusOf maps an error onto its HTTP status. Attestation failures are
// reported as unprocessable rather than forbidden so clients can tell a bad
// enclave from a bad caller.
func statusOf(err error) int {
	if core.IsAttestationFailure(err) {
		return http.StatusUnprocessableEntity
	}
	switch core.Classify(err) {
	case core.ClassSecurity:
		return http.StatusForbidden
	case core.ClassRetryable:
		return http.StatusTooEarly
	case core.ClassTerminal, core.ClassConflict:
		return http.StatusConflict
	case core.ClassNotFound:
		return http.StatusNotFound
	case core.ClassInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("API request failed", "reqid", requestIDFrom(r.Context()), "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeErrorStatus(w, r, status, core.Classify(err).String(), msg)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, class, msg string) {
	writeJSON(w, status, &errorResponse{Error: msg, Class: class, RequestID: requestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write API response", "err", err)
	}
}

// decodeJSON reads the request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", core.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}
