// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package sandbox

import (
	"encoding/json"
	"strings"
)

// classify maps a container exit code plus its extracted payload to the
// closed event set. payload is the contents of /tmp/result.json when the
// extraction succeeded, or nil when it fell back to container logs (in which
// case stderrFallback carries the combined stdout+stderr text).
func classify(exitCode int64, payload []byte, stderrFallback string) Result {
	switch exitCode {
	case 0:
		return parseDone(payload)
	case 137:
		return Result{Event: EventOOMKilled, Error: "OOM! Please use less memory. Sorry!"}
	case 124:
		return Result{Event: EventTimeout, Error: "Timed out! Maximum allowed is 10 seconds. Sorry!"}
	case 101:
		return Result{Event: EventNetworkDisabled, Error: "Network is disabled! Sorry!"}
	default:
		if exitCode == 1 && isNetworkFailure(stderrFallback) {
			return Result{Event: EventNetworkDisabled, Error: "Network is disabled! Sorry!"}
		}
		msg := stderrFallback
		if msg == "" {
			msg = "process exited with a non-zero status"
		}
		return Result{Event: EventCodeError, Error: msg}
	}
}

func isNetworkFailure(stderr string) bool {
	return strings.Contains(stderr, "Network is unreachable") ||
		strings.Contains(stderr, "Temporary failure in name resolution")
}

// parseDone decodes result.json. A missing payload or a JSON parse failure
// is an InternalError, never a CodeError — the container told us it
// succeeded (exit 0) but didn't hand back a well-formed artifact.
func parseDone(payload []byte) Result {
	if len(payload) == 0 {
		return Result{Event: EventInternalError, Error: "Unknown error occurred. Please try again later."}
	}
	var cr containerResult
	if err := json.Unmarshal(payload, &cr); err != nil {
		return Result{Event: EventInternalError, Error: "Unknown error occurred. Please try again later."}
	}
	return Result{
		Event:         EventDone,
		Output:        cr.Output,
		OutputsByLine: cr.Outputs,
		Queries:       cr.Queries,
		ERD:           cr.ERD,
		Returned:      cr.Returned,
	}
}
