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

// Package sandbox creates an isolated, resource-capped container for one
// submission, waits for it to finish and turns its exit status into one of a
// closed set of terminal events.
package sandbox

import "encoding/json"

// Event is the tag of the terminal outcome returned to a caller. Exactly one
// Event is ever produced per execution.
type Event string

const (
	EventDone            Event = "job-done"
	EventCodeError       Event = "job-code-error"
	EventOOMKilled       Event = "job-oom-killed"
	EventNetworkDisabled Event = "job-network-disabled"
	EventTimeout         Event = "job-timeout"
	EventImageMissing    Event = "job-image-not-found-error"
	EventInternalError   Event = "job-internal-error"
	EventOverloaded      Event = "job-overloaded"
)

// Query is one executed, annotated SQL statement as reported by the
// in-sandbox query logger.
type Query struct {
	SQL           string  `json:"sql"`
	Template      string  `json:"template,omitempty"`
	Time          float64 `json:"time"`
	LineNumber    *int    `json:"line_number,omitempty"`
	SourceContext string  `json:"source_context,omitempty"`
}

// LineOutput is a chunk of stdout attributed to the source line that
// produced it.
type LineOutput struct {
	LineNumber int    `json:"line_number"`
	Output     string `json:"output"`
}

// Result is the tagged union described in the data model: exactly one event
// is ever set, and the remaining fields are only meaningful for EventDone.
type Result struct {
	Event         Event           `json:"event"`
	Error         string          `json:"error,omitempty"`
	Output        string          `json:"output,omitempty"`
	OutputsByLine []LineOutput    `json:"outputs_by_line,omitempty"`
	Queries       []Query         `json:"queries,omitempty"`
	ERD           string          `json:"erd,omitempty"`
	Returned      json.RawMessage `json:"returned,omitempty"`
}

// containerResult mirrors the bit-exact contract the sandbox image writes to
// /tmp/result.json.
type containerResult struct {
	Output   string          `json:"output"`
	Outputs  []LineOutput    `json:"outputs"`
	Queries  []Query         `json:"queries"`
	ERD      string          `json:"erd"`
	Returned json.RawMessage `json:"returned"`
}

// Cacheable reports whether this result may be stored under a fingerprint
// key. Per the resolved open question in the design notes, only Done is
// cached: CodeError is likely to be edited and resubmitted within seconds,
// and Overloaded/InternalError must never be cached.
func (r Result) Cacheable() bool {
	return r.Event == EventDone
}
