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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyExitCodes(t *testing.T) {
	cases := []struct {
		name     string
		exit     int64
		payload  []byte
		fallback string
		event    Event
	}{
		{"oom", 137, nil, "", EventOOMKilled},
		{"timeout", 124, nil, "", EventTimeout},
		{"network-disabled-exit", 101, nil, "", EventNetworkDisabled},
		{"network-unreachable-text", 1, nil, "dial tcp: Network is unreachable", EventNetworkDisabled},
		{"dns-failure-text", 1, nil, "Temporary failure in name resolution", EventNetworkDisabled},
		{"generic-code-error", 1, nil, "Traceback (most recent call last): ...", EventCodeError},
		{"unusual-nonzero", 42, nil, "boom", EventCodeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := classify(tc.exit, tc.payload, tc.fallback)
			assert.Equal(t, tc.event, result.Event)
		})
	}
}

func TestClassifyDoneParsesResultJSON(t *testing.T) {
	payload := []byte(`{
		"output": "hello\n",
		"outputs": [{"line_number": 3, "output": "hello\n"}],
		"queries": [{"sql": "SELECT 1", "time": 0.001, "line_number": 3}],
		"erd": "eJwryy9NQQQAGqgE",
		"returned": 42
	}`)
	result := classify(0, payload, "")
	require.Equal(t, EventDone, result.Event)
	assert.Equal(t, "hello\n", result.Output)
	require.Len(t, result.OutputsByLine, 1)
	assert.Equal(t, 3, result.OutputsByLine[0].LineNumber)
	require.Len(t, result.Queries, 1)
	assert.Equal(t, "SELECT 1", result.Queries[0].SQL)
	assert.True(t, result.Cacheable())
}

func TestClassifyDoneWithMissingPayloadIsInternalErrorNotCodeError(t *testing.T) {
	result := classify(0, nil, "not json at all")
	assert.Equal(t, EventInternalError, result.Event)
}

func TestClassifyDoneWithMalformedJSONIsInternalError(t *testing.T) {
	result := classify(0, []byte(`{not valid json`), "")
	assert.Equal(t, EventInternalError, result.Event)
}

func TestOnlyDoneIsCacheable(t *testing.T) {
	events := []Event{EventCodeError, EventOOMKilled, EventNetworkDisabled, EventTimeout, EventImageMissing, EventInternalError, EventOverloaded}
	for _, e := range events {
		r := Result{Event: e}
		assert.False(t, r.Cacheable(), "event %s must not be cacheable", e)
	}
	assert.True(t, Result{Event: EventDone}.Cacheable())
}
