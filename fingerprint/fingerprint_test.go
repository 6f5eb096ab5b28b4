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

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codepr/dryorm/sandbox"
)

func TestOfIsDeterministic(t *testing.T) {
	a := Of("print('hello')")
	b := Of("print('hello')")
	assert.Equal(t, a, b)
}

func TestOfIsWhitespaceSensitive(t *testing.T) {
	a := Of("def run():\n    pass\n")
	b := Of("def run():\n\tpass\n")
	assert.NotEqual(t, a, b, "fingerprint must not normalize whitespace, the ORM may be whitespace-sensitive")
}

func TestReleaseKeyShape(t *testing.T) {
	fp := Of("code")
	key := ReleaseKey("django", "5.2.8", "postgres", fp)
	assert.Equal(t, Key("django-5.2.8-postgres-"+string(fp)), key)
}

func TestRefKeyShape(t *testing.T) {
	fp := Of("code")
	key := RefKey("pr", "12345", "abc123def456", "sqlite", fp)
	assert.Equal(t, Key("pr-12345-abc123def456-sqlite-"+string(fp)), key)
}

func TestRefKeyChangesWhenSHAAdvances(t *testing.T) {
	fp := Of("code")
	k1 := RefKey("pr", "12345", "aaaaaaaaaaaa", "sqlite", fp)
	k2 := RefKey("pr", "12345", "bbbbbbbbbbbb", "sqlite", fp)
	assert.NotEqual(t, k1, k2)
}

func TestDoneResultIsCacheable(t *testing.T) {
	r := sandbox.Result{Event: sandbox.EventDone, Output: "hi"}
	assert.True(t, r.Cacheable())
}
