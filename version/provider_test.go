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

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefspecForMapsRefTypes(t *testing.T) {
	assert.Equal(t, "pull/12345/head", refspecFor(RefPR, "12345"))
	assert.Equal(t, "heads/main", refspecFor(RefBranch, "main"))
	assert.Equal(t, "tags/5.2.8", refspecFor(RefTag, "5.2.8"))
}

func TestSafeIDReplacesSlashes(t *testing.T) {
	assert.Equal(t, "feature__foo", safeID("feature/foo"))
	assert.Equal(t, "plain", safeID("plain"))
}

func TestSHA12TruncatesFullSHA(t *testing.T) {
	r := RefInfo{SHA: "abc123def4567890"}
	assert.Equal(t, "abc123def456", r.SHA12())
}

func TestSHA12PassesThroughShortSHA(t *testing.T) {
	r := RefInfo{SHA: "abc123"}
	assert.Equal(t, "abc123", r.SHA12())
}

func TestWorktreeDirForTagHasNoSHASubdirectory(t *testing.T) {
	p := &Provider{cacheRoot: "/cache"}
	dir := p.worktreeDir(RefTag, "5.2.8", "ignored")
	assert.Equal(t, "/cache/worktrees/tag/5.2.8", dir)
}

func TestWorktreeDirForPRIncludesSHAPrefix(t *testing.T) {
	p := &Provider{cacheRoot: "/cache"}
	dir := p.worktreeDir(RefPR, "12345", "abc123def456")
	assert.Equal(t, "/cache/worktrees/pr/12345/abc123def456", dir)
}
