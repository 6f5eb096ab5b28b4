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

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codepr/dryorm/executor"
	"github.com/codepr/dryorm/fingerprint"
	"github.com/codepr/dryorm/version"
)

func TestVersionIsRefDistinguishesReleaseFromRef(t *testing.T) {
	release := Version{Family: "django", VersionString: "5.2.8"}
	ref := Version{RefType: version.RefPR, RefID: "12345"}
	assert.False(t, release.isRef())
	assert.True(t, ref.isRef())
}

func TestVersionKeyUsesFallbackForRefMode(t *testing.T) {
	o := &Orchestrator{}
	key := o.versionKey(Version{RefType: version.RefPR, RefID: "12345"})
	assert.Equal(t, executor.DefaultFallback, key)
}

func TestVersionKeyUsesVersionStringForRelease(t *testing.T) {
	o := &Orchestrator{}
	key := o.versionKey(Version{Family: "django", VersionString: "4.2.26"})
	assert.Equal(t, "4.2.26", key)
}

func TestBuildKeyForReleaseSubmission(t *testing.T) {
	o := &Orchestrator{}
	sub := Submission{
		Code:     "print(1)",
		Database: "postgres",
		Version:  Version{Family: "django", VersionString: "5.2.8"},
	}
	fp := fingerprint.Of(sub.Code)

	key := o.buildKey(sub, fp, version.RefInfo{})
	assert.Equal(t, fingerprint.ReleaseKey("django", "5.2.8", "postgres", fp), key)
}

func TestBuildKeyForRefSubmissionUsesResolvedSHA(t *testing.T) {
	o := &Orchestrator{}
	sub := Submission{
		Code:     "print(1)",
		Database: "sqlite",
		Version:  Version{RefType: version.RefPR, RefID: "12345"},
	}
	fp := fingerprint.Of(sub.Code)
	ref := version.RefInfo{SHA: "abcdef123456789"}

	key := o.buildKey(sub, fp, ref)
	assert.Equal(t, fingerprint.RefKey("pr", "12345", ref.SHA12(), "sqlite", fp), key)
}

func TestBuildKeyForRefSubmissionPrefersCallerPinnedSHA(t *testing.T) {
	o := &Orchestrator{}
	sub := Submission{
		Code:     "print(1)",
		Database: "sqlite",
		Version:  Version{RefType: version.RefBranch, RefID: "main", RefSHA: "0123456789abcdef"},
	}
	fp := fingerprint.Of(sub.Code)

	key := o.buildKey(sub, fp, version.RefInfo{SHA: "should-not-be-used"})
	assert.Equal(t, fingerprint.RefKey("branch", "main", "0123456789ab", "sqlite", fp), key)
}
