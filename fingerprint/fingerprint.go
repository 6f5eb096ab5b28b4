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

// Package fingerprint computes the deterministic content hash used as the
// high-entropy part of a cache key, and builds the cache keys themselves.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Fingerprint is a 128-bit hash over the submitted code's exact bytes. No
// whitespace normalization is applied: the ORM under test may itself be
// whitespace-sensitive (Python indentation), so two submissions that differ
// only in formatting are deliberately treated as different work.
type Fingerprint string

// Of hashes the raw submission bytes.
func Of(code string) Fingerprint {
	sum := md5.Sum([]byte(code))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Key is the cache key for one (version, database, code) tuple.
type Key string

// ReleaseKey builds the key for a named release version, e.g.
// "django-5.2.8-postgres-<fp>".
func ReleaseKey(family, version, database string, fp Fingerprint) Key {
	return Key(fmt.Sprintf("%s-%s-%s-%s", family, version, database, fp))
}

// RefKey builds the key for a source-ref version. sha12 must already be the
// 12-character commit prefix — callers resolve the full SHA and truncate it
// themselves so that a ref advancing to a new commit naturally invalidates
// this key without any explicit eviction.
func RefKey(refType, refID, sha12, database string, fp Fingerprint) Key {
	return Key(fmt.Sprintf("%s-%s-%s-%s-%s", refType, refID, sha12, database, fp))
}
