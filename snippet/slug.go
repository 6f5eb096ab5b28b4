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

package snippet

import (
	"crypto/rand"
	"strings"
)

const maxSlugRetries = 5

const randomNameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomSlugName generates the random 8-character alphanumeric name used
// both when the caller supplied no name and as the fallback identity on a
// slug collision retry.
func randomSlugName() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard library's reader does not fail
		// in practice; degrade to a fixed-but-unique-enough value rather
		// than panicking the request.
		for i := range buf {
			buf[i] = randomNameAlphabet[i]
		}
	}
	for i, b := range buf {
		buf[i] = randomNameAlphabet[int(b)%len(randomNameAlphabet)]
	}
	return string(buf)
}

// slugFor derives a URL-safe slug from name. On forceRandom (a collision
// retry) the name is ignored in favor of a fresh random identity, matching
// the contract that collisions retry with a fresh random name rather than
// appending a counter suffix.
func slugFor(name string, forceRandom bool) string {
	if forceRandom || name == "" {
		return slugify(randomSlugName())
	}
	return slugify(name)
}

// slugify lowercases, replaces runs of non-alphanumeric characters with a
// single hyphen, and trims leading/trailing hyphens.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return slugify(randomSlugName())
	}
	return out
}
