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

// Package database provisions and tears down the ephemeral, per-request
// database a sandboxed ORM run is given. Each engine owns exactly one
// backend family; the orchestrator never talks SQL directly, only through
// this interface.
package database

import (
	"context"

	"github.com/codepr/dryorm/sandbox"
)

// Engine provisions ephemeral databases for one backend family. SQLite has
// nothing to provision — the sandbox creates its file locally — so it
// implements this interface as a no-op; Postgres and MariaDB hold an admin
// connection to a shared server and carve out one throwaway database per
// request.
type Engine interface {
	// Key identifies the backend family, e.g. "sqlite", "postgres", "mariadb".
	Key() string

	// NeedsSetup reports whether Setup/Teardown do real work. The
	// orchestrator skips both calls entirely when this is false, which
	// matters because SQLite runs are expected to stay on the hot,
	// no-network-dependency path.
	NeedsSetup() bool

	// Setup provisions a throwaway database and returns the credentials the
	// sandbox container needs to reach it.
	Setup(ctx context.Context) (sandbox.DatabaseCredentials, error)

	// Teardown drops whatever Setup created. It runs unconditionally after
	// a request finishes, success or failure, so it must tolerate being
	// called with a database name it already dropped.
	Teardown(ctx context.Context, creds sandbox.DatabaseCredentials) error
}
