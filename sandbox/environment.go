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

import "fmt"

// DatabaseCredentials describes the ephemeral (or fixed, for SQLite) target
// database a sandbox run should connect to, plus the service/admin account
// the engine itself authenticates with on the same host.
type DatabaseCredentials struct {
	Engine          string
	Name            string
	User            string
	Password        string
	Host            string
	Port            int
	ServiceUser     string
	ServicePassword string
}

// RunRequest bundles everything the runner needs besides the executor
// descriptor itself.
type RunRequest struct {
	Code             string
	Database         string
	DB               *DatabaseCredentials
	WorktreeHostPath string
	RefMode          bool
}

// buildEnv reproduces the environment variable contract of the sandbox
// image: CODE,
// DB_TYPE, DB_NAME, DB_USER, DB_PASSWORD plus the service connection the
// sandbox image uses to reach the (possibly shared) database server,
// including the service account distinct from the per-request ephemeral
// DB_USER/DB_PASSWORD.
func buildEnv(req RunRequest) []string {
	env := []string{
		fmt.Sprintf("CODE=%s", req.Code),
		fmt.Sprintf("DB_TYPE=%s", req.Database),
	}
	if req.DB != nil {
		env = append(env,
			fmt.Sprintf("DB_NAME=%s", req.DB.Name),
			fmt.Sprintf("DB_USER=%s", req.DB.User),
			fmt.Sprintf("DB_PASSWORD=%s", req.DB.Password),
			fmt.Sprintf("SERVICE_DB_HOST=%s", req.DB.Host),
			fmt.Sprintf("SERVICE_DB_PORT=%d", req.DB.Port),
			fmt.Sprintf("SERVICE_DB_USER=%s", req.DB.ServiceUser),
			fmt.Sprintf("SERVICE_DB_PASSWORD=%s", req.DB.ServicePassword),
		)
	}
	return env
}
