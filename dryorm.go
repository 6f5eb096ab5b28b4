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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-github/v32/github"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/codepr/dryorm/admission"
	"github.com/codepr/dryorm/database"
	"github.com/codepr/dryorm/executor"
	"github.com/codepr/dryorm/fingerprint"
	"github.com/codepr/dryorm/orchestrator"
	"github.com/codepr/dryorm/sandbox"
	"github.com/codepr/dryorm/server"
	"github.com/codepr/dryorm/snippet"
	"github.com/codepr/dryorm/version"
)

var (
	addr          string
	registryPath  string
	redisAddr     string
	snippetDBPath string
	cacheRoot     string
	hostCacheRoot string
	repoOwner     string
	repoName      string
	githubToken   string
	postgresAdmin string
	postgresHost  string
	postgresPort  int
	postgresUser  string
	postgresPass  string
	mariadbAdmin  string
	mariadbHost   string
	mariadbPort   int
	mariadbUser   string
	mariadbPass   string
)

func init() {
	pflag.StringVar(&addr, "addr", ":28919", "HTTP listen address")
	pflag.StringVar(&registryPath, "registry", "config/executors.yaml", "path to the executor registry YAML file")
	pflag.StringVar(&redisAddr, "redis", "localhost:6379", "address of the Redis instance backing the cache and admission counter")
	pflag.StringVar(&snippetDBPath, "snippet-db", "dryorm-snippets.sqlite3", "path to the SQLite file backing the snippet store")
	pflag.StringVar(&cacheRoot, "pr-cache-dir", envOr("PR_CACHE_DIR", "/var/cache/dryorm"), "root directory for the bare repo and worktrees")
	pflag.StringVar(&hostCacheRoot, "host-pr-cache-path", envOr("HOST_PR_CACHE_PATH", ""), "host-visible path to pr-cache-dir, for bind-mounting from inside a container")
	pflag.StringVar(&repoOwner, "repo-owner", "django", "upstream GitHub organization for ref-mode submissions")
	pflag.StringVar(&repoName, "repo-name", "django", "upstream GitHub repository for ref-mode submissions")
	pflag.StringVar(&githubToken, "github-token", envOr("GITHUB_TOKEN", ""), "GitHub token used for ref resolution and search (optional, raises rate limits)")
	pflag.StringVar(&postgresAdmin, "postgres-admin-dsn", "", "admin DSN for the PostgreSQL provisioner; empty disables postgres submissions")
	pflag.StringVar(&postgresHost, "postgres-host", "postgres", "hostname the sandbox container uses to reach PostgreSQL")
	pflag.IntVar(&postgresPort, "postgres-port", 5432, "port the sandbox container uses to reach PostgreSQL")
	pflag.StringVar(&postgresUser, "postgres-service-user", envOr("POSTGRES_SERVICE_USER", ""), "service account the sandbox container authenticates to PostgreSQL with, distinct from the per-run ephemeral role")
	pflag.StringVar(&postgresPass, "postgres-service-password", envOr("POSTGRES_SERVICE_PASSWORD", ""), "password for postgres-service-user")
	pflag.StringVar(&mariadbAdmin, "mariadb-admin-dsn", "", "admin DSN for the MariaDB provisioner; empty disables mariadb submissions")
	pflag.StringVar(&mariadbHost, "mariadb-host", "mariadb", "hostname the sandbox container uses to reach MariaDB")
	pflag.IntVar(&mariadbPort, "mariadb-port", 3306, "port the sandbox container uses to reach MariaDB")
	pflag.StringVar(&mariadbUser, "mariadb-service-user", envOr("MARIADB_SERVICE_USER", ""), "service account the sandbox container authenticates to MariaDB with, distinct from the per-run ephemeral user")
	pflag.StringVar(&mariadbPass, "mariadb-service-password", envOr("MARIADB_SERVICE_PASSWORD", ""), "password for mariadb-service-user")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	pflag.Parse()

	logger := log.New(os.Stdout, "[dryorm] ", log.LstdFlags)
	banner := color.New(color.FgCyan, color.Bold)
	banner.Printf("dryorm sandbox core listening on %s\n", addr)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	registry, err := executor.WatchRegistry(registryPath, logger, stopWatch)
	if err != nil {
		logger.Fatalf("load executor registry: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "warning: redis at %s unreachable: %v\n", redisAddr, err)
	}

	cache, err := fingerprint.NewCache(rdb, logger)
	if err != nil {
		logger.Fatalf("build fingerprint cache: %v", err)
	}
	admissionCtl := admission.NewController(rdb, logger)

	runner, err := sandbox.NewRunner(logger)
	if err != nil {
		logger.Fatalf("dial container engine: %v", err)
	}

	dbEngines := []database.Engine{database.SQLiteEngine{}}
	if postgresAdmin != "" {
		pg, err := database.NewPostgresEngine(context.Background(), postgresAdmin, postgresHost, postgresPort, postgresUser, postgresPass, logger)
		if err != nil {
			logger.Fatalf("connect postgres provisioner: %v", err)
		}
		dbEngines = append(dbEngines, pg)
	}
	if mariadbAdmin != "" {
		maria, err := database.NewMariaDBEngine(mariadbAdmin, mariadbHost, mariadbPort, mariadbUser, mariadbPass, logger)
		if err != nil {
			logger.Fatalf("connect mariadb provisioner: %v", err)
		}
		dbEngines = append(dbEngines, maria)
	}
	databases := database.NewRegistry(dbEngines...)

	var refs *version.Provider
	if repoOwner != "" && repoName != "" {
		gh := github.NewClient(githubHTTPClient(githubToken))
		if hostCacheRoot == "" {
			hostCacheRoot = cacheRoot
		}
		refs = version.NewProvider(gh, repoOwner, repoName, cacheRoot, hostCacheRoot)
	}

	snippets, err := snippet.Open(snippetDBPath)
	if err != nil {
		logger.Fatalf("open snippet store: %v", err)
	}
	defer snippets.Close()

	orch := &orchestrator.Orchestrator{
		Registry:     registry,
		Cache:        cache,
		Admission:    admissionCtl,
		Databases:    databases,
		RefsProvider: refs,
		Runner:       runner,
		Logger:       logger,
	}

	srv := server.New(addr, &server.Deps{
		Orchestrator: orch,
		Refs:         refs,
		Snippets:     snippets,
		Logger:       logger,
	})

	if err := srv.Run(); err != nil {
		logger.Fatal(err)
	}
}

// githubHTTPClient builds a client whose round tripper wraps
// http.DefaultTransport and injects the token, avoiding a dependency on
// golang.org/x/oauth2 for a single header.
func githubHTTPClient(token string) *http.Client {
	if token == "" {
		return nil
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &bearerTransport{token: token, base: http.DefaultTransport},
	}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", fmt.Sprintf("token %s", t.token))
	return t.base.RoundTrip(req)
}
