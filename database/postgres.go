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

package database

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codepr/dryorm/sandbox"
)

// PostgresEngine holds a pool against a fixed administrative server and
// carves out one disposable database plus a same-named login role per
// request: a database and a same-named login role with a matching
// password, all equal to postgres-<rand6>. The admin pool
// itself never runs request SQL; only the sandbox container connects to
// the database and role it creates.
type PostgresEngine struct {
	admin  *pgxpool.Pool
	host   string
	port   int
	user   string
	pass   string
	logger *log.Logger
}

func NewPostgresEngine(ctx context.Context, adminDSN, host string, port int, user, pass string, logger *log.Logger) (*PostgresEngine, error) {
	pool, err := pgxpool.New(ctx, adminDSN)
	if err != nil {
		return nil, fmt.Errorf("database: connect postgres admin pool: %w", err)
	}
	return &PostgresEngine{admin: pool, host: host, port: port, user: user, pass: pass, logger: logger}, nil
}

func (e *PostgresEngine) Key() string      { return "postgres" }
func (e *PostgresEngine) NeedsSetup() bool { return true }

func (e *PostgresEngine) Setup(ctx context.Context) (sandbox.DatabaseCredentials, error) {
	name := "postgres-" + uuid.NewString()[:6]
	ident := pgx.Identifier{name}.Sanitize()

	// CREATE ROLE/DATABASE cannot run inside a transaction block and take
	// no bind parameter for an identifier, so the generated name is quoted
	// with pgx.Identifier.Sanitize (and quoteLiteral for the password)
	// before being spliced in.
	roleStmt := fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s", ident, quoteLiteral(name))
	if _, err := e.admin.Exec(ctx, roleStmt); err != nil {
		return sandbox.DatabaseCredentials{}, fmt.Errorf("database: create postgres role %s: %w", name, err)
	}
	dbStmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s", ident, ident)
	if _, err := e.admin.Exec(ctx, dbStmt); err != nil {
		return sandbox.DatabaseCredentials{}, fmt.Errorf("database: create postgres database %s: %w", name, err)
	}

	return sandbox.DatabaseCredentials{
		Engine:          "postgres",
		Name:            name,
		User:            name,
		Password:        name,
		Host:            e.host,
		Port:            e.port,
		ServiceUser:     e.user,
		ServicePassword: e.pass,
	}, nil
}

// Teardown drops the database only; the role is left in place, matching
// the distilled contract ("drop the database (and role, for MariaDB)") —
// only the MariaDB engine's teardown drops its role as well.
func (e *PostgresEngine) Teardown(ctx context.Context, creds sandbox.DatabaseCredentials) error {
	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{creds.Name}.Sanitize())
	if _, err := e.admin.Exec(ctx, stmt); err != nil {
		e.logger.Printf("database: failed to drop postgres database %s: %v", creds.Name, err)
		return fmt.Errorf("database: drop postgres database %s: %w", creds.Name, err)
	}
	return nil
}

// quoteLiteral escapes name for use as a single-quoted SQL string literal.
// name is always our own uuid-derived identifier, never user input, but
// the escape keeps the statement well-formed regardless.
func quoteLiteral(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func (e *PostgresEngine) Close() {
	e.admin.Close()
}
