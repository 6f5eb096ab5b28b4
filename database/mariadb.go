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
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/codepr/dryorm/sandbox"
)

// MariaDBEngine mirrors PostgresEngine over database/sql with the
// go-sql-driver/mysql driver, which speaks MariaDB's wire protocol as well
// as MySQL's. Setup carves out a database and a same-named user with a
// matching password; unlike Postgres, Teardown drops both.
type MariaDBEngine struct {
	admin  *sql.DB
	host   string
	port   int
	user   string
	pass   string
	logger *log.Logger
}

func NewMariaDBEngine(adminDSN, host string, port int, user, pass string, logger *log.Logger) (*MariaDBEngine, error) {
	db, err := sql.Open("mysql", adminDSN)
	if err != nil {
		return nil, fmt.Errorf("database: open mariadb admin connection: %w", err)
	}
	return &MariaDBEngine{admin: db, host: host, port: port, user: user, pass: pass, logger: logger}, nil
}

func (e *MariaDBEngine) Key() string      { return "mariadb" }
func (e *MariaDBEngine) NeedsSetup() bool { return true }

func sanitizeIdentifier(name string) string {
	return strings.ReplaceAll(name, "`", "")
}

func (e *MariaDBEngine) Setup(ctx context.Context) (sandbox.DatabaseCredentials, error) {
	name := sanitizeIdentifier("mariadb-" + uuid.NewString()[:6])

	userStmt := fmt.Sprintf("CREATE USER `%s`@`%%` IDENTIFIED BY '%s'", name, strings.ReplaceAll(name, "'", "''"))
	if _, err := e.admin.ExecContext(ctx, userStmt); err != nil {
		return sandbox.DatabaseCredentials{}, fmt.Errorf("database: create mariadb user %s: %w", name, err)
	}
	dbStmt := fmt.Sprintf("CREATE DATABASE `%s`", name)
	if _, err := e.admin.ExecContext(ctx, dbStmt); err != nil {
		return sandbox.DatabaseCredentials{}, fmt.Errorf("database: create mariadb database %s: %w", name, err)
	}
	grantStmt := fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO `%s`@`%%`", name, name)
	if _, err := e.admin.ExecContext(ctx, grantStmt); err != nil {
		return sandbox.DatabaseCredentials{}, fmt.Errorf("database: grant mariadb privileges for %s: %w", name, err)
	}

	return sandbox.DatabaseCredentials{
		Engine:          "mariadb",
		Name:            name,
		User:            name,
		Password:        name,
		Host:            e.host,
		Port:            e.port,
		ServiceUser:     e.user,
		ServicePassword: e.pass,
	}, nil
}

// Teardown drops both the database and the user created in Setup; MariaDB
// owns its login users directly, so leaving one behind would accumulate
// dead accounts on the shared server.
func (e *MariaDBEngine) Teardown(ctx context.Context, creds sandbox.DatabaseCredentials) error {
	dbStmt := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", sanitizeIdentifier(creds.Name))
	if _, err := e.admin.ExecContext(ctx, dbStmt); err != nil {
		e.logger.Printf("database: failed to drop mariadb database %s: %v", creds.Name, err)
		return fmt.Errorf("database: drop mariadb database %s: %w", creds.Name, err)
	}
	userStmt := fmt.Sprintf("DROP USER IF EXISTS `%s`@`%%`", sanitizeIdentifier(creds.Name))
	if _, err := e.admin.ExecContext(ctx, userStmt); err != nil {
		e.logger.Printf("database: failed to drop mariadb user %s: %v", creds.Name, err)
		return fmt.Errorf("database: drop mariadb user %s: %w", creds.Name, err)
	}
	return nil
}

func (e *MariaDBEngine) Close() error {
	return e.admin.Close()
}
