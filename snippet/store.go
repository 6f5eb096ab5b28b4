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

// Package snippet persists submissions by slug, with optional session-based
// ownership so a browser tab can revise its own snippet without requiring
// an account.
package snippet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("snippet: not found")
	ErrNotOwner = errors.New("snippet: session does not own this slug")
)

// Snippet is one saved submission.
type Snippet struct {
	Slug       string
	Name       string
	Code       string
	Database   string
	Private    bool
	Created    time.Time
	ORMVersion string
	RefType    string
	RefID      string
	SHA        string
	SessionKey string
}

// Fields is the subset of Snippet accepted on create/update; Slug and
// Created are assigned by the store.
type Fields struct {
	Name       string
	Code       string
	Database   string
	Private    bool
	ORMVersion string
	RefType    string
	RefID      string
	SHA        string
	SessionKey string
}

// Store is a sqlite-backed snippet table, opened with the WAL pragmas the
// corpus uses for a single-writer-many-readers workload.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("snippet: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("snippet: ping %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snippets (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		database TEXT NOT NULL DEFAULT 'sqlite',
		private INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		orm_version TEXT,
		ref_type TEXT,
		ref_id TEXT,
		sha TEXT,
		session_key TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_snippets_created ON snippets(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new snippet and returns its slug. Slug uniqueness is
// enforced by the table's primary key; on a collision create retries with a
// freshly generated random slug rather than suffixing the colliding one,
// per the store's uniqueness contract.
func (s *Store) Create(ctx context.Context, f Fields) (string, error) {
	for attempt := 0; attempt < maxSlugRetries; attempt++ {
		slug := slugFor(f.Name, attempt > 0)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO snippets (slug, name, code, database, private, created_at, orm_version, ref_type, ref_id, sha, session_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			slug, displayName(f.Name), f.Code, f.Database, f.Private, time.Now().Unix(),
			nullable(f.ORMVersion), nullable(f.RefType), nullable(f.RefID), nullable(f.SHA), nullable(f.SessionKey),
		)
		if err == nil {
			return slug, nil
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("snippet: create: %w", err)
		}
	}
	return "", fmt.Errorf("snippet: create: exhausted %d slug collision retries", maxSlugRetries)
}

// Get fetches one snippet by slug.
func (s *Store) Get(ctx context.Context, slug string) (Snippet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, name, code, database, private, created_at, orm_version, ref_type, ref_id, sha, session_key
		FROM snippets WHERE slug = ?`, slug)
	return scanSnippet(row)
}

// Update overwrites fields on an existing snippet, enforcing that the
// caller's sessionKey matches the snippet's recorded owner. A snippet saved
// without a session key (legacy or anonymous-disabled) can never be
// updated this way.
func (s *Store) Update(ctx context.Context, slug, sessionKey string, f Fields) (Snippet, error) {
	existing, err := s.Get(ctx, slug)
	if err != nil {
		return Snippet{}, err
	}
	if existing.SessionKey == "" || existing.SessionKey != sessionKey {
		return Snippet{}, ErrNotOwner
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE snippets SET name = ?, code = ?, database = ?, private = ?, orm_version = ?, ref_type = ?, ref_id = ?, sha = ?
		WHERE slug = ?`,
		displayName(f.Name), f.Code, f.Database, f.Private,
		nullable(f.ORMVersion), nullable(f.RefType), nullable(f.RefID), nullable(f.SHA), slug,
	)
	if err != nil {
		return Snippet{}, fmt.Errorf("snippet: update %s: %w", slug, err)
	}
	return s.Get(ctx, slug)
}

// List returns public snippets ordered newest-first, paginated. A non-empty
// query narrows the result to snippets whose name or code contains it,
// case-insensitively.
func (s *Store) List(ctx context.Context, query string, page, pageSize int) ([]Snippet, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := `private = 0`
	args := []any{}
	if query = strings.TrimSpace(query); query != "" {
		where += ` AND (name LIKE ? ESCAPE '\' OR code LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(query) + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snippets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("snippet: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, name, code, database, private, created_at, orm_version, ref_type, ref_id, sha, session_key
		FROM snippets WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("snippet: list: %w", err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		snip, err := scanSnippet(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, snip)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row scanner) (Snippet, error) {
	var (
		snip                                        Snippet
		private                                     int
		createdUnix                                 int64
		ormVersion, refType, refID, sha, sessionKey sql.NullString
	)
	err := row.Scan(&snip.Slug, &snip.Name, &snip.Code, &snip.Database, &private, &createdUnix,
		&ormVersion, &refType, &refID, &sha, &sessionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Snippet{}, ErrNotFound
	}
	if err != nil {
		return Snippet{}, fmt.Errorf("snippet: scan: %w", err)
	}
	snip.Private = private != 0
	snip.Created = time.Unix(createdUnix, 0).UTC()
	snip.ORMVersion = ormVersion.String
	snip.RefType = refType.String
	snip.RefID = refID.String
	snip.SHA = sha.String
	snip.SessionKey = sessionKey.String
	return snip, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func displayName(name string) string {
	if name == "" {
		return randomSlugName()
	}
	return name
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied query so a
// search for "100%" matches the literal text rather than everything.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
