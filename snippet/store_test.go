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
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snippets.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateWithEmptyNameGetsRandomSlug(t *testing.T) {
	s := openTestStore(t)
	slug, err := s.Create(context.Background(), Fields{Code: "print(1)", Database: "sqlite"})
	require.NoError(t, err)
	assert.Len(t, slug, 8)
}

func TestCreateWithNameSlugifiesIt(t *testing.T) {
	s := openTestStore(t)
	slug, err := s.Create(context.Background(), Fields{Name: "My Cool Query!", Code: "x = 1", Database: "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "my-cool-query", slug)
}

func TestGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	slug, err := s.Create(context.Background(), Fields{Name: "test", Code: "x = 1", Database: "postgres", SessionKey: "sess-1"})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), slug)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", got.Code)
	assert.Equal(t, "postgres", got.Database)
}

func TestGetUnknownSlugIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRejectsWrongSession(t *testing.T) {
	s := openTestStore(t)
	slug, err := s.Create(context.Background(), Fields{Name: "test", Code: "x = 1", SessionKey: "owner"})
	require.NoError(t, err)

	_, err = s.Update(context.Background(), slug, "intruder", Fields{Code: "x = 2"})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestUpdateSucceedsForOwningSession(t *testing.T) {
	s := openTestStore(t)
	slug, err := s.Create(context.Background(), Fields{Name: "test", Code: "x = 1", SessionKey: "owner"})
	require.NoError(t, err)

	updated, err := s.Update(context.Background(), slug, "owner", Fields{Name: "test", Code: "x = 2"})
	require.NoError(t, err)
	assert.Equal(t, "x = 2", updated.Code)
}

func TestListExcludesPrivateSnippets(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(context.Background(), Fields{Name: "public-one", Code: "a", Private: false})
	require.NoError(t, err)
	_, err = s.Create(context.Background(), Fields{Name: "secret-one", Code: "b", Private: true})
	require.NoError(t, err)

	snippets, total, err := s.List(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, snippets, 1)
	assert.Equal(t, "public-one", snippets[0].Name)
}

func TestListFiltersByNameOrCode(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(context.Background(), Fields{Name: "aggregation demo", Code: "Book.objects.count()"})
	require.NoError(t, err)
	_, err = s.Create(context.Background(), Fields{Name: "joins", Code: "Author.objects.select_related()"})
	require.NoError(t, err)

	byName, total, err := s.List(context.Background(), "aggregation", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byName, 1)
	assert.Equal(t, "aggregation demo", byName[0].Name)

	byCode, total, err := s.List(context.Background(), "select_related", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byCode, 1)
	assert.Equal(t, "joins", byCode[0].Name)

	none, total, err := s.List(context.Background(), "100%", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none, "LIKE metacharacters in the query must match literally")
}

func TestSlugifyCollapsesNonAlphanumericRuns(t *testing.T) {
	assert.Equal(t, "hello-world", slugify("Hello, World!!"))
	assert.Equal(t, "a-b-c", slugify("a___b---c"))
}
