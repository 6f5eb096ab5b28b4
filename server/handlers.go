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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/codepr/dryorm/orchestrator"
	"github.com/codepr/dryorm/snippet"
	"github.com/codepr/dryorm/version"
)

const sessionCookie = "dryorm_session"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ormFamily splits "django-5.2.8" into its "django" family prefix, used
// only to build the human-readable half of a release cache key; the
// registry lookup itself always uses the full submitted string.
func ormFamily(ormVersion string) string {
	if i := strings.Index(ormVersion, "-"); i > 0 {
		return ormVersion[:i]
	}
	return ormVersion
}

type executeRequest struct {
	Code        string `json:"code"`
	Database    string `json:"database"`
	ORMVersion  string `json:"orm_version"`
	IgnoreCache bool   `json:"ignore_cache"`
	RefType     string `json:"ref_type"`
	RefID       string `json:"ref_id"`
	RefSHA      string `json:"ref_sha"`
}

// handleExecute runs one submission through the orchestrator and returns
// its terminal event verbatim.
func handleExecute(d *Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Code == "" {
			writeJSONError(w, http.StatusBadRequest, "code is required")
			return
		}

		sub := orchestrator.Submission{
			Code:        req.Code,
			Database:    req.Database,
			IgnoreCache: req.IgnoreCache,
		}
		if req.RefType != "" {
			sub.Version = orchestrator.Version{
				RefType: version.RefType(req.RefType),
				RefID:   req.RefID,
				RefSHA:  req.RefSHA,
			}
		} else {
			sub.Version = orchestrator.Version{
				Family:        ormFamily(req.ORMVersion),
				VersionString: req.ORMVersion,
			}
		}

		result := d.Orchestrator.Execute(r.Context(), sub)
		writeJSON(w, http.StatusOK, result)
	})
}

type fetchRefRequest struct {
	RefID string `json:"ref_id"`
}

// handleFetchRef implements POST /fetch-{pr,branch,tag}: a cache hit
// answers from the filesystem, a miss resolves and materializes a fresh
// worktree via the source-version provider.
func handleFetchRef(d *Deps, refType version.RefType) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if d.Refs == nil {
			writeJSONError(w, http.StatusNotImplemented, "source-version provider not configured")
			return
		}
		var req fetchRefRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefID == "" {
			writeJSONError(w, http.StatusBadRequest, "ref_id is required")
			return
		}

		if cached, ok := d.Refs.GetCached(refType, req.RefID, ""); ok {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "ref": cached, "cached": true})
			return
		}

		ref, err := d.Refs.Fetch(r.Context(), refType, req.RefID)
		if errors.Is(err, version.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			d.Logger.Printf("server: fetch %s %s failed: %v", refType, req.RefID, err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ref": ref, "cached": false})
	})
}

// handleSearchRefs implements GET /search-refs, a thin facade over the
// source-version provider's upstream search.
func handleSearchRefs(d *Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if d.Refs == nil {
			writeJSONError(w, http.StatusNotImplemented, "source-version provider not configured")
			return
		}

		q := r.URL.Query()
		refType := version.RefType(q.Get("type"))
		if refType != version.RefPR && refType != version.RefBranch && refType != version.RefTag {
			writeJSONError(w, http.StatusBadRequest, "type must be one of pr, branch, tag")
			return
		}
		limit := 20
		if raw := q.Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		results, err := d.Refs.Search(r.Context(), refType, q.Get("q"), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	})
}

type saveRequest struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Database   string `json:"database"`
	Private    bool   `json:"private"`
	ORMVersion string `json:"orm_version"`
	RefType    string `json:"ref_type"`
	RefID      string `json:"ref_id"`
	RefSHA     string `json:"sha"`
}

// sessionKeyFor reads the caller's session cookie, minting and setting a
// fresh one on first visit so an anonymous browser tab can still own (and
// later revise) the snippets it creates without an account.
func sessionKeyFor(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return key
}

// handleSave implements POST /save, persisting one submission as a named,
// addressable snippet. The response body is the bare slug string, which
// is all a caller needs to recall it later.
func handleSave(d *Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if d.Snippets == nil {
			writeJSONError(w, http.StatusNotImplemented, "snippet store not configured")
			return
		}
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Code == "" {
			writeJSONError(w, http.StatusBadRequest, "code is required")
			return
		}

		slug, err := d.Snippets.Create(r.Context(), snippet.Fields{
			Name:       req.Name,
			Code:       req.Code,
			Database:   req.Database,
			Private:    req.Private,
			ORMVersion: req.ORMVersion,
			RefType:    req.RefType,
			RefID:      req.RefID,
			SHA:        req.RefSHA,
			SessionKey: sessionKeyFor(w, r),
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, slug)
	})
}

type snippetResponse struct {
	Code       string   `json:"code"`
	Database   string   `json:"database"`
	ORMVersion string   `json:"ormVersion,omitempty"`
	Name       string   `json:"name"`
	RefInfo    *refInfo `json:"refInfo,omitempty"`
}

type refInfo struct {
	RefType string `json:"refType"`
	RefID   string `json:"refId"`
	SHA     string `json:"sha,omitempty"`
}

func toSnippetResponse(s snippet.Snippet) snippetResponse {
	resp := snippetResponse{Code: s.Code, Database: s.Database, ORMVersion: s.ORMVersion, Name: s.Name}
	if s.RefType != "" {
		resp.RefInfo = &refInfo{RefType: s.RefType, RefID: s.RefID, SHA: s.SHA}
	}
	return resp
}

// handleGetSnippet implements GET /api/snippet/<slug>.
func handleGetSnippet(d *Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if d.Snippets == nil {
			writeJSONError(w, http.StatusNotImplemented, "snippet store not configured")
			return
		}
		slug := strings.TrimPrefix(r.URL.Path, "/api/snippet/")
		if slug == "" {
			writeJSONError(w, http.StatusBadRequest, "slug is required")
			return
		}

		snip, err := d.Snippets.Get(r.Context(), slug)
		if errors.Is(err, snippet.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "snippet not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toSnippetResponse(snip))
	})
}

type paginatedSnippets struct {
	Snippets   []snippetResponse `json:"snippets"`
	Pagination pagination        `json:"pagination"`
}

type pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// handleListSnippets implements GET /api/snippets?q=&page=, excluding
// private snippets per the store's List contract.
func handleListSnippets(d *Deps) http.Handler {
	const pageSize = 20
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if d.Snippets == nil {
			writeJSONError(w, http.StatusNotImplemented, "snippet store not configured")
			return
		}

		q := r.URL.Query()
		page := 1
		if raw := q.Get("page"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				page = n
			}
		}

		snippets, total, err := d.Snippets.List(r.Context(), q.Get("q"), page, pageSize)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]snippetResponse, 0, len(snippets))
		for _, s := range snippets {
			resp = append(resp, toSnippetResponse(s))
		}
		totalPages := (total + pageSize - 1) / pageSize
		writeJSON(w, http.StatusOK, paginatedSnippets{
			Snippets: resp,
			Pagination: pagination{
				Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages,
			},
		})
	})
}
