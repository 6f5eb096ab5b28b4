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

// Package version resolves pull-request, branch, and tag identifiers against
// an upstream GitHub repository and materializes them as read-only worktrees
// sharing a single bare repository's object storage. go-git/v5 reads
// commit metadata out of the bare repo; the bare-repo fetch and worktree
// lifecycle itself goes through the system git binary because go-git/v5 has
// no linked-worktree support (see the design notes for why this is the one
// place os/exec substitutes for a library).
package version

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-github/v32/github"
	"github.com/schollz/progressbar/v3"
)

type RefType string

const (
	RefPR     RefType = "pr"
	RefBranch RefType = "branch"
	RefTag    RefType = "tag"
)

// RefInfo mirrors the metadata the orchestrator needs to mount a source ref
// into a sandbox container and to report back to the caller.
type RefInfo struct {
	RefType   RefType
	RefID     string
	Title     string
	SHA       string
	LocalPath string
	HostPath  string
	Author    string
	State     string
}

// SHA12 truncates SHA to the 12-character worktree-directory prefix.
func (r RefInfo) SHA12() string {
	if len(r.SHA) < 12 {
		return r.SHA
	}
	return r.SHA[:12]
}

const (
	metadataTimeout = 30 * time.Second
	fetchTimeout    = 300 * time.Second
)

// Provider resolves Django refs and materializes worktrees under cacheRoot.
// hostCacheRoot is the same directory as seen from the Docker host, used to
// build bind-mount paths when the orchestrator itself runs inside a
// container that doesn't share the sandbox runner's filesystem namespace.
type Provider struct {
	gh            *github.Client
	repoOwner     string
	repoName      string
	cacheRoot     string
	hostCacheRoot string
	git           gitExecutor
}

func NewProvider(gh *github.Client, repoOwner, repoName, cacheRoot, hostCacheRoot string) *Provider {
	return &Provider{
		gh:            gh,
		repoOwner:     repoOwner,
		repoName:      repoName,
		cacheRoot:     cacheRoot,
		hostCacheRoot: hostCacheRoot,
		git:           execGit{},
	}
}

func (p *Provider) barePath() string {
	return filepath.Join(p.cacheRoot, p.repoName+".git")
}

func safeID(id string) string {
	return strings.ReplaceAll(id, "/", "__")
}

func (p *Provider) worktreeDir(refType RefType, refID, sha12 string) string {
	if refType == RefTag {
		return filepath.Join(p.cacheRoot, "worktrees", "tag", safeID(refID))
	}
	return filepath.Join(p.cacheRoot, "worktrees", string(refType), safeID(refID), sha12)
}

func (p *Provider) hostWorktreeDir(refType RefType, refID, sha12 string) string {
	if refType == RefTag {
		return filepath.Join(p.hostCacheRoot, "worktrees", "tag", safeID(refID))
	}
	return filepath.Join(p.hostCacheRoot, "worktrees", string(refType), safeID(refID), sha12)
}

// ensureBareRepo clones the bare mirror on first use; subsequent calls are
// cheap existence checks, matching the idempotence requirement for fetch.
// The initial clone of a large ORM history can take minutes, so it runs
// behind an indeterminate progress bar rather than leaving an operator
// staring at a silent terminal.
func (p *Provider) ensureBareRepo(ctx context.Context) error {
	if _, err := os.Stat(p.barePath()); err == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	url := fmt.Sprintf("https://github.com/%s/%s.git", p.repoOwner, p.repoName)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("cloning %s/%s", p.repoOwner, p.repoName)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bar.Add(1)
			case <-done:
				return
			}
		}
	}()
	err := p.git.Clone(ctx, url, p.barePath())
	close(done)
	bar.Finish()
	return err
}

// refspecFor returns the refspec git needs to fetch the given ref type into
// the bare repo, per the contract's pull/N/head, heads/<name>, tags/<name>
// mapping.
func refspecFor(refType RefType, refID string) string {
	switch refType {
	case RefPR:
		return fmt.Sprintf("pull/%s/head", refID)
	case RefBranch:
		return fmt.Sprintf("heads/%s", refID)
	case RefTag:
		return fmt.Sprintf("tags/%s", refID)
	}
	return ""
}

// Fetch resolves refType/refID against the upstream metadata API, fetches
// the corresponding refspec into the bare repo, and ensures a worktree
// exists at the per-SHA path. It is safe to call twice for the same ref:
// the second call finds the existing worktree and creates no new one; it
// still repeats the metadata lookup and the git fetch.
func (p *Provider) Fetch(ctx context.Context, refType RefType, refID string) (RefInfo, error) {
	if err := p.ensureBareRepo(ctx); err != nil {
		return RefInfo{}, fmt.Errorf("version: ensure bare repo: %w", err)
	}

	meta, err := p.resolveMetadata(ctx, refType, refID)
	if err != nil {
		return RefInfo{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := p.git.Fetch(fetchCtx, p.barePath(), refspecFor(refType, refID)); err != nil {
		return RefInfo{}, fmt.Errorf("version: fetch %s %s: %w", refType, refID, err)
	}

	sha12 := meta.SHA[:12]
	worktree := p.worktreeDir(refType, refID, sha12)
	if _, err := os.Stat(worktree); os.IsNotExist(err) {
		if err := p.git.WorktreeAdd(ctx, p.barePath(), worktree, meta.SHA); err != nil {
			return RefInfo{}, fmt.Errorf("version: worktree add %s: %w", worktree, err)
		}
	}

	meta.LocalPath = worktree
	meta.HostPath = p.hostWorktreeDir(refType, refID, sha12)
	return meta, nil
}

// GetCached performs a filesystem-only lookup, no network calls. When sha is
// empty, the most recently modified SHA subdirectory wins (PRs/branches
// move); tags have no SHA subdirectory to disambiguate.
func (p *Provider) GetCached(refType RefType, refID, sha string) (RefInfo, bool) {
	if refType == RefTag {
		dir := p.worktreeDir(refType, refID, "")
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return RefInfo{}, false
		}
		sha, err := p.resolveTagSHA(refID)
		if err != nil {
			return RefInfo{}, false
		}
		result := RefInfo{RefType: refType, RefID: refID, Title: refID, SHA: sha,
			LocalPath: dir, HostPath: p.hostWorktreeDir(refType, refID, "")}
		p.enrichFromCommit(&result)
		return result, true
	}

	parent := filepath.Join(p.cacheRoot, "worktrees", string(refType), safeID(refID))
	entries, err := os.ReadDir(parent)
	if err != nil || len(entries) == 0 {
		return RefInfo{}, false
	}

	if sha != "" {
		sha12 := sha
		if len(sha12) > 12 {
			sha12 = sha12[:12]
		}
		for _, e := range entries {
			if e.Name() == sha12 {
				dir := filepath.Join(parent, sha12)
				info := RefInfo{RefType: refType, RefID: refID, Title: refID, SHA: sha,
					LocalPath: dir, HostPath: p.hostWorktreeDir(refType, refID, sha12)}
				p.enrichFromCommit(&info)
				return info, true
			}
		}
		return RefInfo{}, false
	}

	latest, latestMod := entries[0], time.Time{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latest, latestMod = e, info.ModTime()
		}
	}
	dir := filepath.Join(parent, latest.Name())
	result := RefInfo{RefType: refType, RefID: refID, Title: refID, SHA: latest.Name(),
		LocalPath: dir, HostPath: p.hostWorktreeDir(refType, refID, latest.Name())}
	p.enrichFromCommit(&result)
	return result, true
}

// enrichFromCommit fills Title/Author from the bare repo's own object
// store, so a cache hit reports real commit metadata without ever calling
// the upstream API.
func (p *Provider) enrichFromCommit(info *RefInfo) {
	title, author, err := p.resolveCommitTitleAuthor(info.SHA)
	if err != nil {
		return
	}
	info.Title = title
	info.Author = author
}

// Search is a thin facade over the upstream search API; results are
// metadata only, no worktree is materialized.
func (p *Provider) Search(ctx context.Context, refType RefType, query string, limit int) ([]RefInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	switch refType {
	case RefPR:
		q := fmt.Sprintf("%s repo:%s/%s is:pr", query, p.repoOwner, p.repoName)
		res, _, err := p.gh.Search.Issues(ctx, q, &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: limit},
		})
		if err != nil {
			return nil, fmt.Errorf("version: search prs: %w", err)
		}
		out := make([]RefInfo, 0, len(res.Issues))
		for _, issue := range res.Issues {
			out = append(out, RefInfo{
				RefType: RefPR,
				RefID:   fmt.Sprintf("%d", issue.GetNumber()),
				Title:   issue.GetTitle(),
				Author:  issue.GetUser().GetLogin(),
				State:   issue.GetState(),
			})
		}
		return out, nil
	case RefBranch:
		branches, _, err := p.gh.Repositories.ListBranches(ctx, p.repoOwner, p.repoName, &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: limit}})
		if err != nil {
			return nil, fmt.Errorf("version: list branches: %w", err)
		}
		out := make([]RefInfo, 0, len(branches))
		for _, b := range branches {
			if query == "" || strings.Contains(b.GetName(), query) {
				out = append(out, RefInfo{RefType: RefBranch, RefID: b.GetName(), Title: b.GetName()})
			}
		}
		return out, nil
	case RefTag:
		tags, _, err := p.gh.Repositories.ListTags(ctx, p.repoOwner, p.repoName, &github.ListOptions{PerPage: limit})
		if err != nil {
			return nil, fmt.Errorf("version: list tags: %w", err)
		}
		out := make([]RefInfo, 0, len(tags))
		for _, t := range tags {
			if query == "" || strings.Contains(t.GetName(), query) {
				out = append(out, RefInfo{RefType: RefTag, RefID: t.GetName(), Title: t.GetName()})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("version: unknown ref type %q", refType)
}

// Cleanup removes worktrees whose directory hasn't been touched in maxAge,
// then prunes the bare repo's now-dangling worktree administrative files.
func (p *Provider) Cleanup(ctx context.Context, maxAge time.Duration) error {
	root := filepath.Join(p.cacheRoot, "worktrees")
	cutoff := time.Now().Add(-maxAge)

	var stale []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		if path == root {
			return nil
		}
		if isLeafWorktreeDir(path) && info.ModTime().Before(cutoff) {
			stale = append(stale, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("version: walk worktree cache: %w", err)
	}

	for _, dir := range stale {
		if err := p.git.WorktreeRemove(ctx, p.barePath(), dir); err != nil {
			return fmt.Errorf("version: remove worktree %s: %w", dir, err)
		}
	}
	return p.git.WorktreePrune(ctx, p.barePath())
}

// isLeafWorktreeDir reports whether path is a checkout, not an ancestor of
// one: `git worktree add` leaves a .git file at the root of every linked
// worktree.
func isLeafWorktreeDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// resolveCommitTitleAuthor reads commit metadata from the bare repo via
// go-git rather than re-hitting the GitHub API, once the SHA is known.
func (p *Provider) resolveCommitTitleAuthor(sha string) (title, author string, err error) {
	repo, err := git.PlainOpen(p.barePath())
	if err != nil {
		return "", "", err
	}
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return "", "", err
	}
	return strings.SplitN(commit.Message, "\n", 2)[0], commit.Author.Name, nil
}

// resolveTagSHA resolves a tag's commit SHA from the bare repo's own object
// store, so GetCached never reports a placeholder: lightweight tags point
// straight at a commit, annotated tags point at a tag object whose Target
// is the commit.
func (p *Provider) resolveTagSHA(tag string) (string, error) {
	repo, err := git.PlainOpen(p.barePath())
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewTagReferenceName(tag), true)
	if err != nil {
		return "", err
	}
	hash := ref.Hash()
	if _, err := repo.CommitObject(hash); err == nil {
		return hash.String(), nil
	}
	tagObj, err := repo.TagObject(hash)
	if err != nil {
		return "", err
	}
	return tagObj.Target.String(), nil
}
