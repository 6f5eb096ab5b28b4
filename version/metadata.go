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

package version

import (
	"context"
	"fmt"
)

// ErrNotFound is returned when the upstream API has no such ref.
var ErrNotFound = fmt.Errorf("version: ref not found")

// resolveMetadata hits the GitHub metadata API for refType/refID and
// returns everything Fetch needs before it touches the bare repo: the
// target SHA, and whatever title/author/state the API exposes for that
// ref kind.
func (p *Provider) resolveMetadata(ctx context.Context, refType RefType, refID string) (RefInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	switch refType {
	case RefPR:
		return p.resolvePR(ctx, refID)
	case RefBranch:
		return p.resolveBranch(ctx, refID)
	case RefTag:
		return p.resolveTag(ctx, refID)
	}
	return RefInfo{}, fmt.Errorf("version: unknown ref type %q", refType)
}

func (p *Provider) resolvePR(ctx context.Context, refID string) (RefInfo, error) {
	var number int
	if _, err := fmt.Sscanf(refID, "%d", &number); err != nil {
		return RefInfo{}, fmt.Errorf("version: invalid PR id %q: %w", refID, err)
	}

	pr, resp, err := p.gh.PullRequests.Get(ctx, p.repoOwner, p.repoName, number)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return RefInfo{}, fmt.Errorf("version: PR #%d: %w", number, ErrNotFound)
		}
		return RefInfo{}, fmt.Errorf("version: get PR #%d: %w", number, err)
	}

	return RefInfo{
		RefType: RefPR,
		RefID:   refID,
		Title:   pr.GetTitle(),
		SHA:     pr.GetHead().GetSHA(),
		Author:  pr.GetUser().GetLogin(),
		State:   pr.GetState(),
	}, nil
}

func (p *Provider) resolveBranch(ctx context.Context, refID string) (RefInfo, error) {
	branch, resp, err := p.gh.Repositories.GetBranch(ctx, p.repoOwner, p.repoName, refID)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return RefInfo{}, fmt.Errorf("version: branch %q: %w", refID, ErrNotFound)
		}
		return RefInfo{}, fmt.Errorf("version: get branch %q: %w", refID, err)
	}

	author := ""
	if commit := branch.GetCommit(); commit != nil && commit.GetCommit() != nil && commit.GetCommit().GetAuthor() != nil {
		author = commit.GetCommit().GetAuthor().GetName()
	}

	return RefInfo{
		RefType: RefBranch,
		RefID:   refID,
		Title:   refID,
		SHA:     branch.GetCommit().GetSHA(),
		Author:  author,
	}, nil
}

// resolveTag dereferences an annotated tag one level, matching the upstream
// API's own two-step shape: a tag ref whose target object type is "tag"
// points at a tag object, not a commit, and that tag object's target is the
// actual commit.
func (p *Provider) resolveTag(ctx context.Context, refID string) (RefInfo, error) {
	ref, resp, err := p.gh.Git.GetRef(ctx, p.repoOwner, p.repoName, "tags/"+refID)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return RefInfo{}, fmt.Errorf("version: tag %q: %w", refID, ErrNotFound)
		}
		return RefInfo{}, fmt.Errorf("version: get tag ref %q: %w", refID, err)
	}

	obj := ref.GetObject()
	sha := obj.GetSHA()
	if obj.GetType() == "tag" {
		tagObj, _, err := p.gh.Git.GetTag(ctx, p.repoOwner, p.repoName, sha)
		if err != nil {
			return RefInfo{}, fmt.Errorf("version: dereference annotated tag %q: %w", refID, err)
		}
		sha = tagObj.GetObject().GetSHA()
	}

	return RefInfo{
		RefType: RefTag,
		RefID:   refID,
		Title:   refID,
		SHA:     sha,
	}, nil
}
