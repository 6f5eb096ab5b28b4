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
	"os/exec"
	"strings"
)

// gitExecutor is the seam between the worktree lifecycle and the system git
// binary. go-git/v5 (used elsewhere in this package for read-only commit
// metadata) has no equivalent of `git worktree add`/`remove`/`prune` for a
// bare repository, so this narrow interface shells out instead of
// reimplementing worktree administration files by hand.
type gitExecutor interface {
	Clone(ctx context.Context, url, bareDest string) error
	Fetch(ctx context.Context, bareRepo, refspec string) error
	WorktreeAdd(ctx context.Context, bareRepo, dest, sha string) error
	WorktreeRemove(ctx context.Context, bareRepo, dest string) error
	WorktreePrune(ctx context.Context, bareRepo string) error
}

type execGit struct{}

func (execGit) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g execGit) Clone(ctx context.Context, url, bareDest string) error {
	return g.run(ctx, "", "clone", "--bare", "--mirror", url, bareDest)
}

func (g execGit) Fetch(ctx context.Context, bareRepo, refspec string) error {
	dst := fmt.Sprintf("+refs/%s:refs/%s", refspec, refspec)
	return g.run(ctx, bareRepo, "fetch", "origin", dst)
}

func (g execGit) WorktreeAdd(ctx context.Context, bareRepo, dest, sha string) error {
	return g.run(ctx, bareRepo, "worktree", "add", "--detach", dest, sha)
}

func (g execGit) WorktreeRemove(ctx context.Context, bareRepo, dest string) error {
	return g.run(ctx, bareRepo, "worktree", "remove", "--force", dest)
}

func (g execGit) WorktreePrune(ctx context.Context, bareRepo string) error {
	return g.run(ctx, bareRepo, "worktree", "prune")
}
