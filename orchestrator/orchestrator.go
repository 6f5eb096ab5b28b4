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

// Package orchestrator coordinates the fingerprint cache, admission
// controller, database provisioner, source-version provider, and sandbox
// runner into one synchronous Execute call per submission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/codepr/dryorm/admission"
	"github.com/codepr/dryorm/database"
	"github.com/codepr/dryorm/executor"
	"github.com/codepr/dryorm/fingerprint"
	"github.com/codepr/dryorm/metrics"
	"github.com/codepr/dryorm/sandbox"
	"github.com/codepr/dryorm/version"
)

// sandboxNetwork is the Docker network every sandbox container attaches
// to, shared across executions so the runner doesn't have to provision one
// per request.
const sandboxNetwork = "dryorm-sandbox"

// Version is the submitted target: exactly one of the two forms is set.
type Version struct {
	Family        string
	VersionString string

	RefType version.RefType
	RefID   string
	RefSHA  string
}

func (v Version) isRef() bool {
	return v.RefType != ""
}

// Submission is one unit of work: code, database, version.
type Submission struct {
	Code        string
	Database    string
	Version     Version
	IgnoreCache bool
}

// Orchestrator wires together every core component. Registry, Cache, and
// Admission are required; Databases and RefsProvider may be nil in
// configurations that never run provisioned or ref-mode requests.
type Orchestrator struct {
	Registry     *executor.Registry
	Cache        *fingerprint.Cache
	Admission    *admission.Controller
	Databases    *database.Registry
	RefsProvider *version.Provider
	Runner       *sandbox.Runner
	Logger       *log.Logger
}

// Execute runs one submission end to end: fingerprint, optional ref
// resolution, cache check, admission, optional database provisioning,
// sandbox run, classification, conditional cache write. Every acquired resource is
// released on every return path, including a recovered panic.
func (o *Orchestrator) Execute(ctx context.Context, sub Submission) (result sandbox.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.Logger.Printf("orchestrator: recovered panic: %v\n%s", r, debug.Stack())
			result = sandbox.Result{Event: sandbox.EventInternalError, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	desc, err := o.Registry.Resolve(sub.Database, o.versionKey(sub.Version))
	if err != nil {
		return sandbox.Result{Event: sandbox.EventInternalError, Error: err.Error()}
	}

	fp := fingerprint.Of(sub.Code)

	var ref version.RefInfo
	if sub.Version.isRef() {
		ref, err = o.resolveRef(ctx, sub.Version)
		if err != nil {
			return sandbox.Result{Event: sandbox.EventInternalError, Error: err.Error()}
		}
	}

	cacheKey := o.buildKey(sub, fp, ref)

	if !sub.IgnoreCache {
		if hit, ok, err := o.Cache.Get(ctx, cacheKey); err == nil && ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return hit
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	slot, err := o.Admission.Acquire(ctx, desc.Key, desc.MaxContainers)
	if errors.Is(err, admission.ErrOverloaded) {
		metrics.Overloads.WithLabelValues(desc.Key).Inc()
		return sandbox.Result{Event: sandbox.EventOverloaded,
			Error: fmt.Sprintf("executor %s is at its concurrency limit of %d", desc.Key, desc.MaxContainers)}
	}
	if err != nil {
		return sandbox.Result{Event: sandbox.EventInternalError, Error: err.Error()}
	}
	metrics.InFlight.WithLabelValues(desc.Key).Inc()
	defer metrics.InFlight.WithLabelValues(desc.Key).Dec()
	defer slot.Release(context.Background())

	start := time.Now()

	var dbCreds *sandbox.DatabaseCredentials
	if o.Databases != nil {
		engine, err := o.Databases.Get(sub.Database)
		if err != nil {
			return sandbox.Result{Event: sandbox.EventInternalError, Error: err.Error()}
		}
		if engine.NeedsSetup() {
			creds, err := engine.Setup(ctx)
			if err != nil {
				return sandbox.Result{Event: sandbox.EventInternalError, Error: fmt.Sprintf("database setup failed: %v", err)}
			}
			dbCreds = &creds
			defer func() {
				if err := engine.Teardown(context.Background(), creds); err != nil {
					o.Logger.Printf("orchestrator: teardown failed for %s: %v", creds.Name, err)
				}
			}()
		}
	}

	req := sandbox.RunRequest{
		Code:             sub.Code,
		Database:         sub.Database,
		DB:               dbCreds,
		WorktreeHostPath: ref.HostPath,
		RefMode:          sub.Version.isRef(),
	}

	runnerDescriptor := sandbox.Descriptor{
		Image:       desc.Image,
		MemoryLimit: desc.Memory,
		Network:     sandboxNetwork,
		ORMFamily:   desc.ORMVersion,
	}
	event := o.Runner.Run(ctx, runnerDescriptor, req)
	metrics.Events.WithLabelValues(string(event.Event)).Inc()
	metrics.ExecutionDuration.WithLabelValues(desc.Key, string(event.Event)).Observe(time.Since(start).Seconds())

	if event.Cacheable() {
		if err := o.Cache.Put(ctx, cacheKey, event, fingerprint.DefaultTTL); err != nil {
			o.Logger.Printf("orchestrator: cache put failed for %s: %v", cacheKey, err)
		}
	}

	return event
}

// versionKey returns the (orm_version) half of the executor registry's
// lookup key. Ref-mode submissions always resolve against the registry's
// latest-Django fallback: the container image only needs to be able to run
// Django at all, since the actual source is overridden by the bind-mounted
// worktree.
func (o *Orchestrator) versionKey(v Version) string {
	if v.isRef() {
		return executor.DefaultFallback
	}
	return v.VersionString
}

func (o *Orchestrator) resolveRef(ctx context.Context, v Version) (version.RefInfo, error) {
	if o.RefsProvider == nil {
		return version.RefInfo{}, fmt.Errorf("orchestrator: no source-version provider configured")
	}
	if ref, ok := o.RefsProvider.GetCached(v.RefType, v.RefID, v.RefSHA); ok {
		return ref, nil
	}
	return o.RefsProvider.Fetch(ctx, v.RefType, v.RefID)
}

// buildKey builds one of the two cache key shapes: a release key or
// a ref key carrying the resolved commit's 12-char SHA prefix.
func (o *Orchestrator) buildKey(sub Submission, fp fingerprint.Fingerprint, ref version.RefInfo) fingerprint.Key {
	if sub.Version.isRef() {
		sha12 := sub.Version.RefSHA
		if sha12 == "" {
			sha12 = ref.SHA12()
		} else if len(sha12) > 12 {
			sha12 = sha12[:12]
		}
		return fingerprint.RefKey(string(sub.Version.RefType), sub.Version.RefID, sha12, sub.Database, fp)
	}
	return fingerprint.ReleaseKey(sub.Version.Family, sub.Version.VersionString, sub.Database, fp)
}
