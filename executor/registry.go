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

// Package executor maps (database, ORM version) pairs to the sandbox image
// and resource limits that run them, loaded from a YAML file that is
// hot-reloaded as it changes on disk.
package executor

import (
	"fmt"
	"strings"
	"sync"
)

// Descriptor describes one runnable sandbox image.
type Descriptor struct {
	Image         string `yaml:"image"`
	Key           string `yaml:"key"`
	Verbose       string `yaml:"verbose"`
	Memory        string `yaml:"memory"`
	MaxContainers int    `yaml:"max_containers"`
	ORMVersion    string `yaml:"orm_version"`
	Database      string `yaml:"database"`
}

// DefaultFallback is returned when nothing else in the registry matches,
// keeping every submission runnable even against a stale or incomplete
// config file.
const DefaultFallback = "django-5.2.8"

var ormFamilyPrefixes = []string{"django-", "sqlalchemy-", "prisma-"}

// config is the root of the YAML document: a flat list of executors keyed
// implicitly by (database, orm_version).
type config struct {
	Executors []Descriptor `yaml:"executors"`
}

// Registry resolves a (database, ormVersion) pair to a Descriptor. It is
// safe for concurrent use; replace atomically swaps the underlying table so
// a lookup never observes a half-updated config.
type Registry struct {
	mu    sync.RWMutex
	table map[string]Descriptor
}

func newRegistryFromConfig(cfg config) *Registry {
	r := &Registry{table: make(map[string]Descriptor, len(cfg.Executors))}
	for _, d := range cfg.Executors {
		r.table[tableKey(d.Database, d.ORMVersion)] = d
	}
	return r
}

func tableKey(database, ormVersion string) string {
	return database + "\x00" + ormVersion
}

func (r *Registry) lookup(database, ormVersion string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.table[tableKey(database, ormVersion)]
	return d, ok
}

func (r *Registry) replace(next *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = next.table
}

func hasFamilyPrefix(ormVersion string) bool {
	for _, p := range ormFamilyPrefixes {
		if strings.HasPrefix(ormVersion, p) {
			return true
		}
	}
	return false
}

// Resolve implements the fallback chain: an exact (database, ormVersion)
// match wins; failing that, an unprefixed legacy version is retried with
// the django- family prefix; failing that, the database falls back to the
// latest Django release; failing even that, sqlite+latest Django is the
// final, always-present floor.
func (r *Registry) Resolve(database, ormVersion string) (Descriptor, error) {
	if d, ok := r.lookup(database, ormVersion); ok {
		return d, nil
	}

	if !hasFamilyPrefix(ormVersion) {
		if d, ok := r.lookup(database, "django-"+ormVersion); ok {
			return d, nil
		}
	}

	if d, ok := r.lookup(database, DefaultFallback); ok {
		return d, nil
	}

	if d, ok := r.lookup("sqlite", DefaultFallback); ok {
		return d, nil
	}

	return Descriptor{}, fmt.Errorf("executor: no executor registered for %s/%s and no fallback available", database, ormVersion)
}
