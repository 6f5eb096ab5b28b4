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

// Package server exposes the submission, ref-fetch and snippet HTTP
// surfaces described in the external interfaces over the orchestrator,
// source-version provider and snippet store.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codepr/dryorm/metrics"
	"github.com/codepr/dryorm/orchestrator"
	"github.com/codepr/dryorm/snippet"
	"github.com/codepr/dryorm/version"
)

// Deps bundles the components a request handler needs. Snippets and the
// source-version provider are optional: a deployment that only runs release
// submissions can leave them nil and the corresponding routes answer 501.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Refs         *version.Provider
	Snippets     *snippet.Store
	Logger       *log.Logger
}

// Server wraps a configured http.Server with the route table bound to Deps.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

func newRouter(d *Deps) *http.ServeMux {
	router := http.NewServeMux()
	router.Handle("/execute", handleExecute(d))
	router.Handle("/fetch-pr", handleFetchRef(d, version.RefPR))
	router.Handle("/fetch-branch", handleFetchRef(d, version.RefBranch))
	router.Handle("/fetch-tag", handleFetchRef(d, version.RefTag))
	router.Handle("/search-refs", handleSearchRefs(d))
	router.Handle("/save", handleSave(d))
	router.Handle("/api/snippet/", handleGetSnippet(d))
	router.Handle("/api/snippets", handleListSnippets(d))
	router.Handle("/metrics", metrics.Handler())
	return router
}

// New builds a Server bound to addr, logging every request through logReq
// exactly as codepr/narwhal's DispatcherServer wraps its router.
func New(addr string, d *Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:           addr,
			Handler:        logReq(d.Logger)(newRouter(d)),
			ErrorLog:       d.Logger,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   130 * time.Second,
			IdleTimeout:    30 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: d.Logger,
	}
}

// Run listens until SIGINT/SIGTERM, then drains in-flight requests with a
// 30s grace period before returning.
func (s *Server) Run() error {
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.logger.Println("server: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.httpServer.SetKeepAlivesEnabled(false)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("server: graceful shutdown failed: %v", err)
		}
		close(done)
	}()

	s.logger.Printf("server: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

// logReq logs method, path and latency for every request, in the same
// wrapper-factory shape as core/server.go's middleware.
func logReq(l *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			l.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
		})
	}
}
