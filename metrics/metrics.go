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

// Package metrics exposes the Prometheus series the orchestrator updates as
// it admits, runs, and classifies sandbox executions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dryorm",
		Name:      "executions_in_flight",
		Help:      "Number of sandbox executions currently holding an admission slot, by executor key.",
	}, []string{"executor"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dryorm",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock time from admission acquisition to classified result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"executor", "event"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dryorm",
		Name:      "execution_events_total",
		Help:      "Count of terminal execution events by classification.",
	}, []string{"event"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dryorm",
		Name:      "cache_lookups_total",
		Help:      "Fingerprint cache lookups, partitioned by hit or miss.",
	}, []string{"outcome"})

	Overloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dryorm",
		Name:      "admission_overloaded_total",
		Help:      "Requests rejected because an executor's concurrency cap was saturated.",
	}, []string{"executor"})
)

// Handler exposes the registered series on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
