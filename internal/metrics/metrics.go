// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the Prometheus collectors shared by the relay
// and agent processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cc4me"

// Registry is the collector registry every metric below is registered
// against; a standalone metrics server just serves it over HTTP.
var Registry = prometheus.NewRegistry()

var (
	// EnvelopesProcessed counts pipeline.Process outcomes by result kind.
	EnvelopesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "processed_total",
			Help:      "Envelopes processed by outcome (ok, shape, version, skew, signature, decrypt)",
		},
		[]string{"outcome"},
	)

	// RelayRequests counts relay HTTP handler invocations.
	RelayRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	// RateLimitRejections counts contact-request rate limit rejections.
	RateLimitRejections = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rate_limit_rejections_total",
			Help:      "Total contact requests rejected for exceeding the rate limit",
		},
	)

	// RetryQueueDepth tracks the current size of an agent's retry queue.
	RetryQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "retry_queue_depth",
			Help:      "Current number of messages held in the retry queue",
		},
	)

	// RetryOutcomes counts retry-queue drain results.
	RetryOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "retry_outcomes_total",
			Help:      "Retry queue drain outcomes by status",
		},
		[]string{"status"},
	)
)

// Handler returns the HTTP handler serving the registry in Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer runs a standalone metrics server on addr until the process exits.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
