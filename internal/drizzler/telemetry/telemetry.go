// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry provides opt-in, low-overhead Prometheus export for the
// fetch engine. When disabled, every exported method is a no-op, so the hot
// path can call it unconditionally.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ziwon/drizzler/internal/drizzler/stats"
)

// Config controls Exporter behavior.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090"; empty disables the standalone /metrics server
}

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drizzler_requests_total",
		Help: "Total terminated URLs by final outcome (success, retryable, non_retryable, transport, breaker_blocked).",
	}, []string{"outcome"})

	latencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "drizzler_latency_seconds",
		Help:    "Latency of successful fetches, in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	bucketRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drizzler_bucket_rate",
		Help: "Current target rate (permits/sec) of a host's token bucket.",
	}, []string{"host"})

	breakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drizzler_breaker_open",
		Help: "1 if a host's circuit breaker is currently open (in cooldown), else 0.",
	}, []string{"host"})

	runTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drizzler_run_total",
		Help: "Total URLs processed in the most recently completed run.",
	})
	runErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drizzler_run_error_rate",
		Help: "Error rate of the most recently completed run.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, latencySeconds, bucketRate, breakerOpen, runTotal, runErrorRate)
}

// Exporter is a MetricsSink (via OnFinal) that also exposes per-attempt and
// per-host hooks the pipeline and orchestrator call directly, since Prometheus
// export needs hot-path observations the single-shot sink interface does
// not carry.
type Exporter struct {
	enabled bool
}

// New constructs an Exporter. When cfg.Enabled is false, every method is a
// no-op and cfg.MetricsAddr is ignored.
func New(cfg Config) *Exporter {
	e := &Exporter{enabled: cfg.Enabled}
	if cfg.Enabled && cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
	return e
}

// ObserveAttempt records the final outcome of one terminated URL (called
// once per URL, not once per retry attempt) and, for successes, its latency.
func (e *Exporter) ObserveAttempt(outcome string, latency time.Duration, success bool) {
	if e == nil || !e.enabled {
		return
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	if success {
		latencySeconds.Observe(latency.Seconds())
	}
}

// SetHostGauges publishes a host's current bucket rate and breaker state.
func (e *Exporter) SetHostGauges(host string, rate float64, open bool) {
	if e == nil || !e.enabled {
		return
	}
	bucketRate.WithLabelValues(host).Set(rate)
	v := 0.0
	if open {
		v = 1.0
	}
	breakerOpen.WithLabelValues(host).Set(v)
}

// OnFinal implements sinks.MetricsSink: it publishes the run-level gauges
// once, at the end of a run.
func (e *Exporter) OnFinal(s stats.Stats) {
	if e == nil || !e.enabled {
		return
	}
	runTotal.Set(float64(s.Total))
	runErrorRate.Set(s.ErrorRate)
}

// startMetricsEndpoint exposes /metrics on addr in a background goroutine.
func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
