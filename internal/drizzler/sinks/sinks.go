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

// Package sinks implements the orchestrator's optional callback seams: a
// progress sink invoked after each terminated URL, and a metrics sink
// invoked once with the final statistics snapshot. A nil sink and a no-op
// sink must behave identically, so the orchestrator always nil-checks
// before calling rather than requiring callers to pass a no-op stand-in.
package sinks

import (
	"log"

	"github.com/ziwon/drizzler/internal/drizzler/stats"
)

// ProgressEvent describes one terminated URL, handed to a ProgressSink
// immediately after the Fetch Pipeline finalizes it.
type ProgressEvent struct {
	Index       int     `json:"index"`
	URL         string  `json:"url"`
	Host        string  `json:"host"`
	Success     bool    `json:"success"`
	Status      int     `json:"status,omitempty"`
	HasStatus   bool    `json:"has_status"`
	LatencyS    float64 `json:"latency_s,omitempty"`
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`
}

// ProgressSink receives one ProgressEvent per terminated URL. Implementations
// must not block the caller for long: the orchestrator invokes it
// synchronously from the worker that just finished the request.
type ProgressSink interface {
	OnProgress(ProgressEvent)
}

// MetricsSink receives the final Stats snapshot exactly once, at the end of
// a run.
type MetricsSink interface {
	OnFinal(stats.Stats)
}

// LogProgressSink logs one line per terminated URL via the standard logger.
type LogProgressSink struct{}

func (LogProgressSink) OnProgress(e ProgressEvent) {
	if e.Success {
		log.Printf("drizzler: [%d] %s -> %d in %.3fs", e.Index, e.Host, e.Status, e.LatencyS)
		return
	}
	if e.HasStatus {
		log.Printf("drizzler: [%d] %s -> %d (error)", e.Index, e.Host, e.Status)
		return
	}
	log.Printf("drizzler: [%d] %s -> no response (error)", e.Index, e.Host)
}

// LogMetricsSink logs the final summary line.
type LogMetricsSink struct{}

func (LogMetricsSink) OnFinal(s stats.Stats) {
	log.Printf("drizzler: done total=%d success=%d errors=%d error_rate=%.3f",
		s.Total, s.Success, s.Errors, s.ErrorRate)
}
