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

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/state"
)

func newTestOrchestrator(t *testing.T, cfg Config, srv *httptest.Server) *Orchestrator {
	t.Helper()
	cfg.RequestTimeout = 2 * time.Second
	o := New(Options{
		Config:      cfg,
		Snapshotter: state.NewFileSnapshotter(t.TempDir() + "/state.json"),
		Client:      srv.Client(),
	})
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestOrchestrator_HappyPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := newTestOrchestrator(t, Config{PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 5, SlowStartRampUpS: 0}, ts)
	urls := []string{ts.URL + "/a", ts.URL + "/b", ts.URL + "/c"}

	s, err := o.Run(context.Background(), urls)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Total != 3 || s.Success != 3 || s.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if len(o.Timeline()) != 3 {
		t.Fatalf("expected 3 timeline segments, got %d", len(o.Timeline()))
	}
}

// TestOrchestrator_RetryAfterHonored confirms a 429 with Retry-After is
// retried and eventually counted as a success.
func TestOrchestrator_RetryAfterHonored(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := newTestOrchestrator(t, Config{PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 5, MaxRetries: 3, SlowStartRampUpS: 0}, ts)

	s, err := o.Run(context.Background(), []string{ts.URL + "/flaky"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Total != 1 || s.Success != 1 {
		t.Fatalf("expected one successful retry, got %+v", s)
	}
	if atomic.LoadInt64(&hits) != 2 {
		t.Fatalf("expected exactly 2 hits (1 retry), got %d", hits)
	}
}

// TestOrchestrator_BreakerBlocksAfterThreshold confirms consecutive failures
// open the breaker and a subsequent URL on the same host is rejected
// without a network attempt.
func TestOrchestrator_BreakerBlocksAfterThreshold(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	o := newTestOrchestrator(t, Config{
		PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 1,
		MaxRetries: 1, FailureThreshold: 2, CooldownWindow: time.Hour, SlowStartRampUpS: 0,
	}, ts)

	urls := []string{ts.URL + "/1", ts.URL + "/2", ts.URL + "/3"}
	s, err := o.Run(context.Background(), urls)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Success != 0 || s.Errors != 3 {
		t.Fatalf("expected all 3 to fail, got %+v", s)
	}
	// Breaker opens after 2 consecutive failures; the 3rd URL must be
	// rejected by the breaker rather than reaching the server.
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Fatalf("expected breaker to block the 3rd attempt (2 network hits), got %d", got)
	}
}

func TestOrchestrator_DeduplicatesURLs(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := newTestOrchestrator(t, Config{PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 5, Deduplicate: true, SlowStartRampUpS: 0}, ts)

	url := ts.URL + "/same"
	s, err := o.Run(context.Background(), []string{url, url, url})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Total != 1 {
		t.Fatalf("expected dedup to collapse to 1 URL, got total=%d", s.Total)
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Fatalf("expected exactly 1 network hit, got %d", hits)
	}
}

// TestOrchestrator_ColdRestartResumesBreakerState confirms a breaker left
// open by a prior run survives across Orchestrator instances sharing a
// state file.
func TestOrchestrator_ColdRestartResumesBreakerState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	statePath := t.TempDir() + "/state.json"
	cfg := Config{
		PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 1,
		MaxRetries: 1, FailureThreshold: 1, CooldownWindow: time.Hour, SlowStartRampUpS: 0,
	}

	o1 := New(Options{Config: cfg, Snapshotter: state.NewFileSnapshotter(statePath), Client: ts.Client()})
	if _, err := o1.Run(context.Background(), []string{ts.URL + "/1"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_ = o1.Close()

	// A second Orchestrator loading the same state file should see the
	// breaker already open and refuse to attempt, even though nothing about
	// ts itself would prevent a fresh attempt.
	o2 := New(Options{Config: cfg, Snapshotter: state.NewFileSnapshotter(statePath), Client: ts.Client()})
	defer o2.Close()
	s, err := o2.Run(context.Background(), []string{ts.URL + "/2"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if s.Success != 0 {
		t.Fatalf("expected restored breaker to block the attempt, got %+v", s)
	}
}

// TestOrchestrator_ShutdownStopsNewAttempts confirms cancelling the run
// context stops new attempts from starting without panicking or hanging.
func TestOrchestrator_ShutdownStopsNewAttempts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := newTestOrchestrator(t, Config{PerHostRate: 1000, PerHostBurst: 5, PerHostConcurrency: 5, GlobalConcurrency: 2, SlowStartRampUpS: 0}, ts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	urls := make([]string, 50)
	for i := range urls {
		urls[i] = ts.URL + "/" + strconv.Itoa(i)
	}

	done := make(chan struct{})
	go func() {
		_, _ = o.Run(ctx, urls)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
