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
	"io"
	"net/http"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/hostclass"
	"github.com/ziwon/drizzler/internal/drizzler/registry"
	"github.com/ziwon/drizzler/internal/drizzler/retry"
	"github.com/ziwon/drizzler/internal/drizzler/sinks"
)

// Job is one URL to fetch, with its assigned index for deterministic
// enumeration. Immutable once built.
type Job struct {
	URL   string
	Index int
}

// Terminal outcomes of one URL, as labeled on the telemetry counter.
// outcomeSuccess is the only one that contributes a latency sample.
const (
	outcomeSuccess        = "success"
	outcomeRetryable      = "retryable"
	outcomeNonRetryable   = "non_retryable"
	outcomeTransport      = "transport"
	outcomeBreakerBlocked = "breaker_blocked"
)

// TimelineSegment is a per-worker, per-request placement on the run's
// timeline.
type TimelineSegment struct {
	StartOffset float64
	EndOffset   float64
	Host        string
	Status      *int // nil when no response was observed
}

// runOne drives one URL through the fetch pipeline: classify host, consult
// the breaker, acquire the two-level concurrency gate and a bucket token,
// attempt with bounded retries, and finalize into stats + timeline.
func (o *Orchestrator) runOne(ctx context.Context, job Job) {
	host := hostclass.Classify(job.URL)
	hs := o.reg.GetOrCreate(host)

	if !hs.Breaker.CanAttempt() {
		now := o.clock.Now().Sub(o.runStart).Seconds()
		o.finalize(job, host, outcomeBreakerBlocked, nil, TimelineSegment{StartOffset: now, EndOffset: now, Host: host}, 0)
		return
	}

	release, ok := o.acquireGates(ctx, host, hs)
	if !ok {
		// Context cancelled while waiting on a gate: the job never began a
		// network attempt, so it is not counted at all.
		return
	}
	defer release()

	pipelineStart := o.clock.Now()
	var lastStatus *int
	success := false
	var successLatency time.Duration
	var attemptStart time.Time

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if o.shutdown.Load() {
			return
		}

		attemptStart = o.clock.Now()
		status, hasStatus, latency, hdr, _ := o.doAttempt(job.URL)
		if hasStatus {
			s := status
			lastStatus = &s
			o.recordStatus(status)
		}

		switch {
		case hasStatus && status >= 200 && status < 400:
			success = true
			successLatency = latency
			hs.Breaker.RecordSuccess()
			if attempt == 1 {
				hs.Bucket.AdjustRate(1.05)
			}
			goto finalizeResult

		case !hasStatus || status == 429 || status == 503:
			hs.Breaker.RecordFailure()
			hs.Bucket.AdjustRate(0.8)

			if hasStatus {
				if secs, ok := retry.RetryAfterSeconds(hdr); ok && secs > 0 {
					d := time.Duration(secs * float64(time.Second))
					hs.Bucket.CooldownUntil(o.clock.Now().Add(d))
					if !o.sleepCtx(ctx, d) {
						return
					}
					continue
				}
			}
			if attempt < o.cfg.MaxRetries {
				if !o.sleepCtx(ctx, o.retryPolicy.Backoff(attempt)) {
					return
				}
				continue
			}
			// Retries exhausted: fall through to the non-retryable finalize path.

		default:
			// Non-retryable HTTP status: no retry.
		}
		break
	}

finalizeResult:
	var seg TimelineSegment
	if success {
		start := attemptStart.Sub(o.runStart).Seconds()
		seg = TimelineSegment{StartOffset: start, EndOffset: start + successLatency.Seconds(), Host: host, Status: lastStatus}
	} else {
		start := pipelineStart.Sub(o.runStart).Seconds()
		end := o.clock.Now().Sub(o.runStart).Seconds()
		seg = TimelineSegment{StartOffset: start, EndOffset: end, Host: host, Status: lastStatus}
	}
	outcome := outcomeSuccess
	if !success {
		switch {
		case lastStatus == nil:
			outcome = outcomeTransport
		case *lastStatus == 429 || *lastStatus == 503:
			outcome = outcomeRetryable
		default:
			outcome = outcomeNonRetryable
		}
	}
	o.finalize(job, host, outcome, lastStatus, seg, successLatency)
}

// acquireGates acquires, in nesting order, the global permit, the host
// permit, and a bucket token, returning a release func that undoes exactly
// what was acquired. On ctx cancellation mid-acquisition it releases
// whatever was taken and reports ok=false.
func (o *Orchestrator) acquireGates(ctx context.Context, host string, hs *registry.HostStruct) (release func(), ok bool) {
	select {
	case o.globalSem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}

	hostSem := o.hostSemaphore(host)
	select {
	case hostSem <- struct{}{}:
	case <-ctx.Done():
		<-o.globalSem
		return nil, false
	}

	if err := hs.Bucket.Acquire(ctx); err != nil {
		<-hostSem
		<-o.globalSem
		return nil, false
	}

	return func() {
		<-hostSem
		<-o.globalSem
	}, true
}

// sleepCtx sleeps for d, returning false early if ctx is cancelled first.
func (o *Orchestrator) sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// doAttempt issues one GET and reports whether a response was observed at
// all (hasStatus), distinguishing a transport failure/timeout (no status)
// from any received status code, success or not. It deliberately does not
// inherit the run's shutdown-cancellable context: shutdown awaits in-flight
// attempts rather than aborting them, so only the request timeout bounds
// how long a single attempt can run.
func (o *Orchestrator) doAttempt(url string) (status int, hasStatus bool, latency time.Duration, header http.Header, err error) {
	reqCtx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, 0, nil, err
	}
	for k, v := range randomHeaders(o.cfg.DefaultHeaders) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, false, time.Since(start), nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	latency = time.Since(start)
	return resp.StatusCode, true, latency, resp.Header, nil
}

// recordStatus increments the run-wide status-code histogram. Called for
// every observed status, including intermediate ones across retries.
func (o *Orchestrator) recordStatus(status int) {
	o.statsMu.Lock()
	o.statusCounts[status]++
	o.statsMu.Unlock()
}

// finalize records the terminal outcome of one job into stats and the
// timeline, and invokes the progress sink if configured. The paths that do
// NOT count a job (cancellation during gate acquisition, the shutdown flag
// seen before an attempt, cancellation during a retry sleep) return out of
// runOne before finalize is ever called.
func (o *Orchestrator) finalize(job Job, host string, outcome string, status *int, seg TimelineSegment, latency time.Duration) {
	success := outcome == outcomeSuccess

	o.statsMu.Lock()
	if success {
		o.successCount++
		o.latencies = append(o.latencies, latency.Seconds())
	} else {
		o.errorCount++
	}
	o.statsMu.Unlock()

	o.timelineMu.Lock()
	o.timeline = append(o.timeline, seg)
	o.timelineMu.Unlock()

	if o.telemetry != nil {
		o.telemetry.ObserveAttempt(outcome, latency, success)
	}

	if o.progress != nil {
		ev := sinks.ProgressEvent{
			Index:       job.Index,
			URL:         job.URL,
			Host:        host,
			Success:     success,
			HasStatus:   status != nil,
			StartOffset: seg.StartOffset,
			EndOffset:   seg.EndOffset,
		}
		if status != nil {
			ev.Status = *status
		}
		if success {
			ev.LatencyS = latency.Seconds()
		}
		o.progress.OnProgress(ev)
	}
}
