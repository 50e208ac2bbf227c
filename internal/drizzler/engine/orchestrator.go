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
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/clock"
	"github.com/ziwon/drizzler/internal/drizzler/hostclass"
	"github.com/ziwon/drizzler/internal/drizzler/registry"
	"github.com/ziwon/drizzler/internal/drizzler/retry"
	"github.com/ziwon/drizzler/internal/drizzler/sinks"
	"github.com/ziwon/drizzler/internal/drizzler/state"
	"github.com/ziwon/drizzler/internal/drizzler/stats"
	"github.com/ziwon/drizzler/internal/drizzler/telemetry"
)

// Options configures a new Orchestrator. Only Config is required; every
// other field has a workable default.
type Options struct {
	Config      Config
	Snapshotter state.Snapshotter // defaults to a FileSnapshotter at Config.StateFile
	Client      *http.Client      // defaults to NewHTTPClient(Config.GlobalConcurrency, Config.RequestTimeout)
	Clock       clock.Clock       // defaults to clock.Real{}
	Progress    sinks.ProgressSink
	Metrics     sinks.MetricsSink
	Telemetry   *telemetry.Exporter
}

// Orchestrator owns the host registry, the bounded worker pool, and the
// run's accumulated stats/timeline. A single Orchestrator instance is meant
// for one Run call; it is not reused across concurrent runs.
type Orchestrator struct {
	cfg         Config
	clock       clock.Clock
	reg         *registry.Registry
	retryPolicy retry.Policy
	client      *http.Client
	snapshotter state.Snapshotter
	progress    sinks.ProgressSink
	metrics     sinks.MetricsSink
	telemetry   *telemetry.Exporter

	globalSem chan struct{}

	hostSemMu sync.Mutex
	hostSems  map[string]chan struct{}

	shutdown atomic.Bool
	runStart time.Time

	statsMu      sync.Mutex
	latencies    []float64
	successCount int
	errorCount   int
	statusCounts map[int]int

	timelineMu sync.Mutex
	timeline   []TimelineSegment
}

// New constructs an Orchestrator. It does not touch disk or the network
// until Run is called.
func New(opts Options) *Orchestrator {
	cfg := opts.Config.WithDefaults()

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(cfg.GlobalConcurrency, cfg.RequestTimeout)
	}
	snap := opts.Snapshotter
	if snap == nil {
		snap = state.NewFileSnapshotter(cfg.StateFile)
	}

	return &Orchestrator{
		cfg:   cfg,
		clock: clk,
		reg: registry.New(registry.Options{
			Rate:             cfg.PerHostRate,
			Burst:            cfg.PerHostBurst,
			JitterRatio:      cfg.BackoffJitterRatio,
			RampUpS:          cfg.SlowStartRampUpS,
			FailureThreshold: cfg.FailureThreshold,
			CooldownWindow:   cfg.CooldownWindow,
			Clock:            clk,
		}),
		retryPolicy:  retry.Policy{BaseS: cfg.BackoffBaseS, JitterRatio: cfg.BackoffJitterRatio},
		client:       client,
		snapshotter:  snap,
		progress:     opts.Progress,
		metrics:      opts.Metrics,
		telemetry:    opts.Telemetry,
		globalSem:    make(chan struct{}, cfg.GlobalConcurrency),
		hostSems:     make(map[string]chan struct{}),
		statusCounts: make(map[int]int),
	}
}

// hostSemaphore returns the per-host concurrency semaphore for host,
// creating it lazily on first sighting.
func (o *Orchestrator) hostSemaphore(host string) chan struct{} {
	o.hostSemMu.Lock()
	defer o.hostSemMu.Unlock()
	sem, ok := o.hostSems[host]
	if !ok {
		sem = make(chan struct{}, o.cfg.PerHostConcurrency)
		o.hostSems[host] = sem
	}
	return sem
}

// Run drains urls through the Fetch Pipeline using a bounded worker pool,
// persists engine state, and returns the Statistics Snapshot. ctx
// cancellation (wired by the caller to SIGINT/SIGTERM) triggers graceful
// shutdown: in-flight attempts finish, nothing new
// begins, and unprocessed URLs are dropped without being counted.
func (o *Orchestrator) Run(ctx context.Context, urls []string) (stats.Stats, error) {
	o.runStart = o.clock.Now()

	loaded, err := o.snapshotter.Load(ctx)
	if err != nil {
		log.Printf("drizzler: state load failed, starting fresh: %v", err)
	} else {
		state.Apply(o.reg, loaded)
	}

	if o.cfg.Deduplicate {
		urls = Dedup(urls)
	}

	jobs := make([]Job, len(urls))
	for i, u := range urls {
		jobs[i] = Job{URL: u, Index: i}
		o.reg.GetOrCreate(hostclass.Classify(u)) // eager pre-run host creation
	}

	if len(jobs) == 0 {
		return o.finish(ctx), nil
	}

	queue := make(chan Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	go o.watchShutdown(ctx)

	var stopCheckpoint chan struct{}
	if o.cfg.CheckpointInterval > 0 {
		stopCheckpoint = make(chan struct{})
		go o.checkpointLoop(ctx, stopCheckpoint)
	}

	var wg sync.WaitGroup
	wg.Add(o.cfg.GlobalConcurrency)
	for w := 0; w < o.cfg.GlobalConcurrency; w++ {
		go func() {
			defer wg.Done()
			o.workerLoop(ctx, queue)
		}()
	}
	wg.Wait()

	if stopCheckpoint != nil {
		close(stopCheckpoint)
	}

	return o.finish(ctx), nil
}

// workerLoop drains queue until it is closed. A closed channel read returns
// immediately, so no polling timeout is needed to detect an empty queue.
func (o *Orchestrator) workerLoop(ctx context.Context, queue <-chan Job) {
	for {
		select {
		case job, ok := <-queue:
			if !ok {
				return
			}
			if o.shutdown.Load() {
				continue
			}
			o.runOne(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// watchShutdown raises the cooperative shutdown flag as soon as ctx is
// cancelled, so in-flight attempt loops observe it between retries.
func (o *Orchestrator) watchShutdown(ctx context.Context) {
	<-ctx.Done()
	o.shutdown.Store(true)
}

// checkpointLoop periodically persists engine state mid-run. Saves use a
// fresh background context rather than the run's cancellable one, so a
// checkpoint in flight when shutdown begins still has a chance to complete.
func (o *Orchestrator) checkpointLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := o.snapshotter.Save(context.Background(), state.CaptureSnapshot(o.reg)); err != nil {
				log.Printf("drizzler: checkpoint save failed: %v", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// finish stops all buckets, persists a final snapshot best-effort, computes
// the stats snapshot, and invokes the metrics sink(s) if configured. The
// final save deliberately uses a fresh context: the run's own ctx may
// already be cancelled (that is often why finish is running at all), and
// persistence is best-effort but should still be attempted.
func (o *Orchestrator) finish(context.Context) stats.Stats {
	o.reg.StopAll()

	if o.telemetry != nil {
		o.reg.ForEach(func(host string, hs *registry.HostStruct) {
			o.telemetry.SetHostGauges(host, hs.Bucket.Rate(), !hs.Breaker.CanAttempt())
		})
	}

	if err := o.snapshotter.Save(context.Background(), state.CaptureSnapshot(o.reg)); err != nil {
		log.Printf("drizzler: final state save failed: %v", err)
	}

	o.statsMu.Lock()
	latencies := append([]float64(nil), o.latencies...)
	success, errs := o.successCount, o.errorCount
	counts := make(map[int]int, len(o.statusCounts))
	for k, v := range o.statusCounts {
		counts[k] = v
	}
	o.statsMu.Unlock()

	cb := func(s stats.Stats) {
		if o.metrics != nil {
			o.metrics.OnFinal(s)
		}
		if o.telemetry != nil {
			o.telemetry.OnFinal(s)
		}
	}
	return stats.Compute(latencies, success, errs, counts, cb)
}

// Timeline returns the accumulated timeline segments for the completed
// run, one per terminated URL.
func (o *Orchestrator) Timeline() []TimelineSegment {
	o.timelineMu.Lock()
	defer o.timelineMu.Unlock()
	return append([]TimelineSegment(nil), o.timeline...)
}

// Close releases the Snapshotter's resources, if it holds any (e.g. a
// Redis connection pool).
func (o *Orchestrator) Close() error {
	type closer interface{ Close() error }
	if c, ok := o.snapshotter.(closer); ok {
		return c.Close()
	}
	return nil
}
