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

// Package main provides the entry point for drizzler, the adaptive
// concurrent HTTP fetch engine. This CLI is intentionally minimal: it wires
// flags to an engine.Config, reads a batch of URLs, runs the engine once,
// and prints the resulting statistics snapshot. Job management APIs,
// media-download side effects, and terminal rendering belong to external
// consumers of the engine, not this binary.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/engine"
	"github.com/ziwon/drizzler/internal/drizzler/sinks"
	"github.com/ziwon/drizzler/internal/drizzler/state"
	"github.com/ziwon/drizzler/internal/drizzler/stats"
	"github.com/ziwon/drizzler/internal/drizzler/telemetry"
)

func main() {
	perHostRate := flag.Float64("per_host_rate", 1.0, "Target permits/sec for a new host's token bucket")
	perHostBurst := flag.Int("per_host_burst", 2, "Max in-flight permit buffer per host")
	perHostConcurrency := flag.Int("per_host_concurrency", 2, "Max concurrent in-flight requests per host")
	globalConcurrency := flag.Int("global_concurrency", 10, "Max concurrent in-flight requests across all hosts")

	requestTimeout := flag.Duration("request_timeout", 30*time.Second, "Per-attempt HTTP request timeout")
	maxRetries := flag.Int("max_retries", 5, "Max attempts per URL, including the first")
	backoffBase := flag.Float64("backoff_base", 1.0, "Base seconds for exponential backoff between retries")
	backoffJitter := flag.Float64("backoff_jitter", 0.2, "Fractional jitter applied to backoff and bucket pacing")
	rampUp := flag.Float64("slow_start_ramp_up", 15.0, "Seconds over which a new host's bucket ramps from 20% to 100% of its target rate")

	deduplicate := flag.Bool("deduplicate", true, "Deduplicate input URLs, preserving first-seen order")
	failureThreshold := flag.Int("failure_threshold", 5, "Consecutive failures before a host's circuit breaker opens")
	cooldownWindow := flag.Duration("cooldown_window", 60*time.Second, "How long a tripped breaker stays open")
	checkpointInterval := flag.Duration("checkpoint_interval", 0, "If > 0, periodically snapshot engine state during the run, not just at the end")

	stateBackend := flag.String("state_backend", "file", "Persisted state backend: file, redis, or kafka")
	stateFile := flag.String("state_file", "drizzler_state.json", "Path to the state file (file backend)")
	redisAddr := flag.String("redis_addr", "127.0.0.1:6379", "Redis address (redis backend)")
	redisKey := flag.String("redis_key", "drizzler:state", "Redis key for the state blob (redis backend)")
	kafkaTopic := flag.String("kafka_topic", "drizzler-state", "Kafka topic for state events (kafka backend)")
	kafkaRunKey := flag.String("kafka_run_key", "", "Run key identifying this engine instance in the kafka event log; defaults to the hostname")

	inputFile := flag.String("input", "", "Path to a file of newline-delimited URLs; '-' reads stdin. Remaining non-flag args are treated as additional URLs.")
	timelineFile := flag.String("timeline_file", "", "If non-empty, append a JSONL progress/timeline event per terminated URL to this path")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty and -metrics is set, expose Prometheus /metrics on this address (e.g. :9090)")
	metricsEnabled := flag.Bool("metrics", false, "Enable in-process Prometheus metrics (opt-in)")
	summaryJSON := flag.Bool("json", false, "Print the final statistics snapshot as JSON instead of a human-readable summary")
	flag.Parse()

	urls, err := collectURLs(*inputFile, flag.Args())
	if err != nil {
		log.Fatalf("drizzler: %v", err)
	}

	runKey := *kafkaRunKey
	if runKey == "" {
		runKey, _ = os.Hostname()
	}
	snapshotter, err := state.BuildSnapshotter(*stateBackend, state.BackendOptions{
		FilePath:    *stateFile,
		RedisAddr:   *redisAddr,
		RedisKey:    *redisKey,
		KafkaTopic:  *kafkaTopic,
		KafkaRunKey: runKey,
	})
	if err != nil {
		log.Fatalf("drizzler: %v", err)
	}

	var progress sinks.ProgressSink = sinks.LogProgressSink{}
	if *timelineFile != "" {
		tf, err := sinks.NewTimelineFileSink(*timelineFile)
		if err != nil {
			log.Fatalf("drizzler: opening timeline file: %v", err)
		}
		defer tf.Close()
		progress = tf
	}

	tel := telemetry.New(telemetry.Config{Enabled: *metricsEnabled, MetricsAddr: *metricsAddr})

	orc := engine.New(engine.Options{
		Config: engine.Config{
			PerHostRate:        *perHostRate,
			PerHostBurst:       *perHostBurst,
			PerHostConcurrency: *perHostConcurrency,
			GlobalConcurrency:  *globalConcurrency,
			RequestTimeout:     *requestTimeout,
			MaxRetries:         *maxRetries,
			BackoffBaseS:       *backoffBase,
			BackoffJitterRatio: *backoffJitter,
			SlowStartRampUpS:   *rampUp,
			Deduplicate:        *deduplicate,
			FailureThreshold:   *failureThreshold,
			CooldownWindow:     *cooldownWindow,
			StateFile:          *stateFile,
			CheckpointInterval: *checkpointInterval,
		},
		Snapshotter: snapshotter,
		Progress:    progress,
		Metrics:     sinks.LogMetricsSink{},
		Telemetry:   tel,
	})
	defer orc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("drizzler: shutdown signal received, draining in-flight requests...")
		cancel()
	}()

	log.Printf("drizzler: fetching %d URLs with global_concurrency=%d", len(urls), *globalConcurrency)
	summary, err := orc.Run(ctx, urls)
	if err != nil {
		log.Fatalf("drizzler: run failed: %v", err)
	}

	if *summaryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
		return
	}
	printSummary(summary)
}

// printSummary renders a human-readable digest of a completed run. Latency
// fields are nil when no request succeeded, so each is guarded individually.
func printSummary(s stats.Stats) {
	fmt.Printf("total=%d success=%d errors=%d error_rate=%.3f\n", s.Total, s.Success, s.Errors, s.ErrorRate)
	if s.Mean != nil {
		fmt.Printf("latency(s): mean=%.3f std=%.3f p50=%.3f p90=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
			*s.Mean, *s.Std, *s.P50, *s.P90, *s.P95, *s.P99, *s.Min, *s.Max)
	} else {
		fmt.Println("latency(s): no successful requests")
	}
	if len(s.StatusCounts) > 0 {
		codes := make([]int, 0, len(s.StatusCounts))
		for code := range s.StatusCounts {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		fmt.Print("status codes:")
		for _, code := range codes {
			fmt.Printf(" %d=%d", code, s.StatusCounts[code])
		}
		fmt.Println()
	}
}

// collectURLs gathers URLs from an optional input file/stdin and any extra
// positional CLI arguments, in that order.
func collectURLs(inputFile string, extra []string) ([]string, error) {
	var urls []string
	if inputFile != "" {
		var f *os.File
		if inputFile == "-" {
			f = os.Stdin
		} else {
			var err error
			f, err = os.Open(inputFile)
			if err != nil {
				return nil, fmt.Errorf("opening input file: %w", err)
			}
			defer f.Close()
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
	}
	urls = append(urls, extra...)
	return urls, nil
}
