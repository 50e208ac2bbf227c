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

// Package engine implements the fetch pipeline and its orchestrator: a
// bounded worker pool draining a URL queue through a per-host rate-limited,
// circuit-breaker-guarded, retrying HTTP fetch.
package engine

import "time"

// Config carries the engine's tunable knobs. Zero values are replaced by
// Defaults' values by New.
type Config struct {
	PerHostRate        float64
	PerHostBurst       int
	PerHostConcurrency int
	GlobalConcurrency  int

	RequestTimeout     time.Duration
	MaxRetries         int
	BackoffBaseS       float64
	BackoffJitterRatio float64
	SlowStartRampUpS   float64

	Deduplicate    bool
	DefaultHeaders map[string]string

	FailureThreshold int
	CooldownWindow   time.Duration

	StateFile string

	// CheckpointInterval, when positive, makes the orchestrator snapshot the
	// registry through the configured Snapshotter on a ticker during the
	// run, not just at shutdown, so a non-graceful kill loses at most one
	// interval of learned state. Zero (the default) means a single save at
	// the end of the run.
	CheckpointInterval time.Duration
}

// Defaults returns the engine's default configuration.
func Defaults() Config {
	return Config{
		PerHostRate:        1.0,
		PerHostBurst:       2,
		PerHostConcurrency: 2,
		GlobalConcurrency:  10,

		RequestTimeout:     30 * time.Second,
		MaxRetries:         5,
		BackoffBaseS:       1.0,
		BackoffJitterRatio: 0.2,
		SlowStartRampUpS:   15.0,

		Deduplicate:    true,
		DefaultHeaders: nil,

		FailureThreshold: 5,
		CooldownWindow:   60 * time.Second,

		StateFile: "drizzler_state.json",
	}
}

// WithDefaults returns a copy of c with every zero-valued field replaced by
// its Defaults() counterpart. Booleans are left as given since Go's zero
// value for bool is a legitimate configuration choice, not "unset".
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.PerHostRate <= 0 {
		c.PerHostRate = d.PerHostRate
	}
	if c.PerHostBurst <= 0 {
		c.PerHostBurst = d.PerHostBurst
	}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = d.PerHostConcurrency
	}
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = d.GlobalConcurrency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBaseS <= 0 {
		c.BackoffBaseS = d.BackoffBaseS
	}
	if c.BackoffJitterRatio <= 0 {
		c.BackoffJitterRatio = d.BackoffJitterRatio
	}
	if c.SlowStartRampUpS <= 0 {
		c.SlowStartRampUpS = d.SlowStartRampUpS
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = d.CooldownWindow
	}
	if c.StateFile == "" {
		c.StateFile = d.StateFile
	}
	return c
}

// Dedup filters urls to first-seen order, preserving each URL's first
// occurrence.
func Dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
