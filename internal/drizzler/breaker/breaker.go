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

// Package breaker implements the per-host circuit breaker: a failure
// counter that trips into a cooldown window once it reaches a threshold,
// with no half-open state. An elapsed cooldown returns directly to closed.
package breaker

import (
	"sync"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/clock"
)

// Options configures a new Breaker.
type Options struct {
	FailureThreshold int
	CooldownWindow   time.Duration
	Clock            clock.Clock
}

// Breaker is a per-host circuit breaker. Safe for concurrent use.
type Breaker struct {
	clk clock.Clock

	mu               sync.Mutex
	failures         int
	failureThreshold int
	cooldownWindow   time.Duration
	lastFailure      time.Time
	cooldownUntil    time.Time
}

// New constructs a Breaker in the closed state.
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Breaker{
		clk:              opts.Clock,
		failureThreshold: opts.FailureThreshold,
		cooldownWindow:   opts.CooldownWindow,
	}
}

// CanAttempt reports whether a request may proceed: true iff now is at or
// past the cooldown floor.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.clk.Now().Before(b.cooldownUntil)
}

// RecordFailure increments the failure counter. Once it reaches the
// threshold, the breaker opens for CooldownWindow and the counter resets.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.clk.Now()
	if b.failures >= b.failureThreshold {
		b.cooldownUntil = b.lastFailure.Add(b.cooldownWindow)
		b.failures = 0
	}
}

// RecordSuccess resets the failure counter. cooldownUntil is left
// unchanged: a prior cooldown elapses on its own.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Snapshot captures the breaker's persisted fields.
type Snapshot struct {
	Failures      int       `json:"failures"`
	CooldownUntil time.Time `json:"cooldown_until"`
	LastFailure   time.Time `json:"last_failure"`
}

// State returns a snapshot of the breaker's current fields.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Failures:      b.failures,
		CooldownUntil: b.cooldownUntil,
		LastFailure:   b.lastFailure,
	}
}

// Restore seeds the breaker's mutable fields from a persisted snapshot.
// Intended to be called once, immediately after New, before the breaker is
// shared with any other goroutine.
func (b *Breaker) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = s.Failures
	b.cooldownUntil = s.CooldownUntil
	b.lastFailure = s.LastFailure
}
