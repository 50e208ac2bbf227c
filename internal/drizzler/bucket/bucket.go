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

// Package bucket implements the per-host token bucket: a background permit
// producer with slow-start ramp-up, jittered inter-permit delay, a bounded
// in-flight permit buffer, and a monotonically-rising cooldown floor that
// Acquire respects before taking a permit.
package bucket

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/clock"
)

// minEffectiveRate is the floor on effective rate, in permits/sec. Neither
// ramp-up nor AdjustRate may take a bucket below it.
const minEffectiveRate = 0.1

// Options configures a new Bucket. Zero values are replaced with workable
// defaults by New.
type Options struct {
	Rate        float64 // target rate, permits/sec (per_host_rate)
	Burst       int     // max in-flight permit buffer (per_host_burst)
	JitterRatio float64 // fractional jitter applied to inter-permit delay
	RampUpS     float64 // slow-start ramp-up window, seconds
	Name        string  // logical host name, for diagnostics
	Clock       clock.Clock
	CreatedAt   time.Time // override for restoring ramp-up progress from a snapshot; zero means "now"
}

// Bucket is a per-host token-bucket pacer. The zero value is not usable;
// construct with New. A Bucket must be Start'd before the first Acquire and
// Stop'd once at shutdown.
type Bucket struct {
	name        string
	burst       int
	jitterRatio float64
	rampUpS     float64
	createdAt   time.Time
	clk         clock.Clock

	rateMu sync.Mutex
	rate   float64

	cooldownMu    sync.Mutex
	cooldownUntil time.Time

	permits chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	stopped   atomic.Bool
	wg        sync.WaitGroup
}

// New constructs a Bucket. It does not start the background producer;
// call Start for that.
func New(opts Options) *Bucket {
	if opts.Burst < 1 {
		opts.Burst = 2
	}
	if opts.Rate <= 0 {
		opts.Rate = 1.0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = opts.Clock.Now()
	}
	return &Bucket{
		name:        opts.Name,
		burst:       opts.Burst,
		jitterRatio: opts.JitterRatio,
		rampUpS:     opts.RampUpS,
		createdAt:   createdAt,
		clk:         opts.Clock,
		rate:        opts.Rate,
		permits:     make(chan struct{}, opts.Burst),
		stopCh:      make(chan struct{}),
	}
}

// Name returns the logical host this bucket paces.
func (b *Bucket) Name() string { return b.name }

// Start launches the background permit producer. Idempotent.
func (b *Bucket) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

// Stop terminates the producer and waits for it to exit. Idempotent.
// Does not drain outstanding permits; callers must not Acquire after Stop.
func (b *Bucket) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.stopCh)
	})
	b.wg.Wait()
}

// Acquire blocks until the cooldown floor has elapsed and a permit is
// available, then consumes one permit. It honors ctx cancellation at both
// wait points; on cancellation no permit is consumed.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		wait := b.cooldownRemaining()
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
		// Loop again: cooldownUntil may have been raised further while we slept.
	}
	select {
	case <-b.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bucket) cooldownRemaining() time.Duration {
	b.cooldownMu.Lock()
	until := b.cooldownUntil
	b.cooldownMu.Unlock()
	return until.Sub(b.clk.Now())
}

// CooldownUntil monotonically raises the cooldown floor. Calls that would
// lower it are ignored. Safe for concurrent use.
func (b *Bucket) CooldownUntil(t time.Time) {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()
	if t.After(b.cooldownUntil) {
		b.cooldownUntil = t
	}
}

// AdjustRate multiplies the target rate, floored at 0.1/sec. Observable on
// the producer's next tick.
func (b *Bucket) AdjustRate(multiplier float64) {
	b.rateMu.Lock()
	defer b.rateMu.Unlock()
	b.rate = b.rate * multiplier
	if b.rate < minEffectiveRate {
		b.rate = minEffectiveRate
	}
}

// Rate returns the current target rate (pre-ramp-up), for snapshotting.
func (b *Bucket) Rate() float64 {
	b.rateMu.Lock()
	defer b.rateMu.Unlock()
	return b.rate
}

// CooldownAt returns the current cooldown floor, for snapshotting.
func (b *Bucket) CooldownAt() time.Time {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()
	return b.cooldownUntil
}

// CreatedAt returns when the bucket was constructed, for snapshotting the
// ramp-up start offset.
func (b *Bucket) CreatedAt() time.Time { return b.createdAt }

// currentRate applies the slow-start ramp-up curve to the target rate.
func (b *Bucket) currentRate() float64 {
	target := b.Rate()
	if b.rampUpS <= 0 {
		if target < minEffectiveRate {
			return minEffectiveRate
		}
		return target
	}
	elapsed := b.clk.Now().Sub(b.createdAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	frac := elapsed / b.rampUpS
	if frac > 1.0 {
		frac = 1.0
	}
	base := 0.2 * target
	r := base + (target-base)*frac
	if r < minEffectiveRate {
		r = minEffectiveRate
	}
	return r
}

func (b *Bucket) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		r := b.currentRate()
		delay := time.Duration(float64(time.Second) / r)
		jitter := 1.0 + (rand.Float64()*2-1)*b.jitterRatio
		if jitter < 0.2 {
			jitter = 0.2
		}
		delay = time.Duration(float64(delay) * jitter)

		if len(b.permits) >= cap(b.permits) {
			sleep := delay
			if sleep > 10*time.Millisecond {
				sleep = 10 * time.Millisecond
			}
			if !b.sleepOrStop(sleep) {
				return
			}
			continue
		}

		select {
		case b.permits <- struct{}{}:
		case <-b.stopCh:
			return
		}
		if !b.sleepOrStop(delay) {
			return
		}
	}
}

// sleepOrStop sleeps for d, returning false early if the bucket is stopped
// mid-sleep so the caller can exit promptly.
func (b *Bucket) sleepOrStop(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-b.stopCh:
		return false
	}
}
