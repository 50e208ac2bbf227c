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

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/clock"
)

func TestBucket_NeverExceedsBurst(t *testing.T) {
	b := New(Options{Rate: 1000, Burst: 3, JitterRatio: 0, RampUpS: 0, Name: "h"})
	b.Start()
	defer b.Stop()

	time.Sleep(50 * time.Millisecond)
	if len(b.permits) > b.burst {
		t.Fatalf("permit buffer exceeded burst: len=%d burst=%d", len(b.permits), b.burst)
	}
}

func TestBucket_AcquireConsumesOnePermit(t *testing.T) {
	b := New(Options{Rate: 1000, Burst: 2, JitterRatio: 0, RampUpS: 0, Name: "h"})
	b.Start()
	defer b.Stop()

	time.Sleep(20 * time.Millisecond)
	before := len(b.permits)
	if before == 0 {
		t.Fatalf("expected at least one permit to be buffered before acquire")
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(b.permits) != before-1 {
		t.Fatalf("expected exactly one permit consumed: before=%d after=%d", before, len(b.permits))
	}
}

func TestBucket_CooldownUntil_Monotonic(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(1000, 0))
	b := New(Options{Rate: 10, Burst: 2, Name: "h", Clock: clk})

	t1 := clk.Now().Add(5 * time.Second)
	b.CooldownUntil(t1)
	if got := b.CooldownAt(); !got.Equal(t1) {
		t.Fatalf("expected cooldown %v, got %v", t1, got)
	}

	// Lower value must be ignored.
	b.CooldownUntil(clk.Now().Add(1 * time.Second))
	if got := b.CooldownAt(); !got.Equal(t1) {
		t.Fatalf("cooldown regressed: expected %v, got %v", t1, got)
	}

	// Higher value raises the floor.
	t2 := clk.Now().Add(10 * time.Second)
	b.CooldownUntil(t2)
	if got := b.CooldownAt(); !got.Equal(t2) {
		t.Fatalf("expected cooldown %v, got %v", t2, got)
	}
}

func TestBucket_AcquireBlocksUntilCooldownElapses(t *testing.T) {
	b := New(Options{Rate: 1000, Burst: 5, Name: "h"})
	b.Start()
	defer b.Stop()
	time.Sleep(20 * time.Millisecond) // let permits accumulate

	b.CooldownUntil(time.Now().Add(150 * time.Millisecond))
	start := time.Now()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected Acquire to block for cooldown, only waited %v", elapsed)
	}
}

func TestBucket_AcquireRespectsCancellation(t *testing.T) {
	b := New(Options{Rate: 0.001, Burst: 1, Name: "h"}) // floored to 0.1/s: one permit at start, the next ~10s later
	b.Start()
	defer b.Stop()

	// The producer emits its first permit as soon as it starts; take it so
	// the buffer is empty for the timed Acquire below.
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("initial Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error, got nil")
	}
}

func TestBucket_AdjustRate_FloorsAtMinimum(t *testing.T) {
	b := New(Options{Rate: 1.0, Burst: 2, Name: "h"})
	b.AdjustRate(0.01)
	if got := b.Rate(); got != minEffectiveRate {
		t.Fatalf("expected rate floored at %v, got %v", minEffectiveRate, got)
	}
}

func TestBucket_RampUp_InterpolatesLinearly(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	b := New(Options{Rate: 10.0, Burst: 2, RampUpS: 10.0, Name: "h", Clock: clk})

	if got := b.currentRate(); got != 2.0 { // 20% of target at t=0
		t.Fatalf("expected initial ramp-up rate 2.0, got %v", got)
	}
	clk.Advance(5 * time.Second)
	if got := b.currentRate(); got < 5.9 || got > 6.1 { // halfway: 0.2*10 + 0.8*10*0.5 = 6
		t.Fatalf("expected ~6.0 at midpoint, got %v", got)
	}
	clk.Advance(10 * time.Second) // well past ramp-up window
	if got := b.currentRate(); got != 10.0 {
		t.Fatalf("expected full target rate after ramp-up, got %v", got)
	}
}

func TestBucket_StartStop_Idempotent(t *testing.T) {
	b := New(Options{Rate: 100, Burst: 2, Name: "h"})
	b.Start()
	b.Start() // second call is a no-op
	b.Stop()
	b.Stop() // second call is a no-op
}

func TestBucket_SteadyStateThroughputWithinJitterTolerance(t *testing.T) {
	b := New(Options{Rate: 50, Burst: 2, JitterRatio: 0.2, Name: "h"})
	b.Start()
	defer b.Stop()

	const window = 500 * time.Millisecond
	deadline := time.Now().Add(window)
	drained := 0
	for time.Now().Before(deadline) {
		select {
		case <-b.permits:
			drained++
		default:
			time.Sleep(time.Millisecond)
		}
	}
	want := 50.0 * window.Seconds()
	if float64(drained) < want*0.5 || float64(drained) > want*1.5 {
		t.Fatalf("drained %d permits in %v, want roughly %.1f (+/- jitter/burst slack)", drained, window, want)
	}
}
