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

package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ziwon/drizzler/internal/drizzler/breaker"
)

func TestRedisSnapshotter_LoadMissingKeyStartsClean(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisSnapshotter(mr.Addr(), "drizzler:state", 0)
	defer r.Close()

	snap, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if len(snap.Buckets) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestRedisSnapshotter_SaveThenLoadRoundTrips(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisSnapshotter(mr.Addr(), "drizzler:state", 0)
	defer r.Close()

	now := time.Now().Round(0)
	want := Snapshot{
		Buckets: map[string]BucketSnapshot{
			"example.com": {Rate: 3.0, CooldownUntil: now, CreatedAt: now},
		},
		Breakers: map[string]breaker.Snapshot{
			"example.com": {Failures: 1, CooldownUntil: now, LastFailure: now},
		},
	}
	if err := r.Save(context.Background(), want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Buckets["example.com"].Rate != 3.0 {
		t.Fatalf("round-tripped rate mismatch: got %+v", got.Buckets["example.com"])
	}
	if got.Breakers["example.com"].Failures != 1 {
		t.Fatalf("round-tripped breaker mismatch: got %+v", got.Breakers["example.com"])
	}
}

func TestRedisSnapshotter_SaveExpiresWhenTTLSet(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisSnapshotter(mr.Addr(), "drizzler:state", 30*time.Second)
	defer r.Close()

	if err := r.Save(context.Background(), Snapshot{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	ttl := mr.TTL("drizzler:state")
	if ttl <= 0 {
		t.Fatalf("expected a positive TTL on the snapshot key, got %v", ttl)
	}
}
