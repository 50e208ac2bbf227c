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

// Package state persists and restores per-host bucket and breaker state
// across runs. A Snapshotter is pluggable: FileSnapshotter is the default;
// RedisSnapshotter and KafkaSnapshotter are optional backends behind the
// same interface.
package state

import (
	"context"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/breaker"
	"github.com/ziwon/drizzler/internal/drizzler/registry"
)

// BucketSnapshot is the persisted shape of one host's token bucket.
type BucketSnapshot struct {
	Rate          float64   `json:"rate"`
	CooldownUntil time.Time `json:"cooldown_until"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is the full persisted state: one bucket and breaker entry per
// logical host that had been seen when the snapshot was taken.
type Snapshot struct {
	Buckets  map[string]BucketSnapshot   `json:"buckets"`
	Breakers map[string]breaker.Snapshot `json:"breakers"`
}

// Snapshotter loads and saves Snapshots. Implementations must treat a
// missing/empty backing store as "no prior state" rather than an error, so
// a first run always starts clean.
type Snapshotter interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// CaptureSnapshot walks every host struct currently known to reg and
// serializes it into a Snapshot.
func CaptureSnapshot(reg *registry.Registry) Snapshot {
	snap := Snapshot{
		Buckets:  make(map[string]BucketSnapshot),
		Breakers: make(map[string]breaker.Snapshot),
	}
	reg.ForEach(func(host string, hs *registry.HostStruct) {
		snap.Buckets[host] = BucketSnapshot{
			Rate:          hs.Bucket.Rate(),
			CooldownUntil: hs.Bucket.CooldownAt(),
			CreatedAt:     hs.Bucket.CreatedAt(),
		}
		snap.Breakers[host] = hs.Breaker.State()
	})
	return snap
}

// Apply restores every host present in snap into reg, via
// registry.Registry.Restore. Hosts not yet present in reg are created;
// hosts already present are left untouched (Apply is meant to run once,
// at startup, before any fetch traffic begins).
func Apply(reg *registry.Registry, snap Snapshot) {
	for host, bs := range snap.Buckets {
		brk := snap.Breakers[host]
		reg.Restore(host, bs.Rate, bs.CreatedAt, bs.CooldownUntil, brk)
	}
}
