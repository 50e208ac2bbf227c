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

// Package registry manages the in-memory collection of per-host token
// buckets and circuit breakers, keyed by logical host name and created
// lazily on first sighting.
package registry

import (
	"sync"
	"time"

	"github.com/ziwon/drizzler/internal/drizzler/breaker"
	"github.com/ziwon/drizzler/internal/drizzler/bucket"
	"github.com/ziwon/drizzler/internal/drizzler/clock"
)

// HostStruct bundles the pacer and breaker for one logical host.
type HostStruct struct {
	Bucket  *bucket.Bucket
	Breaker *breaker.Breaker
}

// Options carries the defaults applied to every newly created host struct.
// Per-host overrides are not modeled; these knobs are global.
type Options struct {
	Rate             float64
	Burst            int
	JitterRatio      float64
	RampUpS          float64
	FailureThreshold int
	CooldownWindow   time.Duration
	Clock            clock.Clock
}

// Registry is a thread-safe collection of HostStructs keyed by logical host
// name. The zero value is not usable; construct with New.
type Registry struct {
	hosts sync.Map // string -> *HostStruct
	opts  Options
}

// New constructs an empty Registry. Hosts are created lazily via GetOrCreate.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Registry{opts: opts}
}

// GetOrCreate returns the HostStruct for a logical host, creating and
// starting it (bucket producer launched) on first access. The fast-path
// Load before the allocation fallback means the hot path never allocates
// once a host has been seen.
func (r *Registry) GetOrCreate(host string) *HostStruct {
	if v, ok := r.hosts.Load(host); ok {
		return v.(*HostStruct)
	}

	hs := &HostStruct{
		Bucket: bucket.New(bucket.Options{
			Rate:        r.opts.Rate,
			Burst:       r.opts.Burst,
			JitterRatio: r.opts.JitterRatio,
			RampUpS:     r.opts.RampUpS,
			Name:        host,
			Clock:       r.opts.Clock,
		}),
		Breaker: breaker.New(breaker.Options{
			FailureThreshold: r.opts.FailureThreshold,
			CooldownWindow:   r.opts.CooldownWindow,
			Clock:            r.opts.Clock,
		}),
	}

	actual, loaded := r.hosts.LoadOrStore(host, hs)
	if loaded {
		return actual.(*HostStruct)
	}
	hs.Bucket.Start()
	return hs
}

// Restore creates a host struct seeded from persisted state rather than
// fresh defaults: rate and ramp-up start are taken from a prior bucket
// snapshot, cooldownUntil is reapplied, and the breaker's failure/cooldown
// fields are restored. Intended to be called during startup, once per host,
// before any fetch traffic begins.
func (r *Registry) Restore(host string, rate float64, createdAt time.Time, cooldownUntil time.Time, brk breaker.Snapshot) *HostStruct {
	bucketRate := rate
	if bucketRate <= 0 {
		bucketRate = r.opts.Rate
	}
	hs := &HostStruct{
		Bucket: bucket.New(bucket.Options{
			Rate:        bucketRate,
			Burst:       r.opts.Burst,
			JitterRatio: r.opts.JitterRatio,
			RampUpS:     r.opts.RampUpS,
			Name:        host,
			Clock:       r.opts.Clock,
			CreatedAt:   createdAt,
		}),
		Breaker: breaker.New(breaker.Options{
			FailureThreshold: r.opts.FailureThreshold,
			CooldownWindow:   r.opts.CooldownWindow,
			Clock:            r.opts.Clock,
		}),
	}
	if !cooldownUntil.IsZero() {
		hs.Bucket.CooldownUntil(cooldownUntil)
	}
	hs.Breaker.Restore(brk)

	actual, loaded := r.hosts.LoadOrStore(host, hs)
	if loaded {
		return actual.(*HostStruct)
	}
	hs.Bucket.Start()
	return hs
}

// Get returns the HostStruct for host if it already exists, without
// creating one, so a lookup never materializes a host that was never
// actually fetched.
func (r *Registry) Get(host string) (*HostStruct, bool) {
	v, ok := r.hosts.Load(host)
	if !ok {
		return nil, false
	}
	return v.(*HostStruct), true
}

// ForEach iterates every known host struct. The callback must not call
// back into the Registry.
func (r *Registry) ForEach(f func(host string, hs *HostStruct)) {
	r.hosts.Range(func(key, value any) bool {
		f(key.(string), value.(*HostStruct))
		return true
	})
}

// StopAll stops every bucket's background producer. Call once at shutdown.
func (r *Registry) StopAll() {
	r.hosts.Range(func(_, value any) bool {
		value.(*HostStruct).Bucket.Stop()
		return true
	})
}
