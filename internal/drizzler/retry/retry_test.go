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

package retry

import (
	"net/http"
	"testing"
	"time"
)

func TestPolicy_Backoff_GrowsExponentiallyWithinJitter(t *testing.T) {
	p := Policy{BaseS: 1.0, JitterRatio: 0.2}
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Backoff(attempt)
		nominal := 1.0
		for i := 1; i < attempt; i++ {
			nominal *= 2
		}
		lo := time.Duration(nominal * 0.8 * float64(time.Second))
		hi := time.Duration(nominal * 1.2 * float64(time.Second))
		if d < lo || d > hi {
			t.Fatalf("attempt %d: backoff %v outside [%v, %v]", attempt, d, lo, hi)
		}
	}
}

func TestPolicy_Backoff_FloorsAtMinimum(t *testing.T) {
	p := Policy{BaseS: 0.0001, JitterRatio: 0}
	if d := p.Backoff(1); d != minBackoff {
		t.Fatalf("expected floor %v, got %v", minBackoff, d)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   float64
		wantOK bool
	}{
		{"absent", "", 0, false},
		{"numeric", "2.5", 2.5, true},
		{"integer", "120", 120, true},
		{"negative clamped", "-5", 0, true},
		{"http-date unsupported", "Wed, 21 Oct 2026 07:28:00 GMT", 0, false},
		{"garbage", "soon please", 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := http.Header{}
			if c.header != "" {
				h.Set("Retry-After", c.header)
			}
			got, ok := RetryAfterSeconds(h)
			if ok != c.wantOK || got != c.want {
				t.Fatalf("RetryAfterSeconds(%q) = (%v, %v), want (%v, %v)", c.header, got, ok, c.want, c.wantOK)
			}
		})
	}
}
