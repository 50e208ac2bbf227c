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

// Package retry implements the exponential backoff and Retry-After parsing
// used between fetch attempts.
package retry

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// minBackoff is the floor on the backoff sleep.
const minBackoff = 50 * time.Millisecond

// Policy computes backoff delays for a bounded retry sequence.
type Policy struct {
	BaseS       float64
	JitterRatio float64
}

// Backoff returns the sleep duration before retry attempt (1-indexed) k:
// max(0.05s, base * 2^(k-1) * U), U uniform in [1-r, 1+r].
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseS * pow2(attempt-1)
	jitter := 1.0 + (rand.Float64()*2-1)*p.JitterRatio
	d := time.Duration(base * jitter * float64(time.Second))
	if d < minBackoff {
		d = minBackoff
	}
	return d
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1.0
	}
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// RetryAfterSeconds extracts and parses the Retry-After header as a numeric
// seconds value, clamped to >= 0. The HTTP-date form is not supported; a
// value that fails to parse as a number is treated as absent.
func RetryAfterSeconds(h http.Header) (float64, bool) {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if secs < 0 {
		secs = 0
	}
	return secs, true
}
