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

package engine

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the *http.Client the pipeline uses when the caller
// does not supply one. Its connection pool is sized to the global
// concurrency ceiling so no worker ever blocks waiting for a pooled
// connection behind the concurrency gate it already passed.
func NewHTTPClient(globalConcurrency int, timeout time.Duration) *http.Client {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        globalConcurrency * 2,
		MaxIdleConnsPerHost: globalConcurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}
