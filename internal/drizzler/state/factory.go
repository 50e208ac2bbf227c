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
	"fmt"
	"time"
)

// BackendOptions carries the knobs needed to construct any of the
// supported Snapshotter backends.
type BackendOptions struct {
	FilePath    string
	RedisAddr   string
	RedisKey    string
	RedisTTL    time.Duration
	KafkaTopic  string
	KafkaRunKey string
}

// BuildSnapshotter selects a Snapshotter by name. "file" is the required
// default; "redis" and "kafka" are optional enrichments. "postgres" is
// deliberately left unwired, matching the choice already made upstream of
// this package: no part of the fetch engine's state needs relational
// querying, only point-in-time load/save of an opaque blob.
func BuildSnapshotter(backend string, opts BackendOptions) (Snapshotter, error) {
	switch backend {
	case "", "file":
		path := opts.FilePath
		if path == "" {
			path = "drizzler_state.json"
		}
		return NewFileSnapshotter(path), nil
	case "redis":
		key := opts.RedisKey
		if key == "" {
			key = "drizzler:state"
		}
		return NewRedisSnapshotter(opts.RedisAddr, key, opts.RedisTTL), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "drizzler-state"
		}
		return NewKafkaSnapshotter(LoggingProducer{}, topic, opts.KafkaRunKey), nil
	case "postgres":
		return nil, fmt.Errorf("postgres state backend is not implemented; use file or redis")
	default:
		return nil, fmt.Errorf("unknown state backend: %s", backend)
	}
}
