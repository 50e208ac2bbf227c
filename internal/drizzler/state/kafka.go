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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Producer is a minimal abstraction over a Kafka client, intentionally not
// tied to a specific library so callers can wire whichever client their
// broker setup demands. Requires an idempotent producer on the broker side.
type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// LoggingProducer is a dependency-free stand-in for a real Kafka client: it
// logs what it would have produced. Useful for exercising the event-log
// backend without a broker.
type LoggingProducer struct{}

func (LoggingProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fmt.Printf("[kafka] topic=%s key=%s bytes=%d headers=%v\n", topic, string(key), len(value), headers)
	return nil
}

// snapshotEvent is the message payload KafkaSnapshotter publishes: a full
// state snapshot treated as the latest entry in an append-only log, keyed
// so a compacted topic retains only the newest snapshot per run.
type snapshotEvent struct {
	RunKey   string   `json:"run_key"`
	TsUnixMs int64    `json:"ts_unix_ms"`
	Snapshot Snapshot `json:"snapshot"`
}

// KafkaSnapshotter treats Kafka as an event log for state transitions
// rather than a point-in-time store: Save publishes the latest snapshot as
// a keyed message, relying on the broker's log-compaction to retain only
// the newest value per key.
type KafkaSnapshotter struct {
	producer Producer
	topic    string
	runKey   string
}

// NewKafkaSnapshotter returns a KafkaSnapshotter publishing to topic under
// runKey (e.g. a hostname or job id identifying this engine instance).
func NewKafkaSnapshotter(producer Producer, topic, runKey string) *KafkaSnapshotter {
	return &KafkaSnapshotter{producer: producer, topic: topic, runKey: runKey}
}

// Save publishes the snapshot as a single keyed message.
func (k *KafkaSnapshotter) Save(ctx context.Context, snap Snapshot) error {
	evt := snapshotEvent{RunKey: k.runKey, TsUnixMs: time.Now().UnixMilli(), Snapshot: snap}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := k.producer.Produce(ctx, k.topic, []byte(k.runKey), data, headers); err != nil {
		return fmt.Errorf("kafka snapshot produce: %w", err)
	}
	return nil
}

// Load is unsupported: an event-log backend is write-only from this
// engine's perspective. Restoring from Kafka means replaying the topic
// from a consumer, which belongs to a separate process, not this
// snapshotter. Callers that select the Kafka backend for Save should pair
// it with a FileSnapshotter or RedisSnapshotter for Load.
func (k *KafkaSnapshotter) Load(context.Context) (Snapshot, error) {
	return Snapshot{}, errors.New("kafka snapshotter does not support Load; pair with a read-capable backend")
}
