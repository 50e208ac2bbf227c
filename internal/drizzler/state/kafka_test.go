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
	"testing"
)

type fakeProducer struct {
	topic   string
	key     []byte
	payload []byte
}

func (f *fakeProducer) Produce(_ context.Context, topic string, key []byte, value []byte, _ map[string]string) error {
	f.topic = topic
	f.key = key
	f.payload = value
	return nil
}

func TestKafkaSnapshotter_SavePublishesKeyedEvent(t *testing.T) {
	fp := &fakeProducer{}
	k := NewKafkaSnapshotter(fp, "drizzler-state", "run-1")

	snap := Snapshot{Buckets: map[string]BucketSnapshot{"example.com": {Rate: 5}}}
	if err := k.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if fp.topic != "drizzler-state" {
		t.Fatalf("expected topic drizzler-state, got %s", fp.topic)
	}
	if string(fp.key) != "run-1" {
		t.Fatalf("expected message key run-1, got %s", fp.key)
	}
	var evt snapshotEvent
	if err := json.Unmarshal(fp.payload, &evt); err != nil {
		t.Fatalf("payload did not decode as snapshotEvent: %v", err)
	}
	if evt.Snapshot.Buckets["example.com"].Rate != 5 {
		t.Fatalf("expected embedded snapshot to round-trip, got %+v", evt.Snapshot)
	}
}

func TestKafkaSnapshotter_LoadIsUnsupported(t *testing.T) {
	k := NewKafkaSnapshotter(&fakeProducer{}, "drizzler-state", "run-1")
	if _, err := k.Load(context.Background()); err == nil {
		t.Fatalf("expected Load to return an error for a write-only backend")
	}
}
