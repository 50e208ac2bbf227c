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

package sinks

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// TimelineFileSink is a buffered JSONL append sink for ProgressEvents: a
// bufio.Writer over an O_APPEND file, flushed periodically rather than on
// every write, so a downstream timeline/histogram renderer can tail the
// file for a live run or replay it afterward.
type TimelineFileSink struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	lastFlush time.Time
}

// NewTimelineFileSink opens (or creates) path in append mode with a
// buffered writer. Call Close when the run finishes.
func NewTimelineFileSink(path string) (*TimelineFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &TimelineFileSink{f: f, w: bufio.NewWriterSize(f, 1<<16), lastFlush: time.Now()}, nil
}

// OnProgress appends one event as a JSON line.
func (s *TimelineFileSink) OnProgress(e ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if err := enc.Encode(&e); err != nil {
		_ = s.w.Flush()
		_ = enc.Encode(&e)
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

// Flush forces buffered data to be written to disk.
func (s *TimelineFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *TimelineFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAllProgressLog reads the entire event log back, for replay by a
// downstream timeline renderer.
func ReadAllProgressLog(path string) ([]ProgressEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []ProgressEvent
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<16)
	scanner.Buffer(buf, 1<<24)
	for scanner.Scan() {
		var e ProgressEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}
