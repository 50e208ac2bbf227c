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
	"log"
	"os"
	"path/filepath"
)

// FileSnapshotter persists a Snapshot as indented JSON on the local
// filesystem. It is the required, zero-dependency default backend.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter returns a FileSnapshotter writing to path.
func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path}
}

// Load reads the snapshot file. A missing file or corrupt contents are
// treated as "no prior state": Load returns a zero Snapshot and a nil
// error so startup proceeds as a clean run.
func (f *FileSnapshotter) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("state: no state file at %s, starting fresh", f.path)
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("state: failed to parse %s, starting fresh: %v", f.path, err)
		return Snapshot{}, nil
	}
	log.Printf("state: loaded %d buckets and %d breakers from %s", len(snap.Buckets), len(snap.Breakers), f.path)
	return snap, nil
}

// Save writes the snapshot to a temp file in the same directory and
// renames it into place, so a crash mid-write never leaves a truncated
// state file behind.
func (f *FileSnapshotter) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".drizzler-state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	log.Printf("state: saved %d buckets and %d breakers to %s", len(snap.Buckets), len(snap.Breakers), f.path)
	return nil
}
