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

// Package trace records and replays demand-access logs as JSONL files.
// A trace is the full input of a run: replaying it through a fresh cache
// model regenerates the fill stream and therefore the exact prefetch
// sequence, which is what the determinism law demands.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"prefetch/internal/sim"
)

// Event is one demand access delivered to the L2.
type Event struct {
	Addr uint64 `json:"addr"`
	IP   uint64 `json:"ip,omitempty"`
}

// Writer is a buffered JSONL sink for trace events. It is safe for
// concurrent use and optimized for append-only workloads.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	lastFlush time.Time
}

// NewWriter opens (or creates) the file at path in append mode with a
// buffered writer. Call Close() when done.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 1<<20 /*1MiB*/), path: path, lastFlush: time.Now()}, nil
}

// Append writes events as JSON lines.
func (t *Writer) Append(events ...Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	enc := json.NewEncoder(t.w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			// best effort: on error, try to flush and retry once
			_ = t.w.Flush()
			_ = enc.Encode(&events[i])
		}
	}
	// Flush periodically to bound data loss on crash.
	if time.Since(t.lastFlush) > 100*time.Millisecond {
		_ = t.w.Flush()
		t.lastFlush = time.Now()
	}
}

// Flush forces buffered data to disk.
func (t *Writer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFlush = time.Now()
	return t.w.Flush()
}

// Close flushes and closes the underlying file.
func (t *Writer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		_ = t.f.Close()
		return err
	}
	return t.f.Close()
}

// ReadAll loads a complete trace file.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("trace %s line %d: %w", path, line, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace %s: %w", path, err)
	}
	return events, nil
}

// Replay drives a fresh cache model through the trace and drains all
// outstanding prefetch fills. The returned model holds the run's stats and,
// when cfg.RecordIssues is set, the exact prefetch sequence.
func Replay(events []Event, cfg sim.Config) *sim.L2 {
	c := sim.New(cfg)
	for _, e := range events {
		c.Access(e.Addr)
	}
	c.Drain()
	return c
}
