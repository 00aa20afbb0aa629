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

package trace

import (
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"prefetch"
	"prefetch/internal/sim"
)

func randomTrace(seed int64, n int) []Event {
	rng := rand.New(rand.NewSource(seed))
	events := make([]Event, n)
	for i := range events {
		page := uint64(rng.Intn(64))
		off := uint64(rng.Intn(64))
		events[i] = Event{Addr: page<<12 | off<<6, IP: uint64(rng.Intn(1 << 20))}
	}
	return events
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	in := randomTrace(1, 200)

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Append(in...)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: wrote %d events, read %d", len(in), len(out))
	}
}

// TestReplayDeterminism is the round-trip law at the tool level: replaying
// one trace twice yields identical prefetch sequences for both variants.
func TestReplayDeterminism(t *testing.T) {
	events := randomTrace(7, 3000)
	for _, det := range []prefetch.Detector{prefetch.DetectorStream, prefetch.DetectorAMPM} {
		cfg := sim.Config{Detector: det, RecordIssues: true}
		a := Replay(events, cfg)
		b := Replay(events, cfg)
		if !reflect.DeepEqual(a.Issues(), b.Issues()) {
			t.Errorf("detector %v: replays diverged (%d vs %d issues)", det, len(a.Issues()), len(b.Issues()))
		}
		if a.Stats() != b.Stats() {
			t.Errorf("detector %v: stats diverged:\n%+v\n%+v", det, a.Stats(), b.Stats())
		}
	}
}

func TestReadAllRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Append(Event{Addr: 0x1000})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Corrupt the tail.
	f, err := filepath.Glob(path)
	if err != nil || len(f) != 1 {
		t.Fatalf("glob: %v", err)
	}
	if err := appendString(path, "{not json\n"); err != nil {
		t.Fatalf("corrupting: %v", err)
	}
	if _, err := ReadAll(path); err == nil {
		t.Error("ReadAll accepted a corrupt line")
	}
}

func appendString(path, s string) error {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	if _, err := w.f.WriteString(s); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
