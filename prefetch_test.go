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

package prefetch

import (
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
)

// TestLateClassification walks a tracked prefetch through a too-late demand
// miss: the miss counts it used and late, clears the late bit, and the
// eventual fill seeds a zero useful bit.
func TestLateClassification(t *testing.T) {
	p, h := streamPrefetcher()

	// Train a stream so a tracked prefetch exists.
	for _, off := range []int{0, 1, 2} {
		p.OnAccess(lineAddr(1, off), 0, false)
	}
	target := lineAddr(1, 2) // issued and tracked by the third access
	mi := p.mirror.find(cacheLine(target))
	if mi == -1 || !p.mirror.entries[mi].late {
		t.Fatalf("setup: target %#x not tracked late", target)
	}

	usedBefore := p.interval.counts.used
	lateBefore := p.interval.counts.late

	// Demand miss on the in-flight line: too late.
	p.OnAccess(target, 0, false)
	if got := p.interval.counts.late - lateBefore; got != 1 {
		t.Errorf("late delta = %d, want 1", got)
	}
	if got := p.interval.counts.used - usedBefore; got != 1 {
		t.Errorf("used delta = %d, want 1", got)
	}
	if p.mirror.entries[mi].late {
		t.Error("late bit survived the consuming miss")
	}

	// A second miss on the same line must not count again.
	lateBefore = p.interval.counts.late
	p.OnAccess(target, 0, false)
	if p.interval.counts.late != lateBefore {
		t.Error("lateness counted twice for one prefetch")
	}

	// The fill closes the mirror entry and seeds useful = late = 0.
	set, way := h.L2Set(target), 0
	p.OnFill(target, set, way, true, 0)
	if p.mirror.find(cacheLine(target)) != -1 {
		t.Error("mirror entry survived the fill")
	}
	if p.useful.test(set, way) {
		t.Error("useful bit set for a late prefetch")
	}
}

// TestTimelyPrefetchCountsUsed covers the happy path: fill before the
// demand access seeds the useful bit, and the first demand hit consumes it.
func TestTimelyPrefetchCountsUsed(t *testing.T) {
	p, h := streamPrefetcher()

	for _, off := range []int{0, 1, 2} {
		p.OnAccess(lineAddr(1, off), 0, false)
	}
	target := lineAddr(1, 2)
	set, way := h.L2Set(target), 3

	p.OnFill(target, set, way, true, 0) // fill arrives first: timely
	if !p.useful.test(set, way) {
		t.Fatal("useful bit not seeded by a timely prefetch fill")
	}

	h.install(target, way)
	used := p.interval.counts.used
	p.OnAccess(target, 0, true)
	if p.interval.counts.used != used+1 {
		t.Errorf("used = %d, want %d", p.interval.counts.used, used+1)
	}
	if p.useful.test(set, way) {
		t.Error("useful bit survived the consuming hit")
	}

	// A second hit with the bit clear touches no counters.
	counts := p.interval.counts
	p.OnAccess(target, 0, true)
	if p.interval.counts != counts {
		t.Errorf("hit on consumed line changed counters: %+v -> %+v", counts, p.interval.counts)
	}
}

// TestPollutionAccounting marks the victim of a prefetch install and charges
// a later demand miss in the same bucket.
func TestPollutionAccounting(t *testing.T) {
	p, h := streamPrefetcher()

	evicted := lineAddr(40, 7)
	filled := lineAddr(41, 0)
	p.OnFill(filled, h.L2Set(filled), 0, true, evicted)
	if !p.pollution.test(pollutionHash(cacheLine(evicted))) {
		t.Fatal("pollution bit not set by prefetch eviction")
	}

	// Any miss whose line collides with the victim's bucket is charged.
	missAddr := evicted
	before := p.interval.counts.missPrefetch
	p.OnAccess(missAddr, 0, false)
	if p.interval.counts.missPrefetch != before+1 {
		t.Errorf("missPrefetch = %d, want %d", p.interval.counts.missPrefetch, before+1)
	}

	// A demand install in the bucket clears the charge.
	p.OnFill(missAddr, h.L2Set(missAddr), 1, false, 0)
	if p.pollution.test(pollutionHash(cacheLine(missAddr))) {
		t.Error("pollution bit survived a demand install")
	}
}

// TestIntervalReset drives a full measurement interval and checks all
// counters restart from zero.
func TestIntervalReset(t *testing.T) {
	p, h := streamPrefetcher()

	addr := lineAddr(60, 0)
	set := h.L2Set(addr)
	for i := 0; i < tInterval; i++ {
		p.OnFill(addr, set, 0, false, lineAddr(61, 0))
	}
	if p.interval.closed != 1 {
		t.Fatalf("closed = %d intervals, want 1", p.interval.closed)
	}
	if p.interval.counts != (counters{}) {
		t.Errorf("counters after interval = %+v, want zero", p.interval.counts)
	}
}

// TestMirrorUniqueness checks at most one valid mirror entry exists per
// line, even when the same line is inserted twice.
func TestMirrorUniqueness(t *testing.T) {
	p, _ := streamPrefetcher()

	cl := cacheLine(lineAddr(1, 5))
	p.mirror.insert(cl)
	p.mirror.insert(cl)
	n := 0
	for i := range p.mirror.entries {
		if p.mirror.entries[i].valid && p.mirror.entries[i].cl == cl {
			n++
		}
	}
	if n != 1 {
		t.Errorf("valid entries for one line = %d, want 1", n)
	}
}

// TestDeterministicReplay is the round-trip law: an identical event log fed
// to a fresh prefetcher yields a byte-identical prefetch sequence.
func TestDeterministicReplay(t *testing.T) {
	run := func(seed int64, detector Detector) []issuedPrefetch {
		h := newTestHost()
		p := NewWithOptions(0, h, Options{Detector: detector})
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < 4096; i++ {
			page := uint64(rng.Intn(128))
			off := rng.Intn(linesPerPage)
			addr := lineAddr(page, off)
			h.mshrOcc = rng.Intn(16)
			if rng.Intn(4) == 0 {
				p.OnFill(addr, h.L2Set(addr), rng.Intn(DefaultWays), rng.Intn(2) == 0, lineAddr(uint64(rng.Intn(128)), rng.Intn(linesPerPage)))
			} else {
				p.OnAccess(addr, 0, false)
			}
		}
		return h.issues
	}

	property := func(seed int64) bool {
		return reflect.DeepEqual(run(seed, DetectorStream), run(seed, DetectorStream)) &&
			reflect.DeepEqual(run(seed, DetectorAMPM), run(seed, DetectorAMPM))
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 8}); err != nil {
		t.Error(err)
	}
}

// TestStatsHooksAreInert verifies the stats hooks observe without mutating.
func TestStatsHooksAreInert(t *testing.T) {
	p, _ := streamPrefetcher()
	for _, off := range []int{0, 1, 2, 3} {
		p.OnAccess(lineAddr(1, off), 0, false)
	}
	before := *p
	s1 := p.HeartbeatStats()
	s2 := p.WarmupStats()
	s3 := p.FinalStats()
	if s1 != s2 || s2 != s3 {
		t.Errorf("stats hooks disagree: %+v %+v %+v", s1, s2, s3)
	}
	if p.interval.counts != before.interval.counts || p.ctrl != before.ctrl {
		t.Error("stats hooks mutated prefetcher state")
	}
	if s1.Level != 3 || s1.PrefetchDegree != 2 || s1.StreamWindow != 16 {
		t.Errorf("initial snapshot = %+v, want level 3 window 16 degree 2", s1)
	}
}
