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

// issuedPrefetch is one captured PrefetchLine call.
type issuedPrefetch struct {
	trigger uint64
	addr    uint64
	level   FillLevel
}

// testHost is a scripted Host for unit tests. Cycle advances on every
// query; MSHR and read-queue occupancy are fixed unless a test sets them;
// residency is an explicit cl->way table.
type testHost struct {
	cycle   uint64
	mshrOcc int
	rqOcc   int
	sets    int
	present map[uint64]int // cache line -> way
	issues  []issuedPrefetch
}

func newTestHost() *testHost {
	return &testHost{sets: DefaultSets, present: map[uint64]int{}}
}

func (h *testHost) CurrentCycle(cpu int) uint64 {
	h.cycle++
	return h.cycle
}

func (h *testHost) L2MSHROccupancy(cpu int) int { return h.mshrOcc }

func (h *testHost) L2ReadQueueOccupancy(cpu int) int { return h.rqOcc }

func (h *testHost) L2Set(addr uint64) int { return int((addr >> 6) % uint64(h.sets)) }

func (h *testHost) L2Way(cpu int, addr uint64, set int) int {
	if w, ok := h.present[addr>>6]; ok {
		return w
	}
	return -1
}

func (h *testHost) PrefetchLine(cpu int, triggerAddr, pfAddr uint64, level FillLevel) {
	h.issues = append(h.issues, issuedPrefetch{trigger: triggerAddr, addr: pfAddr, level: level})
}

// install marks a line resident at the given way.
func (h *testHost) install(addr uint64, way int) { h.present[addr>>6] = way }

// issuedAddrs flattens the issue log to prefetch addresses.
func (h *testHost) issuedAddrs() []uint64 {
	out := make([]uint64, len(h.issues))
	for i, is := range h.issues {
		out[i] = is.addr
	}
	return out
}
