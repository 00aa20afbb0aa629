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

// mirror is the prefetch-tracking MSHR mirror: a bounded table of in-flight
// prefetched lines, scoped to prefetches this engine issued into the L2.
// Entries are keyed by cache-line index; at most one valid entry exists per
// line. The late bit records "not yet consumed by a demand access" and is
// cleared by the first consuming demand miss so lateness counts once.
//
// Lookups are bounded linear scans. The table is small and contiguous; the
// scan cost is acceptable on every miss/fill and keeps the issue order of
// slots deterministic.
type mirrorEntry struct {
	valid bool
	late  bool
	cl    uint64
}

type mirror struct {
	entries [mirrorSize]mirrorEntry
}

// find returns the index of the valid entry for cl, or -1.
func (m *mirror) find(cl uint64) int {
	for i := range m.entries {
		if m.entries[i].valid && m.entries[i].cl == cl {
			return i
		}
	}
	return -1
}

// insert records an in-flight prefetch for cl with the late bit set. The
// first invalid slot is taken. If cl is already tracked the insert is a
// no-op, and if the table is full the insert is dropped silently: accounting
// undercounts rather than faulting.
func (m *mirror) insert(cl uint64) {
	if m.find(cl) >= 0 {
		return
	}
	for i := range m.entries {
		if !m.entries[i].valid {
			m.entries[i] = mirrorEntry{valid: true, late: true, cl: cl}
			return
		}
	}
}

// clear invalidates the entry at index and resets its late bit.
func (m *mirror) clear(i int) {
	m.entries[i] = mirrorEntry{}
}
