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

// Stream detector. Each entry watches one 4 KiB page for a monotonic
// access direction. Confidence builds on every in-window step that agrees
// with the recorded direction and resets on a reversal; once it reaches
// confidenceGate, the frontier index walks ahead of the stream issuing
// prefetches.
type streamDetector struct {
	page       uint64
	direction  int8 // -1, 0, +1
	confidence uint8
	pfIndex    int8 // frontier line within the page, in [-1, 63]
}

// streamTable holds the detectors with FIFO replacement via a rolling index.
type streamTable struct {
	slots       [pageTableSize]streamDetector
	replacement int
}

func (t *streamTable) reset() {
	for i := range t.slots {
		t.slots[i] = streamDetector{pfIndex: -1}
	}
	t.replacement = 0
}

// lookup returns the detector index watching page, or -1.
func (t *streamTable) lookup(page uint64) int {
	for i := range t.slots {
		if t.slots[i].page == page {
			return i
		}
	}
	return -1
}

// allocate evicts the oldest slot for a new page. The frontier starts at
// the triggering access so the first trained step measures a true delta.
func (t *streamTable) allocate(page uint64, off int) int {
	i := t.replacement
	t.replacement++
	if t.replacement >= pageTableSize {
		t.replacement = 0
	}
	t.slots[i] = streamDetector{page: page, pfIndex: int8(off)}
	return i
}

// streamOperate trains the detector for the accessed page and, when
// confident, issues up to prefetchDegree prefetches along the stream.
func (p *Prefetcher) streamOperate(addr, cl uint64) {
	page := pageOf(cl)
	off := offsetOf(cl)

	i := p.stream.lookup(page)
	if i < 0 {
		i = p.stream.allocate(page, off)
	}
	d := &p.stream.slots[i]

	// Train. Steps outside the window, and repeats of the frontier line,
	// leave the detector untouched.
	delta := off - int(d.pfIndex)
	window := p.ctrl.streamWindow
	switch {
	case delta > 0 && delta < window:
		if d.direction == -1 {
			d.confidence = 0
		} else {
			d.confidence++
		}
		d.direction = 1
	case delta < 0 && -delta < window:
		if d.direction == 1 {
			d.confidence = 0
		} else {
			d.confidence++
		}
		d.direction = -1
	}

	if d.confidence < confidenceGate {
		return
	}

	for k := 0; k < p.ctrl.prefetchDegree; k++ {
		next := int(d.pfIndex) + int(d.direction)
		if next < 0 || next >= linesPerPage {
			// off the edge of the page; the frontier stays in range
			break
		}
		d.pfIndex = int8(next)

		pfAddr := lineAddr(page, next)
		if p.host.L2MSHROccupancy(p.cpu) > 8 {
			// MSHRs are scarce: fall back to the LLC and skip tracking
			p.issue(addr, pfAddr, FillLLC)
			continue
		}
		p.issue(addr, pfAddr, FillL2)
		// Track only lines not already resident, so fills can be classified.
		set := p.host.L2Set(pfAddr)
		if p.host.L2Way(p.cpu, pfAddr, set) < 0 {
			p.mirror.insert(cacheLine(pfAddr))
		}
	}
}
