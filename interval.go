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

// Interval accounting. Event counts accumulate until tInterval evictions
// close the measurement interval; the counts then fold into exponentially
// smoothed totals from which the feedback metrics derive.

// counters are the per-interval event counts.
type counters struct {
	used         int
	prefetch     int
	late         int
	miss         int
	missPrefetch int
	evict        int
}

// smoothed are the EWMA totals carried across intervals. Values below
// ewmaEps snap to zero so idle phases decay fully.
type smoothed struct {
	used         float64
	prefetch     float64
	late         float64
	miss         float64
	missPrefetch float64
}

// metrics are the derived feedback inputs for one interval.
type metrics struct {
	acc float64 // fraction of issued prefetches consumed by demand
	lat float64 // fraction of consumed prefetches that arrived late
	pol float64 // fraction of demand misses charged to prefetch evictions
}

type intervalState struct {
	counts counters
	totals smoothed
	closed uint64
}

// ewma folds one interval count into a smoothed total.
func ewma(total float64, cnt int) float64 {
	v := ewmaAlpha*total + (1-ewmaAlpha)*float64(cnt)
	if v < ewmaEps {
		return 0
	}
	return v
}

// close ends the interval: smooth the totals, zero the counts, and derive
// the metrics from the post-update totals.
func (s *intervalState) close() metrics {
	s.totals.used = ewma(s.totals.used, s.counts.used)
	s.totals.prefetch = ewma(s.totals.prefetch, s.counts.prefetch)
	s.totals.late = ewma(s.totals.late, s.counts.late)
	s.totals.miss = ewma(s.totals.miss, s.counts.miss)
	s.totals.missPrefetch = ewma(s.totals.missPrefetch, s.counts.missPrefetch)

	s.counts = counters{}
	s.closed++
	return s.derive()
}

// derive computes the metrics from the current smoothed totals. Zero
// divisors yield zero.
func (s *intervalState) derive() metrics {
	var m metrics
	if s.totals.prefetch != 0 {
		m.acc = s.totals.used / s.totals.prefetch
	}
	if s.totals.used != 0 {
		m.lat = s.totals.late / s.totals.used
	}
	if s.totals.miss != 0 {
		m.pol = s.totals.missPrefetch / s.totals.miss
	}
	return m
}
