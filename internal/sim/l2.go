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

// Package sim provides a deterministic reference model of an L2 cache that
// hosts the prefetcher. It implements prefetch.Host and drives the full
// access/fill loop, so the decision engine can be exercised end-to-end
// without a cycle-accurate simulator. Timing is event-granular: the cycle
// counter advances a fixed amount per demand access, and queued prefetch
// fills complete at a fixed drain rate ahead of each access.
package sim

import (
	"prefetch"
)

// Config describes the modeled cache and the hosted prefetcher.
type Config struct {
	// Sets and Ways give the L2 geometry. Defaults: prefetch.DefaultSets,
	// prefetch.DefaultWays.
	Sets int
	Ways int

	// Detector selects the prefetcher variant.
	Detector prefetch.Detector

	// Observer is passed through to the prefetcher. May be nil.
	Observer prefetch.Observer

	// Knobs are forwarded to the prefetcher unchanged.
	Knobs prefetch.Knobs

	// DrainPerAccess is how many queued prefetch fills complete before each
	// demand access. Default 2.
	DrainPerAccess int

	// CyclesPerAccess advances the cycle counter per demand access.
	// Default 4.
	CyclesPerAccess int

	// RecordIssues keeps an in-order log of every prefetch hint for replay
	// comparison. Off by default; the log grows with the run.
	RecordIssues bool
}

// Issue is one recorded prefetch hint.
type Issue struct {
	Trigger uint64
	Addr    uint64
	Level   prefetch.FillLevel
}

// Stats counts observable cache events.
type Stats struct {
	Accesses          uint64
	Hits              uint64
	Misses            uint64
	PrefetchIssuedL2  uint64
	PrefetchIssuedLLC uint64
	PrefetchFills     uint64
	DemandFills       uint64
}

type line struct {
	valid   bool
	cl      uint64
	touched uint64 // cycle of last touch, for LRU
}

// L2 is the reference cache. Not safe for concurrent use; like the
// prefetcher it hosts, it is driven one event at a time.
type L2 struct {
	cfg   Config
	cycle uint64
	lines []line   // sets*ways, way-major within a set
	queue []uint64 // in-flight prefetch fill addresses, FIFO

	pf     *prefetch.Prefetcher
	stats  Stats
	issues []Issue
}

// New builds the cache and its hosted prefetcher.
func New(cfg Config) *L2 {
	if cfg.Sets <= 0 {
		cfg.Sets = prefetch.DefaultSets
	}
	if cfg.Ways <= 0 {
		cfg.Ways = prefetch.DefaultWays
	}
	if cfg.DrainPerAccess <= 0 {
		cfg.DrainPerAccess = 2
	}
	if cfg.CyclesPerAccess <= 0 {
		cfg.CyclesPerAccess = 4
	}
	c := &L2{
		cfg:   cfg,
		lines: make([]line, cfg.Sets*cfg.Ways),
	}
	c.pf = prefetch.NewWithOptions(0, c, prefetch.Options{
		Detector: cfg.Detector,
		Sets:     cfg.Sets,
		Ways:     cfg.Ways,
		Knobs:    cfg.Knobs,
		Observer: cfg.Observer,
	})
	return c
}

// Prefetcher exposes the hosted engine for stats snapshots.
func (c *L2) Prefetcher() *prefetch.Prefetcher { return c.pf }

// Stats returns a copy of the event counts.
func (c *L2) Stats() Stats { return c.stats }

// Issues returns the recorded prefetch hints (nil unless RecordIssues).
func (c *L2) Issues() []Issue { return c.issues }

// CurrentCycle implements prefetch.Host.
func (c *L2) CurrentCycle(cpu int) uint64 { return c.cycle }

// L2MSHROccupancy implements prefetch.Host: the in-flight fill queue stands
// in for the MSHR file.
func (c *L2) L2MSHROccupancy(cpu int) int { return len(c.queue) }

// L2ReadQueueOccupancy implements prefetch.Host.
func (c *L2) L2ReadQueueOccupancy(cpu int) int { return 0 }

// L2Set implements prefetch.Host.
func (c *L2) L2Set(addr uint64) int { return int((addr >> 6) % uint64(c.cfg.Sets)) }

// L2Way implements prefetch.Host.
func (c *L2) L2Way(cpu int, addr uint64, set int) int {
	cl := addr >> 6
	base := set * c.cfg.Ways
	for w := 0; w < c.cfg.Ways; w++ {
		if c.lines[base+w].valid && c.lines[base+w].cl == cl {
			return w
		}
	}
	return -1
}

// PrefetchLine implements prefetch.Host. L2-level hints queue a fill;
// LLC-level hints are accepted and dropped, which the best-effort contract
// allows.
func (c *L2) PrefetchLine(cpu int, triggerAddr, pfAddr uint64, level prefetch.FillLevel) {
	if c.cfg.RecordIssues {
		c.issues = append(c.issues, Issue{Trigger: triggerAddr, Addr: pfAddr, Level: level})
	}
	if level == prefetch.FillL2 {
		c.stats.PrefetchIssuedL2++
		c.queue = append(c.queue, pfAddr)
		return
	}
	c.stats.PrefetchIssuedLLC++
}

// Access delivers one demand access, completing queued prefetch fills
// first, then the lookup, then any demand fill.
func (c *L2) Access(addr uint64) bool {
	c.cycle += uint64(c.cfg.CyclesPerAccess)
	for i := 0; i < c.cfg.DrainPerAccess && len(c.queue) > 0; i++ {
		c.completePrefetch()
	}

	c.stats.Accesses++
	set := c.L2Set(addr)
	way := c.L2Way(0, addr, set)
	if way >= 0 {
		c.stats.Hits++
		c.lines[set*c.cfg.Ways+way].touched = c.cycle
		c.pf.OnAccess(addr, 0, true)
		return true
	}

	c.stats.Misses++
	c.pf.OnAccess(addr, 0, false)

	way, evicted := c.install(set, addr>>6)
	c.stats.DemandFills++
	c.pf.OnFill(addr, set, way, false, evicted)
	return false
}

// Drain completes all queued prefetch fills; useful at end of a run.
func (c *L2) Drain() {
	for len(c.queue) > 0 {
		c.completePrefetch()
	}
}

func (c *L2) completePrefetch() {
	pfAddr := c.queue[0]
	c.queue = c.queue[1:]

	set := c.L2Set(pfAddr)
	if c.L2Way(0, pfAddr, set) >= 0 {
		// already resident: the fill is squashed
		return
	}
	way, evicted := c.install(set, pfAddr>>6)
	c.stats.PrefetchFills++
	c.pf.OnFill(pfAddr, set, way, true, evicted)
}

// install places cl in set, evicting the LRU way when the set is full.
// Returns the way used and the evicted address (0 for none).
func (c *L2) install(set int, cl uint64) (way int, evictedAddr uint64) {
	base := set * c.cfg.Ways
	victim := 0
	oldest := ^uint64(0)
	for w := 0; w < c.cfg.Ways; w++ {
		l := &c.lines[base+w]
		if !l.valid {
			*l = line{valid: true, cl: cl, touched: c.cycle}
			return w, 0
		}
		if l.touched < oldest {
			victim = w
			oldest = l.touched
		}
	}
	evictedAddr = c.lines[base+victim].cl << 6
	c.lines[base+victim] = line{valid: true, cl: cl, touched: c.cycle}
	return victim, evictedAddr
}
