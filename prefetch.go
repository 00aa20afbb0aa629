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

// Package prefetch implements a feedback-directed L2 data-cache prefetcher.
// It observes the L2 access stream of one CPU, predicts which cache lines
// will be referenced next, and issues prefetch hints into the L2 or the LLC.
// At fixed measurement intervals it classifies its own prefetches as used,
// late, or polluting and re-tunes its aggressiveness from those metrics.
//
// Two detector variants are provided: a monotonic-stride stream detector and
// an access-map pattern matcher (AMPM). Exactly one is active per instance;
// both share the tracking tables and the aggressiveness controller.
//
// The prefetcher is a passive, single-threaded object driven by a host
// simulator through OnAccess and OnFill. All state lives in fixed-size
// tables allocated at construction; no allocation happens on the event path,
// and the sequence of issued prefetches is a deterministic function of the
// delivered event stream (including the host's cycle and MSHR-occupancy
// observations).
package prefetch

// FillLevel selects the cache level a prefetch hint targets.
type FillLevel int

const (
	// FillL2 requests the line be installed in the L2.
	FillL2 FillLevel = iota
	// FillLLC requests the line be installed in the last-level cache only.
	FillLLC
)

// Detector selects the active pattern-detector variant.
type Detector int

const (
	// DetectorStream is the monotonic-stride stream detector.
	DetectorStream Detector = iota
	// DetectorAMPM is the access-map pattern matcher.
	DetectorAMPM
)

// Host is the query/action surface the simulator provides to the prefetcher.
// All methods must be cheap, non-blocking, and deterministic with respect to
// the delivered event stream. PrefetchLine is best-effort: the host may
// silently ignore it.
type Host interface {
	// CurrentCycle returns the monotonic cycle counter for the given CPU.
	CurrentCycle(cpu int) uint64
	// L2MSHROccupancy returns the number of occupied L2 MSHR entries.
	L2MSHROccupancy(cpu int) int
	// L2ReadQueueOccupancy returns the L2 read queue occupancy. The decision
	// engine does not consult it; it is surfaced for parity with the host.
	L2ReadQueueOccupancy(cpu int) int
	// L2Set maps an address to its L2 set index.
	L2Set(addr uint64) int
	// L2Way returns the way holding addr within set, or -1 if absent.
	L2Way(cpu int, addr uint64, set int) int
	// PrefetchLine issues a prefetch hint for pfAddr on behalf of the demand
	// access at triggerAddr.
	PrefetchLine(cpu int, triggerAddr, pfAddr uint64, level FillLevel)
}

// Knobs are the read-only configuration booleans the simulator exposes.
// The prefetcher records them at init; they do not alter its decisions.
type Knobs struct {
	ScrambleLoads bool
	SmallLLC      bool
	LowBandwidth  bool
}

// Observer receives side-channel notifications for telemetry. All methods
// are called synchronously on the event path and must not mutate prefetcher
// state. A nil observer disables the hook entirely.
type Observer interface {
	// PrefetchIssued fires once per issued prefetch hint.
	PrefetchIssued(level FillLevel)
	// IntervalClosed fires after each measurement interval with the
	// post-update snapshot.
	IntervalClosed(s Snapshot)
}

// Build-time table geometry and feedback thresholds.
const (
	// DefaultSets and DefaultWays mirror the reference L2 geometry.
	DefaultSets = 256
	DefaultWays = 8

	tInterval      = 512  // evictions per measurement interval
	mirrorSize     = 2048 // prefetch-tracking MSHR mirror entries
	pageTableSize  = 64   // detector entries (both variants)
	pollutionSize  = 4096 // pollution filter buckets
	linesPerPage   = 64   // cache lines per 4 KiB page
	maxScanStride  = 16   // AMPM stride search bound
	confidenceGate = 2    // stream prefetching begins at this confidence

	aHigh = 0.75
	aLow  = 0.40
	tLat  = 0.01
	tPol  = 0.005

	ewmaAlpha = 0.5
	ewmaEps   = 1e-3
)

// Options configures a Prefetcher.
type Options struct {
	// Detector selects the active variant. Default DetectorStream.
	Detector Detector

	// Sets and Ways describe the host L2 geometry for the useful-bit store
	// and the range assertions. Defaults: DefaultSets, DefaultWays.
	Sets int
	Ways int

	// Knobs are the simulator's read-only configuration booleans.
	Knobs Knobs

	// Observer receives telemetry notifications. May be nil.
	Observer Observer
}

// Prefetcher owns all prefetcher state for one CPU. Construct with New or
// NewWithOptions; drive with OnAccess and OnFill. Not safe for concurrent
// use: the host delivers events one at a time.
type Prefetcher struct {
	cpu  int
	host Host
	opts Options

	sets int
	ways int

	mirror    mirror
	useful    usefulBits
	pollution pollutionFilter
	interval  intervalState
	ctrl      controller

	stream streamTable
	ampm   ampmTable
}

// New creates a prefetcher for the given CPU with default options.
func New(cpu int, host Host) *Prefetcher {
	return NewWithOptions(cpu, host, Options{})
}

// NewWithOptions creates a prefetcher with explicit options. All tables are
// allocated here, zero-initialized, and reused in place for the lifetime of
// the instance.
func NewWithOptions(cpu int, host Host, opts Options) *Prefetcher {
	if host == nil {
		panic("prefetch: nil host")
	}
	if opts.Sets <= 0 {
		opts.Sets = DefaultSets
	}
	if opts.Ways <= 0 {
		opts.Ways = DefaultWays
	}
	p := &Prefetcher{
		cpu:    cpu,
		host:   host,
		opts:   opts,
		sets:   opts.Sets,
		ways:   opts.Ways,
		useful: newUsefulBits(opts.Sets, opts.Ways),
	}
	p.ctrl.reset()
	p.stream.reset()
	return p
}

// OnAccess processes one demand access to the L2. hit reports whether the
// line was present. The instruction pointer is accepted for host parity;
// neither detector variant correlates on it.
func (p *Prefetcher) OnAccess(addr, ip uint64, hit bool) {
	cl := cacheLine(addr)

	if hit {
		set := p.host.L2Set(addr)
		if set < 0 || set >= p.sets {
			panic("prefetch: set out of range on demand hit")
		}
		way := p.host.L2Way(p.cpu, addr, set)
		if way < 0 || way >= p.ways {
			panic("prefetch: invalid way on demand hit")
		}
		// First demand touch of a timely prefetched line counts it used.
		if p.useful.test(set, way) {
			p.interval.counts.used++
			p.useful.clear(set, way)
		}
	} else {
		p.interval.counts.miss++

		// A still-tracked prefetch hit by a demand miss arrived too late.
		if i := p.mirror.find(cl); i >= 0 && p.mirror.entries[i].late {
			p.interval.counts.late++
			p.interval.counts.used++
			p.mirror.entries[i].late = false
		}

		if p.pollution.test(pollutionHash(cl)) {
			p.interval.counts.missPrefetch++
		}
	}

	switch p.opts.Detector {
	case DetectorAMPM:
		p.ampmOperate(addr, cl)
	default:
		p.streamOperate(addr, cl)
	}
}

// OnFill processes the completion of a fill into the L2 at (set, way).
// wasPrefetch marks fills that satisfy a prefetch rather than a demand miss;
// evictedAddr is the address displaced by the fill, or 0 for none.
func (p *Prefetcher) OnFill(addr uint64, set, way int, wasPrefetch bool, evictedAddr uint64) {
	if set < 0 || set >= p.sets {
		panic("prefetch: set out of range on fill")
	}
	if way < 0 || way >= p.ways {
		panic("prefetch: way out of range on fill")
	}

	if evictedAddr != 0 {
		p.interval.counts.evict++
	}

	cl := cacheLine(addr)

	// Close out the mirror entry, seeding the useful bit from the late bit:
	// a fill that arrives with late still set was never consumed early, so
	// the line sits in the cache awaiting its first demand touch.
	if i := p.mirror.find(cl); i >= 0 {
		p.useful.assign(set, way, p.mirror.entries[i].late)
		p.mirror.clear(i)
	}

	if wasPrefetch {
		p.interval.counts.prefetch++
		if evictedAddr != 0 {
			p.pollution.set(pollutionHash(cacheLine(evictedAddr)))
		}
	} else {
		p.useful.clear(set, way)
		if evictedAddr != 0 {
			p.pollution.clear(pollutionHash(cacheLine(evictedAddr)))
		}
	}

	// The filled line is present again; it can no longer be a pollution victim.
	p.pollution.clear(pollutionHash(cl))

	if p.interval.counts.evict == tInterval {
		p.closeInterval()
	}
}

// closeInterval folds the interval counters into the smoothed totals,
// derives the feedback metrics, and lets the controller re-tune the knobs.
func (p *Prefetcher) closeInterval() {
	m := p.interval.close()
	p.ctrl.update(m)
	if p.opts.Observer != nil {
		p.opts.Observer.IntervalClosed(p.snapshot(m))
	}
}

// issue sends one prefetch hint through the host and notifies the observer.
func (p *Prefetcher) issue(triggerAddr, pfAddr uint64, level FillLevel) {
	p.host.PrefetchLine(p.cpu, triggerAddr, pfAddr, level)
	if p.opts.Observer != nil {
		p.opts.Observer.PrefetchIssued(level)
	}
}

// Snapshot is a point-in-time view of the feedback state. Stats hooks and
// interval notifications expose it; reading it has no semantic effect.
type Snapshot struct {
	Intervals      uint64
	Level          int
	StreamWindow   int
	PrefetchDegree int

	UsedTotal         float64
	PrefetchTotal     float64
	LateTotal         float64
	MissTotal         float64
	MissPrefetchTotal float64

	Accuracy  float64
	Lateness  float64
	Pollution float64
}

func (p *Prefetcher) snapshot(m metrics) Snapshot {
	return Snapshot{
		Intervals:         p.interval.closed,
		Level:             p.ctrl.level,
		StreamWindow:      p.ctrl.streamWindow,
		PrefetchDegree:    p.ctrl.prefetchDegree,
		UsedTotal:         p.interval.totals.used,
		PrefetchTotal:     p.interval.totals.prefetch,
		LateTotal:         p.interval.totals.late,
		MissTotal:         p.interval.totals.miss,
		MissPrefetchTotal: p.interval.totals.missPrefetch,
		Accuracy:          m.acc,
		Lateness:          m.lat,
		Pollution:         m.pol,
	}
}

// HeartbeatStats returns the current feedback snapshot. No semantic effect.
func (p *Prefetcher) HeartbeatStats() Snapshot { return p.snapshot(p.interval.derive()) }

// WarmupStats returns the feedback snapshot at warmup completion. No
// semantic effect.
func (p *Prefetcher) WarmupStats() Snapshot { return p.snapshot(p.interval.derive()) }

// FinalStats returns the final feedback snapshot. No semantic effect.
func (p *Prefetcher) FinalStats() Snapshot { return p.snapshot(p.interval.derive()) }

// Level returns the current aggressiveness level in [1,5].
func (p *Prefetcher) Level() int { return p.ctrl.level }

// Degree returns the current prefetch degree.
func (p *Prefetcher) Degree() int { return p.ctrl.prefetchDegree }

// Window returns the current stream training window in lines.
func (p *Prefetcher) Window() int { return p.ctrl.streamWindow }
