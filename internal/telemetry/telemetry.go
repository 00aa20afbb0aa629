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

// Package telemetry provides opt-in, low-overhead Prometheus instrumentation
// for the prefetcher's feedback loop. It is designed to be safe to hook into
// the event path: when disabled, the observer methods are no-ops behind a
// single atomic load, and the decision engine itself never depends on it.
package telemetry

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prefetch"
)

// Config controls the telemetry module.
//
// MetricsAddr, when non-empty, starts a dedicated HTTP server serving
// /metrics. If you already expose Prometheus elsewhere, leave it empty and
// register promhttp yourself.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090". Empty to disable the standalone endpoint
}

var (
	modEnabled atomic.Bool

	// Prometheus metrics — global only (no unbounded label cardinality).
	accuracyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prefetch_accuracy",
		Help: "Smoothed fraction of issued prefetches consumed by demand accesses",
	})
	latenessGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prefetch_lateness",
		Help: "Smoothed fraction of consumed prefetches that arrived late",
	})
	pollutionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prefetch_pollution",
		Help: "Smoothed fraction of demand misses charged to prefetch-induced evictions",
	})
	levelGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prefetch_aggressiveness_level",
		Help: "Current aggressiveness level (1..5)",
	})
	issuedL2Total = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prefetch_issued_l2_total",
		Help: "Total prefetch hints issued into the L2",
	})
	issuedLLCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prefetch_issued_llc_total",
		Help: "Total prefetch hints issued into the LLC",
	})
	intervalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prefetch_intervals_total",
		Help: "Total measurement intervals closed",
	})
)

func init() {
	// Register eagerly. Harmless when no Prometheus endpoint is exposed.
	prometheus.MustRegister(accuracyGauge, latenessGauge, pollutionGauge,
		levelGauge, issuedL2Total, issuedLLCTotal, intervalsTotal)
}

var (
	serverMu sync.Mutex
	server   *http.Server

	lastSnapshot atomic.Value // stores prefetch.Snapshot
)

// Enable configures the module. Safe to call multiple times; subsequent
// calls replace the enabled flag. Only the first call that starts a /metrics
// server uses its MetricsAddr; later addresses are ignored while that server
// exists.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if !cfg.Enabled || cfg.MetricsAddr == "" {
		return
	}
	serverMu.Lock()
	defer serverMu.Unlock()
	if server != nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() { _ = server.ListenAndServe() }()
}

// Disable turns the module off. Observer methods become no-ops again.
func Disable() {
	modEnabled.Store(false)
}

// LastSnapshot returns the most recent interval snapshot, if any.
func LastSnapshot() (prefetch.Snapshot, bool) {
	v := lastSnapshot.Load()
	if v == nil {
		return prefetch.Snapshot{}, false
	}
	return v.(prefetch.Snapshot), true
}

// observer bridges prefetch.Observer onto the package metrics.
type observer struct{}

// Observer returns the process-wide observer to pass into
// prefetch.Options. It is valid to install it while telemetry is disabled.
func Observer() prefetch.Observer { return observer{} }

func (observer) PrefetchIssued(level prefetch.FillLevel) {
	if !modEnabled.Load() {
		return
	}
	if level == prefetch.FillL2 {
		issuedL2Total.Inc()
	} else {
		issuedLLCTotal.Inc()
	}
}

func (observer) IntervalClosed(s prefetch.Snapshot) {
	if !modEnabled.Load() {
		return
	}
	intervalsTotal.Inc()
	accuracyGauge.Set(s.Accuracy)
	latenessGauge.Set(s.Lateness)
	pollutionGauge.Set(s.Pollution)
	levelGauge.Set(float64(s.Level))
	lastSnapshot.Store(s)
}
