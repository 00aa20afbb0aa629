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

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"prefetch"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestObserverGating(t *testing.T) {
	Disable()
	obs := Observer()

	obs.IntervalClosed(prefetch.Snapshot{Accuracy: 0.5, Level: 4})
	if _, ok := LastSnapshot(); ok {
		t.Fatal("disabled observer recorded a snapshot")
	}

	Enable(Config{Enabled: true})
	defer Disable()
	obs.IntervalClosed(prefetch.Snapshot{Accuracy: 0.5, Lateness: 0.1, Pollution: 0.01, Level: 4})

	s, ok := LastSnapshot()
	if !ok {
		t.Fatal("enabled observer recorded nothing")
	}
	if s.Level != 4 || s.Accuracy != 0.5 {
		t.Errorf("snapshot = %+v, want level 4 accuracy 0.5", s)
	}
	if got := gaugeValue(t, levelGauge); got != 4 {
		t.Errorf("level gauge = %v, want 4", got)
	}
	if got := gaugeValue(t, accuracyGauge); got != 0.5 {
		t.Errorf("accuracy gauge = %v, want 0.5", got)
	}
}
