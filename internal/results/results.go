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

// Package results publishes per-interval feedback snapshots to external
// stores. The core engine never touches it: a harness collects snapshots
// from the interval observer hook and pushes batches through a Sink. Every
// adapter is idempotent per (run, sequence) so retried batches cannot
// double-report.
package results

import (
	"context"
	"fmt"

	"prefetch"
)

// Record is one published interval snapshot, keyed for idempotency.
type Record struct {
	// Run identifies the simulation run; Seq is the interval ordinal within
	// it. Together they form the idempotency key.
	Run string `json:"run"`
	Seq uint64 `json:"seq"`

	Snapshot prefetch.Snapshot `json:"snapshot"`
}

// Sink is a destination for interval records.
//
// Requirements for implementations:
//   - PublishBatch must be idempotent per (Run, Seq): re-delivery of a batch
//     after a partial failure must not duplicate records.
//   - A nil error means every record is durably accepted.
type Sink interface {
	PublishBatch(ctx context.Context, records []Record) error
}

// MockSink logs records to stdout. It is the default for demos and keeps
// the tool usable without infrastructure.
type MockSink struct{}

func (MockSink) PublishBatch(ctx context.Context, records []Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	for _, r := range records {
		fmt.Printf("[results-mock] run=%s seq=%d level=%d acc=%.4f lat=%.4f pol=%.4f\n",
			r.Run, r.Seq, r.Snapshot.Level, r.Snapshot.Accuracy, r.Snapshot.Lateness, r.Snapshot.Pollution)
	}
	return nil
}

// Options holds the minimal knobs for building sinks from a selector.
type Options struct {
	RedisAddr  string
	KafkaTopic string
}

// Build constructs a Sink from a string selector. Supported adapters:
//   - "mock": stdout logger (default)
//   - "redis": idempotent Redis adapter; uses a logging client unless
//     RedisAddr is set
//   - "kafka": idempotent Kafka adapter using a logging producer (no broker)
//
// The purpose is to let users try the adapters without infrastructure. For
// production, supply real clients and wire the constructors directly.
func Build(adapter string, opts Options) (Sink, error) {
	switch adapter {
	case "", "mock":
		return MockSink{}, nil
	case "redis":
		if opts.RedisAddr != "" {
			return NewRedisSink(NewGoRedisEvaler(opts.RedisAddr)), nil
		}
		return NewRedisSink(LoggingRedisEvaler{}), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "prefetch-intervals"
		}
		return NewKafkaSink(LoggingKafkaProducer{}, topic), nil
	default:
		return nil, fmt.Errorf("unknown results adapter %q", adapter)
	}
}
