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

package results

import (
	"context"
	"encoding/json"
	"fmt"
)

// KafkaProducer is a minimal abstraction over a Kafka client.
// Implementations should enable idempotent production.
//
// Requirements:
//   - Idempotent producer ON (enable.idempotence=true)
//   - Use the record key so broker dedup + per-run ordering are preserved
//   - Acks=all is recommended
//
// Note: We intentionally avoid importing a specific Kafka library.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaSink publishes records as Kafka messages. Idempotency comes from the
// broker deduplicating producer retries and consumers tracking the last
// applied (run, seq) per run.
type KafkaSink struct {
	producer KafkaProducer
	topic    string
}

// NewKafkaSink returns a sink producing to the given topic.
func NewKafkaSink(producer KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// PublishBatch produces one message per record, keyed run:seq.
func (k *KafkaSink) PublishBatch(ctx context.Context, records []Record) error {
	for _, rec := range records {
		value, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal run=%s seq=%d: %w", rec.Run, rec.Seq, err)
		}
		key := []byte(fmt.Sprintf("%s:%d", rec.Run, rec.Seq))
		if err := k.producer.Produce(ctx, k.topic, key, value, nil); err != nil {
			return fmt.Errorf("produce run=%s seq=%d: %w", rec.Run, rec.Seq, err)
		}
	}
	return nil
}

// LoggingKafkaProducer is a tiny demo producer that logs the produced
// message. It enables selecting the Kafka adapter without a real broker.
// Not for production use.
type LoggingKafkaProducer struct{}

func (LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fmt.Printf("[kafka-demo] TOPIC=%s KEY=%s VALUE=%s\n", topic, string(key), truncate(string(value), 256))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
