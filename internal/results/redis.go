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
	"fmt"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval) or
// any equivalent.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisSink applies records idempotently using a Lua script:
//  1. SETNX interval:<run>:<seq> 1
//  2. If set -> HSET run:<run>:<seq> with the snapshot fields
//
// If SETNX fails (already applied), the record is skipped without changes.
type RedisSink struct {
	client RedisEvaler
}

// NewRedisSink returns a sink over the given client.
func NewRedisSink(client RedisEvaler) *RedisSink {
	return &RedisSink{client: client}
}

// redisLuaScript performs the idempotent write. Returns 1 if applied, 0 if
// already applied.
const redisLuaScript = `
local markerKey = KEYS[1]
local recordKey = KEYS[2]
-- try to set the idempotency marker
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HSET', recordKey,
    'level', ARGV[1], 'acc', ARGV[2], 'lat', ARGV[3], 'pol', ARGV[4],
    'window', ARGV[5], 'degree', ARGV[6])
  return 1
else
  -- already applied; no-op
  return 0
end
`

// Keys layout helpers (public for interoperability with other components)
func RedisRecordKey(run string, seq uint64) string { return fmt.Sprintf("run:%s:%d", run, seq) }
func RedisMarkerKey(run string, seq uint64) string { return fmt.Sprintf("interval:%s:%d", run, seq) }

// PublishBatch applies records one EVAL at a time. Some clients support
// pipelining; callers can wrap batching externally if needed.
func (r *RedisSink) PublishBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		keys := []string{RedisMarkerKey(rec.Run, rec.Seq), RedisRecordKey(rec.Run, rec.Seq)}
		args := []interface{}{
			rec.Snapshot.Level,
			rec.Snapshot.Accuracy,
			rec.Snapshot.Lateness,
			rec.Snapshot.Pollution,
			rec.Snapshot.StreamWindow,
			rec.Snapshot.PrefetchDegree,
		}
		if _, err := r.client.Eval(ctx, redisLuaScript, keys, args...); err != nil {
			return fmt.Errorf("redis eval run=%s seq=%d: %w", rec.Run, rec.Seq, err)
		}
	}
	return nil
}
