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

// Package resultsink provides optional idempotent persistence of a Node's
// final RESULTS message. A run is keyed by (RunID, NodeID): a retried
// CollectResults (e.g. after a Coordinator restart mid-collection) must not
// double-count a node's contribution.
package resultsink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"iopulse/stats"
)

// Record is the adapter-facing shape for one node's stored result.
type Record struct {
	RunID     string
	NodeID    string
	Final     stats.NodeSnapshot
	PerWorker []stats.WorkerSnapshot
}

// Sink is the minimal API every adapter supports. StoreResult must be safe to
// retry: applying the same (RunID, NodeID) twice is a no-op.
type Sink interface {
	StoreResult(ctx context.Context, rec Record) error
}

// RedisEvaler abstracts the minimal surface needed from a Redis client.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisSink applies results idempotently with a Lua script:
//  1. SETNX marker:<run_id>:<node_id> 1
//  2. If set -> SET result:<run_id>:<node_id> <payload>
//  3. EXPIRE both keys for leak protection
//
// If SETNX fails (already applied), the script returns 0 and makes no changes.
type RedisSink struct {
	client    RedisEvaler
	markerTTL time.Duration
}

// NewRedisSink returns a sink with the given client and marker TTL. markerTTL
// guards against unbounded growth of stored results; choose a duration
// comfortably larger than the longest expected collection retry window.
func NewRedisSink(client RedisEvaler, markerTTL time.Duration) *RedisSink {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisSink{client: client, markerTTL: markerTTL}
}

const redisResultLuaScript = `
local markerKey = KEYS[1]
local resultKey = KEYS[2]
local payload = ARGV[1]
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('SET', resultKey, payload)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
    redis.call('EXPIRE', resultKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

// RedisMarkerKey returns the idempotency-marker key for a run/node pair.
func RedisMarkerKey(runID, nodeID string) string { return fmt.Sprintf("marker:%s:%s", runID, nodeID) }

// RedisResultKey returns the stored-payload key for a run/node pair.
func RedisResultKey(runID, nodeID string) string { return fmt.Sprintf("result:%s:%s", runID, nodeID) }

func (s *RedisSink) StoreResult(ctx context.Context, rec Record) error {
	if rec.RunID == "" || rec.NodeID == "" {
		return errors.New("resultsink: RunID and NodeID must be set")
	}
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resultsink: marshal record: %w", err)
	}
	keys := []string{RedisMarkerKey(rec.RunID, rec.NodeID), RedisResultKey(rec.RunID, rec.NodeID)}
	args := []interface{}{payload, int(s.markerTTL.Seconds())}
	if _, err := s.client.Eval(ctx, redisResultLuaScript, keys, args...); err != nil {
		return fmt.Errorf("resultsink: redis eval run=%s node=%s: %w", rec.RunID, rec.NodeID, err)
	}
	return nil
}

// KafkaProducer is a minimal abstraction over a Kafka client, deliberately
// without importing a concrete broker client: no consumer of this package
// needs one wired, so none is. Implementations should enable the idempotent
// producer (enable.idempotence=true) and use NodeID as the partition key so
// a given node's results retain order.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaSink publishes results as an append-only audit log; it does not
// deduplicate locally. Idempotency is the consumer's responsibility, tracking
// the last-applied (RunID, NodeID) pair, the same division of labor the
// teacher's own Kafka adapter draws for rate-limiter commits.
type KafkaSink struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaSink returns a sink publishing to the given topic.
func NewKafkaSink(p KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

func (k *KafkaSink) StoreResult(ctx context.Context, rec Record) error {
	if rec.RunID == "" || rec.NodeID == "" {
		return errors.New("resultsink: RunID and NodeID must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resultsink: marshal record: %w", err)
	}
	headers := map[string]string{"content-type": "application/msgpack"}
	if err := k.producer.Produce(ctx, k.topic, []byte(rec.NodeID), payload, headers); err != nil {
		return fmt.Errorf("resultsink: kafka produce run=%s node=%s: %w", rec.RunID, rec.NodeID, err)
	}
	return nil
}
