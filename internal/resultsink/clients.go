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

package resultsink

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// GoRedisEvaler wraps a real github.com/redis/go-redis/v9 client so it
// satisfies RedisEvaler, letting a coordinator point --result-sink at an
// actual Redis instance instead of a test double.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler dials addr (e.g. "127.0.0.1:6379") and returns an evaler
// backed by it. The client is lazily connected; errors surface on first use.
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Close releases the underlying connection pool.
func (g *GoRedisEvaler) Close() error { return g.c.Close() }
