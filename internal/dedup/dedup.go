// Copyright (c) 2026 John Earle
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

// Package dedup guards inbound messages against concurrent duplicate
// delivery. A claim on a message id is held while the message is being
// processed; the store's message_id lookup remains the durable check.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a claim survives a crashed worker.
	DefaultTTL = 5 * time.Minute

	keyPrefix = "leadrelay:inbound:"
)

// Guard tracks in-flight message ids in Redis.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a guard backed by Redis. A non-positive ttl means
// DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// Claim returns true if no other worker holds messageID. The claim is set
// atomically (SETNX).
func (g *Guard) Claim(ctx context.Context, messageID string) (bool, error) {
	set, err := g.rdb.SetNX(ctx, keyPrefix+messageID, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release drops the claim so a redelivery can be processed.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	if err := g.rdb.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (g *Guard) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.rdb.Ping(ctx).Err()
}

// Local is an in-process guard for single-instance runs and tests.
type Local struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
}

// NewLocal creates an in-process guard.
func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{claims: make(map[string]time.Time), ttl: ttl}
}

func (l *Local) Claim(_ context.Context, messageID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.claims[messageID]; ok && now.Before(exp) {
		return false, nil
	}
	l.claims[messageID] = now.Add(l.ttl)
	return true, nil
}

func (l *Local) Release(_ context.Context, messageID string) error {
	l.mu.Lock()
	delete(l.claims, messageID)
	l.mu.Unlock()
	return nil
}

func (l *Local) Ping(context.Context) error { return nil }
