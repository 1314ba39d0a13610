/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "reportsync:"

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	// Addrs lists Redis server addresses. More than one creates a cluster client.
	Addrs    []string
	Password string
	DB       int
	// KeyPrefix is prepended to the state hash key. Default: "reportsync:".
	KeyPrefix   string
	DialTimeout time.Duration
}

// RedisStore keeps states as JSON values in a single Redis hash.
type RedisStore struct {
	client     goredis.UniversalClient
	key        string
	log        *zap.SugaredLogger
	now        func() time.Time
	ownsClient bool
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log *zap.SugaredLogger) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: at least one address is required")
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix, log)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Close leaves the client open.
func NewRedisStoreFromClient(client goredis.UniversalClient, prefix string, log *zap.SugaredLogger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisStore{client: client, key: prefix + "state", log: log, now: time.Now}
}

func (s *RedisStore) decode(report, raw string) (State, bool) {
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.log.Warnw("sync state unreadable, treating report as first run",
			"report", report, "error", fmt.Errorf("%w: %v", ErrCorrupt, err))
		return State{}, false
	}
	return st, true
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, report string) (State, error) {
	raw, err := s.client.HGet(ctx, s.key, report).Result()
	if errors.Is(err, goredis.Nil) {
		return Default(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("redis: get state %s: %w", report, err)
	}
	if st, ok := s.decode(report, raw); ok {
		return st, nil
	}
	return Default(), nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, report string, st State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, report, data).Err(); err != nil {
		return fmt.Errorf("redis: set state %s: %w", report, err)
	}
	return nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, report string) error {
	return s.Set(ctx, report, Default())
}

// All implements Store.
func (s *RedisStore) All(ctx context.Context) (map[string]State, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list states: %w", err)
	}
	states := make(map[string]State, len(raw))
	for report, v := range raw {
		if st, ok := s.decode(report, v); ok {
			states[report] = st
		}
	}
	return states, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}
