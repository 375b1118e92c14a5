/*
 * Copyright 2025 The EventFlux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis"

	"github.com/eventflux-io/eventflux/ferror"
)

// RedisStore persists revisions as individual Redis keys of the form
// <prefix>:<appID>:<revision>.
type RedisStore struct {
	client       *redis.Client
	prefix       string
	maxRevisions int
}

// RedisConfig carries the connection and namespacing settings for a
// RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "eventflux:snapshot".
	Prefix string
	// MaxRevisions bounds retained revisions per app; 0 keeps everything.
	MaxRevisions int
}

// NewRedisStore connects to Redis and verifies the connection with a
// ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "eventflux:snapshot"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, &ferror.StoreError{Store: "redis", Key: cfg.Addr, Cause: err}
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, maxRevisions: cfg.MaxRevisions}, nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(appID, revision string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, appID, revision)
}

func (r *RedisStore) pattern(appID string) string {
	return fmt.Sprintf("%s:%s:*", r.prefix, appID)
}

func (r *RedisStore) revisions(appID string) ([]string, error) {
	keys, err := r.client.Keys(r.pattern(appID)).Result()
	if err != nil {
		return nil, &ferror.StoreError{Store: "redis", Key: appID, Cause: err}
	}
	cut := len(fmt.Sprintf("%s:%s:", r.prefix, appID))
	revs := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) > cut {
			revs = append(revs, k[cut:])
		}
	}
	sort.Strings(revs)
	return revs, nil
}

func (r *RedisStore) Save(appID, revision string, data []byte) error {
	if strings.ContainsAny(appID+revision, ":*") {
		return &ferror.StoreError{Store: "redis", Key: appID + "/" + revision, Cause: fmt.Errorf("app id and revision must not contain ':' or '*'")}
	}
	if err := r.client.Set(r.key(appID, revision), data, 0).Err(); err != nil {
		return &ferror.StoreError{Store: "redis", Key: r.key(appID, revision), Cause: err}
	}
	if r.maxRevisions > 0 {
		revs, err := r.revisions(appID)
		if err != nil {
			return err
		}
		for len(revs) > r.maxRevisions {
			if err := r.client.Del(r.key(appID, revs[0])).Err(); err != nil {
				return &ferror.StoreError{Store: "redis", Key: r.key(appID, revs[0]), Cause: err}
			}
			revs = revs[1:]
		}
	}
	return nil
}

func (r *RedisStore) Load(appID, revision string) ([]byte, error) {
	data, err := r.client.Get(r.key(appID, revision)).Bytes()
	if err == redis.Nil {
		return nil, &ferror.StoreError{Store: "redis", Key: r.key(appID, revision), Cause: fmt.Errorf("revision not found")}
	}
	if err != nil {
		return nil, &ferror.StoreError{Store: "redis", Key: r.key(appID, revision), Cause: err}
	}
	return data, nil
}

func (r *RedisStore) LastRevision(appID string) (string, error) {
	revs, err := r.revisions(appID)
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", nil
	}
	return revs[len(revs)-1], nil
}

func (r *RedisStore) ClearAllRevisions(appID string) error {
	revs, err := r.revisions(appID)
	if err != nil {
		return err
	}
	for _, rev := range revs {
		if err := r.client.Del(r.key(appID, rev)).Err(); err != nil {
			return &ferror.StoreError{Store: "redis", Key: r.key(appID, rev), Cause: err}
		}
	}
	return nil
}
