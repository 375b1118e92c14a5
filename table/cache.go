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

package table

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/eventflux-io/eventflux/value"
)

// Cached wraps another Table with a TTL-expiring front cache (the
// `@store(type='cache', ...)` table variant); the cache has no size
// bound. Key lookups are served from the cache when present and fall
// through to the backing Table on a miss without populating the cache.
// Writes go to the backing Table and then to the cache; Find always
// scans the backing Table.
type Cached struct {
	backing Table
	front   *gocache.Cache
	pkIndex []int
}

// NewCached wraps backing with a go-cache front cache: entries expire
// after ttl and are swept every cleanupInterval.
func NewCached(backing Table, pkIndexes []int, ttl, cleanupInterval time.Duration) *Cached {
	return &Cached{
		backing: backing,
		front:   gocache.New(ttl, cleanupInterval),
		pkIndex: pkIndexes,
	}
}

func (c *Cached) Insert(row Row) error {
	if err := c.backing.Insert(row); err != nil {
		return err
	}
	c.front.SetDefault(Key(row, c.pkIndex), row)
	return nil
}

func (c *Cached) Contains(key value.Value) bool {
	return c.ContainsComposite(key.String())
}

func (c *Cached) ContainsComposite(key string) bool {
	if _, ok := c.front.Get(key); ok {
		return true
	}
	return c.backing.ContainsComposite(key)
}

func (c *Cached) Update(key string, row Row) error {
	if err := c.backing.Update(key, row); err != nil {
		return err
	}
	c.front.SetDefault(key, row)
	return nil
}

func (c *Cached) Delete(key string) error {
	c.front.Delete(key)
	return c.backing.Delete(key)
}

func (c *Cached) Find(pred func(Row) bool) []Row {
	return c.backing.Find(pred)
}
