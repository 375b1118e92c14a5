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
	"sync"
)

// Registry tracks every StateHolder participating in snapshots, keyed by
// component id, preserving registration order so Persist output is
// deterministic for a given set of holders.
type Registry struct {
	mu      sync.RWMutex
	holders map[string]StateHolder
	order   []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{holders: make(map[string]StateHolder)}
}

// Register adds h under its ComponentID. A duplicate id is an error: two
// components snapshotting under one id would silently overwrite each
// other's state.
func (r *Registry) Register(h StateHolder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := h.ComponentID()
	if _, exists := r.holders[id]; exists {
		return fmt.Errorf("snapshot: component %q already registered", id)
	}
	r.holders[id] = h
	r.order = append(r.order, id)
	return nil
}

// Unregister removes the holder registered under id, if any.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.holders[id]; !exists {
		return
	}
	delete(r.holders, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the holder registered under id.
func (r *Registry) Get(id string) (StateHolder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.holders[id]
	return h, ok
}

// Walk invokes fn for every registered holder in registration order,
// stopping at the first error.
func (r *Registry) Walk(fn func(h StateHolder) error) error {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	for _, id := range ids {
		h, ok := r.Get(id)
		if !ok {
			continue
		}
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of registered holders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holders)
}
