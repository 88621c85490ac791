/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package memory provides an in-process Store for tests and single-node deployments.
package memory

import (
	"bytes"
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vogo/vcluster"
)

type record struct {
	value []byte
	owner string
}

// Store is a concurrent, in-memory vcluster.OwnershipStore.
// Ownership claims are serialized by the store mutex.
type Store struct {
	mu         sync.RWMutex
	categories map[string]map[string]*record
}

var (
	_ vcluster.OwnershipStore   = (*Store)(nil)
	_ vcluster.ConditionalStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{categories: make(map[string]map[string]*record)}
}

// Get returns a copy of the value of key.
func (s *Store) Get(_ context.Context, category, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.categories[category][key]
	if !ok {
		return nil, vcluster.ErrNotFound
	}
	return bytes.Clone(rec.value), nil
}

// Set stores a copy of value. The owner of an existing key is kept.
func (s *Store) Set(_ context.Context, category, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.category(category)
	if rec, ok := entries[key]; ok {
		rec.value = bytes.Clone(value)
		return nil
	}
	entries[key] = &record{value: bytes.Clone(value)}
	return nil
}

// SetIfAbsent stores value only when key is missing.
func (s *Store) SetIfAbsent(_ context.Context, category, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.category(category)
	if _, ok := entries[key]; ok {
		return false, nil
	}
	entries[key] = &record{value: bytes.Clone(value)}
	return true, nil
}

// Remove deletes key and returns its last value.
func (s *Store) Remove(_ context.Context, category, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.categories[category]
	rec, ok := entries[key]
	if !ok {
		return nil, vcluster.ErrNotFound
	}
	delete(entries, key)
	if len(entries) == 0 {
		delete(s.categories, category)
	}
	return rec.value, nil
}

// Keys returns a snapshot of the keys of category.
func (s *Store) Keys(_ context.Context, category string) (mapset.Set[string], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := mapset.NewThreadUnsafeSet[string]()
	for k := range s.categories[category] {
		keys.Add(k)
	}
	return keys, nil
}

// GetWithOwnership claims key for owner and returns its value.
func (s *Store) GetWithOwnership(_ context.Context, category, key, owner string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.categories[category][key]
	if !ok {
		return nil, "", vcluster.ErrNotFound
	}
	previous := rec.owner
	if previous != "" && previous != owner {
		return nil, previous, vcluster.ErrOwnershipConflict
	}
	rec.owner = owner
	return bytes.Clone(rec.value), previous, nil
}

// ReleaseOwnership clears the owner of key if it is owner.
func (s *Store) ReleaseOwnership(_ context.Context, category, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.categories[category][key]; ok && rec.owner == owner {
		rec.owner = ""
	}
	return nil
}

// Owner returns the current owner of key.
func (s *Store) Owner(category, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.categories[category][key]
	if !ok {
		return "", false
	}
	return rec.owner, true
}

// category returns the entries of name, creating them. Callers hold s.mu.
func (s *Store) category(name string) map[string]*record {
	entries, ok := s.categories[name]
	if !ok {
		entries = make(map[string]*record)
		s.categories[name] = entries
	}
	return entries
}
