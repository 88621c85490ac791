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

// Package olricstore is a vcluster.OwnershipStore on an olric cluster.
//
// Values of a category live in the DMap "<prefix>.<category>", owners in
// "<prefix>.<category>.owners". Claims and releases hold the olric lock of
// the owner entry.
package olricstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/olric-data/olric"
	"github.com/vogo/vcluster"
	"github.com/vogo/vogo/vlog"
)

const (
	DefaultPrefix = "vcluster"

	// DefaultLockTimeout bounds how long a claim may hold the owner lock.
	DefaultLockTimeout = 5 * time.Second

	// DefaultLockWait is how long a claim waits for the owner lock.
	DefaultLockWait = 200 * time.Millisecond
)

// Store keeps categories in olric DMaps.
type Store struct {
	client     olric.Client
	ownsClient bool
	prefix     string
	lockTTL    time.Duration
	lockWait   time.Duration

	mu    sync.Mutex
	dmaps map[string]olric.DMap
}

var (
	_ vcluster.OwnershipStore   = (*Store)(nil)
	_ vcluster.ConditionalStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the DMap name prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLock sets the owner lock timeout and wait.
func WithLock(timeout, wait time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTTL = timeout
		}
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// New creates a store on client. The client stays owned by the caller.
func New(client olric.Client, opts ...Option) *Store {
	s := &Store{
		client:   client,
		prefix:   DefaultPrefix,
		lockTTL:  DefaultLockTimeout,
		lockWait: DefaultLockWait,
		dmaps:    make(map[string]olric.DMap),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects a cluster client to the olric members at addrs.
func Dial(addrs []string, opts ...Option) (*Store, error) {
	client, err := olric.NewClusterClient(addrs)
	if err != nil {
		return nil, fmt.Errorf("olricstore: create cluster client: %w", err)
	}

	s := New(client, opts...)
	s.ownsClient = true
	return s, nil
}

// Close closes the client if the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close(ctx)
}

func (s *Store) dmap(name string) (olric.DMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dm, ok := s.dmaps[name]; ok {
		return dm, nil
	}

	dm, err := s.client.NewDMap(name)
	if err != nil {
		return nil, fmt.Errorf("olricstore: create dmap %s: %w", name, err)
	}
	s.dmaps[name] = dm
	return dm, nil
}

func (s *Store) values(category string) (olric.DMap, error) {
	return s.dmap(s.prefix + "." + category)
}

func (s *Store) owners(category string) (olric.DMap, error) {
	return s.dmap(s.prefix + "." + category + ".owners")
}

func (s *Store) Get(ctx context.Context, category, key string) ([]byte, error) {
	dm, err := s.values(category)
	if err != nil {
		return nil, err
	}
	return getBytes(ctx, dm, key)
}

func (s *Store) Set(ctx context.Context, category, key string, value []byte) error {
	dm, err := s.values(category)
	if err != nil {
		return err
	}
	return dm.Put(ctx, key, nonNil(value))
}

func (s *Store) SetIfAbsent(ctx context.Context, category, key string, value []byte) (bool, error) {
	dm, err := s.values(category)
	if err != nil {
		return false, err
	}

	err = dm.Put(ctx, key, nonNil(value), olric.NX())
	if errors.Is(err, olric.ErrKeyFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Remove(ctx context.Context, category, key string) ([]byte, error) {
	dm, err := s.values(category)
	if err != nil {
		return nil, err
	}
	owners, err := s.owners(category)
	if err != nil {
		return nil, err
	}

	old, err := getBytes(ctx, dm, key)
	if err != nil {
		return nil, err
	}

	deleted, err := dm.Delete(ctx, key)
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		// removed concurrently
		return nil, vcluster.ErrNotFound
	}

	if _, err := owners.Delete(ctx, key); err != nil {
		return old, err
	}
	return old, nil
}

func (s *Store) Keys(ctx context.Context, category string) (mapset.Set[string], error) {
	dm, err := s.values(category)
	if err != nil {
		return nil, err
	}

	it, err := dm.Scan(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	keys := mapset.NewThreadUnsafeSet[string]()
	for it.Next() {
		keys.Add(it.Key())
	}
	return keys, nil
}

// GetWithOwnership claims key while holding the lock of its owner entry.
// Failing to get the lock within the lock wait is a conflict.
func (s *Store) GetWithOwnership(ctx context.Context, category, key, owner string) (value []byte, previous string, err error) {
	owners, err := s.owners(category)
	if err != nil {
		return nil, "", err
	}
	values, err := s.values(category)
	if err != nil {
		return nil, "", err
	}

	unlock, err := s.lock(ctx, owners, key)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	previous, err = getString(ctx, owners, key)
	if err != nil {
		return nil, "", err
	}
	if previous != "" && previous != owner {
		return nil, previous, vcluster.ErrOwnershipConflict
	}

	if value, err = getBytes(ctx, values, key); err != nil {
		return nil, "", err
	}

	if err := owners.Put(ctx, key, owner); err != nil {
		return nil, "", err
	}
	return value, previous, nil
}

func (s *Store) ReleaseOwnership(ctx context.Context, category, key, owner string) error {
	owners, err := s.owners(category)
	if err != nil {
		return err
	}

	unlock, err := s.lock(ctx, owners, key)
	if err != nil {
		return err
	}
	defer unlock()

	holder, err := getString(ctx, owners, key)
	if err != nil || holder != owner {
		return err
	}

	_, err = owners.Delete(ctx, key)
	return err
}

func (s *Store) lock(ctx context.Context, dm olric.DMap, key string) (func(), error) {
	lock, err := dm.LockWithTimeout(ctx, key, s.lockTTL, s.lockWait)
	if errors.Is(err, olric.ErrLockNotAcquired) {
		return nil, vcluster.ErrOwnershipConflict
	}
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Unlock(ctx); err != nil && !errors.Is(err, olric.ErrNoSuchLock) {
			vlog.Errorf("vcluster olric unlock failed | dmap: %s | key: %s | err: %v", dm.Name(), key, err)
		}
	}, nil
}

func getBytes(ctx context.Context, dm olric.DMap, key string) ([]byte, error) {
	gr, err := dm.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return nil, vcluster.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return gr.Byte()
}

func getString(ctx context.Context, dm olric.DMap, key string) (string, error) {
	gr, err := dm.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return gr.String()
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}
