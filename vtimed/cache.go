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

// Package vtimed provides a lazily expiring cache layered on a replicated store.
//
// Expiration is checked only when an entry is looked up, against a cached
// "now" that a periodic tick advances. A lookup that finds an expired entry
// either refreshes it or removes it from the store, so Get may write.
package vtimed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vogo/vcluster"
	"github.com/vogo/vcluster/internal/caller"
	"github.com/vogo/vcluster/internal/metric"
	"github.com/vogo/vcluster/internal/uid"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// ErrDuplicateKey is returned by Insert when the key already has an entry.
var ErrDuplicateKey = errors.New("vtimed: duplicate key")

// Cache is a timed cache policy over a vcluster.Store category.
type Cache[K comparable, V any] struct {
	store       vcluster.Store
	category    string
	instance    string
	serializer  vcluster.KeySerializer[K]
	codec       vcluster.JSONValueCodec[*Entry[V]]
	lifetime    time.Duration
	resolution  time.Duration
	refreshable bool
	clock       func() time.Time
	onDestroy   func(K, V)

	now    *atomic.Time
	tickMu sync.Mutex

	// expiring collapses concurrent handling of one expired key
	expiring singleflight.Group

	nearSize int
	nearTTL  time.Duration
	near     *expirable.LRU[string, *Entry[V]]

	metrics *metric.Instruments
}

// New creates a timed cache over store.
// The category is auto-generated from the call site (file:function:line).
func New[K comparable, V any](store vcluster.Store, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		store:      store,
		category:   caller.Name(1),
		instance:   uid.NodeName,
		lifetime:   DefaultLifetime,
		resolution: DefaultResolution,
		clock:      time.Now,
		metrics:    metric.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.now = atomic.NewTime(c.clock())

	if c.nearSize > 0 {
		c.near = expirable.NewLRU[string, *Entry[V]](c.nearSize, nil, c.nearTTL)
		vcluster.Subscribe(c)
	}

	return c
}

// Run starts the clock tick on runner. It stops with the runner.
func (c *Cache[K, V]) Run(runner *vrun.Runner) {
	ticker := time.NewTicker(c.resolution)
	runner.Defer(ticker.Stop)

	runner.Loop(func() {
		select {
		case <-ticker.C:
			c.Tick()
		case <-runner.C:
			return
		}
	})
}

// Tick advances the cached now to the clock time. The cached now never goes back.
func (c *Cache[K, V]) Tick() {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if t := c.clock(); t.After(c.now.Load()) {
		c.now.Store(t)
	}
}

// Now returns the cached time expiration is checked against.
func (c *Cache[K, V]) Now() time.Time {
	return c.now.Load()
}

// Get returns the value of key if it is current. An expired entry is
// refreshed when possible, otherwise removed from the store and destroyed.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (value V, ok bool) {
	skey, err := c.serializeKey(key)
	if err != nil {
		vlog.Errorf("vtimed error serializing key | category: %s | key: %v | err: %v", c.category, key, err)
		return value, false
	}

	now := c.now.Load()

	if c.near != nil {
		if entry, found := c.near.Get(skey); found && entry.IsCurrent(now) {
			c.metrics.CacheHit(ctx, c.category)
			return entry.Value, true
		}
	}

	entry, err := c.load(ctx, skey)
	if err != nil {
		if !vcluster.IsNotFound(err) {
			vlog.Errorf("vtimed error loading entry | category: %s | key: %s | err: %v", c.category, skey, err)
		}
		c.metrics.CacheMiss(ctx, c.category)
		return value, false
	}

	if !entry.IsCurrent(now) {
		entry = c.expire(ctx, key, skey, now)
		if entry == nil {
			c.metrics.CacheMiss(ctx, c.category)
			return value, false
		}
	}

	if c.near != nil {
		c.near.Add(skey, entry)
	}
	c.metrics.CacheHit(ctx, c.category)
	return entry.Value, true
}

// expire handles an entry found expired at now. It returns the entry when it
// is current again, or nil once it was evicted.
func (c *Cache[K, V]) expire(ctx context.Context, key K, skey string, now time.Time) *Entry[V] {
	v, _, _ := c.expiring.Do(skey, func() (any, error) {
		// re-read: another node may have refreshed or removed it meanwhile
		entry, err := c.load(ctx, skey)
		if err != nil {
			return (*Entry[V])(nil), nil
		}
		if entry.IsCurrent(now) {
			return entry, nil
		}

		if entry.refresh(now) {
			if err := c.save(ctx, skey, entry); err != nil {
				vlog.Errorf("vtimed error saving refreshed entry | category: %s | key: %s | err: %v", c.category, skey, err)
			}
			return entry, nil
		}

		c.metrics.CacheExpiration(ctx, c.category)
		c.evict(ctx, key, skey)
		return (*Entry[V])(nil), nil
	})

	return v.(*Entry[V])
}

// Peek returns the stored value of key without checking expiration.
func (c *Cache[K, V]) Peek(ctx context.Context, key K) (value V, ok bool) {
	skey, err := c.serializeKey(key)
	if err != nil {
		return value, false
	}

	entry, err := c.load(ctx, skey)
	if err != nil {
		if !vcluster.IsNotFound(err) {
			vlog.Errorf("vtimed error loading entry | category: %s | key: %s | err: %v", c.category, skey, err)
		}
		return value, false
	}
	return entry.Value, true
}

// Insert stores value under key. It fails with ErrDuplicateKey when the key
// already has an entry. Store failures are logged, not returned.
func (c *Cache[K, V]) Insert(ctx context.Context, key K, value V) error {
	skey, err := c.serializeKey(key)
	if err != nil {
		return err
	}

	entry := &Entry[V]{
		Value:       value,
		Lifetime:    c.lifetime,
		Refreshable: c.refreshable,
	}
	entry.Init(c.now.Load())

	data, err := c.codec.Encode(entry)
	if err != nil {
		return err
	}

	stored, err := c.insert(ctx, skey, data)
	if err != nil {
		vlog.Errorf("vtimed error inserting entry | category: %s | key: %s | err: %v", c.category, skey, err)
		return nil
	}
	if !stored {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, skey)
	}

	if c.near != nil {
		c.near.Add(skey, entry)
	}
	return nil
}

// insert writes data unless skey exists, atomically when the store supports it.
func (c *Cache[K, V]) insert(ctx context.Context, skey string, data []byte) (bool, error) {
	if cs, ok := c.store.(vcluster.ConditionalStore); ok {
		return cs.SetIfAbsent(ctx, c.category, skey, data)
	}

	if _, err := c.store.Get(ctx, c.category, skey); err == nil {
		return false, nil
	} else if !vcluster.IsNotFound(err) {
		return false, err
	}
	return true, c.store.Set(ctx, c.category, skey, data)
}

// Remove deletes key and destroys its entry. It reports whether an entry was removed.
// Store failures are logged, not returned.
func (c *Cache[K, V]) Remove(ctx context.Context, key K) bool {
	skey, err := c.serializeKey(key)
	if err != nil {
		return false
	}
	return c.evict(ctx, key, skey)
}

// evict removes skey from the store and destroys the removed entry. Only the
// caller whose removal succeeded destroys, so an entry is destroyed once.
func (c *Cache[K, V]) evict(ctx context.Context, key K, skey string) bool {
	if c.near != nil {
		c.near.Remove(skey)
	}

	data, err := c.store.Remove(ctx, c.category, skey)
	if err != nil {
		if !vcluster.IsNotFound(err) {
			vlog.Errorf("vtimed error removing entry | category: %s | key: %s | err: %v", c.category, skey, err)
		}
		return false
	}

	if c.near != nil {
		vcluster.Notify(ctx, c.category, c.instance, skey)
	}

	entry, err := c.codec.Decode(data)
	if err != nil {
		vlog.Errorf("vtimed error decoding removed entry | category: %s | key: %s | err: %v", c.category, skey, err)
		return true
	}
	c.destroy(key, entry)
	return true
}

func (c *Cache[K, V]) destroy(key K, entry *Entry[V]) {
	entry.destroy()
	if c.onDestroy != nil {
		c.onDestroy(key, entry.Value)
	}
}

// Flush removes and destroys every entry of the category.
func (c *Cache[K, V]) Flush(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, c.category)
	if err != nil {
		vlog.Errorf("vtimed error listing keys | category: %s | err: %v", c.category, err)
		return err
	}

	var errs error
	for _, skey := range keys.ToSlice() {
		key, err := c.deserializeKey(skey)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		c.evict(ctx, key, skey)
	}

	if c.near != nil {
		c.near.Purge()
	}
	return errs
}

// Size returns the number of stored keys, expired ones included.
func (c *Cache[K, V]) Size(ctx context.Context) int {
	keys, err := c.store.Keys(ctx, c.category)
	if err != nil {
		vlog.Errorf("vtimed error listing keys | category: %s | err: %v", c.category, err)
		return 0
	}
	return keys.Cardinality()
}

// Invalidate drops the near-cache copy of a key changed on another node.
func (c *Cache[K, V]) Invalidate(serializedKey string) error {
	if c.near != nil {
		c.near.Remove(serializedKey)
	}
	return nil
}

// Instance returns the node name used in modification events.
func (c *Cache[K, V]) Instance() string {
	return c.instance
}

// Category returns the store category of this cache.
func (c *Cache[K, V]) Category() string {
	return c.category
}

// Close unsubscribes the cache from modification events.
func (c *Cache[K, V]) Close() error {
	if c.near != nil {
		vcluster.Unsubscribe(c)
	}
	return nil
}

func (c *Cache[K, V]) load(ctx context.Context, skey string) (*Entry[V], error) {
	data, err := c.store.Get(ctx, c.category, skey)
	if err != nil {
		return nil, err
	}
	return c.codec.Decode(data)
}

func (c *Cache[K, V]) save(ctx context.Context, skey string, entry *Entry[V]) error {
	data, err := c.codec.Encode(entry)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.category, skey, data)
}

func (c *Cache[K, V]) serializeKey(key K) (string, error) {
	if c.serializer != nil {
		return c.serializer.Serialize(key)
	}
	return vcluster.DefaultSerialize(key)
}

func (c *Cache[K, V]) deserializeKey(s string) (K, error) {
	if c.serializer != nil {
		return c.serializer.Deserialize(s)
	}
	return vcluster.DefaultDeserialize[K](s)
}
