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

package vtimed

import (
	"time"

	"github.com/vogo/vcluster"
)

const (
	// DefaultLifetime is the lifetime of values without their own policy.
	DefaultLifetime = 30 * time.Minute

	// DefaultResolution is the period of the clock tick.
	DefaultResolution = 60 * time.Second
)

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithCategory sets the store category (overrides the call-site name).
func WithCategory[K comparable, V any](category string) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.category = category
	}
}

// WithDefaultLifetime sets the lifetime given to inserted values.
func WithDefaultLifetime[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// WithResolution sets the period of the clock tick started by Run.
func WithResolution[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		if d > 0 {
			c.resolution = d
		}
	}
}

// WithRefreshable makes default entries extend their lifetime on expiry
// instead of being evicted.
func WithRefreshable[K comparable, V any](refreshable bool) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.refreshable = refreshable
	}
}

// WithClock replaces the wall clock read by Tick.
func WithClock[K comparable, V any](clock func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithOnDestroy sets a callback run when an entry is destroyed.
func WithOnDestroy[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onDestroy = fn
	}
}

// WithSerializer sets a custom key serializer.
func WithSerializer[K comparable, V any](s vcluster.KeySerializer[K]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.serializer = s
	}
}

// WithInstance sets the node name used in modification events.
func WithInstance[K comparable, V any](instance string) Option[K, V] {
	return func(c *Cache[K, V]) {
		if instance != "" {
			c.instance = instance
		}
	}
}

// WithNearCache keeps up to size decoded entries locally for at most ttl.
// Local copies are dropped when another node removes or evicts the key.
func WithNearCache[K comparable, V any](size int, ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.nearSize = size
		c.nearTTL = ttl
	}
}
