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

package vsession

import "time"

const (
	DefaultCacheSize = 1024

	DefaultClaimRetries    = 5
	DefaultClaimRetryDelay = 10 * time.Millisecond
	DefaultClaimMaxDelay   = 500 * time.Millisecond
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	node          string
	cacheSize     int
	codec         *Codec
	claimRetries  int
	claimDelay    time.Duration
	claimMaxDelay time.Duration
	alive         func(node string) bool
}

// WithNode sets the local node name (default uid.NodeName).
func WithNode(node string) Option {
	return func(o *options) {
		if node != "" {
			o.node = node
		}
	}
}

// WithCacheSize bounds the number of active sessions kept locally.
func WithCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// WithCodec shares a codec between managers.
func WithCodec(codec *Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithClaimRetry sets how ownership conflicts are retried during activation.
func WithClaimRetry(retries int, delay, maxDelay time.Duration) Option {
	return func(o *options) {
		if retries > 0 {
			o.claimRetries = retries
		}
		if delay > 0 {
			o.claimDelay = delay
		}
		if maxDelay > 0 {
			o.claimMaxDelay = maxDelay
		}
	}
}

// WithLiveness lets activation take sessions away from owners that alive
// reports as gone.
func WithLiveness(alive func(node string) bool) Option {
	return func(o *options) {
		o.alive = alive
	}
}
