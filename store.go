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

package vcluster

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	// ErrNotFound is returned by a Store when a key does not exist in a category.
	ErrNotFound = errors.New("vcluster: key not found")

	// ErrOwnershipConflict is returned by GetWithOwnership when another owner
	// holds the key.
	ErrOwnershipConflict = errors.New("vcluster: ownership claim conflict")
)

// Store is a keyed replicated store partitioned by category.
// All keys within a category are independent.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, category, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, category, key string, value []byte) error

	// Remove deletes key and returns the value it held, or ErrNotFound.
	Remove(ctx context.Context, category, key string) ([]byte, error)

	// Keys returns a snapshot of the keys currently stored in category.
	Keys(ctx context.Context, category string) (mapset.Set[string], error)
}

// OwnershipStore is a Store able to hand out exclusive ownership of a key.
//
// Ownership is held until it is released: a claim succeeds when the key is
// unowned or already owned by the claimant, any other claim fails with
// ErrOwnershipConflict. Set keeps the owner, Remove drops it with the key.
type OwnershipStore interface {
	Store

	// GetWithOwnership atomically makes owner the owner of key and returns the
	// key's value together with the owner held before the call (empty when
	// none). On ErrOwnershipConflict the returned owner is the current holder.
	// At most one of two concurrent claims for the same key succeeds.
	GetWithOwnership(ctx context.Context, category, key, owner string) (value []byte, previousOwner string, err error)

	// ReleaseOwnership gives up ownership of key if owner holds it.
	// Releasing a missing or foreign key is a no-op.
	ReleaseOwnership(ctx context.Context, category, key, owner string) error
}

// ConditionalStore is implemented by stores with an atomic insert.
type ConditionalStore interface {
	// SetIfAbsent stores value only if key does not exist yet.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, category, key string, value []byte) (bool, error)
}

// IsNotFound reports whether err means a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
