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

// Package storetest holds the behaviour every vcluster store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogo/vcluster"
)

// Run exercises the Store contract against the stores built by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) vcluster.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "cat", "missing")
		assert.ErrorIs(t, err, vcluster.ErrNotFound)
	})

	t.Run("SetGetRemove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "cat", "k1", []byte("v1")))

		v, err := s.Get(ctx, "cat", "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, s.Set(ctx, "cat", "k1", []byte("v2")))
		v, err = s.Get(ctx, "cat", "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)

		old, err := s.Remove(ctx, "cat", "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), old)

		_, err = s.Remove(ctx, "cat", "k1")
		assert.ErrorIs(t, err, vcluster.ErrNotFound)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "cat", "empty", nil))

		v, err := s.Get(ctx, "cat", "empty")
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("CategoriesAreIndependent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a", "k", []byte("in-a")))
		require.NoError(t, s.Set(ctx, "b", "k", []byte("in-b")))

		_, err := s.Remove(ctx, "a", "k")
		require.NoError(t, err)

		v, err := s.Get(ctx, "b", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("in-b"), v)
	})

	t.Run("Keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "keys", "k1", []byte("1")))
		require.NoError(t, s.Set(ctx, "keys", "k2", []byte("2")))
		require.NoError(t, s.Set(ctx, "other", "k3", []byte("3")))

		keys, err := s.Keys(ctx, "keys")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2"}, keys.ToSlice())

		keys, err = s.Keys(ctx, "none")
		require.NoError(t, err)
		assert.Equal(t, 0, keys.Cardinality())
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		s := newStore(t)
		cs, ok := s.(vcluster.ConditionalStore)
		if !ok {
			t.Skip("store has no conditional insert")
		}

		stored, err := cs.SetIfAbsent(ctx, "cond", "k", []byte("first"))
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = cs.SetIfAbsent(ctx, "cond", "k", []byte("second"))
		require.NoError(t, err)
		assert.False(t, stored)

		v, err := s.Get(ctx, "cond", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), v)
	})

	t.Run("GetWithOwnership", func(t *testing.T) {
		s := newStore(t)
		owned, ok := s.(vcluster.OwnershipStore)
		if !ok {
			t.Skip("store has no ownership support")
		}

		_, _, err := owned.GetWithOwnership(ctx, "own", "missing", "node-a")
		assert.ErrorIs(t, err, vcluster.ErrNotFound)

		require.NoError(t, s.Set(ctx, "own", "s1", []byte("state")))

		v, prev, err := owned.GetWithOwnership(ctx, "own", "s1", "node-a")
		require.NoError(t, err)
		assert.Equal(t, []byte("state"), v)
		assert.Empty(t, prev)

		// reclaiming is allowed, foreign claims conflict
		_, prev, err = owned.GetWithOwnership(ctx, "own", "s1", "node-a")
		require.NoError(t, err)
		assert.Equal(t, "node-a", prev)

		_, holder, err := owned.GetWithOwnership(ctx, "own", "s1", "node-b")
		assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)
		assert.Equal(t, "node-a", holder)

		// writes keep the owner
		require.NoError(t, s.Set(ctx, "own", "s1", []byte("state-2")))
		_, _, err = owned.GetWithOwnership(ctx, "own", "s1", "node-b")
		assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)

		// only the holder can release
		require.NoError(t, owned.ReleaseOwnership(ctx, "own", "s1", "node-b"))
		_, _, err = owned.GetWithOwnership(ctx, "own", "s1", "node-b")
		assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)

		require.NoError(t, owned.ReleaseOwnership(ctx, "own", "s1", "node-a"))
		v, prev, err = owned.GetWithOwnership(ctx, "own", "s1", "node-b")
		require.NoError(t, err)
		assert.Equal(t, []byte("state-2"), v)
		assert.Empty(t, prev)

		require.NoError(t, owned.ReleaseOwnership(ctx, "own", "missing", "node-b"))
	})

	t.Run("RemoveDropsOwnership", func(t *testing.T) {
		s := newStore(t)
		owned, ok := s.(vcluster.OwnershipStore)
		if !ok {
			t.Skip("store has no ownership support")
		}

		require.NoError(t, s.Set(ctx, "own", "s2", []byte("state")))
		_, _, err := owned.GetWithOwnership(ctx, "own", "s2", "node-a")
		require.NoError(t, err)

		_, err = s.Remove(ctx, "own", "s2")
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, "own", "s2", []byte("again")))
		_, prev, err := owned.GetWithOwnership(ctx, "own", "s2", "node-b")
		require.NoError(t, err)
		assert.Empty(t, prev)
	})
}
