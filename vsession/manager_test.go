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

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogo/vcluster"
	"github.com/vogo/vcluster/brokers/inmemory"
	"github.com/vogo/vcluster/stores/memory"
	"github.com/vogo/vogo/vsync/vrun"
)

type cart struct {
	Owner string         `json:"owner"`
	Items []string       `json:"items"`
	Total int            `json:"total"`
	Tags  map[string]int `json:"tags,omitempty"`

	activated  int
	passivated int
	removed    int
	removeErr  error
}

func (c *cart) Activate(context.Context) error  { c.activated++; return nil }
func (c *cart) Passivate(context.Context) error { c.passivated++; return nil }
func (c *cart) Remove(context.Context) error    { c.removed++; return c.removeErr }

func newCart() *cart { return &cart{} }

const app = "shop"

func newManager(t *testing.T, store vcluster.OwnershipStore, node string, opts ...Option) *Manager[*cart] {
	t.Helper()
	m, err := New(app, store, newCart, append([]Option{
		WithNode(node),
		WithClaimRetry(3, time.Millisecond, 5*time.Millisecond),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func startBroker(t *testing.T) {
	t.Helper()
	runner := vrun.New()
	vcluster.StartEventBroker(runner, inmemory.New())
	t.Cleanup(runner.Stop)
}

// seed creates a session on m and writes its first state.
func seed(t *testing.T, m *Manager[*cart], state *cart) string {
	t.Helper()
	ctx := context.Background()

	id := m.CreateID()
	require.NoError(t, m.Created(ctx, id))
	require.NoError(t, m.Synchronize(ctx, &Session[*cart]{ID: id, Bean: state}))
	return id
}

func TestCreateID(t *testing.T) {
	m := newManager(t, memory.New(), "node-a")

	seen := make(map[string]struct{})
	for range 1000 {
		id := m.CreateID()
		require.True(t, strings.HasPrefix(id, "node-a:"), id)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestSequenceGenerator(t *testing.T) {
	m := newManager(t, memory.New(), "node-a")
	gen := m.NewSequenceGenerator()

	assert.Equal(t, "node-a:1", gen.Next())
	assert.Equal(t, "node-a:2", gen.Next())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen.Next()
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 800)

	assert.Equal(t, "node-a:1", m.NewSequenceGenerator().Next(), "generators do not share state")
}

func TestSynchronizeThenActivateElsewhere(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	nodeA := newManager(t, store, "node-a")
	nodeB := newManager(t, store, "node-b")

	state := &cart{Owner: "ann", Items: []string{"book"}, Total: 12}
	id := seed(t, nodeA, state)
	assert.Equal(t, 1, state.passivated)
	assert.Equal(t, 1, state.activated, "synchronize activates the bean again")

	s, err := nodeB.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "ann", s.Bean.Owner)
	assert.Equal(t, []string{"book"}, s.Bean.Items)
	assert.Equal(t, 12, s.Bean.Total)
	assert.Equal(t, 1, s.Bean.activated)

	owner, _ := store.Owner(app, id)
	assert.Equal(t, "node-b", owner)

	bean, ok := nodeB.Lookup(id)
	require.True(t, ok)
	assert.Same(t, s.Bean, bean)
}

func TestActivateWithoutState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")

	id := m.CreateID()
	require.NoError(t, m.Created(ctx, id))

	_, err := m.Activate(ctx, id)
	var activationErr *ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.ErrorIs(t, err, ErrNoState)

	owner, _ := store.Owner(app, id)
	assert.Empty(t, owner, "a failed activation keeps no ownership")

	_, err = m.Activate(ctx, "node-a:unknown")
	require.ErrorAs(t, err, &activationErr)
	assert.ErrorIs(t, err, vcluster.ErrNotFound)
}

func TestActivateCorruptState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")

	require.NoError(t, store.Set(ctx, app, "bad", []byte("garbage")))

	_, err := m.Activate(ctx, "bad")
	var sessionErr *SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, "decode", sessionErr.Op)
}

func TestActivateWhileInUseElsewhere(t *testing.T) {
	startBroker(t)

	ctx := context.Background()
	store := memory.New()
	nodeA := newManager(t, store, "node-a")
	nodeB := newManager(t, store, "node-b")

	id := seed(t, nodeA, &cart{Total: 1})

	_, err := nodeA.Activate(ctx, id)
	require.NoError(t, err)

	_, err = nodeB.Activate(ctx, id)
	var activationErr *ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)

	_, ok := nodeA.Lookup(id)
	assert.True(t, ok, "the holder keeps a session it uses")

	require.NoError(t, nodeA.Release(ctx, id))
	_, ok = nodeA.Lookup(id)
	assert.False(t, ok)

	s, err := nodeB.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Bean.Total)
}

func TestActivateRequestsIdleOwnership(t *testing.T) {
	startBroker(t)

	ctx := context.Background()
	store := memory.New()
	nodeA := newManager(t, store, "node-a")
	nodeB := newManager(t, store, "node-b", WithClaimRetry(50, 2*time.Millisecond, 20*time.Millisecond))

	id := seed(t, nodeA, &cart{Total: 7})

	// node-a holds the session without using it
	_, _, err := store.GetWithOwnership(ctx, app, id, "node-a")
	require.NoError(t, err)

	s, err := nodeB.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Bean.Total)

	owner, _ := store.Owner(app, id)
	assert.Equal(t, "node-b", owner)
}

func TestActivateTakesOverFromDeadOwner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seeder := newManager(t, store, "node-a")
	id := seed(t, seeder, &cart{Total: 3})

	_, _, err := store.GetWithOwnership(ctx, app, id, "node-gone")
	require.NoError(t, err)

	strict := newManager(t, store, "node-b")
	_, err = strict.Activate(ctx, id)
	assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)

	lenient := newManager(t, store, "node-c", WithLiveness(func(node string) bool {
		return node != "node-gone"
	}))
	s, err := lenient.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Bean.Total)
}

func TestConcurrentActivateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	managers := []*Manager[*cart]{
		newManager(t, store, "node-a"),
		newManager(t, store, "node-b"),
		newManager(t, store, "node-c"),
	}
	id := seed(t, managers[0], &cart{Total: 5})

	var (
		wg      sync.WaitGroup
		results = make([]error, len(managers))
	)
	for i, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = m.Activate(ctx, id)
		}()
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		if err == nil {
			winners++
			_, ok := managers[i].Lookup(id)
			assert.True(t, ok)
			continue
		}
		var activationErr *ActivationError
		assert.ErrorAs(t, err, &activationErr)
		_, ok := managers[i].Lookup(id)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, winners)
}

func TestActivateSameNodeWhileInUse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{Total: 1})

	first, err := m.Activate(ctx, id)
	require.NoError(t, err)

	_, err = m.Activate(ctx, id)
	var activationErr *ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)

	bean, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Same(t, first.Bean, bean, "the active copy is untouched")

	owner, _ := store.Owner(app, id)
	assert.Equal(t, "node-a", owner)
}

func TestActivateSameNodeWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a", WithClaimRetry(100, 2*time.Millisecond, 10*time.Millisecond))
	id := seed(t, m, &cart{Total: 1})

	first, err := m.Activate(ctx, id)
	require.NoError(t, err)

	type result struct {
		s   *Session[*cart]
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := m.Activate(ctx, id)
		second <- result{s, err}
	}()

	first.Bean.Total = 10
	require.NoError(t, m.Synchronize(ctx, first))
	require.NoError(t, m.Release(ctx, id))

	got := <-second
	require.NoError(t, got.err)
	assert.NotSame(t, first.Bean, got.s.Bean)
	assert.Equal(t, 10, got.s.Bean.Total, "the waiting activation sees the released state")

	owner, _ := store.Owner(app, id)
	assert.Equal(t, "node-a", owner, "releasing the first copy keeps the lease of the second")

	got.s.Bean.Items = []string{"x"}
	require.NoError(t, m.Synchronize(ctx, got.s))
	require.NoError(t, m.Release(ctx, id))

	final, err := m.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, final.Bean.Total)
	assert.Equal(t, []string{"x"}, final.Bean.Items)
}

func TestConcurrentActivateSameNode(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{Total: 5})

	const callers = 8
	var (
		wg       sync.WaitGroup
		sessions = make([]*Session[*cart], callers)
		results  = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions[i], results[i] = m.Activate(ctx, id)
		}()
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		if err == nil {
			winners++
			bean, ok := m.Lookup(id)
			require.True(t, ok)
			assert.Same(t, sessions[i].Bean, bean)
			continue
		}
		var activationErr *ActivationError
		assert.ErrorAs(t, err, &activationErr)
		assert.ErrorIs(t, err, vcluster.ErrOwnershipConflict)
	}
	assert.Equal(t, 1, winners)
}

func TestInvalidateReleasesLocalCopy(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{})

	_, err := m.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Invalidate(id))
	assert.Equal(t, 0, m.Len())

	owner, _ := store.Owner(app, id)
	assert.Empty(t, owner)
}

func TestEvictionReleasesOwnership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a", WithCacheSize(1))

	first := seed(t, m, &cart{Total: 1})
	second := seed(t, m, &cart{Total: 2})

	_, err := m.Activate(ctx, first)
	require.NoError(t, err)
	_, err = m.Activate(ctx, second)
	require.NoError(t, err)

	owner, _ := store.Owner(app, first)
	assert.Empty(t, owner)
	owner, _ = store.Owner(app, second)
	assert.Equal(t, "node-a", owner)
}

func TestSynchronizeInvalidatesOtherNodes(t *testing.T) {
	startBroker(t)

	ctx := context.Background()
	store := memory.New()
	nodeA := newManager(t, store, "node-a")
	nodeB := newManager(t, store, "node-b")

	id := seed(t, nodeA, &cart{Total: 1})
	s, err := nodeA.Activate(ctx, id)
	require.NoError(t, err)

	// a stale copy on node-b, e.g. from before a network partition
	nodeB.instances.Add(id, &cart{Total: 0})

	s.Bean.Total = 2
	require.NoError(t, nodeA.Synchronize(ctx, s))

	assert.Eventually(t, func() bool {
		_, ok := nodeB.Lookup(id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, ok := nodeA.Lookup(id)
	assert.True(t, ok)
}

type failingRemoveStore struct {
	*memory.Store
}

func (failingRemoveStore) Remove(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("store down")
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{})

	s, err := m.Activate(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, s))
	assert.Equal(t, 1, s.Bean.removed)
	assert.Equal(t, 0, m.Len())

	_, err = store.Get(ctx, app, id)
	assert.ErrorIs(t, err, vcluster.ErrNotFound)
}

func TestRemoveHookFailureStillRemoves(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{})

	s, err := m.Activate(ctx, id)
	require.NoError(t, err)
	s.Bean.removeErr = errors.New("hook failed")

	err = m.Remove(ctx, s)
	var sessionErr *SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, "remove", sessionErr.Op)

	_, err = store.Get(ctx, app, id)
	assert.ErrorIs(t, err, vcluster.ErrNotFound)
}

func TestRemoveStoreFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := failingRemoveStore{Store: memory.New()}
	m := newManager(t, store, "node-a")
	id := seed(t, m, &cart{})

	s, err := m.Activate(ctx, id)
	require.NoError(t, err)
	s.Bean.removeErr = errors.New("hook failed")

	err = m.Remove(ctx, s)
	var sessionErr *SessionError
	assert.ErrorAs(t, err, &sessionErr)
	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}
