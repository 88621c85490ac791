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
	"sync"

	"github.com/flowchartsman/retry"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vogo/vcluster"
	"github.com/vogo/vcluster/internal/metric"
	"github.com/vogo/vcluster/internal/uid"
	"github.com/vogo/vogo/vlog"
	"go.uber.org/multierr"
)

// ClaimSuffix is appended to the application name to form the event category
// of ownership requests.
const ClaimSuffix = "#claim"

// Manager replicates the sessions of one application. The application name
// is the store category and the event category of its sessions.
//
// A node owns the sessions it activated until it releases them. Owned
// sessions live in a bounded local cache; dropping one from the cache, by
// Release, eviction or an invalidation, gives its ownership back.
type Manager[B Bean] struct {
	app      string
	node     string
	store    vcluster.OwnershipStore
	factory  func() B
	codec    *Codec
	ownCodec bool
	opts     options
	metrics  *metric.Instruments

	instances *lru.Cache[string, B]
	claims    *claimListener[B]

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a manager for app. factory returns an empty bean to decode
// replicated state into.
func New[B Bean](app string, store vcluster.OwnershipStore, factory func() B, opts ...Option) (*Manager[B], error) {
	o := options{
		node:          uid.NodeName,
		cacheSize:     DefaultCacheSize,
		claimRetries:  DefaultClaimRetries,
		claimDelay:    DefaultClaimRetryDelay,
		claimMaxDelay: DefaultClaimMaxDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager[B]{
		app:     app,
		node:    o.node,
		store:   store,
		factory: factory,
		codec:   o.codec,
		opts:    o,
		metrics: metric.New(),
		pending: make(map[string]struct{}),
	}

	instances, err := lru.NewWithEvict[string, B](o.cacheSize, m.onDrop)
	if err != nil {
		return nil, err
	}
	m.instances = instances

	if m.codec == nil {
		if m.codec, err = NewCodec(); err != nil {
			return nil, err
		}
		m.ownCodec = true
	}

	m.claims = &claimListener[B]{m: m}
	vcluster.Subscribe(m)
	vcluster.Subscribe(m.claims)

	return m, nil
}

// Created registers a new session in the store, without state.
func (m *Manager[B]) Created(ctx context.Context, id string) error {
	if err := m.store.Set(ctx, m.app, id, nil); err != nil {
		return &StoreError{Op: "create", ID: id, Err: err}
	}
	return nil
}

// Activate claims ownership of session id, restores its bean and runs its
// Activate hook.
//
// A session has one active copy per cluster: while this node activates or
// holds it, further local activations wait with the claim backoff. While
// another node holds the session, the holder is asked to release it and the
// claim is retried with backoff. A holder reported dead by the liveness
// check loses the session right away.
func (m *Manager[B]) Activate(ctx context.Context, id string) (*Session[B], error) {
	m.metrics.SessionActivation(ctx, m.app)

	if err := m.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer m.unmarkPending(id)

	data, err := m.claim(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		m.release(ctx, id)
		return nil, &ActivationError{ID: id, Err: ErrNoState}
	}

	bean := m.factory()
	if err := m.codec.Decode(data, bean); err != nil {
		m.release(ctx, id)
		return nil, &SessionError{Op: "decode", ID: id, Err: err}
	}

	if err := bean.Activate(ctx); err != nil {
		m.release(ctx, id)
		return nil, &ActivationError{ID: id, Err: err}
	}

	m.instances.Add(id, bean)

	return &Session[B]{ID: id, Bean: bean}, nil
}

func (m *Manager[B]) claim(ctx context.Context, id string) ([]byte, error) {
	var (
		data      []byte
		holder    string
		claimErr  error
		requested bool
	)

	retrier := retry.NewRetrier(m.opts.claimRetries, m.opts.claimDelay, m.opts.claimMaxDelay)
	runErr := retrier.RunContext(ctx, func(ctx context.Context) error {
		data, holder, claimErr = m.store.GetWithOwnership(ctx, m.app, id, m.node)
		if claimErr == nil {
			return nil
		}
		if !errors.Is(claimErr, vcluster.ErrOwnershipConflict) {
			return retry.Stop(claimErr)
		}

		if holder != "" && m.opts.alive != nil && !m.opts.alive(holder) {
			vlog.Infof("vcluster session taken from dead owner | app: %s | id: %s | owner: %s", m.app, id, holder)
			if err := m.store.ReleaseOwnership(ctx, m.app, id, holder); err != nil {
				return retry.Stop(err)
			}
			return claimErr
		}

		if !requested {
			requested = true
			vcluster.Notify(ctx, m.app+ClaimSuffix, m.node, id)
		}
		return claimErr
	})
	if claimErr == nil {
		claimErr = runErr
	}

	switch {
	case claimErr == nil:
		return data, nil
	case errors.Is(claimErr, vcluster.ErrOwnershipConflict), vcluster.IsNotFound(claimErr):
		return nil, &ActivationError{ID: id, Err: claimErr}
	case errors.Is(claimErr, context.Canceled), errors.Is(claimErr, context.DeadlineExceeded):
		return nil, &ActivationError{ID: id, Err: claimErr}
	default:
		return nil, &StoreError{Op: "activate", ID: id, Err: claimErr}
	}
}

// Synchronize writes the state of s to the store. The bean is passivated
// before and activated again after the write.
func (m *Manager[B]) Synchronize(ctx context.Context, s *Session[B]) error {
	if err := s.Bean.Passivate(ctx); err != nil {
		return &SessionError{Op: "passivate", ID: s.ID, Err: err}
	}

	data, err := m.codec.Encode(s.Bean)
	if err != nil {
		return &SessionError{Op: "encode", ID: s.ID, Err: err}
	}

	if err := m.store.Set(ctx, m.app, s.ID, data); err != nil {
		return &StoreError{Op: "synchronize", ID: s.ID, Err: err}
	}

	vcluster.Notify(ctx, m.app, m.node, s.ID)

	if err := s.Bean.Activate(ctx); err != nil {
		return &SessionError{Op: "activate", ID: s.ID, Err: err}
	}

	return nil
}

// Release drops the local copy of session id and gives up its ownership,
// letting other nodes activate it.
func (m *Manager[B]) Release(ctx context.Context, id string) error {
	if m.instances.Contains(id) {
		// onDrop releases the ownership
		m.instances.Remove(id)
		return nil
	}

	if err := m.store.ReleaseOwnership(ctx, m.app, id, m.node); err != nil {
		return &StoreError{Op: "release", ID: id, Err: err}
	}
	return nil
}

// Remove runs the Remove hook of s and deletes it from the store. The store
// entry is deleted even when the hook fails.
func (m *Manager[B]) Remove(ctx context.Context, s *Session[B]) (err error) {
	defer func() {
		m.instances.Remove(s.ID)

		if _, removeErr := m.store.Remove(ctx, m.app, s.ID); removeErr != nil && !vcluster.IsNotFound(removeErr) {
			err = multierr.Append(err, &StoreError{Op: "remove", ID: s.ID, Err: removeErr})
			return
		}

		vcluster.Notify(ctx, m.app, m.node, s.ID)
	}()

	if hookErr := s.Bean.Remove(ctx); hookErr != nil {
		return &SessionError{Op: "remove", ID: s.ID, Err: hookErr}
	}
	return nil
}

// Lookup returns the locally active bean of id.
func (m *Manager[B]) Lookup(id string) (B, bool) {
	return m.instances.Get(id)
}

// Len returns the number of locally active sessions.
func (m *Manager[B]) Len() int {
	return m.instances.Len()
}

// Invalidate drops the local copy of a session modified by another node.
func (m *Manager[B]) Invalidate(id string) error {
	if m.instances.Remove(id) {
		vlog.Debugf("vcluster session invalidated | app: %s | node: %s | id: %s", m.app, m.node, id)
	}
	return nil
}

// Instance returns the node name of the manager.
func (m *Manager[B]) Instance() string {
	return m.node
}

// Category returns the application name.
func (m *Manager[B]) Category() string {
	return m.app
}

// Close stops listening to events and releases every local session.
func (m *Manager[B]) Close() error {
	vcluster.Unsubscribe(m)
	vcluster.Unsubscribe(m.claims)
	m.instances.Purge()
	if m.ownCodec {
		m.codec.Close()
	}
	return nil
}

// onDrop runs whenever a session leaves the local cache.
func (m *Manager[B]) onDrop(id string, _ B) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a local activation started after the drop keeps the lease
	if _, busy := m.pending[id]; busy || m.instances.Contains(id) {
		return
	}
	m.release(context.Background(), id)
}

func (m *Manager[B]) release(ctx context.Context, id string) {
	if err := m.store.ReleaseOwnership(ctx, m.app, id, m.node); err != nil {
		vlog.Errorf("vcluster session release failed | app: %s | id: %s | err: %v", m.app, id, err)
	}
}

// acquire marks id pending once no other local activation or cached copy
// uses it, waiting with the claim backoff.
func (m *Manager[B]) acquire(ctx context.Context, id string) error {
	var busyErr error

	retrier := retry.NewRetrier(m.opts.claimRetries, m.opts.claimDelay, m.opts.claimMaxDelay)
	runErr := retrier.RunContext(ctx, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		_, busy := m.pending[id]
		if busy || m.instances.Contains(id) {
			busyErr = vcluster.ErrOwnershipConflict
			return busyErr
		}
		m.pending[id] = struct{}{}
		busyErr = nil
		return nil
	})

	switch {
	case runErr == nil && busyErr == nil:
		return nil
	case ctx.Err() != nil:
		return &ActivationError{ID: id, Err: ctx.Err()}
	case busyErr != nil:
		vlog.Debugf("vcluster session busy on node | app: %s | node: %s | id: %s", m.app, m.node, id)
		return &ActivationError{ID: id, Err: busyErr}
	default:
		return &ActivationError{ID: id, Err: runErr}
	}
}

func (m *Manager[B]) unmarkPending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// claimListener answers ownership requests of other nodes for sessions this
// node holds but no longer uses.
type claimListener[B Bean] struct {
	m *Manager[B]
}

func (l *claimListener[B]) Invalidate(id string) error {
	m := l.m

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.pending[id]; busy || m.instances.Contains(id) {
		vlog.Debugf("vcluster session claim refused, in use | app: %s | node: %s | id: %s", m.app, m.node, id)
		return nil
	}

	return m.store.ReleaseOwnership(context.Background(), m.app, id, m.node)
}

func (l *claimListener[B]) Instance() string {
	return l.m.node
}

func (l *claimListener[B]) Category() string {
	return l.m.app + ClaimSuffix
}
