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

// Package registry routes modification events to the listeners subscribed to a category.
package registry

import (
	"sync"

	"go.uber.org/multierr"
)

// Listener is implemented by components holding local copies of shared keys.
type Listener interface {
	// Invalidate drops the local copy of key without publishing an event.
	Invalidate(key string) error

	// Instance returns the node identifier of this listener.
	Instance() string

	// Category returns the category the listener is subscribed to.
	Category() string
}

type registry struct {
	mu        sync.RWMutex
	listeners map[string]map[Listener]struct{} // category -> listeners
}

var globalRegistry = &registry{
	listeners: make(map[string]map[Listener]struct{}),
}

// Register subscribes a listener to the events of its category.
func Register(l Listener) {
	globalRegistry.register(l)
}

// Unregister removes a listener.
func Unregister(l Listener) {
	globalRegistry.unregister(l)
}

// HandleEvent routes an event to every listener of the category except the
// ones living on the originating instance.
func HandleEvent(category, instance, key string) error {
	return globalRegistry.handleEvent(category, instance, key)
}

// Count returns the number of listeners subscribed to category.
func Count(category string) int {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return len(globalRegistry.listeners[category])
}

func (r *registry) register(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := l.Category()
	set, ok := r.listeners[name]
	if !ok {
		set = make(map[Listener]struct{})
		r.listeners[name] = set
	}
	set[l] = struct{}{}
}

func (r *registry) unregister(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := l.Category()
	set, ok := r.listeners[name]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.listeners, name)
	}
}

func (r *registry) handleEvent(category, instance, key string) error {
	r.mu.RLock()
	targets := make([]Listener, 0, len(r.listeners[category]))
	for l := range r.listeners[category] {
		targets = append(targets, l)
	}
	r.mu.RUnlock()

	var err error
	for _, l := range targets {
		// skip events from the same instance (prevent cascade)
		if l.Instance() == instance {
			continue
		}
		err = multierr.Append(err, l.Invalidate(key))
	}
	return err
}
