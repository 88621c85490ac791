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

// Package inmemory provides an in-process broker for tests and single-process clusters.
package inmemory

import (
	"context"
	"sync"

	"github.com/vogo/vcluster"
)

const defaultBuffer = 1024

// Broker loops published events back to its own channel, so every node of a
// process sharing the broker receives them. Events are dropped when the
// channel buffer is full.
type Broker struct {
	mu      sync.RWMutex
	closed  bool
	events  []vcluster.ModificationEvent
	dropped int

	ch chan *vcluster.ModificationEvent
}

// New creates a new in-memory broker.
func New() *Broker {
	return NewWithBuffer(defaultBuffer)
}

// NewWithBuffer creates a broker whose channel holds up to size events.
func NewWithBuffer(size int) *Broker {
	return &Broker{
		events: make([]vcluster.ModificationEvent, 0),
		ch:     make(chan *vcluster.ModificationEvent, size),
	}
}

// Publish records the event and queues it for delivery.
func (b *Broker) Publish(_ context.Context, event *vcluster.ModificationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.events = append(b.events, *event)

	delivered := *event
	select {
	case b.ch <- &delivered:
	default:
		b.dropped++
	}
	return nil
}

// Channel returns the delivery channel.
func (b *Broker) Channel() <-chan *vcluster.ModificationEvent {
	return b.ch
}

// Close stops delivery and closes the channel.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// Events returns all published events for testing inspection.
func (b *Broker) Events() []vcluster.ModificationEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]vcluster.ModificationEvent, len(b.events))
	copy(result, b.events)
	return result
}

// ClearEvents clears the event history.
func (b *Broker) ClearEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
}

// EventCount returns the number of published events.
func (b *Broker) EventCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Dropped returns the number of events lost to a full channel.
func (b *Broker) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
