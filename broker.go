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
	"runtime/debug"
	"sync"

	"github.com/vogo/vcluster/internal/registry"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
)

// Broker is the notification channel of the shared store.
// Implementations handle the network transport (e.g., Redis pub/sub, NATS, etc.)
type Broker interface {
	// Publish sends a modification event to other nodes.
	Publish(ctx context.Context, event *ModificationEvent) error

	// Channel returns a channel that receives modification events from other nodes.
	Channel() <-chan *ModificationEvent

	// Close releases resources held by the broker.
	Close() error
}

// Listener receives modification events for one category.
type Listener = registry.Listener

// Global configuration
var (
	globalBroker     Broker
	globalBrokerLock sync.RWMutex
)

// GetBroker returns the global broker.
func GetBroker() Broker {
	globalBrokerLock.RLock()
	defer globalBrokerLock.RUnlock()
	return globalBroker
}

// Subscribe registers a listener for the events of its category.
func Subscribe(l Listener) {
	registry.Register(l)
}

// Unsubscribe removes a listener registered by Subscribe.
func Unsubscribe(l Listener) {
	registry.Unregister(l)
}

// Notify publishes a modification event through the global broker.
// Without a broker it is a no-op.
func Notify(ctx context.Context, category, instance, key string) {
	broker := GetBroker()
	if broker == nil {
		return
	}

	event := NewModificationEvent(category, instance, key)
	if err := broker.Publish(ctx, event); err != nil {
		vlog.Errorf("vcluster error publishing event | category: %s | instance: %s | key: %s | err: %v", event.Category, event.Instance, event.Key, err)
	}
}

// StartEventBroker sets the global broker and routes its events to subscribed listeners.
func StartEventBroker(runner *vrun.Runner, broker Broker) {
	globalBrokerLock.Lock()
	if globalBroker != nil {
		globalBroker.Close()
	}
	globalBroker = broker
	globalBrokerLock.Unlock()

	runner.Defer(func() {
		globalBrokerLock.Lock()
		if globalBroker == broker {
			globalBroker = nil
		}
		globalBrokerLock.Unlock()

		if err := broker.Close(); err != nil {
			vlog.Errorf("vcluster error closing broker | err: %v", err)
		}
	})

	ch := broker.Channel()

	runner.Loop(func() {
		defer func() {
			if _err := recover(); _err != nil {
				vlog.Errorf("vcluster event broker loop panic: %v | stack: %s", _err, debug.Stack())
			}
		}()

		select {
		case event, ok := <-ch:
			if !ok {
				vlog.Infof("vcluster event broker channel closed")
				// a nil channel blocks, leaving only runner.C to end the loop
				ch = nil
				return
			}
			if event == nil {
				return
			}
			vlog.Debugf("vcluster modification event | category: %s | instance: %s | key: %s", event.Category, event.Instance, event.Key)
			if err := registry.HandleEvent(event.Category, event.Instance, event.Key); err != nil {
				vlog.Errorf("vcluster error handling event | err: %v", err)
			}
		case <-runner.C:
			vlog.Infof("vcluster event broker context done")
			return
		}
	})
}
