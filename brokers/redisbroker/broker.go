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

// Package redisbroker distributes modification events over redis pub/sub.
package redisbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vogo/vcluster"
	"github.com/vogo/vogo/vlog"
)

// DefaultChannel is the pub/sub channel of the events.
const DefaultChannel = "vcluster:events"

// Broker publishes events to a redis channel and delivers everything
// received on it, its own events included.
type Broker struct {
	client  redis.UniversalClient
	channel string
	pubsub  *redis.PubSub

	ch        chan *vcluster.ModificationEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*Broker)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(b *Broker) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// New subscribes to the event channel on client. The client stays owned by the caller.
func New(ctx context.Context, client redis.UniversalClient, opts ...Option) (*Broker, error) {
	b := &Broker{
		client:  client,
		channel: DefaultChannel,
		ch:      make(chan *vcluster.ModificationEvent, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.pubsub = client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("redisbroker: subscribe %s: %w", b.channel, err)
	}

	b.wg.Add(1)
	go b.receive(b.pubsub.Channel())

	return b, nil
}

func (b *Broker) receive(messages <-chan *redis.Message) {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			event := &vcluster.ModificationEvent{}
			if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
				vlog.Errorf("vcluster redis broker bad event | channel: %s | err: %v", b.channel, err)
				continue
			}

			select {
			case b.ch <- event:
			case <-b.done:
				return
			}
		}
	}
}

// Publish sends event to the channel.
func (b *Broker) Publish(ctx context.Context, event *vcluster.ModificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Channel returns the delivery channel.
func (b *Broker) Channel() <-chan *vcluster.ModificationEvent {
	return b.ch
}

// Close unsubscribes and closes the delivery channel.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
		b.wg.Wait()
		close(b.ch)
	})
	return err
}
