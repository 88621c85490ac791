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

// Package natsbroker distributes modification events over a NATS subject.
package natsbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
	"github.com/vogo/vcluster"
	"github.com/vogo/vogo/vlog"
)

// DefaultSubject is the subject of the events.
const DefaultSubject = "vcluster.events"

// Broker publishes events to a NATS subject and delivers everything received
// on it, its own events included.
type Broker struct {
	conn     *nats.Conn
	ownsConn bool
	subject  string
	sub      *nats.Subscription

	ch     chan *vcluster.ModificationEvent
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Broker.
type Option func(*Broker)

// WithSubject sets the subject.
func WithSubject(subject string) Option {
	return func(b *Broker) {
		if subject != "" {
			b.subject = subject
		}
	}
}

// Connect dials the NATS server at url, retrying a few times, and subscribes.
func Connect(url, name string, opts ...Option) (*Broker, error) {
	natsOpts := nats.GetDefaultOptions()
	natsOpts.Url = url
	natsOpts.Name = name
	natsOpts.ReconnectWait = 2 * time.Second
	natsOpts.MaxReconnect = -1

	var conn *nats.Conn
	retrier := retry.NewRetrier(5, 100*time.Millisecond, natsOpts.ReconnectWait)
	if err := retrier.Run(func() error {
		var err error
		conn, err = natsOpts.Connect()
		return err
	}); err != nil {
		return nil, fmt.Errorf("natsbroker: connect %s: %w", url, err)
	}

	b, err := New(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.ownsConn = true
	return b, nil
}

// New subscribes on conn. The connection stays owned by the caller.
func New(conn *nats.Conn, opts ...Option) (*Broker, error) {
	b := &Broker{
		conn:    conn,
		subject: DefaultSubject,
		ch:      make(chan *vcluster.ModificationEvent, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	sub, err := conn.Subscribe(b.subject, b.handle)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: subscribe %s: %w", b.subject, err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("natsbroker: flush subscription: %w", err)
	}
	b.sub = sub

	return b, nil
}

func (b *Broker) handle(msg *nats.Msg) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.wg.Add(1)
	b.mu.RUnlock()
	defer b.wg.Done()

	event := &vcluster.ModificationEvent{}
	if err := json.Unmarshal(msg.Data, event); err != nil {
		vlog.Errorf("vcluster nats broker bad event | subject: %s | err: %v", b.subject, err)
		return
	}

	select {
	case b.ch <- event:
	case <-b.done:
	}
}

// Publish sends event to the subject.
func (b *Broker) Publish(_ context.Context, event *vcluster.ModificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Channel returns the delivery channel.
func (b *Broker) Channel() <-chan *vcluster.ModificationEvent {
	return b.ch
}

// Close unsubscribes and closes the delivery channel.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.sub.Unsubscribe()
	b.wg.Wait()
	close(b.ch)

	if b.ownsConn {
		b.conn.Close()
	}
	return err
}
