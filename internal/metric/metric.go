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

// Package metric holds the OpenTelemetry instruments shared by the cluster components.
package metric

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/vogo/vcluster"

// Instruments groups the counters recorded by caches, proxies and session managers.
//
// Instruments:
//   - vcluster.cache.hits         cache lookups returning a current value
//   - vcluster.cache.misses       cache lookups returning nothing
//   - vcluster.cache.expirations  entries evicted lazily on lookup
//   - vcluster.proxy.invocations  logical invocations through a failover proxy
//   - vcluster.proxy.failovers    retries on another target
//   - vcluster.session.activations session activations from the shared store
type Instruments struct {
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheExpirations   metric.Int64Counter
	proxyInvocations   metric.Int64Counter
	proxyFailovers     metric.Int64Counter
	sessionActivations metric.Int64Counter
}

// New creates the instruments from the global meter provider.
// When an instrument cannot be created the noop implementation is used.
func New() *Instruments {
	return NewWithMeter(otel.GetMeterProvider().Meter(instrumentationName))
}

// NewWithMeter creates the instruments from meter.
func NewWithMeter(meter metric.Meter) *Instruments {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return &Instruments{
		cacheHits:          counter("vcluster.cache.hits", "Timed cache lookups returning a current value"),
		cacheMisses:        counter("vcluster.cache.misses", "Timed cache lookups returning nothing"),
		cacheExpirations:   counter("vcluster.cache.expirations", "Timed cache entries evicted on lookup"),
		proxyInvocations:   counter("vcluster.proxy.invocations", "Logical invocations through a failover proxy"),
		proxyFailovers:     counter("vcluster.proxy.failovers", "Invocation attempts retried on another target"),
		sessionActivations: counter("vcluster.session.activations", "Sessions activated from the shared store"),
	}
}

func (m *Instruments) CacheHit(ctx context.Context, category string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Instruments) CacheMiss(ctx context.Context, category string) {
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Instruments) CacheExpiration(ctx context.Context, category string) {
	m.cacheExpirations.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Instruments) ProxyInvocation(ctx context.Context, family string) {
	m.proxyInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("family", family)))
}

func (m *Instruments) ProxyFailover(ctx context.Context, family, target string) {
	m.proxyFailovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("target", target),
	))
}

func (m *Instruments) SessionActivation(ctx context.Context, app string) {
	m.sessionActivations.Add(ctx, 1, metric.WithAttributes(attribute.String("app", app)))
}
