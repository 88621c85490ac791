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

// Package vfailover makes a logical remote call survive the failure of
// individual cluster members.
//
// A Proxy picks a target from its ClusterView with a LoadBalancePolicy,
// invokes it through a Transport and, depending on how the attempt failed,
// evicts the target and retries on the next one. Responses may carry a newer
// view, which is how clients learn about topology changes.
package vfailover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vogo/vcluster/internal/metric"
	"github.com/vogo/vogo/vlog"
)

// Invocation is one logical remote call.
type Invocation struct {
	Service  string            `json:"service"`
	Method   string            `json:"method"`
	Payload  []byte            `json:"payload,omitempty"`
	Affinity string            `json:"affinity,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// FailoverCounter is 0 on the first attempt and grows with every retry,
	// so the receiver can tell replays from first attempts.
	FailoverCounter int `json:"failover_counter"`

	// ViewID is the caller's view version, letting the receiver decide
	// whether to send its own view back.
	ViewID uint64 `json:"view_id"`
}

// Response is the result of a successful attempt.
type Response struct {
	Payload []byte `json:"payload,omitempty"`

	// ViewChanged is set when the target attached its cluster view.
	ViewChanged bool     `json:"view_changed,omitempty"`
	Replicants  []string `json:"replicants,omitempty"`
	ViewID      uint64   `json:"view_id,omitempty"`
}

// Transport performs one attempt against one target. Failures are reported
// as *TransportError, *ClusteringError or *ApplicationError.
type Transport interface {
	Invoke(ctx context.Context, target string, inv *Invocation) (*Response, error)
}

// Proxy invokes a service family with transparent failover.
type Proxy struct {
	family    string
	view      *ClusterView
	policy    LoadBalancePolicy
	transport Transport
	metrics   *metric.Instruments
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithPolicy sets the load balance policy (default round robin).
func WithPolicy(policy LoadBalancePolicy) Option {
	return func(p *Proxy) {
		if policy != nil {
			p.policy = policy
		}
	}
}

// WithClusterView shares an existing view, e.g. between the proxies of one family.
// The targets given to New are ignored.
func WithClusterView(view *ClusterView) Option {
	return func(p *Proxy) {
		if view != nil {
			p.view = view
		}
	}
}

// New creates a proxy for family over the initial targets.
func New(family string, targets []string, viewID uint64, transport Transport, opts ...Option) *Proxy {
	p := &Proxy{
		family:    family,
		policy:    NewRoundRobin(),
		transport: transport,
		metrics:   metric.New(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.view == nil {
		p.view = NewClusterView(targets, viewID)
	}
	return p
}

// Family returns the service family name.
func (p *Proxy) Family() string {
	return p.family
}

// View returns the cluster view of the proxy.
func (p *Proxy) View() *ClusterView {
	return p.view
}

// Policy returns the load balance policy of the proxy.
func (p *Proxy) Policy() LoadBalancePolicy {
	return p.policy
}

// Invoke performs inv on one target, failing over to other targets on
// transport errors and on clustering errors of calls that did not execute.
//
// The caller sees the response, the unwrapped cause of an application error,
// an *AmbiguousFailureError, a *ClusterUnavailableError once the view ran out
// of targets, or the context error when ctx ended between attempts.
func (p *Proxy) Invoke(ctx context.Context, inv *Invocation) (*Response, error) {
	p.metrics.ProxyInvocation(ctx, p.family)

	call := *inv
	target, ok := p.policy.ChooseTarget(p.view.Snapshot(), &call)
	if !ok {
		return nil, &ClusterUnavailableError{Family: p.family, LastErr: ErrNoTargets}
	}

	var lastErr error
	for failoverCounter := 0; ; failoverCounter++ {
		call.FailoverCounter = failoverCounter
		call.ViewID = p.view.ID()

		resp, err := p.transport.Invoke(ctx, target, &call)

		removeTarget := true
		switch Classify(err) {
		case OutcomeSuccess:
			if resp == nil {
				resp = &Response{}
			}
			if resp.ViewChanged && p.view.Update(resp.Replicants, resp.ViewID) {
				vlog.Infof("vfailover view updated | family: %s | view: %d | targets: %v", p.family, resp.ViewID, resp.Replicants)
			}
			return resp, nil

		case OutcomeApplication:
			var appErr *ApplicationError
			errors.As(err, &appErr)
			return nil, appErr.Cause

		case OutcomeClusteringRetryable:
			var clusterErr *ClusteringError
			errors.As(err, &clusterErr)
			// keep the target on a transient failure, until every target had a chance
			if !clusterErr.Definitive && failoverCounter < p.view.Size() {
				removeTarget = false
			}
			lastErr = err

		case OutcomeClusteringAmbiguous:
			var clusterErr *ClusteringError
			errors.As(err, &clusterErr)
			return nil, &AmbiguousFailureError{Target: target, Err: clusterErr}

		case OutcomeTransportFailure:
			lastErr = err

		default:
			return nil, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("vfailover: %s: %w (last error: %v)", p.family, ctxErr, lastErr)
		}

		if removeTarget && p.view.RemoveDeadTarget(target) {
			vlog.Infof("vfailover removed dead target | family: %s | target: %s | err: %v", p.family, target, lastErr)
		}

		failed := target
		if target, ok = p.policy.ChooseTarget(p.view.Snapshot(), &call); !ok {
			return nil, &ClusterUnavailableError{Family: p.family, LastErr: lastErr}
		}

		vlog.Debugf("vfailover retrying | family: %s | failed: %s | next: %s | attempt: %d", p.family, failed, target, failoverCounter+1)
		p.metrics.ProxyFailover(ctx, p.family, failed)
	}
}

type proxyState struct {
	Family  string   `json:"family"`
	Targets []string `json:"targets"`
	ViewID  uint64   `json:"view_id"`
	Policy  string   `json:"policy"`
}

// MarshalJSON writes the family, the current view and the policy name.
func (p *Proxy) MarshalJSON() ([]byte, error) {
	view := p.view.Snapshot()
	return json.Marshal(proxyState{
		Family:  p.family,
		Targets: view.Targets(),
		ViewID:  view.ID(),
		Policy:  p.policy.Name(),
	})
}

// Unmarshal rebuilds a proxy written by MarshalJSON on top of transport.
// The policy is recreated from its registered name.
func Unmarshal(data []byte, transport Transport, opts ...Option) (*Proxy, error) {
	var state proxyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("vfailover: decode proxy: %w", err)
	}

	policy, err := NewPolicy(state.Policy)
	if err != nil {
		return nil, err
	}

	return New(state.Family, state.Targets, state.ViewID, transport, append([]Option{WithPolicy(policy)}, opts...)...), nil
}
