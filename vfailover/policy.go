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

package vfailover

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"
)

// Policy names, as written by Proxy.MarshalJSON.
const (
	PolicyRoundRobin     = "round-robin"
	PolicyFirstAvailable = "first-available"
	PolicyRandom         = "random"
	PolicyAffinity       = "affinity"
)

// LoadBalancePolicy chooses the target of an invocation attempt.
type LoadBalancePolicy interface {
	// Name identifies the policy in serialized proxies.
	Name() string

	// ChooseTarget picks one target of view. It returns false when the view is empty.
	ChooseTarget(view View, inv *Invocation) (string, bool)
}

// RoundRobin cycles through the targets.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates a round robin policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (p *RoundRobin) Name() string { return PolicyRoundRobin }

func (p *RoundRobin) ChooseTarget(view View, _ *Invocation) (string, bool) {
	if view.Size() == 0 {
		return "", false
	}
	n := p.cursor.Inc() - 1
	return view.Target(int(n % uint64(view.Size()))), true
}

// FirstAvailable sticks to one target for as long as it stays in the view.
type FirstAvailable struct {
	elected atomic.String
}

// NewFirstAvailable creates a sticky policy.
func NewFirstAvailable() *FirstAvailable {
	return &FirstAvailable{}
}

func (p *FirstAvailable) Name() string { return PolicyFirstAvailable }

func (p *FirstAvailable) ChooseTarget(view View, _ *Invocation) (string, bool) {
	if view.Size() == 0 {
		return "", false
	}
	if elected := p.elected.Load(); elected != "" && view.Contains(elected) {
		return elected, true
	}
	target := view.Target(0)
	p.elected.Store(target)
	return target, true
}

// Random picks a uniformly random target.
type Random struct{}

// NewRandom creates a random policy.
func NewRandom() Random {
	return Random{}
}

func (Random) Name() string { return PolicyRandom }

func (Random) ChooseTarget(view View, _ *Invocation) (string, bool) {
	if view.Size() == 0 {
		return "", false
	}
	return view.Target(rand.IntN(view.Size())), true
}

// Affinity maps an invocation's affinity hint onto a stable target and falls
// back to round robin for invocations without a hint. The mapping moves when
// the view size changes.
type Affinity struct {
	fallback RoundRobin
}

// NewAffinity creates an affinity policy.
func NewAffinity() *Affinity {
	return &Affinity{}
}

func (p *Affinity) Name() string { return PolicyAffinity }

func (p *Affinity) ChooseTarget(view View, inv *Invocation) (string, bool) {
	if view.Size() == 0 {
		return "", false
	}
	if inv == nil || inv.Affinity == "" {
		return p.fallback.ChooseTarget(view, inv)
	}
	return view.Target(int(xxh3.HashString(inv.Affinity) % uint64(view.Size()))), true
}

var (
	policiesMu sync.RWMutex
	policies   = map[string]func() LoadBalancePolicy{
		PolicyRoundRobin:     func() LoadBalancePolicy { return NewRoundRobin() },
		PolicyFirstAvailable: func() LoadBalancePolicy { return NewFirstAvailable() },
		PolicyRandom:         func() LoadBalancePolicy { return NewRandom() },
		PolicyAffinity:       func() LoadBalancePolicy { return NewAffinity() },
	}
)

// RegisterPolicy makes a custom policy available to NewPolicy and Unmarshal.
func RegisterPolicy(name string, factory func() LoadBalancePolicy) {
	policiesMu.Lock()
	defer policiesMu.Unlock()
	policies[name] = factory
}

// NewPolicy creates a fresh policy by name.
func NewPolicy(name string) (LoadBalancePolicy, error) {
	policiesMu.RLock()
	factory, ok := policies[name]
	policiesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return factory(), nil
}
