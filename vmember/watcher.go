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

// Package vmember keeps a failover cluster view in sync with a gossip
// membership of the cluster nodes.
package vmember

import (
	"bytes"
	"net"
	"slices"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/memberlist"
	"github.com/vogo/vcluster/internal/uid"
	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
)

const (
	// DefaultLeaveTimeout bounds the graceful leave on stop.
	DefaultLeaveTimeout = 5 * time.Second

	// DefaultReconcileInterval is how often the view is compared to the alive members.
	DefaultReconcileInterval = 2 * time.Second
)

// Watcher runs a memberlist node advertising the node's invoker address and
// applies every membership change to a ClusterView.
//
// Targets evicted from the view by a proxy come back at the next reconcile
// while memberlist still reports them alive. View ids are hybrid clock
// readings, the larger of the current id plus one and the wall clock in
// milliseconds, so views built on different nodes compare by build time and
// a node adopting a peer's id stays monotonic.
type Watcher struct {
	view         *vfailover.ClusterView
	config       *memberlist.Config
	invokerAddr  string
	leaveTimeout time.Duration
	reconcile    time.Duration

	list   *memberlist.Memberlist
	events chan memberlist.NodeEvent
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithName sets the member name (default uid.NodeName).
func WithName(name string) Option {
	return func(w *Watcher) {
		if name != "" {
			w.config.Name = name
		}
	}
}

// WithBind sets the gossip address.
func WithBind(host string, port int) Option {
	return func(w *Watcher) {
		w.config.BindAddr = host
		w.config.BindPort = port
		w.config.AdvertisePort = port
	}
}

// WithInvokerAddr sets the address other nodes invoke this node at.
func WithInvokerAddr(addr string) Option {
	return func(w *Watcher) {
		w.invokerAddr = addr
	}
}

// WithLeaveTimeout bounds the graceful leave on stop.
func WithLeaveTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.leaveTimeout = d
		}
	}
}

// WithReconcileInterval sets how often the view is compared to the alive members.
func WithReconcileInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.reconcile = d
		}
	}
}

// WithConfig tunes the memberlist configuration.
func WithConfig(fn func(*memberlist.Config)) Option {
	return func(w *Watcher) {
		fn(w.config)
	}
}

// New creates a watcher maintaining view.
func New(view *vfailover.ClusterView, opts ...Option) *Watcher {
	config := memberlist.DefaultLANConfig()
	config.Name = uid.NodeName
	config.LogOutput = logWriter{}

	w := &Watcher{
		view:         view,
		config:       config,
		leaveTimeout: DefaultLeaveTimeout,
		reconcile:    DefaultReconcileInterval,
		events:       make(chan memberlist.NodeEvent, 256),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.config.Delegate = &delegate{meta: []byte(w.invokerAddr)}
	w.config.Events = &memberlist.ChannelEventDelegate{Ch: w.events}

	return w
}

// Start creates the memberlist node and keeps the view updated on runner.
// The node leaves the cluster when the runner stops.
func (w *Watcher) Start(runner *vrun.Runner) error {
	list, err := memberlist.Create(w.config)
	if err != nil {
		return err
	}
	w.list = list

	runner.Defer(func() {
		if err := list.Leave(w.leaveTimeout); err != nil {
			vlog.Errorf("vcluster member leave failed | name: %s | err: %v", w.config.Name, err)
		}
		if err := list.Shutdown(); err != nil {
			vlog.Errorf("vcluster member shutdown failed | name: %s | err: %v", w.config.Name, err)
		}
	})

	w.rebuild()

	ticker := time.NewTicker(w.reconcile)
	runner.Defer(ticker.Stop)

	runner.Loop(func() {
		select {
		case event := <-w.events:
			if event.Node != nil {
				vlog.Debugf("vcluster member event | type: %d | name: %s | invoker: %s", event.Event, event.Node.Name, event.Node.Meta)
			}
			w.rebuild()
		case <-ticker.C:
			w.rebuild()
		case <-runner.C:
			return
		}
	})

	return nil
}

// Join contacts seeds and returns how many of them were reached.
func (w *Watcher) Join(seeds []string) (int, error) {
	n, err := w.list.Join(seeds)
	if err != nil {
		return n, err
	}
	vlog.Infof("vcluster member joined | name: %s | seeds: %v | reached: %d", w.config.Name, seeds, n)
	return n, nil
}

// LocalAddr returns the gossip address of this node.
func (w *Watcher) LocalAddr() string {
	node := w.list.LocalNode()
	return net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
}

// Name returns the member name.
func (w *Watcher) Name() string {
	return w.config.Name
}

// Alive reports whether a member named name is currently alive.
// Before Start every member counts as alive.
func (w *Watcher) Alive(name string) bool {
	if w.list == nil {
		return true
	}
	for _, m := range w.list.Members() {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Targets returns the sorted invoker addresses of the alive members.
func (w *Watcher) Targets() []string {
	if w.list == nil {
		return nil
	}
	addrs := mapset.NewThreadUnsafeSet[string]()
	for _, m := range w.list.Members() {
		if len(m.Meta) > 0 {
			addrs.Add(string(m.Meta))
		}
	}

	targets := addrs.ToSlice()
	slices.Sort(targets)
	return targets
}

func (w *Watcher) rebuild() {
	targets := w.Targets()
	if slices.Equal(targets, w.view.Targets()) {
		return
	}

	id := w.nextID()
	if w.view.Update(targets, id) {
		vlog.Infof("vcluster member view changed | name: %s | view: %d | targets: %v", w.config.Name, id, targets)
	}
}

func (w *Watcher) nextID() uint64 {
	id := w.view.ID() + 1
	if now := uint64(time.Now().UnixMilli()); now > id {
		id = now
	}
	return id
}

// delegate advertises the invoker address as node metadata.
type delegate struct {
	meta []byte
}

var _ memberlist.Delegate = (*delegate)(nil)

func (d *delegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return nil
	}
	return d.meta
}

func (d *delegate) NotifyMsg([]byte) {}

func (d *delegate) GetBroadcasts(int, int) [][]byte { return nil }

func (d *delegate) LocalState(bool) []byte { return nil }

func (d *delegate) MergeRemoteState([]byte, bool) {}

// logWriter forwards memberlist logs to vlog.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	vlog.Debugf("vcluster memberlist | %s", bytes.TrimSpace(p))
	return len(p), nil
}
