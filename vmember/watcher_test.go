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

package vmember

import (
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vogo/vsync/vrun"
)

func fast(c *memberlist.Config) {
	c.GossipInterval = 20 * time.Millisecond
	c.ProbeInterval = 100 * time.Millisecond
	c.ProbeTimeout = 50 * time.Millisecond
	c.PushPullInterval = 200 * time.Millisecond
	c.SuspicionMult = 1
}

func startWatcher(t *testing.T, name, invoker string, port int) (*Watcher, *vfailover.ClusterView, *vrun.Runner) {
	t.Helper()

	view := vfailover.NewClusterView(nil, 0)
	w := New(view,
		WithName(name),
		WithBind("127.0.0.1", port),
		WithInvokerAddr(invoker),
		WithLeaveTimeout(time.Second),
		WithReconcileInterval(50*time.Millisecond),
		WithConfig(fast),
	)

	runner := vrun.New()
	require.NoError(t, w.Start(runner))
	return w, view, runner
}

func TestWatcherTracksMembership(t *testing.T) {
	ports := dynaport.Get(2)
	started := uint64(time.Now().UnixMilli())

	nodeA, viewA, runnerA := startWatcher(t, "node-a", "127.0.0.1:9001", ports[0])
	defer runnerA.Stop()

	assert.Equal(t, []string{"127.0.0.1:9001"}, viewA.Targets())
	assert.GreaterOrEqual(t, viewA.ID(), started, "view ids follow the wall clock")
	firstA := viewA.ID()

	nodeB, viewB, runnerB := startWatcher(t, "node-b", "127.0.0.1:9002", ports[1])

	n, err := nodeB.Join([]string{nodeA.LocalAddr()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	both := []string{"127.0.0.1:9001", "127.0.0.1:9002"}
	for _, view := range []*vfailover.ClusterView{viewA, viewB} {
		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual(both, view.Targets())
		}, 5*time.Second, 20*time.Millisecond)
	}

	assert.GreaterOrEqual(t, viewB.ID(), firstA, "a view built later on another node has a larger id")
	assert.True(t, nodeA.Alive("node-b"))
	assert.Equal(t, "node-b", nodeB.Name())
	idBefore := viewA.ID()

	runnerB.Stop()

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"127.0.0.1:9001"}, viewA.Targets())
	}, 5*time.Second, 20*time.Millisecond)
	assert.Greater(t, viewA.ID(), idBefore)
	assert.False(t, nodeA.Alive("node-b"))
}

func TestMembersWithoutInvokerAreNotTargets(t *testing.T) {
	ports := dynaport.Get(2)

	nodeA, viewA, runnerA := startWatcher(t, "node-a", "127.0.0.1:9001", ports[0])
	defer runnerA.Stop()
	observer, _, runnerO := startWatcher(t, "observer", "", ports[1])
	defer runnerO.Stop()

	_, err := observer.Join([]string{nodeA.LocalAddr()})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return nodeA.Alive("observer")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"127.0.0.1:9001"}, viewA.Targets())
	assert.Equal(t, []string{"127.0.0.1:9001"}, observer.Targets())
}

func TestEvictedTargetComesBack(t *testing.T) {
	ports := dynaport.Get(2)

	nodeA, viewA, runnerA := startWatcher(t, "node-a", "127.0.0.1:9001", ports[0])
	defer runnerA.Stop()
	nodeB, _, runnerB := startWatcher(t, "node-b", "127.0.0.1:9002", ports[1])
	defer runnerB.Stop()

	_, err := nodeB.Join([]string{nodeA.LocalAddr()})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return viewA.Size() == 2
	}, 5*time.Second, 20*time.Millisecond)

	// a proxy gave up on node-b although it is still a member
	before := viewA.ID()
	require.True(t, viewA.RemoveDeadTarget("127.0.0.1:9002"))

	assert.Eventually(t, func() bool {
		return viewA.Snapshot().Contains("127.0.0.1:9002")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Greater(t, viewA.ID(), before)
	assert.Equal(t, nodeA.Targets(), viewA.Targets())
}

func TestViewIDsStayMonotonic(t *testing.T) {
	future := uint64(time.Now().Add(time.Hour).UnixMilli())
	view := vfailover.NewClusterView([]string{"127.0.0.1:9001"}, future)
	w := New(view)

	// an adopted id ahead of the local clock still grows
	assert.Equal(t, future+1, w.nextID())

	view.Update(nil, 3)
	assert.Equal(t, future, view.ID(), "older ids are ignored")
}
