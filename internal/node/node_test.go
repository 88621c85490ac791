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

package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
	"github.com/vogo/vcluster/brokers/inmemory"
	"github.com/vogo/vcluster/config"
	"github.com/vogo/vcluster/stores/memory"
	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vcluster/vfailover/httpinvoker"
)

func testConfig(name string, httpPort, bindPort int, seeds ...string) *config.Config {
	cfg := config.Default()
	cfg.Node.Name = name
	cfg.Node.App = "shop"
	cfg.HTTP.Listen = fmt.Sprintf("127.0.0.1:%d", httpPort)
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.Cluster.BindHost = "127.0.0.1"
	cfg.Cluster.BindPort = bindPort
	cfg.Cluster.Seeds = seeds
	cfg.Cluster.LeaveTimeout = time.Second
	cfg.Cluster.ReconcileInterval = 100 * time.Millisecond
	cfg.Session.ClaimDelay = time.Millisecond
	cfg.Session.ClaimMaxDelay = 20 * time.Millisecond
	return cfg
}

// startCluster runs two nodes over one memory store in this process.
func startCluster(t *testing.T) (a, b *Node) {
	t.Helper()

	ports := dynaport.Get(4)
	store := memory.New()
	noop := func() error { return nil }

	cfgA := testConfig("node-a", ports[0], ports[1])
	cfgB := testConfig("node-b", ports[2], ports[3], fmt.Sprintf("127.0.0.1:%d", ports[1]))

	a, err := build(cfgA, store, noop, inmemory.New())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Stop(context.Background())) })
	require.NoError(t, a.Start())

	// node-b shares the broker node-a runs for the process
	b, err = build(cfgB, store, noop, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Stop(context.Background())) })
	require.NoError(t, b.Start())

	for _, n := range []*Node{a, b} {
		require.Eventually(t, func() bool {
			return n.View().Size() == 2
		}, 5*time.Second, 20*time.Millisecond)
	}
	return a, b
}

func post(t *testing.T, n *Node, service, method string, body any) (int, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	url := fmt.Sprintf("http://%s/call/%s/%s", n.cfg.HTTP.Listen, service, method)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestSessionsAcrossNodes(t *testing.T) {
	a, b := startCluster(t)

	status, out := post(t, a, SessionService, "create", SessionRequest{})
	require.Equal(t, http.StatusOK, status, string(out))
	var created SessionResponse
	require.NoError(t, json.Unmarshal(out, &created))
	require.NotEmpty(t, created.ID)

	status, out = post(t, b, SessionService, "set", SessionRequest{ID: created.ID, Name: "color", Value: "blue"})
	require.Equal(t, http.StatusOK, status, string(out))
	status, out = post(t, a, SessionService, "set", SessionRequest{ID: created.ID, Name: "size", Value: "L"})
	require.Equal(t, http.StatusOK, status, string(out))

	for _, n := range []*Node{a, b} {
		status, out = post(t, n, SessionService, "get", SessionRequest{ID: created.ID})
		require.Equal(t, http.StatusOK, status, string(out))

		var got SessionResponse
		require.NoError(t, json.Unmarshal(out, &got))
		assert.Equal(t, map[string]string{"color": "blue", "size": "L"}, got.Values)
	}

	status, _ = post(t, b, SessionService, "remove", SessionRequest{ID: created.ID})
	require.Equal(t, http.StatusOK, status)

	status, _ = post(t, a, SessionService, "get", SessionRequest{ID: created.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestCacheAcrossNodes(t *testing.T) {
	a, b := startCluster(t)

	status, out := post(t, a, CacheService, "put", CacheRequest{Key: "k", Value: "v"})
	require.Equal(t, http.StatusOK, status, string(out))

	status, out = post(t, b, CacheService, "get", CacheRequest{Key: "k"})
	require.Equal(t, http.StatusOK, status, string(out))
	var got CacheResponse
	require.NoError(t, json.Unmarshal(out, &got))
	assert.True(t, got.Found)
	assert.Equal(t, "v", got.Value)

	status, _ = post(t, b, CacheService, "put", CacheRequest{Key: "k", Value: "w"})
	assert.Equal(t, http.StatusUnprocessableEntity, status, "duplicate keys are refused")

	status, out = post(t, b, CacheService, "remove", CacheRequest{Key: "k"})
	require.Equal(t, http.StatusOK, status)
	got = CacheResponse{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.True(t, got.Removed)

	status, out = post(t, a, CacheService, "get", CacheRequest{Key: "k"})
	require.Equal(t, http.StatusOK, status)
	got = CacheResponse{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.False(t, got.Found)

	status, _ = post(t, a, CacheService, "flush", CacheRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestCallsFailOverFromDrainedNode(t *testing.T) {
	a, b := startCluster(t)
	b.Drain()

	for range 4 {
		payload, err := a.Call(context.Background(), CacheService, "size", nil, "")
		require.NoError(t, err)

		var got CacheResponse
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Zero(t, got.Size)
	}
}

func TestEvictedMemberRejoinsView(t *testing.T) {
	a, b := startCluster(t)
	addr := b.cfg.AdvertiseAddr()

	// a failed call evicts node-b although it is still a member
	require.True(t, a.View().RemoveDeadTarget(addr))
	require.Equal(t, 1, a.View().Size())

	assert.Eventually(t, func() bool {
		return a.View().Snapshot().Contains(addr)
	}, 5*time.Second, 20*time.Millisecond)

	for range 4 {
		_, err := a.Call(context.Background(), CacheService, "size", nil, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.View().Size(), "calls to a healthy member keep it in the view")
}

func TestCallStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&vfailover.ClusterUnavailableError{Family: "shop"}, http.StatusServiceUnavailable},
		{&vfailover.AmbiguousFailureError{Target: "x", Err: &vfailover.ClusteringError{Status: vfailover.CompletedMaybe}}, http.StatusBadGateway},
		{&httpinvoker.RemoteError{Message: "boom"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("vfailover: shop: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, callStatus(tt.err), tt.err.Error())
	}
}
