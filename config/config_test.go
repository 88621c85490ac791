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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.AdvertiseAddr())
}

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
node:
  name: node-a
  app: shop
http:
  listen: 0.0.0.0:9000
  advertise: 10.0.0.1:9000
cluster:
  bind_port: 7947
  seeds: [10.0.0.2:7946]
  policy: first-available
store:
  backend: redis
  addr: 127.0.0.1:6379
broker:
  backend: nats
  addr: nats://127.0.0.1:4222
cache:
  near_size: 128
  near_ttl: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.Name)
	assert.Equal(t, "10.0.0.1:9000", cfg.AdvertiseAddr())
	assert.Equal(t, []string{"10.0.0.2:7946"}, cfg.Cluster.Seeds)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Cache.NearTTL)

	// untouched sections keep their defaults
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultLifetime)
	assert.Equal(t, 1024, cfg.Session.CacheSize)
	assert.Equal(t, "0.0.0.0", cfg.Cluster.BindHost)
	assert.Equal(t, 2*time.Second, cfg.Cluster.ReconcileInterval)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("node:\n  nmae: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestParseReportsEveryProblem(t *testing.T) {
	_, err := Parse(strings.NewReader(`
node:
  app: ""
store:
  backend: etcd
session:
  cache_size: 0
`))
	require.Error(t, err)

	for _, path := range []string{"node.app", "store.backend", "session.cache_size"} {
		assert.Contains(t, err.Error(), path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"empty name", func(c *Config) { c.Node.Name = "" }, "node.name"},
		{"colon in name", func(c *Config) { c.Node.Name = "a:b" }, "node.name"},
		{"bad listen", func(c *Config) { c.HTTP.Listen = "localhost" }, "http.listen"},
		{"bad advertise port", func(c *Config) { c.HTTP.Advertise = "host:99999" }, "http.advertise"},
		{"bind port", func(c *Config) { c.Cluster.BindPort = 70000 }, "cluster.bind_port"},
		{"bad seed", func(c *Config) { c.Cluster.Seeds = []string{"nope"} }, "cluster.seeds[0]"},
		{"policy", func(c *Config) { c.Cluster.Policy = "fastest" }, "cluster.policy"},
		{"reconcile interval", func(c *Config) { c.Cluster.ReconcileInterval = 0 }, "cluster.reconcile_interval"},
		{"redis addr", func(c *Config) { c.Store.Backend = StoreRedis }, "store.addr"},
		{"bolt path", func(c *Config) { c.Store.Backend = StoreBolt }, "store.path"},
		{"olric addrs", func(c *Config) { c.Store.Backend = StoreOlric }, "store.addrs"},
		{"broker backend", func(c *Config) { c.Broker.Backend = "kafka" }, "broker.backend"},
		{"broker addr", func(c *Config) {
			c.Store.Backend, c.Store.Path = StoreBolt, "x.db"
			c.Broker.Backend = BrokerRedis
		}, "broker.addr"},
		{"shared broker over local store", func(c *Config) {
			c.Broker.Backend, c.Broker.Addr = BrokerNATS, "nats://127.0.0.1:4222"
		}, "broker.backend"},
		{"near ttl", func(c *Config) { c.Cache.NearSize = 10 }, "cache.near_ttl"},
		{"resolution", func(c *Config) { c.Cache.Resolution = 0 }, "cache.resolution"},
		{"claim delay", func(c *Config) { c.Session.ClaimMaxDelay = time.Millisecond }, "session.claim_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1)

			var verr ValidationError
			require.True(t, errors.As(errs[0], &verr))
			assert.Equal(t, tt.path, verr.Path)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  name: node-b\n  app: shop\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-b", cfg.Node.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
