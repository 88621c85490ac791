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

// Package config holds the YAML configuration of a vcluster node.
package config

import (
	"time"

	"github.com/vogo/vcluster/internal/uid"
	"github.com/vogo/vcluster/vfailover"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBolt   = "bolt"
	StoreOlric  = "olric"
)

// Broker backends.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerNATS   = "nats"
)

// Config is the configuration of a node.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	HTTP    HTTPConfig    `yaml:"http"`
	Cluster ClusterConfig `yaml:"cluster"`
	Store   StoreConfig   `yaml:"store"`
	Broker  BrokerConfig  `yaml:"broker"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
}

// NodeConfig identifies the node and its application.
type NodeConfig struct {
	Name string `yaml:"name"` // defaults to the host name
	App  string `yaml:"app"`  // session category and service family
}

// HTTPConfig configures the invoker server.
type HTTPConfig struct {
	Listen    string        `yaml:"listen"`
	Advertise string        `yaml:"advertise"` // address other nodes invoke, defaults to listen
	Timeout   time.Duration `yaml:"timeout"`
}

// ClusterConfig configures membership and failover.
type ClusterConfig struct {
	BindHost          string        `yaml:"bind_host"`
	BindPort          int           `yaml:"bind_port"`
	Seeds             []string      `yaml:"seeds"`
	Policy            string        `yaml:"policy"`
	LeaveTimeout      time.Duration `yaml:"leave_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // how often evicted live members return to the view
}

// StoreConfig selects the distributed state store.
type StoreConfig struct {
	Backend string   `yaml:"backend"`
	Addr    string   `yaml:"addr"`  // redis
	Addrs   []string `yaml:"addrs"` // olric
	Path    string   `yaml:"path"`  // bolt
	Prefix  string   `yaml:"prefix"`
}

// BrokerConfig selects the notification broker.
type BrokerConfig struct {
	Backend string `yaml:"backend"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"` // redis channel or nats subject
}

// CacheConfig configures the timed cache.
type CacheConfig struct {
	Category        string        `yaml:"category"`
	DefaultLifetime time.Duration `yaml:"default_lifetime"`
	Resolution      time.Duration `yaml:"resolution"`
	NearSize        int           `yaml:"near_size"`
	NearTTL         time.Duration `yaml:"near_ttl"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	CacheSize     int           `yaml:"cache_size"`
	ClaimRetries  int           `yaml:"claim_retries"`
	ClaimDelay    time.Duration `yaml:"claim_delay"`
	ClaimMaxDelay time.Duration `yaml:"claim_max_delay"`
}

// Default returns a single node configuration with in-memory backends.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name: uid.NodeName,
			App:  "vcluster",
		},
		HTTP: HTTPConfig{
			Listen:  ":8080",
			Timeout: 30 * time.Second,
		},
		Cluster: ClusterConfig{
			BindHost:          "0.0.0.0",
			BindPort:          7946,
			Policy:            vfailover.PolicyRoundRobin,
			LeaveTimeout:      5 * time.Second,
			ReconcileInterval: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Prefix:  "vcluster",
		},
		Broker: BrokerConfig{
			Backend: BrokerMemory,
			Channel: "vcluster.events",
		},
		Cache: CacheConfig{
			Category:        "vcluster-cache",
			DefaultLifetime: 30 * time.Minute,
			Resolution:      time.Minute,
		},
		Session: SessionConfig{
			CacheSize:     1024,
			ClaimRetries:  5,
			ClaimDelay:    10 * time.Millisecond,
			ClaimMaxDelay: 500 * time.Millisecond,
		},
	}
}

// AdvertiseAddr returns the invoker address announced to the cluster.
func (c *Config) AdvertiseAddr() string {
	if c.HTTP.Advertise != "" {
		return c.HTTP.Advertise
	}
	return c.HTTP.Listen
}
