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
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/vogo/vcluster/vfailover"
)

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks the whole configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateHTTP()...)
	errs = append(errs, c.validateCluster()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateBroker()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateSession()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error
	if c.Node.Name == "" {
		errs = append(errs, ValidationError{Path: "node.name", Message: "must not be empty"})
	} else if strings.Contains(c.Node.Name, ":") {
		// session ids use ':' to separate the node name
		errs = append(errs, ValidationError{Path: "node.name", Message: "must not contain ':'"})
	}
	if c.Node.App == "" {
		errs = append(errs, ValidationError{Path: "node.app", Message: "must not be empty"})
	}
	return errs
}

func (c *Config) validateHTTP() []error {
	var errs []error
	if err := validateHostPort(c.HTTP.Listen); err != nil {
		errs = append(errs, ValidationError{Path: "http.listen", Message: err.Error()})
	}
	if c.HTTP.Advertise != "" {
		if err := validateHostPort(c.HTTP.Advertise); err != nil {
			errs = append(errs, ValidationError{Path: "http.advertise", Message: err.Error()})
		}
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, ValidationError{Path: "http.timeout", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateCluster() []error {
	var errs []error
	cc := c.Cluster

	if cc.BindPort < 0 || cc.BindPort > 65535 {
		errs = append(errs, ValidationError{Path: "cluster.bind_port", Message: "must be between 0 and 65535"})
	}
	for i, seed := range cc.Seeds {
		if err := validateHostPort(seed); err != nil {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("cluster.seeds[%d]", i), Message: err.Error()})
		}
	}
	if _, err := vfailover.NewPolicy(cc.Policy); err != nil {
		errs = append(errs, ValidationError{Path: "cluster.policy", Message: fmt.Sprintf("unknown policy %q", cc.Policy)})
	}
	if cc.ReconcileInterval <= 0 {
		errs = append(errs, ValidationError{Path: "cluster.reconcile_interval", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateStore() []error {
	sc := c.Store
	switch sc.Backend {
	case StoreMemory:
	case StoreRedis:
		if sc.Addr == "" {
			return []error{ValidationError{Path: "store.addr", Message: "required for the redis store"}}
		}
	case StoreBolt:
		if sc.Path == "" {
			return []error{ValidationError{Path: "store.path", Message: "required for the bolt store"}}
		}
	case StoreOlric:
		if len(sc.Addrs) == 0 {
			return []error{ValidationError{Path: "store.addrs", Message: "required for the olric store"}}
		}
	default:
		return []error{ValidationError{Path: "store.backend", Message: fmt.Sprintf("unknown backend %q", sc.Backend)}}
	}
	return nil
}

func (c *Config) validateBroker() []error {
	bc := c.Broker
	if !slices.Contains([]string{BrokerMemory, BrokerRedis, BrokerNATS}, bc.Backend) {
		return []error{ValidationError{Path: "broker.backend", Message: fmt.Sprintf("unknown backend %q", bc.Backend)}}
	}
	if bc.Backend != BrokerMemory && bc.Addr == "" {
		return []error{ValidationError{Path: "broker.addr", Message: "required for the " + bc.Backend + " broker"}}
	}
	if c.Store.Backend == StoreMemory && bc.Backend != BrokerMemory {
		return []error{ValidationError{Path: "broker.backend", Message: "a shared broker needs a shared store"}}
	}
	return nil
}

func (c *Config) validateCache() []error {
	var errs []error
	cc := c.Cache
	if cc.Category == "" {
		errs = append(errs, ValidationError{Path: "cache.category", Message: "must not be empty"})
	}
	if cc.DefaultLifetime <= 0 {
		errs = append(errs, ValidationError{Path: "cache.default_lifetime", Message: "must be positive"})
	}
	if cc.Resolution <= 0 {
		errs = append(errs, ValidationError{Path: "cache.resolution", Message: "must be positive"})
	}
	if cc.NearSize < 0 {
		errs = append(errs, ValidationError{Path: "cache.near_size", Message: "must not be negative"})
	}
	if cc.NearSize > 0 && cc.NearTTL <= 0 {
		errs = append(errs, ValidationError{Path: "cache.near_ttl", Message: "must be positive with a near cache"})
	}
	return errs
}

func (c *Config) validateSession() []error {
	var errs []error
	sc := c.Session
	if sc.CacheSize <= 0 {
		errs = append(errs, ValidationError{Path: "session.cache_size", Message: "must be positive"})
	}
	if sc.ClaimRetries <= 0 {
		errs = append(errs, ValidationError{Path: "session.claim_retries", Message: "must be positive"})
	}
	if sc.ClaimDelay <= 0 || sc.ClaimMaxDelay < sc.ClaimDelay {
		errs = append(errs, ValidationError{Path: "session.claim_delay", Message: "must be positive and not above claim_max_delay"})
	}
	return errs
}

func validateHostPort(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
